package condition

import (
	"context"
	"testing"

	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/dukex/flowpilot/pkg/steps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	testCases := []struct {
		name     string
		operator string
		actual   any
		found    bool
		expected any
		want     bool
	}{
		{"equals number and numeric string", OperatorEquals, 10.0, true, "10", true},
		{"equals strings", OperatorEquals, "gold", true, "gold", true},
		{"equals missing field", OperatorEquals, nil, false, nil, false},
		{"not equals", OperatorNotEquals, "gold", true, "silver", true},
		{"not equals missing field", OperatorNotEquals, nil, false, "x", true},
		{"exists", OperatorExists, "v", true, nil, true},
		{"exists nil value", OperatorExists, nil, true, nil, false},
		{"contains substring", OperatorContains, "hello world", true, "world", true},
		{"contains array item", OperatorContains, []any{"a", "b"}, true, "b", true},
		{"contains map key", OperatorContains, map[string]any{"k": 1}, true, "k", true},
		{"greater than", OperatorGreater, 120.0, true, 100, true},
		{"greater than non numeric", OperatorGreater, "abc", true, 1, false},
		{"less than", OperatorLess, 5, true, 6.5, true},
		{"unknown operator", "between", 1, true, 1, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Evaluate(tc.operator, tc.actual, tc.found, tc.expected))
		})
	}
}

func TestHandler_HaltOnFalse(t *testing.T) {
	data := map[string]any{"trigger": map[string]any{"total": 50.0}}

	soft, err := NewFactory().Create(map[string]any{"field": "trigger.total", "operator": "gt", "value": 100})
	require.NoError(t, err)

	result, err := soft.Execute(context.Background(), protocol.StepContext{Data: data})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"passed": false}, result)

	strict, err := NewFactory().Create(map[string]any{"field": "trigger.total", "operator": "gt", "value": 100, "halt_on_false": true})
	require.NoError(t, err)

	_, err = strict.Execute(context.Background(), protocol.StepContext{Data: data})
	require.ErrorIs(t, err, ErrConditionNotMet)
}

func TestFactory_Validation(t *testing.T) {
	_, err := NewFactory().Create(map[string]any{"operator": "equals"})
	require.Error(t, err)
	assert.True(t, steps.IsConfigError(err))

	_, err = NewFactory().Create(map[string]any{"field": "x", "operator": "regex"})
	require.Error(t, err)
	assert.True(t, steps.IsConfigError(err))
}
