package transform

import (
	"context"
	"testing"

	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/dukex/flowpilot/pkg/steps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ResolvesTemplate(t *testing.T) {
	handler, err := NewFactory().Create(map[string]any{
		"template": map[string]any{
			"total":  "{{steps.fetch.body.total}}",
			"status": "{{steps.fetch.status}}",
			"label":  "Order for {{trigger.customer}}",
		},
	})
	require.NoError(t, err)

	result, err := handler.Execute(context.Background(), protocol.StepContext{
		Data: map[string]any{
			"trigger": map[string]any{"customer": "ACME"},
			"steps": map[string]any{
				"fetch": map[string]any{"status": 200, "body": map[string]any{"total": 99.5}},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"total": 99.5, "status": 200, "label": "Order for ACME"}, result)
}

func TestFactory_RequiresTemplate(t *testing.T) {
	_, err := NewFactory().Create(map[string]any{"other": 1})

	require.Error(t, err)
	assert.True(t, steps.IsConfigError(err))
}
