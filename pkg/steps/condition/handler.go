// Package condition provides the condition step.
package condition

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/dukex/flowpilot/pkg/steps"
	"github.com/dukex/flowpilot/pkg/template"
)

// ErrConditionNotMet fails the step when halt_on_false is set.
var ErrConditionNotMet = errors.New("condition not met")

const (
	OperatorEquals    = "equals"
	OperatorNotEquals = "not_equals"
	OperatorExists    = "exists"
	OperatorContains  = "contains"
	OperatorGreater   = "gt"
	OperatorLess      = "lt"
)

var operators = []string{OperatorEquals, OperatorNotEquals, OperatorExists, OperatorContains, OperatorGreater, OperatorLess}

// Config compares the value at a dotted path of the data context.
type Config struct {
	Field       string `json:"field"`
	Operator    string `json:"operator"`
	Value       any    `json:"value"`
	HaltOnFalse bool   `json:"halt_on_false"`
}

type Handler struct {
	config Config
}

func (h *Handler) Execute(_ context.Context, stepCtx protocol.StepContext) (any, error) {
	actual, found := template.Lookup(stepCtx.Data, h.config.Field)
	expected := template.Resolve(h.config.Value, stepCtx.Data)

	passed := Evaluate(h.config.Operator, actual, found, expected)
	result := map[string]any{"passed": passed}

	if !passed && h.config.HaltOnFalse {
		return result, fmt.Errorf("%w: %s %s", ErrConditionNotMet, h.config.Field, h.config.Operator)
	}

	return result, nil
}

// Evaluate applies operator to the looked-up value. Numeric strings compare as numbers.
func Evaluate(operator string, actual any, found bool, expected any) bool {
	switch operator {
	case OperatorExists:
		return found && actual != nil
	case OperatorEquals:
		return found && equal(actual, expected)
	case OperatorNotEquals:
		return !found || !equal(actual, expected)
	case OperatorContains:
		return found && contains(actual, expected)
	case OperatorGreater, OperatorLess:
		left, okLeft := number(actual)
		right, okRight := number(expected)

		if !found || !okLeft || !okRight {
			return false
		}

		if operator == OperatorGreater {
			return left > right
		}

		return left < right
	default:
		return false
	}
}

func equal(a, b any) bool {
	left, okLeft := number(a)
	right, okRight := number(b)

	if okLeft && okRight {
		return left == right
	}

	return reflect.DeepEqual(a, b) || fmt.Sprint(a) == fmt.Sprint(b)
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprint(needle))
	case []any:
		return slices.ContainsFunc(h, func(item any) bool { return equal(item, needle) })
	case map[string]any:
		_, ok := h[fmt.Sprint(needle)]

		return ok
	default:
		return false
	}
}

func number(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)

		return parsed, err == nil
	default:
		return 0, false
	}
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(config map[string]any) (protocol.StepHandler, error) {
	var cfg Config

	err := steps.Decode(string(models.ActionCondition), config, &cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Field == "" {
		return nil, steps.MissingField(string(models.ActionCondition), "field")
	}

	if cfg.Operator == "" {
		cfg.Operator = OperatorEquals
	}

	if !slices.Contains(operators, cfg.Operator) {
		return nil, steps.NewConfigError(string(models.ActionCondition), "operator",
			fmt.Sprintf("must be one of %s", strings.Join(operators, ", ")))
	}

	return &Handler{config: cfg}, nil
}

func (f *Factory) ID() string {
	return string(models.ActionCondition)
}

func (f *Factory) Name() string {
	return "Condition"
}

func (f *Factory) Description() string {
	return "Compares a value from the data context and optionally halts when the comparison fails"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"field":         map[string]any{"type": "string", "examples": []string{"trigger.order.total"}},
			"operator":      map[string]any{"type": "string", "enum": operators, "default": OperatorEquals},
			"value":         map[string]any{},
			"halt_on_false": map[string]any{"type": "boolean", "default": false},
		},
		"required": []string{"field"},
	}
}
