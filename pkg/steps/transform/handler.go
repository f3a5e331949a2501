// Package transform provides the transform step, which reshapes the data context through a template.
package transform

import (
	"context"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/dukex/flowpilot/pkg/steps"
	"github.com/dukex/flowpilot/pkg/template"
)

type Config struct {
	Template any `json:"template"`
}

// Handler returns the template resolved against the data context.
type Handler struct {
	template any
}

func (h *Handler) Execute(_ context.Context, stepCtx protocol.StepContext) (any, error) {
	return template.Resolve(h.template, stepCtx.Data), nil
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(config map[string]any) (protocol.StepHandler, error) {
	var cfg Config

	err := steps.Decode(string(models.ActionTransform), config, &cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Template == nil {
		return nil, steps.MissingField(string(models.ActionTransform), "template")
	}

	return &Handler{template: cfg.Template}, nil
}

func (f *Factory) ID() string {
	return string(models.ActionTransform)
}

func (f *Factory) Name() string {
	return "Transform"
}

func (f *Factory) Description() string {
	return "Builds a new value from the trigger and previous step results"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"template": map[string]any{
				"description": "Any JSON value; string leaves may contain {{path}} placeholders",
				"examples": []any{
					map[string]any{"total": "{{steps.fetch_order.body.total}}", "customer": "{{trigger.customer}}"},
				},
			},
		},
		"required": []string{"template"},
	}
}
