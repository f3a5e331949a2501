// Package protocol defines the interfaces and contracts for pluggable step handlers and collaborators.
package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/flowpilot/pkg/models"
)

// StepContext is what a handler sees while executing one step.
type StepContext struct {
	OrgID       string
	WorkflowID  string
	ExecutionID string
	Step        models.Step
	Trigger     models.TriggerData

	// Data is {trigger, workflow, execution, steps} and is used for template resolution.
	Data   map[string]any
	Logger *slog.Logger
}

// StepHandler executes a configured step.
type StepHandler interface {
	Execute(ctx context.Context, stepCtx StepContext) (any, error)
}

// StepHandlerFactory creates handlers for one step action.
type StepHandlerFactory interface {
	// Create decodes and validates the raw step config.
	Create(config map[string]any) (StepHandler, error)

	// ID returns the step action this factory serves
	ID() string

	Name() string
	Description() string

	// Schema returns the JSON schema for configuring this step
	Schema() map[string]any
}
