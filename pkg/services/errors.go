// Package services provides the workflow and agent application services and their error types.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/flowpilot/pkg/learning"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/workflow"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidTriggerConfig = errors.New("invalid trigger config")
	ErrNotWebhookWorkflow   = errors.New("workflow is not webhook triggered")
	ErrWorkflowInactive     = errors.New("workflow is not active")

	// Authorization Errors (401 Unauthorized).
	ErrInvalidSecret = errors.New("invalid secret")
)

// ValidationError wraps validation failures with the operation and offending field.
type ValidationError struct {
	Op      string // Operation name
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Field, e.Message)
	}

	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, field, message string, err error) *ValidationError {
	if err == nil {
		err = ErrInvalidRequest
	}

	return &ValidationError{
		Op:      op,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	var validation *ValidationError

	return errors.As(err, &validation) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidTriggerConfig) ||
		errors.Is(err, ErrNotWebhookWorkflow) ||
		errors.Is(err, ErrWorkflowInactive) ||
		errors.Is(err, workflow.ErrStepNotFound) ||
		errors.Is(err, workflow.ErrWrongOrg) ||
		errors.Is(err, learning.ErrInvalidRating) ||
		errors.Is(err, learning.ErrExecutionNotFinished)
}

// IsNotFound checks if an error should return HTTP 404.
func IsNotFound(err error) bool {
	return persistence.IsNotFound(err)
}

// IsUnauthorized checks if an error should return HTTP 401.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrInvalidSecret)
}
