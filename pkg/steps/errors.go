// Package steps holds what every step handler shares: configuration errors, config decoding and the no-op handler.
package steps

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks a step that cannot run as configured. It is never retried.
var ErrConfiguration = errors.New("invalid step configuration")

// ConfigError wraps configuration errors with the offending action and field.
type ConfigError struct {
	Action string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v: %s", e.Action, ErrConfiguration, e.Reason)
	}

	return fmt.Sprintf("%s: %v: %s %s", e.Action, ErrConfiguration, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// NewConfigError creates a new configuration error.
func NewConfigError(action, field, reason string) *ConfigError {
	return &ConfigError{
		Action: action,
		Field:  field,
		Reason: reason,
	}
}

// MissingField is the common "required field absent" configuration error.
func MissingField(action, field string) *ConfigError {
	return NewConfigError(action, field, "is required")
}

// IsConfigError checks if an error indicates a configuration problem.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
