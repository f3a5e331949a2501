// Package registry maps step actions to the factories that build their handlers.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/dukex/flowpilot/pkg/steps"
)

// ErrActionNotRegistered is returned by Create for actions with no factory.
var ErrActionNotRegistered = errors.New("step action not registered")

// Component describes a registered step action.
type Component struct {
	Action      string         `json:"action"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	factories map[string]protocol.StepHandlerFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:    log.With("module", "registry"),
		factories: make(map[string]protocol.StepHandlerFactory),
	}
}

// Register adds a factory under its ID, replacing any previous one.
func (r *Registry) Register(factory protocol.StepHandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.ID()] = factory
}

// Create builds a handler for a registered action.
func (r *Registry) Create(action models.StepAction, config map[string]any) (protocol.StepHandler, error) {
	r.mu.RLock()
	factory, ok := r.factories[string(action)]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotRegistered, action)
	}

	return factory.Create(config)
}

// HandlerFor resolves the handler of a workflow step. Unknown actions and steps
// without configuration degrade to a no-op instead of failing the execution.
func (r *Registry) HandlerFor(step models.Step) (protocol.StepHandler, error) {
	if len(step.Config) == 0 {
		return steps.Noop{}, nil
	}

	handler, err := r.Create(step.Action, step.Config)
	if errors.Is(err, ErrActionNotRegistered) {
		r.logger.Warn("Unknown step action, running as no-op", "step_id", step.ID, "action", step.Action)

		return steps.Noop{}, nil
	}

	return handler, err
}

// Components lists the registered actions sorted by action name.
func (r *Registry) Components() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	components := make([]Component, 0, len(r.factories))

	for _, action := range slices.Sorted(maps.Keys(r.factories)) {
		factory := r.factories[action]
		components = append(components, Component{
			Action:      action,
			Name:        factory.Name(),
			Description: factory.Description(),
			Schema:      factory.Schema(),
		})
	}

	return components
}

// HealthCheck reports whether any step handlers are available.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.factories) == 0 {
		return "No step handlers registered", false
	}

	return fmt.Sprintf("%d step handlers registered", len(r.factories)), true
}
