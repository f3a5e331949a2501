// Package delay provides the delay step.
package delay

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/dukex/flowpilot/pkg/steps"
)

// MaxSeconds caps a single delay step.
const MaxSeconds = 300

type Config struct {
	Seconds float64 `json:"seconds"`
}

// Handler waits for the configured duration or until the context is done.
type Handler struct {
	duration time.Duration
	after    func(time.Duration) <-chan time.Time
}

func (h *Handler) Execute(ctx context.Context, _ protocol.StepContext) (any, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("delay interrupted: %w", ctx.Err())
	case <-h.after(h.duration):
	}

	return map[string]any{"delayed_ms": h.duration.Milliseconds()}, nil
}

type Factory struct {
	after func(time.Duration) <-chan time.Time
}

func NewFactory() *Factory {
	return &Factory{after: time.After}
}

func (f *Factory) Create(config map[string]any) (protocol.StepHandler, error) {
	var cfg Config

	err := steps.Decode(string(models.ActionDelay), config, &cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Seconds < 0 || cfg.Seconds > MaxSeconds {
		return nil, steps.NewConfigError(string(models.ActionDelay), "seconds", fmt.Sprintf("must be between 0 and %d", MaxSeconds))
	}

	return &Handler{
		duration: time.Duration(cfg.Seconds * float64(time.Second)),
		after:    f.after,
	}, nil
}

func (f *Factory) ID() string {
	return string(models.ActionDelay)
}

func (f *Factory) Name() string {
	return "Delay"
}

func (f *Factory) Description() string {
	return "Pauses the execution before the next step"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"seconds": map[string]any{"type": "number", "minimum": 0, "maximum": MaxSeconds},
		},
		"required": []string{"seconds"},
	}
}
