package steps

import (
	"context"

	"github.com/dukex/flowpilot/pkg/protocol"
)

// Noop stands in for actions that are unknown or carry no configuration.
type Noop struct{}

func (Noop) Execute(_ context.Context, _ protocol.StepContext) (any, error) {
	return map[string]any{"executed": true}, nil
}
