package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/flowpilot/pkg/cmd"
	"github.com/dukex/flowpilot/pkg/log"
	cli "github.com/urfave/cli/v3"
)

// NewRebuildStatsCommand recomputes an agent's statistics from its full history.
func NewRebuildStatsCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "rebuild-stats",
		Usage: "Recompute agent and tool statistics from stored executions, feedback and invocations",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "agent-id",
				Usage:    "Agent whose statistics are rebuilt",
				Required: true,
			},
		}, cmd.StackFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			config := cmd.ConfigFrom(command, "flowpilot-worker")
			config.EventBus = cmd.EventBusNone

			stack, err := cmd.NewStack(ctx, logger, config)
			if err != nil {
				return err
			}

			defer func() {
				err := stack.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close stack", "error", err)
				}
			}()

			metrics, err := stack.Stats.Rebuild(ctx, command.String("agent-id"))
			if err != nil {
				return fmt.Errorf("failed to rebuild statistics: %w", err)
			}

			_, err = fmt.Fprintf(command.Root().Writer,
				"executions=%d success_rate=%.2f avg_execution_time_ms=%.2f feedback=%d satisfaction=%.2f\n",
				metrics.TotalExecutions, metrics.SuccessRate, metrics.AvgExecutionTimeMs,
				metrics.FeedbackCount, metrics.UserSatisfactionAvg)

			return err
		},
	}
}
