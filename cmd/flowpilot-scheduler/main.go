// Package main provides the Flowpilot scheduler, which fires workflows with a schedule trigger.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/flowpilot/pkg/cmd"
	"github.com/dukex/flowpilot/pkg/log"
	"github.com/dukex/flowpilot/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

var ErrEventBusRequired = errors.New("the scheduler needs an event bus")

func main() {
	logger := log.WithModule("flowpilot-scheduler")

	command := &cli.Command{
		Name:                  "flowpilot-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Trigger workflows on their cron schedules",
		Flags: append([]cli.Flag{
			&cli.DurationFlag{
				Name:    "refresh-interval",
				Usage:   "How often active schedules are reloaded",
				Value:   time.Minute,
				Sources: cli.EnvVars("SCHEDULER_REFRESH_INTERVAL"),
			},
		}, cmd.StackFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			if command.String("event-bus") == cmd.EventBusNone {
				return ErrEventBusRequired
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing Flowpilot Scheduler")

			stack, err := cmd.NewStack(ctx, logger, cmd.ConfigFrom(command, "flowpilot-scheduler"))
			if err != nil {
				return err
			}

			defer func() {
				err := stack.Close(context.Background())
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close stack", "error", err)
				}
			}()

			// An in-memory bus only reaches this process, so the scheduler runs what it fires.
			if command.String("event-bus") == cmd.EventBusGoChannel {
				worker := cmd.NewWorker("scheduler", logger, stack.WorkflowService, stack.AgentService, cmd.WithWorkerTracer(stack.Tracer))

				err = worker.Register(stack.EventBus)
				if err != nil {
					return err
				}

				err = stack.EventBus.Subscribe(ctx)
				if err != nil {
					return err
				}
			}

			return scheduler.New(logger, stack.Workflows, stack.EventBus,
				scheduler.WithRefreshInterval(command.Duration("refresh-interval")),
			).Run(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		logger.Error("Flowpilot scheduler stopped", "error", err)
		os.Exit(1)
	}
}
