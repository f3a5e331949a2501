package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/flowpilot/pkg/cmd"
	"github.com/dukex/flowpilot/pkg/log"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "flowpilot-api",
		Usage:                 "Manage workflows and agents over HTTP",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		}, cmd.StackFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing Flowpilot API")

			stack, err := cmd.NewStack(ctx, logger, cmd.ConfigFrom(command, "flowpilot-api"))
			if err != nil {
				return err
			}

			defer func() {
				err := stack.Close(context.Background())
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close stack", "error", err)
				}
			}()

			// An in-memory bus only reaches this process, so the API consumes its own events.
			if command.String("event-bus") == cmd.EventBusGoChannel {
				worker := cmd.NewWorker("api-"+uuid.New().String()[:8], logger, stack.WorkflowService, stack.AgentService, cmd.WithWorkerTracer(stack.Tracer))

				err = worker.Register(stack.EventBus)
				if err != nil {
					return err
				}

				err = stack.EventBus.Subscribe(ctx)
				if err != nil {
					return err
				}
			}

			return NewAPI(logger, stack).Start(ctx, command.Int("port"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		logger.Error("Flowpilot API stopped", "error", err)
		os.Exit(1)
	}
}
