package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/dukex/flowpilot/pkg/cmd"
	"github.com/dukex/flowpilot/pkg/log"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

var ErrEventBusRequired = errors.New("the worker needs an event bus")

func run(ctx context.Context, logger *slog.Logger, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger = logger.With("worker_id", workerID)

	if command.String("event-bus") == cmd.EventBusNone {
		return ErrEventBusRequired
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Initializing Flowpilot Worker")

	stack, err := cmd.NewStack(ctx, logger, cmd.ConfigFrom(command, "flowpilot-worker"))
	if err != nil {
		return err
	}

	defer func() {
		err := stack.Close(context.Background())
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close stack", "error", err)
		}
	}()

	worker := cmd.NewWorker(workerID, logger, stack.WorkflowService, stack.AgentService, cmd.WithWorkerTracer(stack.Tracer))

	err = worker.Register(stack.EventBus)
	if err != nil {
		return err
	}

	err = stack.EventBus.Subscribe(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()
	logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}
