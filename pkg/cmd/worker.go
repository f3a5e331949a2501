package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/flowpilot/pkg/eventbus"
	"github.com/dukex/flowpilot/pkg/events"
	"github.com/dukex/flowpilot/pkg/otelhelper"
	"github.com/dukex/flowpilot/pkg/services"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Worker runs the executions requested over the event bus.
type Worker struct {
	id        string
	workflows *services.Workflow
	agents    *services.Agent
	tracer    trace.Tracer
	logger    *slog.Logger
}

type WorkerOption func(*Worker)

func WithWorkerTracer(tracer trace.Tracer) WorkerOption {
	return func(w *Worker) {
		w.tracer = tracer
	}
}

func NewWorker(id string, logger *slog.Logger, workflows *services.Workflow, agents *services.Agent, opts ...WorkerOption) *Worker {
	worker := &Worker{
		id:        id,
		workflows: workflows,
		agents:    agents,
		tracer:    otelhelper.NoopTracer(),
		logger:    logger.With("module", "worker", "worker_id", id),
	}

	for _, opt := range opts {
		opt(worker)
	}

	return worker
}

// Register installs the worker's handlers on the bus. The caller subscribes afterwards.
func (w *Worker) Register(bus eventbus.EventSubscriber) error {
	err := bus.Handle(events.WorkflowTriggeredEvent, w.handleWorkflowTriggered)
	if err != nil {
		return err
	}

	return bus.Handle(events.AgentExecutionRequestedEvent, w.handleAgentExecutionRequested)
}

func (w *Worker) handleWorkflowTriggered(ctx context.Context, event eventbus.Event) error {
	triggered, ok := event.(*events.WorkflowTriggered)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for WorkflowTriggered")

		return nil
	}

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.workflow_triggered",
		attribute.String(otelhelper.WorkerIDKey, w.id),
		attribute.String(otelhelper.EventIDKey, triggered.ID),
		attribute.String(otelhelper.WorkflowIDKey, triggered.WorkflowID),
	)
	defer span.End()

	logger := w.logger.With("workflow_id", triggered.WorkflowID, "event_id", triggered.ID)
	logger.InfoContext(ctx, "Processing workflow triggered event", "source", triggered.TriggerData.Source)

	execution, err := w.workflows.Dispatch(ctx, triggered)

	return w.settle(ctx, logger, span, err, func() {
		logger.InfoContext(ctx, "Workflow execution finished", "execution_id", execution.ID, "status", execution.Status)
	})
}

func (w *Worker) handleAgentExecutionRequested(ctx context.Context, event eventbus.Event) error {
	requested, ok := event.(*events.AgentExecutionRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for AgentExecutionRequested")

		return nil
	}

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.agent_execution_requested",
		attribute.String(otelhelper.WorkerIDKey, w.id),
		attribute.String(otelhelper.EventIDKey, requested.ID),
		attribute.String(otelhelper.AgentIDKey, requested.AgentID),
	)
	defer span.End()

	logger := w.logger.With("agent_id", requested.AgentID, "execution_id", requested.ExecutionID)
	logger.InfoContext(ctx, "Processing agent execution requested event")

	execution, err := w.agents.Dispatch(ctx, requested)

	return w.settle(ctx, logger, span, err, func() {
		logger.InfoContext(ctx, "Agent execution finished", "status", execution.Status)
	})
}

// settle drops events that can never succeed and returns infrastructure errors so the bus
// redelivers them.
func (w *Worker) settle(ctx context.Context, logger *slog.Logger, span trace.Span, err error, done func()) error {
	switch {
	case err == nil:
		done()

		return nil
	case services.IsNotFound(err), services.IsValidationError(err):
		logger.WarnContext(ctx, "Dropping event", "error", err)

		return nil
	default:
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to process event", "error", err)

		return err
	}
}
