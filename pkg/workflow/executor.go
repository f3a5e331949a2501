// Package workflow runs workflow executions: strictly ordered steps, per-step retry and
// continue-on-error policies, resumption and sub-workflow invocation.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dukex/flowpilot/pkg/eventbus"
	"github.com/dukex/flowpilot/pkg/events"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/otelhelper"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/dukex/flowpilot/pkg/registry"
	"github.com/dukex/flowpilot/pkg/steps"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxDepth bounds how deeply sub-workflows may nest.
const DefaultMaxDepth = 5

// ExecuteRequest starts one execution of a workflow.
type ExecuteRequest struct {
	WorkflowID  string
	TriggerData models.TriggerData

	// OrgID, when set, must match the workflow's org.
	OrgID string

	// ResumeFromStep starts the execution at this step id instead of the first step.
	ResumeFromStep string

	ParentExecutionID string
}

type Executor struct {
	repository *Repository
	registry   *registry.Registry
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	logger     *slog.Logger
	sleep      Sleeper
	now        func() time.Time
	maxDepth   int
}

type Option func(*Executor)

// WithPublisher publishes lifecycle events after every terminal state.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Executor) {
		e.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// WithSleeper replaces the wait between retry attempts.
func WithSleeper(sleep Sleeper) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

func WithMaxDepth(depth int) Option {
	return func(e *Executor) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

func NewExecutor(logger *slog.Logger, repository *Repository, registry *registry.Registry, opts ...Option) *Executor {
	executor := &Executor{
		repository: repository,
		registry:   registry,
		tracer:     otelhelper.NoopTracer(),
		logger:     logger.With("module", "workflow_executor"),
		sleep:      sleepContext,
		now:        time.Now,
		maxDepth:   DefaultMaxDepth,
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Execute runs the workflow to a terminal state and returns the execution record.
// A failed execution is not an error: errors are reserved for requests that could not
// start (unknown workflow or step, nesting violations) and for persistence failures.
func (e *Executor) Execute(ctx context.Context, request ExecuteRequest) (*models.WorkflowExecution, error) {
	logger := e.logger.With("workflow_id", request.WorkflowID)

	workflow, err := e.repository.FetchByID(ctx, request.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch workflow %s: %w", request.WorkflowID, err)
	}

	if request.OrgID != "" && workflow.OrgID != request.OrgID {
		return nil, fmt.Errorf("%w: %s", ErrWrongOrg, workflow.ID)
	}

	start := 0

	if request.ResumeFromStep != "" {
		start = workflow.StepIndex(request.ResumeFromStep)
		if start < 0 {
			return nil, fmt.Errorf("%w: %s", ErrStepNotFound, request.ResumeFromStep)
		}
	}

	chain := chainFrom(ctx)

	if chain.contains(workflow.ID) {
		return nil, fmt.Errorf("%w: %v -> %s", ErrCycleDetected, []string(chain), workflow.ID)
	}

	if len(chain) > e.maxDepth {
		return nil, fmt.Errorf("%w: depth %d, limit %d", ErrMaxDepthExceeded, len(chain), e.maxDepth)
	}

	ctx = withChain(ctx, chain.with(workflow.ID))

	execution := &models.WorkflowExecution{
		ID:                uuid.New().String(),
		WorkflowID:        workflow.ID,
		OrgID:             workflow.OrgID,
		ParentExecutionID: request.ParentExecutionID,
		TriggerData:       request.TriggerData,
		Status:            models.ExecutionStatusRunning,
		CurrentStep:       start,
		StepResults:       make([]models.StepResult, 0, len(workflow.Steps)-start),
		StartedAt:         e.now().UTC(),
	}

	err = e.repository.CreateExecution(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.WorkflowNameKey, workflow.Name),
		attribute.String(otelhelper.OrgIDKey, workflow.OrgID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.TriggerSourceKey, request.TriggerData.Source),
	)
	defer span.End()

	logger = logger.With("execution_id", execution.ID)
	logger.InfoContext(ctx, "Starting workflow execution", "steps", len(workflow.Steps), "start_index", start, "depth", len(chain))

	err = e.run(ctx, logger, workflow, execution, start)
	if err != nil {
		otelhelper.SetError(span, err)
		e.abandon(ctx, logger, execution, err)

		return execution, err
	}

	if execution.Status == models.ExecutionStatusFailed {
		span.SetAttributes(attribute.String("flowpilot.execution.status", string(execution.Status)))
	}

	return execution, nil
}

// RunSubWorkflow runs a child execution for a sub_workflow step and waits for it.
func (e *Executor) RunSubWorkflow(ctx context.Context, request protocol.SubWorkflowRequest) (*models.WorkflowExecution, error) {
	return e.Execute(ctx, ExecuteRequest{
		WorkflowID:        request.WorkflowID,
		OrgID:             request.OrgID,
		TriggerData:       request.TriggerData,
		ParentExecutionID: request.ParentExecutionID,
	})
}

func (e *Executor) run(ctx context.Context, logger *slog.Logger, workflow *models.Workflow, execution *models.WorkflowExecution, start int) error {
	results := make(map[string]any)

	for index := start; index < len(workflow.Steps); index++ {
		step := workflow.Steps[index]
		stepLogger := logger.With("step_id", step.ID, "step_action", step.Action)

		execution.CurrentStep = index

		err := e.repository.SaveProgress(ctx, execution)
		if err != nil {
			return err
		}

		stepCtx := protocol.StepContext{
			OrgID:       workflow.OrgID,
			WorkflowID:  workflow.ID,
			ExecutionID: execution.ID,
			Step:        step,
			Trigger:     execution.TriggerData,
			Data:        dataContext(workflow, execution, results),
			Logger:      stepLogger,
		}

		result, stepErr, err := e.runStep(ctx, stepLogger, execution, stepCtx)
		if err != nil {
			return err
		}

		if stepErr == nil {
			results[step.ID] = result

			continue
		}

		if step.ErrorConfig.Continues() {
			stepLogger.WarnContext(ctx, "Step failed, continuing", "error", stepErr)

			continue
		}

		stepLogger.ErrorContext(ctx, "Step failed, halting execution", "error", stepErr)

		return e.finish(ctx, logger, execution, fmt.Errorf("step %s failed: %w", step.ID, stepErr), step.ID)
	}

	execution.CurrentStep = len(workflow.Steps)

	err := e.finish(ctx, logger, execution, nil, "")
	if err != nil {
		return err
	}

	err = e.repository.RecordRun(ctx, workflow.ID, *execution.CompletedAt)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record workflow run", "error", err)
	}

	return nil
}

// runStep executes a step with its retry policy. stepErr is the step's final failure;
// err is a persistence failure that aborts the execution.
func (e *Executor) runStep(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution, stepCtx protocol.StepContext) (result any, stepErr error, err error) {
	step := stepCtx.Step

	result, entry, stepErr := e.attempt(ctx, stepCtx, 0)
	execution.StepResults = append(execution.StepResults, entry)

	err = e.repository.SaveProgress(ctx, execution)
	if err != nil || stepErr == nil {
		return result, stepErr, err
	}

	retries := step.ErrorConfig.Retries()
	if steps.IsConfigError(stepErr) {
		retries = 0
	}

	for attempt := 1; attempt <= retries; attempt++ {
		delay := time.Duration(step.ErrorConfig.RetryDelaySeconds) * time.Second

		logger.WarnContext(ctx, "Retrying step", "attempt", attempt, "of", retries, "delay", delay, "error", stepErr)

		sleepErr := e.sleep(ctx, delay)
		if sleepErr != nil {
			return nil, errors.Join(stepErr, sleepErr), nil
		}

		result, entry, stepErr = e.attempt(ctx, stepCtx, attempt)
		entry.RetryCount = attempt
		execution.StepResults[len(execution.StepResults)-1] = entry

		err = e.repository.SaveProgress(ctx, execution)
		if err != nil || stepErr == nil {
			return result, stepErr, err
		}
	}

	return nil, stepErr, nil
}

func (e *Executor) attempt(ctx context.Context, stepCtx protocol.StepContext, attempt int) (any, models.StepResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.step",
		attribute.String(otelhelper.StepIDKey, stepCtx.Step.ID),
		attribute.String(otelhelper.StepActionKey, string(stepCtx.Step.Action)),
		attribute.Int(otelhelper.StepAttemptKey, attempt),
	)
	defer span.End()

	started := e.now()

	result, err := e.execute(ctx, stepCtx)

	entry := models.StepResult{
		StepID:     stepCtx.Step.ID,
		Status:     models.StepStatusSuccess,
		Result:     result,
		DurationMs: e.now().Sub(started).Milliseconds(),
		Timestamp:  started.UTC(),
	}

	if err != nil {
		otelhelper.SetError(span, err)

		entry.Status = models.StepStatusFailed
		entry.Result = nil
		entry.Error = err.Error()

		return nil, entry, err
	}

	return result, entry, nil
}

func (e *Executor) execute(ctx context.Context, stepCtx protocol.StepContext) (any, error) {
	handler, err := e.registry.HandlerFor(stepCtx.Step)
	if err != nil {
		return nil, err
	}

	return handler.Execute(ctx, stepCtx)
}

func (e *Executor) finish(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution, failure error, failedStepID string) error {
	completedAt := e.now().UTC()
	execution.CompletedAt = &completedAt
	execution.Status = models.ExecutionStatusCompleted

	if failure != nil {
		execution.Status = models.ExecutionStatusFailed
		execution.ErrorMessage = failure.Error()
	}

	err := e.repository.Finish(ctx, execution)
	if err != nil {
		return err
	}

	duration := completedAt.Sub(execution.StartedAt).Milliseconds()

	if failure != nil {
		logger.InfoContext(ctx, "Workflow execution failed", "failed_step", failedStepID, "duration_ms", duration)

		e.publish(ctx, logger, execution.WorkflowID, events.WorkflowExecutionFailed{
			BaseEvent:         events.NewBaseEvent(events.WorkflowExecutionFailedEvent, execution.WorkflowID),
			ExecutionID:       execution.ID,
			ParentExecutionID: execution.ParentExecutionID,
			FailedStepID:      failedStepID,
			Error:             execution.ErrorMessage,
			DurationMs:        duration,
		})

		return nil
	}

	logger.InfoContext(ctx, "Workflow execution completed", "step_results", len(execution.StepResults), "duration_ms", duration)

	e.publish(ctx, logger, execution.WorkflowID, events.WorkflowExecutionCompleted{
		BaseEvent:         events.NewBaseEvent(events.WorkflowExecutionCompletedEvent, execution.WorkflowID),
		ExecutionID:       execution.ID,
		ParentExecutionID: execution.ParentExecutionID,
		StepCount:         len(execution.StepResults),
		DurationMs:        duration,
	})

	return nil
}

// abandon persists a terminal state after a persistence error cut the run short, so the
// execution is not left running. An execution still running is marked failed; one whose
// final write failed gets that write retried. A second failure is only logged.
func (e *Executor) abandon(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution, cause error) {
	if execution.Status == models.ExecutionStatusRunning {
		completedAt := e.now().UTC()
		execution.CompletedAt = &completedAt
		execution.Status = models.ExecutionStatusFailed
		execution.ErrorMessage = "execution aborted: " + cause.Error()
	}

	err := e.repository.Finish(context.WithoutCancel(ctx), execution)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to mark aborted execution as failed", "error", err)

		return
	}

	logger.WarnContext(ctx, "Workflow execution aborted", "error", cause)
}

func (e *Executor) publish(ctx context.Context, logger *slog.Logger, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// dataContext is what step templates resolve against.
func dataContext(workflow *models.Workflow, execution *models.WorkflowExecution, results map[string]any) map[string]any {
	trigger := execution.TriggerData.Payload
	if trigger == nil {
		trigger = map[string]any{}
	}

	return map[string]any{
		"trigger": trigger,
		"workflow": map[string]any{
			"id":   workflow.ID,
			"name": workflow.Name,
		},
		"execution": map[string]any{
			"id":     execution.ID,
			"source": execution.TriggerData.Source,
		},
		"steps": maps.Clone(results),
	}
}
