package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpilot/pkg/eventbus"
	"github.com/dukex/flowpilot/pkg/events"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/otelhelper"
	"github.com/dukex/flowpilot/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StatsRecorder receives the outcome of executions and tool calls.
type StatsRecorder interface {
	RecordExecution(ctx context.Context, execution *models.AgentExecution) (models.PerformanceMetrics, error)
	RecordToolInvocation(ctx context.Context, invocation *models.ToolInvocation) (*models.AgentTool, error)
}

// LessonSource supplies guidance learned from earlier feedback.
type LessonSource interface {
	Lessons(ctx context.Context, agentID string) ([]string, error)
}

type Executor struct {
	store     persistence.Store
	planner   *Planner
	tools     map[ToolKind]Tool
	stats     StatsRecorder
	lessons   LessonSource
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Executor)

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

func WithLessons(lessons LessonSource) Option {
	return func(e *Executor) {
		e.lessons = lessons
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

func NewExecutor(logger *slog.Logger, store persistence.Store, planner *Planner, tools map[ToolKind]Tool, stats StatsRecorder, opts ...Option) *Executor {
	executor := &Executor{
		store:   store,
		planner: planner,
		tools:   tools,
		stats:   stats,
		tracer:  otelhelper.NoopTracer(),
		logger:  logger.With("module", "agent_executor"),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Run plans and executes a stored execution that is still in the planning state.
// A failed plan or step marks the execution failed and is not returned as an error.
func (e *Executor) Run(ctx context.Context, executionID string) (*models.AgentExecution, error) {
	execution, err := persistence.Get[models.AgentExecution](ctx, e.store, persistence.KindAgentExecution, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent execution %s: %w", executionID, err)
	}

	if isFinished(execution.Status) {
		return execution, nil
	}

	agent, err := persistence.Get[models.Agent](ctx, e.store, persistence.KindAgent, execution.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent %s: %w", execution.AgentID, err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "agent.execute",
		attribute.String(otelhelper.AgentIDKey, agent.ID),
		attribute.String(otelhelper.OrgIDKey, execution.OrgID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
	)
	defer span.End()

	logger := e.logger.With("agent_id", agent.ID, "execution_id", execution.ID)
	started := e.now()

	logger.InfoContext(ctx, "Planning agent task")

	plan, err := e.planner.Plan(ctx, PlanRequest{Agent: agent, Task: execution.Task, Lessons: e.lessonsFor(ctx, logger, agent)})
	if err != nil {
		otelhelper.SetError(span, err)

		return execution, e.fail(ctx, logger, execution, started, err)
	}

	execution.Plan = plan
	execution.Status = models.AgentStatusExecuting

	err = e.save(ctx, execution, "status", "plan")
	if err != nil {
		return execution, err
	}

	logger.InfoContext(ctx, "Executing plan", "steps", len(plan))

	results := Results{}

	for i := range execution.Plan {
		step := &execution.Plan[i]

		results, err = e.runStep(ctx, logger, agent, execution, step, results)
		if err == nil {
			continue
		}

		var failure *stepFailure
		if !errors.As(err, &failure) {
			return execution, err
		}

		otelhelper.SetError(span, err)

		return execution, e.fail(ctx, logger, execution, started, err)
	}

	completedAt := e.now().UTC()
	execution.Status = models.AgentStatusCompleted
	execution.Result = results.Map()
	execution.ExecutionTimeMs = completedAt.Sub(started).Milliseconds()
	execution.CompletedAt = &completedAt

	err = e.save(ctx, execution, "status", "plan", "result", "execution_time_ms", "completed_at")
	if err != nil {
		return execution, err
	}

	logger.InfoContext(ctx, "Agent execution completed", "execution_time_ms", execution.ExecutionTimeMs)

	e.recordExecution(ctx, logger, execution)
	e.publish(ctx, logger, agent.ID, events.AgentExecutionCompleted{
		BaseEvent:       events.NewAgentBaseEvent(events.AgentExecutionCompletedEvent, agent.ID),
		ExecutionID:     execution.ID,
		ExecutionTimeMs: execution.ExecutionTimeMs,
		StepCount:       len(execution.Plan),
	})

	return execution, nil
}

// stepFailure is a plan step that failed; it ends the execution but is not an infrastructure error.
type stepFailure struct {
	number int
	err    error
}

func (f *stepFailure) Error() string {
	return fmt.Sprintf("step %d failed: %v", f.number, f.err)
}

func (f *stepFailure) Unwrap() error {
	return f.err
}

func (e *Executor) runStep(ctx context.Context, logger *slog.Logger, agent *models.Agent, execution *models.AgentExecution, step *models.PlanStep, results Results) (Results, error) {
	kind := Route(agent, *step)
	stepLogger := logger.With("step_number", step.StepNumber, "tool", kind)

	step.Status = models.PlanStepRunning

	err := e.save(ctx, execution, "status", "plan")
	if err != nil {
		return results, err
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "agent.step",
		attribute.Int(otelhelper.PlanStepKey, step.StepNumber),
		attribute.String(otelhelper.ToolNameKey, string(kind)),
	)
	defer span.End()

	started := e.now()

	output, runErr := e.tool(kind).Run(ctx, ToolCall{Agent: agent, Execution: execution, Step: *step, Previous: results})

	step.DurationMs = e.now().Sub(started).Milliseconds()

	e.recordTool(ctx, stepLogger, &models.ToolInvocation{
		AgentID:     agent.ID,
		ExecutionID: execution.ID,
		ToolName:    string(kind),
		StepNumber:  step.StepNumber,
		Success:     runErr == nil,
		DurationMs:  step.DurationMs,
		Error:       errorText(runErr),
	})

	if runErr != nil {
		otelhelper.SetError(span, runErr)
		stepLogger.ErrorContext(ctx, "Plan step failed", "error", runErr)

		step.Status = models.PlanStepFailed
		step.Error = runErr.Error()

		return results, &stepFailure{number: step.StepNumber, err: runErr}
	}

	step.Status = models.PlanStepCompleted
	step.Result = output
	results = results.With(step.ResultKey(), output)

	stepLogger.InfoContext(ctx, "Plan step completed", "duration_ms", step.DurationMs)

	return results, e.save(ctx, execution, "plan")
}

func (e *Executor) tool(kind ToolKind) Tool {
	tool, ok := e.tools[kind]
	if !ok {
		return e.tools[ToolLLM]
	}

	return tool
}

func (e *Executor) fail(ctx context.Context, logger *slog.Logger, execution *models.AgentExecution, started time.Time, cause error) error {
	completedAt := e.now().UTC()
	execution.Status = models.AgentStatusFailed
	execution.ErrorMessage = cause.Error()
	execution.ExecutionTimeMs = completedAt.Sub(started).Milliseconds()
	execution.CompletedAt = &completedAt

	err := e.save(ctx, execution, "status", "plan", "error_message", "execution_time_ms", "completed_at")
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Agent execution failed", "error", cause)

	e.recordExecution(ctx, logger, execution)
	e.publish(ctx, logger, execution.AgentID, events.AgentExecutionFailed{
		BaseEvent:       events.NewAgentBaseEvent(events.AgentExecutionFailedEvent, execution.AgentID),
		ExecutionID:     execution.ID,
		Error:           execution.ErrorMessage,
		ExecutionTimeMs: execution.ExecutionTimeMs,
	})

	return nil
}

// save writes the named top-level fields of the execution.
func (e *Executor) save(ctx context.Context, execution *models.AgentExecution, fields ...string) error {
	all, err := persistence.ToFields(execution)
	if err != nil {
		return err
	}

	update := make(map[string]any, len(fields))
	for _, field := range fields {
		update[field] = all[field]
	}

	err = e.store.Update(ctx, persistence.KindAgentExecution, execution.ID, update)
	if err != nil {
		return fmt.Errorf("failed to save agent execution %s: %w", execution.ID, err)
	}

	return nil
}

func (e *Executor) lessonsFor(ctx context.Context, logger *slog.Logger, agent *models.Agent) []string {
	if e.lessons == nil || !agent.LearningConfig.FeedbackLearningEnabled() {
		return nil
	}

	lessons, err := e.lessons.Lessons(ctx, agent.ID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to load lessons", "error", err)

		return nil
	}

	return lessons
}

func (e *Executor) recordExecution(ctx context.Context, logger *slog.Logger, execution *models.AgentExecution) {
	if e.stats == nil {
		return
	}

	_, err := e.stats.RecordExecution(ctx, execution)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to update agent statistics", "error", err)
	}
}

func (e *Executor) recordTool(ctx context.Context, logger *slog.Logger, invocation *models.ToolInvocation) {
	if e.stats == nil {
		return
	}

	_, err := e.stats.RecordToolInvocation(ctx, invocation)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record tool invocation", "error", err)
	}
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

func isFinished(status models.AgentExecutionStatus) bool {
	return status == models.AgentStatusCompleted || status == models.AgentStatusFailed
}

func errorText(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
