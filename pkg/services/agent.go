package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/flowpilot/pkg/eventbus"
	"github.com/dukex/flowpilot/pkg/events"
	"github.com/dukex/flowpilot/pkg/learning"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// AgentRunner plans and runs a stored agent execution.
type AgentRunner interface {
	Run(ctx context.Context, executionID string) (*models.AgentExecution, error)
}

// FeedbackSubmitter records user feedback on an execution.
type FeedbackSubmitter interface {
	SubmitFeedback(ctx context.Context, feedback learning.Feedback) (*models.AgentFeedback, error)
}

// ToolStats lists tool usage aggregates.
type ToolStats interface {
	Tools(ctx context.Context, agentID string) ([]*models.AgentTool, error)
}

type Agent struct {
	store     persistence.Store
	runner    AgentRunner
	feedback  FeedbackSubmitter
	tools     ToolStats
	publisher eventbus.EventPublisher
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewAgent creates the agent service. With a nil publisher executions run inline.
func NewAgent(
	logger *slog.Logger,
	store persistence.Store,
	runner AgentRunner,
	feedback FeedbackSubmitter,
	tools ToolStats,
	publisher eventbus.EventPublisher,
	validate *validator.Validate,
) *Agent {
	return &Agent{
		store:     store,
		runner:    runner,
		feedback:  feedback,
		tools:     tools,
		publisher: publisher,
		validate:  validate,
		logger:    logger.With("module", "agent_service"),
		now:       time.Now,
	}
}

func (a *Agent) Create(ctx context.Context, agent *models.Agent) (*models.Agent, error) {
	err := a.validate.Struct(agent)
	if err != nil {
		return nil, NewValidationError("create_agent", "", err.Error(), ErrInvalidRequest)
	}

	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}

	now := a.now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	agent.PerformanceMetrics = models.PerformanceMetrics{}

	err = a.store.Create(ctx, persistence.KindAgent, agent.ID, agent)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	a.logger.InfoContext(ctx, "Agent created", "agent_id", agent.ID, "org_id", agent.OrgID)

	return agent, nil
}

func (a *Agent) Get(ctx context.Context, id string) (*models.Agent, error) {
	return persistence.Get[models.Agent](ctx, a.store, persistence.KindAgent, id)
}

// AgentExecutionRequest asks an agent to carry out a task.
type AgentExecutionRequest struct {
	AgentID     string
	OrgID       string
	Task        string
	RequestedBy string
}

// RequestExecution stores a planning execution and either queues it for a worker or runs
// it inline. A queued execution is returned in its planning state.
func (a *Agent) RequestExecution(ctx context.Context, request AgentExecutionRequest) (*models.AgentExecution, error) {
	task := strings.TrimSpace(request.Task)
	if task == "" {
		return nil, NewValidationError("request_agent_execution", "task", "is required", ErrInvalidRequest)
	}

	agent, err := a.Get(ctx, request.AgentID)
	if err != nil {
		return nil, err
	}

	if request.OrgID != "" && request.OrgID != agent.OrgID {
		return nil, NewValidationError("request_agent_execution", "org_id", "does not match the agent organization", ErrInvalidRequest)
	}

	execution := &models.AgentExecution{
		ID:          uuid.New().String(),
		AgentID:     agent.ID,
		OrgID:       agent.OrgID,
		RequestedBy: request.RequestedBy,
		Task:        task,
		Status:      models.AgentStatusPlanning,
		CreatedAt:   a.now().UTC(),
	}

	err = a.store.Create(ctx, persistence.KindAgentExecution, execution.ID, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent execution: %w", err)
	}

	if a.publisher == nil {
		return a.runner.Run(ctx, execution.ID)
	}

	err = a.publisher.Publish(ctx, agent.ID, events.AgentExecutionRequested{
		BaseEvent:   events.NewAgentBaseEvent(events.AgentExecutionRequestedEvent, agent.ID),
		ExecutionID: execution.ID,
		OrgID:       agent.OrgID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to queue agent execution: %w", err)
	}

	a.logger.InfoContext(ctx, "Agent execution queued", "agent_id", agent.ID, "execution_id", execution.ID)

	return execution, nil
}

// Dispatch runs an execution requested over the event bus.
func (a *Agent) Dispatch(ctx context.Context, requested *events.AgentExecutionRequested) (*models.AgentExecution, error) {
	return a.runner.Run(ctx, requested.ExecutionID)
}

func (a *Agent) Execution(ctx context.Context, id string) (*models.AgentExecution, error) {
	return persistence.Get[models.AgentExecution](ctx, a.store, persistence.KindAgentExecution, id)
}

func (a *Agent) SubmitFeedback(ctx context.Context, feedback learning.Feedback) (*models.AgentFeedback, error) {
	return a.feedback.SubmitFeedback(ctx, feedback)
}

// Tools lists the tool aggregates of an existing agent.
func (a *Agent) Tools(ctx context.Context, agentID string) ([]*models.AgentTool, error) {
	_, err := a.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}

	return a.tools.Tools(ctx, agentID)
}
