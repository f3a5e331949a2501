package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpilot/pkg/eventbus"
	"github.com/dukex/flowpilot/pkg/events"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/workflow"
	"github.com/go-playground/validator/v10"
)

const (
	// WebhookSource is the trigger_data.source of webhook executions.
	WebhookSource = "webhook"
	ManualSource  = "manual"

	defaultExecutionsLimit = 50
)

// WorkflowRunner runs one execution to a terminal state.
type WorkflowRunner interface {
	Execute(ctx context.Context, request workflow.ExecuteRequest) (*models.WorkflowExecution, error)
}

type Workflow struct {
	repository *workflow.Repository
	runner     WorkflowRunner
	publisher  eventbus.EventPublisher
	validate   *validator.Validate
	logger     *slog.Logger
	now        func() time.Time
}

// NewWorkflow creates a new workflow service. With a nil publisher webhook triggers run inline.
func NewWorkflow(logger *slog.Logger, repository *workflow.Repository, runner WorkflowRunner, publisher eventbus.EventPublisher, validate *validator.Validate) *Workflow {
	return &Workflow{
		repository: repository,
		runner:     runner,
		publisher:  publisher,
		validate:   validate,
		logger:     logger.With("module", "workflow_service"),
		now:        time.Now,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	return w.repository.HealthCheck(ctx)
}

func (w *Workflow) List(ctx context.Context, orgID string) ([]*models.Workflow, error) {
	return w.repository.FetchAll(ctx, orgID)
}

func (w *Workflow) Get(ctx context.Context, id string) (*models.Workflow, error) {
	return w.repository.FetchByID(ctx, id)
}

// Create validates and stores a new definition.
func (w *Workflow) Create(ctx context.Context, definition *models.Workflow) (*models.Workflow, error) {
	err := w.validateDefinition("create_workflow", definition)
	if err != nil {
		return nil, err
	}

	definition.ExecutionCount = 0
	definition.LastExecuted = nil

	created, err := w.repository.Create(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow created", "workflow_id", created.ID, "org_id", created.OrgID)

	return created, nil
}

// UpdateRequest holds the fields a PATCH may change. Nil fields are left untouched.
type UpdateRequest struct {
	Name          *string
	Description   *string
	TriggerType   *models.TriggerType
	TriggerConfig map[string]any
	Steps         []models.Step
	IsActive      *bool
}

// Update applies a partial change and revalidates the resulting definition.
func (w *Workflow) Update(ctx context.Context, id string, request UpdateRequest) (*models.Workflow, error) {
	existing, err := w.repository.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if request.Name != nil {
		existing.Name = *request.Name
	}

	if request.Description != nil {
		existing.Description = *request.Description
	}

	if request.TriggerType != nil {
		existing.TriggerType = *request.TriggerType
	}

	if request.TriggerConfig != nil {
		existing.TriggerConfig = request.TriggerConfig
	}

	if request.Steps != nil {
		existing.Steps = request.Steps
	}

	if request.IsActive != nil {
		existing.IsActive = *request.IsActive
	}

	err = w.validateDefinition("update_workflow", existing)
	if err != nil {
		return nil, err
	}

	return w.repository.Update(ctx, id, existing)
}

func (w *Workflow) validateDefinition(op string, definition *models.Workflow) error {
	err := w.validate.Struct(definition)
	if err != nil {
		return NewValidationError(op, "", err.Error(), ErrInvalidRequest)
	}

	seen := make(map[string]bool, len(definition.Steps))

	for _, step := range definition.Steps {
		if seen[step.ID] {
			return NewValidationError(op, "steps", fmt.Sprintf("duplicate step id %q", step.ID), ErrInvalidRequest)
		}

		seen[step.ID] = true
	}

	return validateTriggerConfig(definition.TriggerType, definition.TriggerConfig)
}

// ExecutionRequest is a manual run of a workflow.
type ExecutionRequest struct {
	WorkflowID     string
	OrgID          string
	TriggerData    map[string]any
	ResumeFromStep string
}

// Execute runs the workflow synchronously.
func (w *Workflow) Execute(ctx context.Context, request ExecutionRequest) (*models.WorkflowExecution, error) {
	if request.WorkflowID == "" {
		return nil, NewValidationError("execute_workflow", "workflow_id", "is required", ErrInvalidRequest)
	}

	return w.runner.Execute(ctx, workflow.ExecuteRequest{
		WorkflowID:     request.WorkflowID,
		OrgID:          request.OrgID,
		ResumeFromStep: request.ResumeFromStep,
		TriggerData: models.TriggerData{
			Source:    ManualSource,
			Payload:   request.TriggerData,
			Timestamp: w.now().UTC(),
		},
	})
}

// Dispatch runs a trigger received from the event bus.
func (w *Workflow) Dispatch(ctx context.Context, triggered *events.WorkflowTriggered) (*models.WorkflowExecution, error) {
	return w.runner.Execute(ctx, workflow.ExecuteRequest{
		WorkflowID:     triggered.WorkflowID,
		OrgID:          triggered.OrgID,
		ResumeFromStep: triggered.ResumeFromStep,
		TriggerData:    triggered.TriggerData,
	})
}

// WebhookResult reports how a webhook trigger was handled.
type WebhookResult struct {
	Queued    bool                      `json:"queued"`
	EventID   string                    `json:"event_id,omitempty"`
	Execution *models.WorkflowExecution `json:"execution,omitempty"`
}

// TriggerWebhook checks the shared secret and queues the execution, or runs it inline when
// no event bus is configured. The secret is compared with plain equality.
func (w *Workflow) TriggerWebhook(ctx context.Context, workflowID, secret string, payload map[string]any) (*WebhookResult, error) {
	definition, err := w.repository.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if definition.TriggerType != models.TriggerTypeWebhook {
		return nil, ErrNotWebhookWorkflow
	}

	expected, _ := definition.TriggerConfig["secret"].(string)
	if expected == "" || secret != expected {
		return nil, ErrInvalidSecret
	}

	if !definition.IsActive {
		return nil, ErrWorkflowInactive
	}

	triggerData := models.TriggerData{
		Source:    WebhookSource,
		Payload:   payload,
		Timestamp: w.now().UTC(),
	}

	if w.publisher == nil {
		execution, err := w.runner.Execute(ctx, workflow.ExecuteRequest{
			WorkflowID:  definition.ID,
			OrgID:       definition.OrgID,
			TriggerData: triggerData,
		})
		if err != nil {
			return nil, err
		}

		return &WebhookResult{Execution: execution}, nil
	}

	event := events.WorkflowTriggered{
		BaseEvent:   events.NewBaseEvent(events.WorkflowTriggeredEvent, definition.ID),
		OrgID:       definition.OrgID,
		TriggerData: triggerData,
	}

	err = w.publisher.Publish(ctx, definition.ID, event)
	if err != nil {
		return nil, fmt.Errorf("failed to queue webhook trigger: %w", err)
	}

	w.logger.InfoContext(ctx, "Webhook trigger queued", "workflow_id", definition.ID, "event_id", event.ID)

	return &WebhookResult{Queued: true, EventID: event.ID}, nil
}

func (w *Workflow) Execution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return w.repository.FetchExecution(ctx, id)
}

// Executions lists the latest executions of a workflow.
func (w *Workflow) Executions(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	_, err := w.repository.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 200 {
		limit = defaultExecutionsLimit
	}

	return w.repository.Executions(ctx, workflowID, limit)
}
