package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/google/uuid"
)

// Repository stores workflow definitions and their executions.
type Repository struct {
	store persistence.Store
}

func NewRepository(store persistence.Store) *Repository {
	return &Repository{
		store: store,
	}
}

func (r *Repository) HealthCheck(ctx context.Context) (string, bool) {
	if r.store == nil {
		return "Persistence layer not initialized", false
	}

	if err := r.store.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// FetchAll returns the workflows of an org, newest first. An empty org returns every workflow.
func (r *Repository) FetchAll(ctx context.Context, orgID string) ([]*models.Workflow, error) {
	query := persistence.Query{SortBy: "created_at", Descending: true}
	if orgID != "" {
		query.Where = map[string]any{"org_id": orgID}
	}

	return persistence.Filter[models.Workflow](ctx, r.store, persistence.KindWorkflow, query)
}

// FetchActive returns active workflows fired by the trigger type.
func (r *Repository) FetchActive(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	return persistence.Filter[models.Workflow](ctx, r.store, persistence.KindWorkflow, persistence.Query{
		Where: map[string]any{
			"trigger_type": string(triggerType),
			"is_active":    true,
		},
	})
}

func (r *Repository) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return persistence.Get[models.Workflow](ctx, r.store, persistence.KindWorkflow, id)
}

func (r *Repository) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	err := r.store.Create(ctx, persistence.KindWorkflow, workflow.ID, workflow)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

// Update replaces a definition, keeping its identity, creation time and run statistics.
func (r *Repository) Update(ctx context.Context, id string, workflow *models.Workflow) (*models.Workflow, error) {
	existing, err := r.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	workflow.ID = id
	workflow.OrgID = existing.OrgID
	workflow.CreatedAt = existing.CreatedAt
	workflow.CreatedBy = existing.CreatedBy
	workflow.ExecutionCount = existing.ExecutionCount
	workflow.LastExecuted = existing.LastExecuted
	workflow.UpdatedAt = time.Now().UTC()

	err = r.store.Put(ctx, persistence.KindWorkflow, id, workflow)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

// RecordRun increments execution_count and stamps last_executed in one store write, so
// concurrent runs of the same workflow never lose a count.
func (r *Repository) RecordRun(ctx context.Context, id string, at time.Time) error {
	return r.store.Increment(ctx, persistence.KindWorkflow, id, "execution_count", 1, map[string]any{
		"last_executed": at,
	})
}

func (r *Repository) CreateExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	return r.store.Create(ctx, persistence.KindWorkflowExecution, execution.ID, execution)
}

// SaveProgress overwrites current_step and the whole step_results array.
func (r *Repository) SaveProgress(ctx context.Context, execution *models.WorkflowExecution) error {
	err := r.store.Update(ctx, persistence.KindWorkflowExecution, execution.ID, map[string]any{
		"current_step": execution.CurrentStep,
		"step_results": execution.StepResults,
	})
	if err != nil {
		return fmt.Errorf("failed to save progress of execution %s: %w", execution.ID, err)
	}

	return nil
}

// Finish persists the terminal state of an execution.
func (r *Repository) Finish(ctx context.Context, execution *models.WorkflowExecution) error {
	fields := map[string]any{
		"status":       execution.Status,
		"current_step": execution.CurrentStep,
		"step_results": execution.StepResults,
		"completed_at": execution.CompletedAt,
	}

	if execution.ErrorMessage != "" {
		fields["error_message"] = execution.ErrorMessage
	}

	err := r.store.Update(ctx, persistence.KindWorkflowExecution, execution.ID, fields)
	if err != nil {
		return fmt.Errorf("failed to finish execution %s: %w", execution.ID, err)
	}

	return nil
}

func (r *Repository) FetchExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return persistence.Get[models.WorkflowExecution](ctx, r.store, persistence.KindWorkflowExecution, id)
}

// Executions lists the executions of a workflow, newest first.
func (r *Repository) Executions(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	return persistence.Filter[models.WorkflowExecution](ctx, r.store, persistence.KindWorkflowExecution, persistence.Query{
		Where:      map[string]any{"workflow_id": workflowID},
		SortBy:     "started_at",
		Descending: true,
		Limit:      limit,
	})
}
