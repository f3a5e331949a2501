// Package testutil provides test data builders and a behavioural suite for persistence.Store.
package testutil

import (
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/google/uuid"
)

// CreateTestWorkflow creates an active manual workflow with one transform step.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Now().UTC().Truncate(time.Second)

	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		OrgID:       "org-1",
		Name:        "Test Workflow",
		TriggerType: models.TriggerTypeManual,
		Steps: []models.Step{
			{ID: "shape", Action: models.ActionTransform, Config: map[string]any{"template": "{{trigger}}"}},
		},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithOrg moves the workflow to another org.
func WithOrg(orgID string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.OrgID = orgID
	}
}

// WithWebhookTrigger turns the workflow into a webhook workflow guarded by secret.
func WithWebhookTrigger(secret string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.TriggerType = models.TriggerTypeWebhook
		w.TriggerConfig = map[string]any{"secret": secret}
	}
}

// WithExecutionCount sets the run counter.
func WithExecutionCount(count int) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.ExecutionCount = count
	}
}
