// Package models defines the core domain models for workflow and agent automation.
package models

import "time"

// TriggerType identifies what fires a workflow.
type TriggerType string

const (
	TriggerTypeManual           TriggerType = "manual"
	TriggerTypeWebhook          TriggerType = "webhook"
	TriggerTypeSchedule         TriggerType = "schedule"
	TriggerTypeEntityEvent      TriggerType = "entity_event"
	TriggerTypeCopilotQuery     TriggerType = "copilot_query"
	TriggerTypeIntegrationEvent TriggerType = "integration_event"
)

// TriggerTypes lists every supported trigger type.
var TriggerTypes = []TriggerType{
	TriggerTypeManual,
	TriggerTypeWebhook,
	TriggerTypeSchedule,
	TriggerTypeEntityEvent,
	TriggerTypeCopilotQuery,
	TriggerTypeIntegrationEvent,
}

// Workflow is an org-scoped, ordered list of steps fired by a trigger.
type Workflow struct {
	ID             string         `json:"id"`
	OrgID          string         `json:"org_id"                  validate:"required"`
	Name           string         `json:"name"                    validate:"required,min=3"`
	Description    string         `json:"description,omitempty"`
	TriggerType    TriggerType    `json:"trigger_type"            validate:"required,oneof=manual webhook schedule entity_event copilot_query integration_event"`
	TriggerConfig  map[string]any `json:"trigger_config,omitempty"`
	Steps          []Step         `json:"steps"                   validate:"dive"`
	IsActive       bool           `json:"is_active"`
	ExecutionCount int            `json:"execution_count"`
	LastExecuted   *time.Time     `json:"last_executed,omitempty"`
	CreatedBy      string         `json:"created_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// StepIndex returns the position of the step with the given id, or -1.
func (w *Workflow) StepIndex(stepID string) int {
	for i := range w.Steps {
		if w.Steps[i].ID == stepID {
			return i
		}
	}

	return -1
}
