// Package web provides HTTP request and response types for the workflow and agent API.
package web

import "github.com/dukex/flowpilot/pkg/models"

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	OrgID         string             `json:"org_id"`
	Name          string             `json:"name"           validate:"required,min=3"`
	Description   string             `json:"description"`
	TriggerType   models.TriggerType `json:"trigger_type"   validate:"required"`
	TriggerConfig map[string]any     `json:"trigger_config"`
	Steps         []models.Step      `json:"steps"`
	IsActive      *bool              `json:"is_active"`
}

// UpdateWorkflowRequest represents the request body for updating an existing workflow.
// All fields are optional to support partial updates.
type UpdateWorkflowRequest struct {
	Name          *string             `json:"name,omitempty"           validate:"omitempty,min=3"`
	Description   *string             `json:"description,omitempty"`
	TriggerType   *models.TriggerType `json:"trigger_type,omitempty"`
	TriggerConfig map[string]any      `json:"trigger_config,omitempty"`
	Steps         []models.Step       `json:"steps,omitempty"`
	IsActive      *bool               `json:"is_active,omitempty"`
}

// ExecuteWorkflowRequest starts a manual execution.
type ExecuteWorkflowRequest struct {
	WorkflowID     string         `json:"workflow_id"                validate:"required"`
	TriggerData    map[string]any `json:"trigger_data"`
	ResumeFromStep string         `json:"resume_from_step,omitempty"`
}

// CreateAgentRequest represents the request body for creating an agent.
type CreateAgentRequest struct {
	OrgID          string                `json:"org_id"`
	Name           string                `json:"name"            validate:"required"`
	Persona        models.Persona        `json:"persona"`
	Capabilities   []models.Capability   `json:"capabilities"`
	LearningConfig models.LearningConfig `json:"learning_config"`
}

// ExecuteAgentRequest asks an agent to carry out a task.
type ExecuteAgentRequest struct {
	Task  string `json:"task"   validate:"required"`
	OrgID string `json:"org_id"`
}

// FeedbackRequest is a user's verdict on an agent execution.
type FeedbackRequest struct {
	Rating      int                 `json:"rating"      validate:"required,min=1,max=5"`
	Helpful     bool                `json:"helpful"`
	Comment     string              `json:"comment"`
	Corrections []models.Correction `json:"corrections"`
}
