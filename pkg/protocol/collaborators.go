package protocol

import (
	"context"

	"github.com/dukex/flowpilot/pkg/models"
)

// Notification is a message for a recipient through a channel.
type Notification struct {
	Channel   string         `json:"channel"`
	Recipient string         `json:"recipient"`
	Subject   string         `json:"subject,omitempty"`
	Message   string         `json:"message"`
	OrgID     string         `json:"org_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Notifier delivers notifications. An error means the delivery failed.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// GenerateRequest is a single text-generation call.
type GenerateRequest struct {
	Prompt string

	// Schema, when set, asks for a JSON object conforming to it.
	Schema map[string]any

	AddContextFromInternet bool
}

// TextGenerator returns a string, or a decoded JSON value when a schema was supplied.
type TextGenerator interface {
	Generate(ctx context.Context, request GenerateRequest) (any, error)
}

// SubWorkflowRequest asks for a child execution of another workflow.
type SubWorkflowRequest struct {
	WorkflowID        string
	OrgID             string
	ParentExecutionID string
	TriggerData       models.TriggerData
}

// SubWorkflowRunner runs a child workflow to completion and returns its execution.
type SubWorkflowRunner interface {
	RunSubWorkflow(ctx context.Context, request SubWorkflowRequest) (*models.WorkflowExecution, error)
}

// EntityStore is the org-scoped record store used by entity steps and agent tools.
type EntityStore interface {
	CreateEntity(ctx context.Context, orgID, entityName string, data map[string]any, createdBy string) (*models.Entity, error)
	UpdateEntity(ctx context.Context, orgID, entityID string, data map[string]any) (*models.Entity, error)
}

// HTTPResponse is the outcome of an outbound request; non-2xx statuses are not errors.
type HTTPResponse struct {
	Status int  `json:"status"`
	OK     bool `json:"ok"`
	Body   any  `json:"body,omitempty"`
}
