// Package notification provides the send_notification and send_email step handlers.
package notification

import (
	"context"
	"fmt"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/dukex/flowpilot/pkg/steps"
	"github.com/dukex/flowpilot/pkg/template"
)

// Config is the step configuration; every string field supports {{path}} placeholders.
type Config struct {
	Recipient string `json:"recipient"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
	Body      string `json:"body"`
	Channel   string `json:"channel"`
}

// Handler delivers one notification through the notifier.
type Handler struct {
	action   models.StepAction
	config   Config
	notifier protocol.Notifier
}

func (h *Handler) Execute(ctx context.Context, stepCtx protocol.StepContext) (any, error) {
	notification := protocol.Notification{
		Channel:   h.config.Channel,
		Recipient: template.ResolveString(h.config.Recipient, stepCtx.Data),
		Subject:   template.ResolveString(h.config.Subject, stepCtx.Data),
		Message:   template.ResolveString(h.config.Message, stepCtx.Data),
		OrgID:     stepCtx.OrgID,
		Metadata: map[string]any{
			"workflow_id":  stepCtx.WorkflowID,
			"execution_id": stepCtx.ExecutionID,
			"step_id":      stepCtx.Step.ID,
		},
	}

	stepCtx.Logger.InfoContext(ctx, "Sending notification", "channel", notification.Channel, "recipient", notification.Recipient)

	err := h.notifier.Notify(ctx, notification)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", h.action, err)
	}

	return map[string]any{"sent": true}, nil
}

// Factory creates notification handlers for one action.
type Factory struct {
	action   models.StepAction
	notifier protocol.Notifier
}

// NewNotificationFactory serves send_notification.
func NewNotificationFactory(notifier protocol.Notifier) *Factory {
	return &Factory{action: models.ActionSendNotification, notifier: notifier}
}

// NewEmailFactory serves send_email.
func NewEmailFactory(notifier protocol.Notifier) *Factory {
	return &Factory{action: models.ActionSendEmail, notifier: notifier}
}

func (f *Factory) Create(config map[string]any) (protocol.StepHandler, error) {
	var cfg Config

	err := steps.Decode(string(f.action), config, &cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Recipient == "" {
		cfg.Recipient = cfg.To
	}

	if cfg.Message == "" {
		cfg.Message = cfg.Body
	}

	if cfg.Recipient == "" {
		return nil, steps.MissingField(string(f.action), "recipient")
	}

	if cfg.Channel == "" {
		cfg.Channel = "in_app"
		if f.action == models.ActionSendEmail {
			cfg.Channel = "email"
		}
	}

	return &Handler{action: f.action, config: cfg, notifier: f.notifier}, nil
}

func (f *Factory) ID() string {
	return string(f.action)
}

func (f *Factory) Name() string {
	if f.action == models.ActionSendEmail {
		return "Send Email"
	}

	return "Send Notification"
}

func (f *Factory) Description() string {
	return "Delivers a message to a recipient through the configured notifier"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"recipient": map[string]any{
				"type":        "string",
				"description": "Who receives the message. Alias: to.",
				"examples":    []string{"ops@example.com", "{{trigger.customer.email}}"},
			},
			"subject": map[string]any{"type": "string"},
			"message": map[string]any{
				"type":        "string",
				"description": "Message text. Alias: body.",
			},
			"channel": map[string]any{
				"type":        "string",
				"description": "Delivery channel hint for the notifier",
				"examples":    []string{"email", "slack", "in_app"},
			},
		},
	}
}
