// Package webhook provides the webhook step, which POSTs the trigger payload to a URL.
package webhook

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/dukex/flowpilot/pkg/steps"
	"github.com/dukex/flowpilot/pkg/template"
)

// Poster is the egress call the webhook step needs.
type Poster interface {
	PostJSON(ctx context.Context, url string, body any) (*protocol.HTTPResponse, error)
}

type Config struct {
	URL string `json:"url"`
}

// Handler returns {status, ok}; a non-2xx status is a successful step.
type Handler struct {
	config Config
	client Poster
}

func (h *Handler) Execute(ctx context.Context, stepCtx protocol.StepContext) (any, error) {
	target := template.ResolveString(h.config.URL, stepCtx.Data)

	payload := stepCtx.Trigger.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	response, err := h.client.PostJSON(ctx, target, payload)
	if err != nil {
		return nil, fmt.Errorf("webhook delivery failed: %w", err)
	}

	stepCtx.Logger.InfoContext(ctx, "Webhook delivered", "status", response.Status)

	return map[string]any{
		"status": response.Status,
		"ok":     response.OK,
	}, nil
}

type Factory struct {
	client Poster
}

func NewFactory(client Poster) *Factory {
	return &Factory{client: client}
}

func (f *Factory) Create(config map[string]any) (protocol.StepHandler, error) {
	var cfg Config

	err := steps.Decode(string(models.ActionWebhook), config, &cfg)
	if err != nil {
		return nil, err
	}

	if cfg.URL == "" {
		return nil, steps.MissingField(string(models.ActionWebhook), "url")
	}

	// Templated URLs are only checked after resolution.
	if !strings.Contains(cfg.URL, "{{") {
		parsed, err := url.Parse(cfg.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, steps.NewConfigError(string(models.ActionWebhook), "url", "must be an absolute URL")
		}
	}

	return &Handler{config: cfg, client: f.client}, nil
}

func (f *Factory) ID() string {
	return string(models.ActionWebhook)
}

func (f *Factory) Name() string {
	return "Webhook"
}

func (f *Factory) Description() string {
	return "POSTs the trigger payload as JSON to a URL and records the response status"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":     "string",
				"examples": []string{"https://hooks.example.com/orders"},
			},
		},
		"required": []string{"url"},
	}
}
