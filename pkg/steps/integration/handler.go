// Package integration provides the integration_action step and the built-in integrations it dispatches to.
package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/dukex/flowpilot/pkg/steps"
	"github.com/dukex/flowpilot/pkg/template"
)

// ErrIntegrationRejected is returned when an integration answers with a failure status.
var ErrIntegrationRejected = errors.New("integration rejected the request")

// Requester is the egress call integrations need.
type Requester interface {
	Do(ctx context.Context, method, url string, headers map[string]string, body any) (*protocol.HTTPResponse, error)
}

// Integration performs one action against an external system.
type Integration interface {
	Invoke(ctx context.Context, action string, params map[string]any) (any, error)
}

// Config selects the integration and carries its parameters.
type Config struct {
	IntegrationType string         `json:"integration_type"`
	Action          string         `json:"action"`
	Params          map[string]any `json:"params"`
}

type Handler struct {
	config      Config
	integration Integration
}

func (h *Handler) Execute(ctx context.Context, stepCtx protocol.StepContext) (any, error) {
	params := template.ResolveMap(h.config.Params, stepCtx.Data)
	if params == nil {
		params = map[string]any{}
	}

	stepCtx.Logger.InfoContext(ctx, "Invoking integration", "integration_type", h.config.IntegrationType, "action", h.config.Action)

	result, err := h.integration.Invoke(ctx, h.config.Action, params)
	if err != nil {
		return nil, fmt.Errorf("integration %s failed: %w", h.config.IntegrationType, err)
	}

	return result, nil
}

// Factory resolves integration_type against the registered integrations.
type Factory struct {
	integrations map[string]Integration
}

// NewFactory registers the built-in http and slack integrations.
func NewFactory(client Requester) *Factory {
	return &Factory{
		integrations: map[string]Integration{
			"http":  &HTTP{client: client},
			"slack": &Slack{client: client},
		},
	}
}

// Register adds or replaces an integration.
func (f *Factory) Register(integrationType string, integration Integration) {
	f.integrations[integrationType] = integration
}

func (f *Factory) Create(config map[string]any) (protocol.StepHandler, error) {
	var cfg Config

	err := steps.Decode(string(models.ActionIntegrationAction), config, &cfg)
	if err != nil {
		return nil, err
	}

	if cfg.IntegrationType == "" {
		return nil, steps.MissingField(string(models.ActionIntegrationAction), "integration_type")
	}

	integration, ok := f.integrations[cfg.IntegrationType]
	if !ok {
		return nil, steps.NewConfigError(string(models.ActionIntegrationAction), "integration_type",
			fmt.Sprintf("unknown integration %q", cfg.IntegrationType))
	}

	return &Handler{config: cfg, integration: integration}, nil
}

func (f *Factory) ID() string {
	return string(models.ActionIntegrationAction)
}

func (f *Factory) Name() string {
	return "Integration Action"
}

func (f *Factory) Description() string {
	return "Runs an action against a registered integration"
}

func (f *Factory) Schema() map[string]any {
	types := make([]string, 0, len(f.integrations))
	for integrationType := range f.integrations {
		types = append(types, integrationType)
	}

	slices.Sort(types)

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"integration_type": map[string]any{"type": "string", "enum": types},
			"action":           map[string]any{"type": "string"},
			"params":           map[string]any{"type": "object"},
		},
		"required": []string{"integration_type"},
	}
}

// HTTP calls an arbitrary endpoint: params {method, url, headers, body}.
type HTTP struct {
	client Requester
}

func (i *HTTP) Invoke(ctx context.Context, _ string, params map[string]any) (any, error) {
	url, _ := params["url"].(string)
	if url == "" {
		return nil, steps.MissingField("integration_action.http", "params.url")
	}

	method, _ := params["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	headers := make(map[string]string)

	if raw, ok := params["headers"].(map[string]any); ok {
		for key, value := range raw {
			headers[key] = fmt.Sprint(value)
		}
	}

	response, err := i.client.Do(ctx, strings.ToUpper(method), url, headers, params["body"])
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"status": response.Status,
		"ok":     response.OK,
		"body":   response.Body,
	}, nil
}

// Slack posts to an incoming webhook: params {webhook_url, text, channel}.
type Slack struct {
	client Requester
}

func (i *Slack) Invoke(ctx context.Context, _ string, params map[string]any) (any, error) {
	webhookURL, _ := params["webhook_url"].(string)
	if webhookURL == "" {
		return nil, steps.MissingField("integration_action.slack", "params.webhook_url")
	}

	text, _ := params["text"].(string)

	payload := map[string]any{"text": text}
	if channel, ok := params["channel"].(string); ok && channel != "" {
		payload["channel"] = channel
	}

	response, err := i.client.Do(ctx, http.MethodPost, webhookURL, nil, payload)
	if err != nil {
		return nil, err
	}

	if !response.OK {
		return nil, fmt.Errorf("%w: slack returned status %d", ErrIntegrationRejected, response.Status)
	}

	return map[string]any{"sent": true}, nil
}
