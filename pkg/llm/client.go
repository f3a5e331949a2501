// Package llm implements the text-generation collaborator against an OpenAI-compatible
// chat completions endpoint.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrProviderRejected = errors.New("llm provider rejected the request")
	ErrEmptyResponse    = errors.New("llm returned no content")
	ErrInvalidOutput    = errors.New("llm output does not match the requested schema")
)

// Requester is the egress call used to reach the provider.
type Requester interface {
	Do(ctx context.Context, method, url string, headers map[string]string, body any) (*protocol.HTTPResponse, error)
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	// SearchModel serves requests that ask for internet context. Defaults to Model.
	SearchModel string
}

type Client struct {
	config    Config
	requester Requester
	logger    *slog.Logger
}

func NewClient(logger *slog.Logger, requester Requester, config Config) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.SearchModel == "" {
		config.SearchModel = config.Model
	}

	return &Client{
		config:    config,
		requester: requester,
		logger:    logger.With("module", "llm"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate returns the completion text, or the decoded and validated JSON value when
// the request carries a schema.
func (c *Client) Generate(ctx context.Context, request protocol.GenerateRequest) (any, error) {
	payload := chatRequest{
		Model:    c.config.Model,
		Messages: []chatMessage{{Role: "user", Content: request.Prompt}},
	}

	if request.AddContextFromInternet {
		payload.Model = c.config.SearchModel
	}

	if request.Schema != nil {
		payload.ResponseFormat = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "response",
				"schema": request.Schema,
			},
		}
		payload.Messages = append([]chatMessage{{
			Role:    "system",
			Content: "Respond only with a JSON object that matches the provided schema.",
		}}, payload.Messages...)
	}

	headers := map[string]string{}
	if c.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.config.APIKey
	}

	response, err := c.requester.Do(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", headers, payload)
	if err != nil {
		return nil, err
	}

	if !response.OK {
		return nil, fmt.Errorf("%w: status %d", ErrProviderRejected, response.Status)
	}

	content, err := firstContent(response.Body)
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "completion received", "model", payload.Model, "structured", request.Schema != nil)

	if request.Schema == nil {
		return content, nil
	}

	return decodeStructured(content, request.Schema)
}

func firstContent(body any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to read completion: %w", err)
	}

	var completion chatResponse

	err = json.Unmarshal(raw, &completion)
	if err != nil {
		return "", fmt.Errorf("failed to decode completion: %w", err)
	}

	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}

	return completion.Choices[0].Message.Content, nil
}

// decodeStructured parses the completion as JSON, tolerating markdown code fences.
func decodeStructured(content string, schema map[string]any) (any, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var value any

	err := json.Unmarshal([]byte(strings.TrimSpace(content)), &value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(value))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}

	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrInvalidOutput, strings.Join(reasons, "; "))
	}

	return value, nil
}
