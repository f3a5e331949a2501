// Package egress performs outbound JSON HTTP calls for steps, notifiers and agent tools.
package egress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/flowpilot/pkg/protocol"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

// ErrRequestFailed is returned when no HTTP response was received.
var ErrRequestFailed = errors.New("http request failed")

// Client sends JSON requests. Any HTTP status is a normal return; only transport failures are errors.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client with the default timeout.
func NewClient(logger *slog.Logger) *Client {
	return NewClientWithHTTP(&http.Client{Timeout: defaultTimeout}, logger)
}

func NewClientWithHTTP(httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger.With("module", "egress"),
	}
}

// Do sends body encoded as JSON (when not nil) and decodes a JSON response body when possible.
func (c *Client) Do(ctx context.Context, method, url string, headers map[string]string, body any) (*protocol.HTTPResponse, error) {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}

	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}

	defer func() {
		err := response.Body.Close()
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %w", ErrRequestFailed, err)
	}

	c.logger.DebugContext(ctx, "outbound request completed", "method", request.Method, "url", url, "status", response.StatusCode)

	return &protocol.HTTPResponse{
		Status: response.StatusCode,
		OK:     response.StatusCode >= 200 && response.StatusCode < 300,
		Body:   decodeBody(raw),
	}, nil
}

// PostJSON is Do with POST.
func (c *Client) PostJSON(ctx context.Context, url string, body any) (*protocol.HTTPResponse, error) {
	return c.Do(ctx, http.MethodPost, url, nil, body)
}

func decodeBody(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var decoded any

	err := json.Unmarshal(raw, &decoded)
	if err != nil {
		return string(raw)
	}

	return decoded
}
