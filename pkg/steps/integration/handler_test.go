package integration

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/flowpilot/pkg/egress"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/dukex/flowpilot/pkg/steps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPIntegration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "abc", r.Header.Get("X-Token"))
		_, _ = w.Write([]byte(`{"updated":1}`))
	}))
	defer server.Close()

	handler, err := NewFactory(egress.NewClient(slog.Default())).Create(map[string]any{
		"integration_type": "http",
		"params": map[string]any{
			"method":  "put",
			"url":     server.URL,
			"headers": map[string]any{"X-Token": "{{trigger.token}}"},
			"body":    map[string]any{"id": "{{trigger.id}}"},
		},
	})
	require.NoError(t, err)

	result, err := handler.Execute(context.Background(), protocol.StepContext{
		Data:   map[string]any{"trigger": map[string]any{"token": "abc", "id": 7.0}},
		Logger: slog.Default(),
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"status": 200, "ok": true, "body": map[string]any{"updated": 1.0}}, result)
}

func TestSlackIntegration(t *testing.T) {
	var payload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	handler, err := NewFactory(egress.NewClient(slog.Default())).Create(map[string]any{
		"integration_type": "slack",
		"params":           map[string]any{"webhook_url": server.URL, "text": "Deal {{trigger.deal}} won", "channel": "#sales"},
	})
	require.NoError(t, err)

	result, err := handler.Execute(context.Background(), protocol.StepContext{
		Data:   map[string]any{"trigger": map[string]any{"deal": "ACME"}},
		Logger: slog.Default(),
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"sent": true}, result)
	assert.Equal(t, map[string]any{"text": "Deal ACME won", "channel": "#sales"}, payload)
}

func TestSlackIntegration_RejectedIsAFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	handler, err := NewFactory(egress.NewClient(slog.Default())).Create(map[string]any{
		"integration_type": "slack",
		"params":           map[string]any{"webhook_url": server.URL, "text": "hi"},
	})
	require.NoError(t, err)

	_, err = handler.Execute(context.Background(), protocol.StepContext{Data: map[string]any{}, Logger: slog.Default()})
	require.ErrorIs(t, err, ErrIntegrationRejected)
}

func TestFactory_UnknownIntegrationIsConfigError(t *testing.T) {
	_, err := NewFactory(egress.NewClient(slog.Default())).Create(map[string]any{"integration_type": "salesforce"})

	require.Error(t, err)
	assert.True(t, steps.IsConfigError(err))
}

func TestHTTPIntegration_MissingURLIsConfigError(t *testing.T) {
	handler, err := NewFactory(egress.NewClient(slog.Default())).Create(map[string]any{"integration_type": "http"})
	require.NoError(t, err)

	_, err = handler.Execute(context.Background(), protocol.StepContext{Data: map[string]any{}, Logger: slog.Default()})
	require.Error(t, err)
	assert.True(t, steps.IsConfigError(err))
}
