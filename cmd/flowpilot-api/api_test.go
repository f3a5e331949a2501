package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/flowpilot/pkg/cmd"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	stack, err := cmd.NewStack(context.Background(), slog.Default(), cmd.Config{
		ServiceName: "flowpilot-api-test",
		DatabaseURL: "file://" + t.TempDir(),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = stack.Close(context.Background())
	})

	return NewAPI(slog.Default(), stack).App()
}

func get(t *testing.T, app *fiber.App, path string, headers map[string]string) (int, string) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	status, body := get(t, setupTestApp(t), "/", nil)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Flowpilot API", body)
}

func TestAPI_Liveness(t *testing.T) {
	status, body := get(t, setupTestApp(t), "/livez", nil)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)
}

func TestAPI_RoutesAreMounted(t *testing.T) {
	app := setupTestApp(t)

	status, _ := get(t, app, "/health", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = get(t, app, "/workflows", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := get(t, app, "/workflows", map[string]string{"X-User-Email": "ana@example.com", "X-Org-ID": "org-1"})
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"workflows":[],"total_count":0}`, body)
}
