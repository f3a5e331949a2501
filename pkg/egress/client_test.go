package egress

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_PostJSON_SendsBodyAndDecodesResponse(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer server.Close()

	client := NewClient(slog.Default())

	response, err := client.PostJSON(context.Background(), server.URL, map[string]any{"order": "A-1"})
	require.NoError(t, err)

	assert.Equal(t, 200, response.Status)
	assert.True(t, response.OK)
	assert.Equal(t, map[string]any{"accepted": true}, response.Body)
	assert.Equal(t, map[string]any{"order": "A-1"}, received)
}

func TestClient_Non2xxIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	client := NewClient(slog.Default())

	response, err := client.PostJSON(context.Background(), server.URL, nil)
	require.NoError(t, err)

	assert.Equal(t, 500, response.Status)
	assert.False(t, response.OK)
	assert.Equal(t, "boom", response.Body)
}

func TestClient_NetworkFailureIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(slog.Default())

	_, err := client.PostJSON(context.Background(), url, map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestClient_Do_SetsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(slog.Default())

	response, err := client.Do(context.Background(), "get", server.URL, map[string]string{"Authorization": "Bearer token"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 204, response.Status)
	assert.Nil(t, response.Body)
}
