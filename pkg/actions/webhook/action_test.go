package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadwell/drip/pkg/protocol"
)

func sampleRequest() protocol.ActionRequest {
	return protocol.ActionRequest{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		EntityID:    "lead-42",
		StepIndex:   2,
		Context: map[string]any{
			"trigger": map[string]any{"form": "signup"},
		},
	}
}

func TestWebhookPostsDefaultEnvelope(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	action, err := NewAction(map[string]any{"url": server.URL})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), sampleRequest(), slog.Default())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, output["status_code"])
	assert.Equal(t, map[string]any{"ok": true}, output["body"])
	assert.Equal(t, "lead-42", received["entity_id"])
	assert.Equal(t, map[string]any{"form": "signup"}, received["trigger"])
}

func TestWebhookCustomHeadersAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token-1", r.Header.Get("X-Api-Key"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"lead":"lead-42"}`, string(body))

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	action, err := NewAction(map[string]any{
		"url":     server.URL,
		"headers": map[string]any{"X-Api-Key": "token-1"},
		"body":    `{"lead":"{{.entity_id}}"}`,
	})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), sampleRequest(), slog.Default())
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, output["status_code"])
}

func TestWebhookServerErrorIsRetriable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	action, err := NewAction(map[string]any{"url": server.URL})
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), sampleRequest(), slog.Default())
	require.Error(t, err)
	assert.True(t, protocol.IsRetriable(err))
}

func TestWebhookClientErrorIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	action, err := NewAction(map[string]any{"url": server.URL})
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), sampleRequest(), slog.Default())
	require.Error(t, err)
	assert.False(t, protocol.IsRetriable(err))
}

func TestWebhookConnectionFailureIsRetriable(t *testing.T) {
	action, err := NewAction(map[string]any{"url": "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), sampleRequest(), slog.Default())
	require.Error(t, err)
	assert.True(t, protocol.IsRetriable(err))
}

func TestWebhookMissingURL(t *testing.T) {
	_, err := NewAction(map[string]any{})
	assert.ErrorIs(t, err, ErrURLRequired)
}
