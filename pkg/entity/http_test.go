package entity_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadwell/drip/pkg/entity"
	"github.com/leadwell/drip/pkg/models"
)

func newEntityServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/schema", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]string{"score": "number", "status": "string"})
	})
	mux.HandleFunc("/entities", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, []string{"lead-1", "lead-2"})
	})
	mux.HandleFunc("/entities/lead-1/snapshot", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"score": 85, "status": "customer"})
	})
	mux.HandleFunc("/entities/lead-missing/snapshot", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func newClient(t *testing.T) *entity.HTTPClient {
	t.Helper()

	server := newEntityServer(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	client, err := entity.NewHTTPClient(context.Background(), server.URL, logger)
	require.NoError(t, err)

	return client
}

func TestHTTPClientLoadsSchema(t *testing.T) {
	client := newClient(t)

	schema := client.Fields()
	assert.Equal(t, models.FieldTypeNumber, schema["score"])
	assert.Equal(t, models.FieldTypeString, schema["status"])
}

func TestHTTPClientSnapshot(t *testing.T) {
	client := newClient(t)

	snapshot, err := client.Snapshot(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, float64(85), snapshot["score"])
	assert.Equal(t, "customer", snapshot["status"])
}

func TestHTTPClientSnapshotErrorStatus(t *testing.T) {
	client := newClient(t)

	_, err := client.Snapshot(context.Background(), "lead-missing")
	assert.ErrorContains(t, err, "status 404")
}

func TestHTTPClientEntityIDs(t *testing.T) {
	client := newClient(t)

	ids, err := client.EntityIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"lead-1", "lead-2"}, ids)
}

func TestHTTPClientUnreachableService(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	_, err := entity.NewHTTPClient(context.Background(), "http://127.0.0.1:1", logger)
	assert.Error(t, err)
}
