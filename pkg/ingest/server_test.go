package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-observability/aef/pkg/backend"
	"github.com/agentic-observability/aef/pkg/events"
)

func newTestBackend(t *testing.T) *backend.NullBackend {
	t.Helper()
	require.NoError(t, os.Setenv(backend.TestEnvironmentVar, "test"))
	b, err := backend.NewNullBackend()
	require.NoError(t, err)
	return b
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, "application/json")
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	switch {
	case method == http.MethodGet && path == "/health":
		require.NoError(t, s.healthHandler(c))
	case path == "/events":
		require.NoError(t, s.singleEventHandler(c))
	case path == "/events/batch":
		require.NoError(t, s.batchEventHandler(c))
	default:
		t.Fatalf("unhandled test route %s %s", method, path)
	}
	return rec
}

func TestHealthReflectsBackend(t *testing.T) {
	s, err := NewServer(newTestBackend(t))
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.BackendOK)
}

func TestSingleEventAccepted(t *testing.T) {
	s, err := NewServer(newTestBackend(t))
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodPost, "/events", map[string]any{
		"event_type": "notification",
		"session_id": "s1",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp singleEventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.EventID)
}

func TestSingleEventMissingSessionIDRejected(t *testing.T) {
	s, err := NewServer(newTestBackend(t))
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodPost, "/events", map[string]any{
		"event_type": "notification",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchEventAccepted(t *testing.T) {
	s, err := NewServer(newTestBackend(t))
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodPost, "/events/batch", []map[string]any{
		{"event_type": "notification", "session_id": "s1"},
		{"event_type": "notification", "session_id": "s1"},
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp batchEventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.EventIDs, 2)
}

func TestBatchEventRejectsEmptyArray(t *testing.T) {
	s, err := NewServer(newTestBackend(t))
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodPost, "/events/batch", []map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToolNameEnrichmentBackfillsFromStartedEvent(t *testing.T) {
	s, err := NewServer(newTestBackend(t))
	require.NoError(t, err)
	nb := s.backend.(*backend.NullBackend)

	rec := doRequest(t, s, http.MethodPost, "/events", map[string]any{
		"event_type":  "tool.execution_started",
		"session_id":  "s1",
		"tool_use_id": "tu1",
		"data":        map[string]any{"tool_name": "Read"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/events", map[string]any{
		"event_type":  "tool.execution_completed",
		"session_id":  "s1",
		"tool_use_id": "tu1",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	accepted := nb.Accepted()
	require.Len(t, accepted, 2)
	completed := accepted[1]
	assert.Equal(t, events.TypeToolExecutionCompleted, completed.EventType)
	require.NotNil(t, completed.Data)
	assert.Equal(t, "Read", completed.Data["tool_name"])
}

func TestSessionEndEvictsToolNameCache(t *testing.T) {
	s, err := NewServer(newTestBackend(t))
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodPost, "/events", map[string]any{
		"event_type":  "tool.execution_started",
		"session_id":  "s1",
		"tool_use_id": "tu1",
		"data":        map[string]any{"tool_name": "Read"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	_, ok := s.cache.get("s1:tu1")
	require.True(t, ok)

	rec = doRequest(t, s, http.MethodPost, "/events", map[string]any{
		"event_type": "session.ended",
		"session_id": "s1",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	_, ok = s.cache.get("s1:tu1")
	assert.False(t, ok)
}

func TestNewServerRequiresBackend(t *testing.T) {
	_, err := NewServer(nil)
	require.Error(t, err)
}

func TestShutdownBeforeStartIsNoop(t *testing.T) {
	s, err := NewServer(newTestBackend(t))
	require.NoError(t, err)
	assert.NoError(t, s.Shutdown(context.Background()))
}
