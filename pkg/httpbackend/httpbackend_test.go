package httpbackend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentic-observability/aef/pkg/backend"
	"github.com/agentic-observability/aef/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrConfiguration)
}

func TestEmptyBatchIsNoop(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	b, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, b.Write(context.Background(), nil))
	assert.False(t, called)
}

func TestSingleEventUsesEventsEndpoint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	b, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	e := events.New(events.TypeSessionStarted, "s1", nil)
	require.NoError(t, b.Write(context.Background(), []events.Event{e}))
	assert.Equal(t, "/events", gotPath)
}

func TestBatchUsesBatchEndpoint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	b, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	batch := []events.Event{
		events.New(events.TypeSessionStarted, "s1", nil),
		events.New(events.TypeSessionEnded, "s1", nil),
	}
	require.NoError(t, b.Write(context.Background(), batch))
	assert.Equal(t, "/events/batch", gotPath)
}

// TestRetriesOnServerErrorThenSucceeds is S4 from spec §8: mock returns
// 500, 500, 202 — expect exactly 3 requests and no propagated error.
func TestRetriesOnServerErrorThenSucceeds(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	b, err := New(Config{BaseURL: srv.URL, MaxRetries: 3, BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond})
	require.NoError(t, err)
	e := events.New(events.TypeSessionStarted, "s1", nil)
	require.NoError(t, b.Write(context.Background(), []events.Event{e}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
}

// TestTerminalOn400 is S5: mock returns 400 — expect exactly 1 request and
// a terminal error.
func TestTerminalOn400(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	b, err := New(Config{BaseURL: srv.URL, MaxRetries: 3, BackoffBase: time.Millisecond})
	require.NoError(t, err)
	e := events.New(events.TypeSessionStarted, "s1", nil)
	writeErr := b.Write(context.Background(), []events.Event{e})
	require.Error(t, writeErr)
	assert.False(t, backend.IsTransient(writeErr))
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestRetryExhaustionPropagatesTransientError(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b, err := New(Config{BaseURL: srv.URL, MaxRetries: 2, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond})
	require.NoError(t, err)
	e := events.New(events.TypeSessionStarted, "s1", nil)
	writeErr := b.Write(context.Background(), []events.Event{e})
	require.Error(t, writeErr)
	assert.True(t, backend.IsTransient(writeErr))
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests)) // initial + 2 retries
}
