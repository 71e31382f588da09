// Package ingest implements the ingestion endpoint (C10): an HTTP surface
// that accepts events over /events and /events/batch and hands them to a
// configured Backend, plus tool-use-id enrichment of incoming tool events.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/agentic-observability/aef/pkg/backend"
	"github.com/agentic-observability/aef/pkg/events"
)

// maxBodyBytes caps a single request body. A batch of events is small JSON;
// 2 MB comfortably covers realistic batch sizes while rejecting runaway
// payloads before they reach json.Unmarshal.
const maxBodyBytes = 2 * 1024 * 1024

// Server is the ingestion HTTP surface.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	backend    backend.Backend
	cache      *toolNameCache
}

// NewServer wires a Server around backend b. b must already be set; unlike
// the teacher's multi-service wiring, ingest has exactly one required
// dependency and so has no ValidateWiring step.
func NewServer(b backend.Backend) (*Server, error) {
	if b == nil {
		return nil, errors.New("ingest: backend must not be nil")
	}
	s := &Server{
		echo:    echo.New(),
		backend: b,
		cache:   newToolNameCache(0),
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes registers every route.
func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(maxBodyBytes))

	s.echo.GET("/health", s.healthHandler)
	s.echo.POST("/events", s.singleEventHandler)
	s.echo.POST("/events/batch", s.batchEventHandler)
}

// Start serves on addr and blocks the calling goroutine until Shutdown or a
// listener failure (ListenAndServe); run it in its own goroutine.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used
// by tests that need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status     string `json:"status"`
	BackendOK  bool   `json:"backend_ok"`
}

func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	ok := s.backend.HealthCheck(reqCtx)
	status := "healthy"
	if !ok {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, &healthResponse{Status: status, BackendOK: ok})
}

type singleEventResponse struct {
	EventID string `json:"event_id"`
}

// singleEventHandler handles POST /events: a single event object, validated,
// enriched, assigned an event_id if absent, and persisted as a one-element
// batch.
func (s *Server) singleEventHandler(c *echo.Context) error {
	var raw map[string]any
	if err := c.Bind(&raw); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(fmt.Errorf("malformed event: %w", err)))
	}

	e, err := s.prepare(raw)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(err))
	}

	if err := s.backend.Write(c.Request().Context(), []events.Event{e}); err != nil {
		slog.Error("ingest: persist single event failed", "event_id", e.EventID, "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse(errors.New("storage failure")))
	}

	return c.JSON(http.StatusAccepted, &singleEventResponse{EventID: e.EventID})
}

type batchEventResponse struct {
	Count    int      `json:"count"`
	EventIDs []string `json:"event_ids"`
}

// batchEventHandler handles POST /events/batch: a JSON array of events, each
// validated and enriched independently, persisted as a single batch write.
func (s *Server) batchEventHandler(c *echo.Context) error {
	var raw []map[string]any
	if err := c.Bind(&raw); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(fmt.Errorf("malformed batch: %w", err)))
	}
	if len(raw) == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse(errors.New("batch must not be empty")))
	}

	batch := make([]events.Event, 0, len(raw))
	ids := make([]string, 0, len(raw))
	for i, m := range raw {
		e, err := s.prepare(m)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse(fmt.Errorf("event %d: %w", i, err)))
		}
		batch = append(batch, e)
		ids = append(ids, e.EventID)
	}

	if err := s.backend.Write(c.Request().Context(), batch); err != nil {
		slog.Error("ingest: persist batch failed", "count", len(batch), "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse(errors.New("storage failure")))
	}

	return c.JSON(http.StatusAccepted, &batchEventResponse{Count: len(batch), EventIDs: ids})
}

// prepare converts a raw JSON object into a validated Event, backfilling the
// tool_name field from the enrichment cache when a tool.execution_completed/
// tool.execution_failed event arrives without one, and populating the cache
// from tool.execution_started events.
func (s *Server) prepare(raw map[string]any) (events.Event, error) {
	e, err := events.FromMap(raw)
	if err != nil {
		return events.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return events.Event{}, err
	}

	s.enrich(&e)
	return e, nil
}

func (s *Server) enrich(e *events.Event) {
	switch e.EventType {
	case events.TypeSessionEnded, events.TypeSessionCompleted:
		s.cache.evictSession(e.SessionID)
		return
	}

	if e.ToolUseID == "" {
		return
	}
	key := e.SessionID + ":" + e.ToolUseID

	switch e.EventType {
	case events.TypeToolExecutionStarted:
		if name, ok := stringFromData(e.Data, "tool_name"); ok {
			s.cache.put(key, name)
		}
	case events.TypeToolExecutionCompleted, events.TypeToolExecutionFailed:
		if _, ok := stringFromData(e.Data, "tool_name"); ok {
			return
		}
		if name, ok := s.cache.get(key); ok {
			if e.Data == nil {
				e.Data = map[string]any{}
			}
			e.Data["tool_name"] = name
		}
	}
}

func stringFromData(data map[string]any, key string) (string, bool) {
	if data == nil {
		return "", false
	}
	v, ok := data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

type errResp struct {
	Error string `json:"error"`
}

func errorResponse(err error) *errResp {
	return &errResp{Error: err.Error()}
}
