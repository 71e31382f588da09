// Package client implements the Client façade (C6): the producer-facing
// surface that owns one Buffer and one Backend, with a fail-safe flush
// callback so emit paths never raise from backend failures.
package client

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	aefbackend "github.com/agentic-observability/aef/pkg/backend"
	"github.com/agentic-observability/aef/pkg/buffer"
	"github.com/agentic-observability/aef/pkg/events"
	"github.com/agentic-observability/aef/pkg/httpbackend"
)

// RetryConfig governs the flush callback's own retry loop, independent of
// any retrying the backend does internally (spec §4.6 — "separate from
// C3's internal retry"; DESIGN.md documents why the HTTP backend gets zero
// additional retries here).
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryConfig mirrors spec §6.4's retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, Backoff: 500 * time.Millisecond}
}

// Metrics exposes the counters named in spec §7.
type Metrics struct {
	PendingCount              int
	TotalEmitted              int64
	TotalFlushed              int64
	TotalDroppedOverflow      int64
	TotalDroppedUnrecoverable int64
}

// Client is the producer-facing façade. Safe for concurrent use.
type Client struct {
	backend aefbackend.Backend
	buf     *buffer.Buffer
	retry   RetryConfig

	totalEmitted              atomic.Int64
	totalFlushed              atomic.Int64
	totalDroppedUnrecoverable atomic.Int64

	startOnce sync.Once
	closeOnce sync.Once
}

// New constructs a Client around b, which must be non-nil; New does not
// substitute a default backend.
func New(b aefbackend.Backend, bufCfg buffer.Config, retry RetryConfig) *Client {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	c := &Client{backend: b, retry: retry}
	c.buf = buffer.New(bufCfg, c.flushCallback)
	return c
}

// attemptWrite hands batch to the backend with up to retry.MaxAttempts
// tries and returns the last error if every attempt failed, or nil on
// success. It never retries against the HTTP backend, which is its own
// retry authority (DESIGN.md: "double retry layering").
func (c *Client) attemptWrite(ctx context.Context, batch []events.Event) error {
	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		err := c.backend.Write(ctx, batch)
		if err == nil {
			c.totalFlushed.Add(int64(len(batch)))
			return nil
		}
		lastErr = err

		if _, isHTTP := c.backend.(*httpbackend.Backend); isHTTP {
			break
		}
		if !aefbackend.IsTransient(err) {
			break
		}

		slog.Warn("client: retrying backend write", "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retry.Backoff):
		}
	}
	return lastErr
}

// flushCallback is the callback registered with the buffer for the
// periodic and size-triggered auto-flush paths. On exhausted retries the
// batch is dropped and logged rather than returned — this is what makes
// Emit/EmitMany fail-safe by contract.
func (c *Client) flushCallback(ctx context.Context, batch []events.Event) error {
	if err := c.attemptWrite(ctx, batch); err != nil {
		c.totalDroppedUnrecoverable.Add(int64(len(batch)))
		for _, e := range batch {
			slog.Error("client: dropping event after exhausted retries", "event_id", e.EventID, "reason", err)
		}
	}
	return nil // fail-safe: the periodic/inline flush path must never propagate this.
}

// strictFlushCallback backs Flush's direct-caller contract: unlike
// flushCallback it returns the backend error after retries are exhausted
// instead of swallowing it, so a caller invoking Flush can assert on
// backend failures. The batch is left pending (buffer.FlushWith re-enqueues
// it) rather than counted as dropped, since the caller may retry.
func (c *Client) strictFlushCallback(ctx context.Context, batch []events.Event) error {
	return c.attemptWrite(ctx, batch)
}

// Start is idempotent and launches the buffer's periodic task.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.buf.Start(ctx)
	})
}

// Close is idempotent: it stops the buffer (forcing a final flush) and
// closes the backend.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		if stopErr := c.buf.Stop(ctx); stopErr != nil {
			slog.Error("client: final flush failed on close", "error", stopErr)
		}
		err = c.backend.Close()
	})
	return err
}

// Emit auto-starts the client if needed, then delegates to the buffer.
func (c *Client) Emit(ctx context.Context, e events.Event) error {
	c.Start(ctx)
	c.totalEmitted.Add(1)
	return c.buf.Add(ctx, e)
}

// EmitMany auto-starts the client if needed, then delegates to the buffer.
func (c *Client) EmitMany(ctx context.Context, batch []events.Event) error {
	c.Start(ctx)
	c.totalEmitted.Add(int64(len(batch)))
	return c.buf.AddMany(ctx, batch)
}

// Flush drains and writes pending events via strictFlushCallback, surfacing
// backend errors directly (unlike the periodic/auto-flush path) so tests
// and direct callers can assert.
func (c *Client) Flush(ctx context.Context) error {
	return c.buf.FlushWith(ctx, c.strictFlushCallback)
}

// PendingCount returns the number of events currently queued.
func (c *Client) PendingCount() int { return c.buf.PendingCount() }

// IsStarted reports whether Start has been called.
func (c *Client) IsStarted() bool { return c.buf.IsStarted() }

// MetricsSnapshot returns the current counter values (spec §7).
func (c *Client) MetricsSnapshot() Metrics {
	return Metrics{
		PendingCount:              c.buf.PendingCount(),
		TotalEmitted:              c.totalEmitted.Load(),
		TotalFlushed:              c.totalFlushed.Load(),
		TotalDroppedOverflow:      c.buf.TotalDroppedOverflow(),
		TotalDroppedUnrecoverable: c.totalDroppedUnrecoverable.Load(),
	}
}
