// Package buffer implements the event buffer (C5): a bounded in-memory
// queue with size-trigger and time-trigger flush and an overflow drop
// policy, serializing all producer access behind a single mutex.
package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentic-observability/aef/pkg/events"
)

// FlushFunc hands a drained batch to the backend. A non-nil error causes
// the batch to be re-enqueued at the head of the buffer.
type FlushFunc func(ctx context.Context, batch []events.Event) error

// Config holds buffer construction parameters (spec §3.2, §6.4).
type Config struct {
	FlushSize     int
	FlushInterval time.Duration
	MaxCapacity   int
}

// DefaultConfig returns the defaults named in spec §6.4.
func DefaultConfig() Config {
	return Config{
		FlushSize:     50,
		FlushInterval: time.Second,
		MaxCapacity:   10000,
	}
}

// Buffer is the single serialization point for producers sharing a Client.
// The buffer lock is held across pending-count reads, inserts, and drain
// operations, but never across the flush callback or the backend write —
// see spec §5's flush protocol.
type Buffer struct {
	cfg    Config
	flush  FlushFunc

	mu      sync.Mutex
	pending []events.Event
	// flushing serializes the periodic task's flush against an explicit
	// Stop()-triggered final flush (spec §9 open question: at-most-one
	// concurrent flush, final flush serializes after any in-flight one).
	flushing sync.Mutex

	totalDroppedOverflow int64

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
}

// New constructs a Buffer. flush is invoked with the drained batch whenever
// a flush trigger fires; it must not be nil. A non-positive FlushSize or
// FlushInterval and a negative MaxCapacity take their defaults; a
// MaxCapacity of 0 is kept, and every insert is then rejected.
func New(cfg Config, flush FlushFunc) *Buffer {
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = DefaultConfig().FlushSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	if cfg.MaxCapacity < 0 {
		cfg.MaxCapacity = DefaultConfig().MaxCapacity
	}
	return &Buffer{
		cfg:    cfg,
		flush:  flush,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// PendingCount returns the number of events currently queued.
func (b *Buffer) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// TotalDroppedOverflow returns the running count of events evicted by the
// overflow policy.
func (b *Buffer) TotalDroppedOverflow() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalDroppedOverflow
}

// Add enqueues one event. If the pending count has already reached
// max_capacity, the overflow policy runs first. If the pending count reaches flush_size
// after inserting, a flush is triggered inline.
func (b *Buffer) Add(ctx context.Context, e events.Event) error {
	shouldFlush, err := b.enqueue(e)
	if err != nil {
		return err
	}
	if shouldFlush {
		return b.Flush(ctx)
	}
	return nil
}

func (b *Buffer) enqueue(e events.Event) (shouldFlush bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.MaxCapacity == 0 {
		// Boundary behavior (spec §8): max_capacity = 0 rejects the insert.
		return false, fmt.Errorf("buffer: max_capacity is 0, insert rejected")
	}

	if len(b.pending) >= b.cfg.MaxCapacity {
		b.applyOverflow()
	}
	b.pending = append(b.pending, e)

	return len(b.pending) >= b.cfg.FlushSize, nil
}

// applyOverflow drops the oldest 10% of pending events. Called with mu
// held. Dropped events are lost; total_dropped_overflow increments.
func (b *Buffer) applyOverflow() {
	drop := len(b.pending) / 10
	if drop == 0 {
		drop = 1
	}
	if drop > len(b.pending) {
		drop = len(b.pending)
	}
	b.pending = b.pending[drop:]
	b.totalDroppedOverflow += int64(drop)
}

// AddMany enqueues a batch atomically relative to flush triggers: either
// the whole batch fits without crossing flush_size, or a flush is
// triggered mid-sequence once flush_size is reached.
func (b *Buffer) AddMany(ctx context.Context, batch []events.Event) error {
	for _, e := range batch {
		shouldFlush, err := b.enqueue(e)
		if err != nil {
			return err
		}
		if shouldFlush {
			if err := b.Flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush atomically drains pending events and hands them to the buffer's
// registered flush callback. The buffer lock is released before the
// callback runs; on callback failure, the drained events are re-enqueued at
// the head and the error is surfaced.
func (b *Buffer) Flush(ctx context.Context) error {
	return b.FlushWith(ctx, b.flush)
}

// FlushWith drains pending events using the same protocol as Flush — same
// flushing-lock serialization, same re-enqueue-on-failure behavior — but
// hands them to fn instead of the buffer's registered callback. Callers use
// this to run a one-off flush with different failure semantics (e.g.
// propagating the backend error to a direct caller) without touching the
// callback the periodic task uses.
func (b *Buffer) FlushWith(ctx context.Context, fn FlushFunc) error {
	b.flushing.Lock()
	defer b.flushing.Unlock()

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	drained := b.pending
	b.pending = nil
	b.mu.Unlock()

	if err := fn(ctx, drained); err != nil {
		b.mu.Lock()
		b.pending = append(drained, b.pending...)
		b.mu.Unlock()
		return fmt.Errorf("buffer: flush callback: %w", err)
	}
	return nil
}

// Start launches the periodic-flush task. Idempotent.
func (b *Buffer) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		b.started = true
		go b.run(ctx)
	})
}

func (b *Buffer) run(ctx context.Context) {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Flush(ctx); err != nil {
				slog.Error("buffer: periodic flush failed", "error", err)
			}
		}
	}
}

// Stop halts the periodic task and performs one final flush. Idempotent.
func (b *Buffer) Stop(ctx context.Context) error {
	var flushErr error
	b.stopOnce.Do(func() {
		if b.started {
			close(b.stopCh)
			<-b.doneCh
		}
		flushErr = b.Flush(ctx)
	})
	return flushErr
}

// IsStarted reports whether Start has been called.
func (b *Buffer) IsStarted() bool {
	return b.started
}
