package backend

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/agentic-observability/aef/pkg/events"
)

// TestEnvironmentVar gates NullBackend construction. Shipping a silent
// event drop in production by accident is a real failure mode, so the
// backend refuses to instantiate unless this is explicitly set to "test".
const TestEnvironmentVar = "AEF_ENVIRONMENT"

// NullBackend discards events but retains them in a test-inspectable
// accumulator. Always succeeds. Safe for concurrent use.
type NullBackend struct {
	mu       sync.Mutex
	accepted []events.Event
	closed   bool
}

// NewNullBackend constructs a NullBackend. It returns ErrConfiguration
// unless AEF_ENVIRONMENT=test, as a safety rail against production use.
func NewNullBackend() (*NullBackend, error) {
	if os.Getenv(TestEnvironmentVar) != "test" {
		return nil, fmt.Errorf("%w: NullBackend requires %s=test", ErrConfiguration, TestEnvironmentVar)
	}
	return &NullBackend{}, nil
}

func (b *NullBackend) Write(_ context.Context, batch []events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accepted = append(b.accepted, batch...)
	return nil
}

func (b *NullBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *NullBackend) HealthCheck(_ context.Context) bool { return true }

// Accepted returns a copy of every event ever written, for test assertions.
func (b *NullBackend) Accepted() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.Event, len(b.accepted))
	copy(out, b.accepted)
	return out
}

// Closed reports whether Close has been called.
func (b *NullBackend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
