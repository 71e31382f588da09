// Package backend defines the uniform write/close contract (C2) that every
// concrete storage target — Null, File, HTTP, SQL — implements.
package backend

import (
	"context"
	"errors"

	"github.com/agentic-observability/aef/pkg/events"
)

// Backend is the small interface Producers hold exactly one of, via the
// Client. Write consumes a batch and returns success or a classified error.
// Close releases resources, must be safe to call more than once, and safe
// to call after a failed write.
type Backend interface {
	Write(ctx context.Context, batch []events.Event) error
	Close() error
	HealthCheck(ctx context.Context) bool
}

// Error wraps a write failure with its transient/terminal classification
// so callers (the client's flush wrapper, the HTTP backend's own retry
// loop) can decide whether to retry without re-deriving the classification.
type Error struct {
	Transient bool
	Err       error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable error.
func Transient(err error) error { return &Error{Transient: true, Err: err} }

// Terminal wraps err as a non-retryable error.
func Terminal(err error) error { return &Error{Transient: false, Err: err} }

// IsTransient reports whether err (or a wrapped cause) was classified
// transient. Unclassified errors are treated as terminal — the safer
// default when a caller forgets to classify.
func IsTransient(err error) bool {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Transient
	}
	return false
}

// ErrConfiguration is returned at construction time for invalid or missing
// required configuration (spec §7 "Configuration errors").
var ErrConfiguration = errors.New("backend: configuration error")
