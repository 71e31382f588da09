// Package recorder implements the Recorder (C7): writes events to a file
// preceded by a metadata header, injecting a millisecond timing offset
// into each event.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CurrentSchemaVersion is the event_schema_version stamped into new
// recordings (spec §9 "Recording schema versioning").
const CurrentSchemaVersion = 1

// Metadata is the header line's fields (spec §3.4, §6.2).
type Metadata struct {
	Version            int       `json:"version"`
	EventSchemaVersion int       `json:"event_schema_version"`
	CLIVersion         string    `json:"cli_version"`
	Model              string    `json:"model"`
	Provider           string    `json:"provider"`
	Task               string    `json:"task"`
	RecordedAt         time.Time `json:"recorded_at"`
	DurationMS         int64     `json:"duration_ms"`
	EventCount         int       `json:"event_count"`
	SessionID          string    `json:"session_id,omitempty"`
	CaptureMethod      string    `json:"capture_method,omitempty"`
}

// Recorder buffers every recorded event in memory and writes the header
// plus body on Close — acceptable because recording sessions are bounded
// (spec §4.7).
type Recorder struct {
	path         string
	workspaceDir string
	meta         Metadata
	start        time.Time
	clock        func() time.Time

	mu     sync.Mutex
	events []map[string]any
	closed bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithWorkspace records the given directory's file tree alongside the
// event stream on Close (SPEC_FULL.md §4 "Recording workspace capture").
func WithWorkspace(dir string) Option {
	return func(r *Recorder) { r.workspaceDir = dir }
}

// WithClock overrides the monotonic clock used for offset computation —
// primarily for tests wanting a fake, deterministic clock.
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) { r.clock = clock }
}

// New constructs a Recorder writing to path with the given header fields
// (event_count and duration_ms are filled in on Close).
func New(path string, meta Metadata, opts ...Option) *Recorder {
	if meta.Version == 0 {
		meta.Version = 1
	}
	if meta.EventSchemaVersion == 0 {
		meta.EventSchemaVersion = CurrentSchemaVersion
	}
	if meta.RecordedAt.IsZero() {
		meta.RecordedAt = time.Now().UTC()
	}

	r := &Recorder{path: path, meta: meta, clock: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.start = r.clock()
	return r
}

// Record appends one event, injecting _offset_ms = now - recording start.
func (r *Recorder) Record(event map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder: record after close")
	}

	offset := r.clock().Sub(r.start).Milliseconds()
	copyOf := make(map[string]any, len(event)+1)
	for k, v := range event {
		copyOf[k] = v
	}
	copyOf["_offset_ms"] = offset
	r.events = append(r.events, copyOf)
	return nil
}

// Close rewrites the metadata line with the final duration_ms and
// event_count and writes header+body to the destination file. Safe to
// call more than once; subsequent calls are no-ops.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	r.meta.EventCount = len(r.events)
	if len(r.events) > 0 {
		if last, ok := r.events[len(r.events)-1]["_offset_ms"].(int64); ok {
			r.meta.DurationMS = last
		}
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	f, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("create %s: %w", r.path, err)
	}
	defer f.Close()

	header := map[string]any{"_recording": r.meta}
	headerLine, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	if _, err := f.Write(append(headerLine, '\n')); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, e := range r.events {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}

	if r.workspaceDir != "" {
		if err := copyWorkspace(r.workspaceDir, filepath.Join(filepath.Dir(r.path), "workspace")); err != nil {
			return fmt.Errorf("capture workspace: %w", err)
		}
	}

	return nil
}

func copyWorkspace(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}
