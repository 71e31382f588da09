package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agentic-observability/aef/pkg/events"
)

// FileBackend appends events as newline-delimited JSON to a file path. The
// file is opened lazily on first write and held open for the backend's
// lifetime. Each event is marshalled to one complete line, and the lines of
// a batch are buffered and flushed to the file at the end of each Write, so
// an event is never split across lines; a crash mid-flush can leave at most
// one truncated trailing line, which downstream readers must skip.
type FileBackend struct {
	path string

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	closed bool
}

// NewFileBackend constructs a FileBackend targeting path. path must be
// non-empty (spec §7 "missing output_path for file backend").
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: file backend requires a non-empty output path", ErrConfiguration)
	}
	return &FileBackend{path: path}, nil
}

func (b *FileBackend) ensureOpen() error {
	if b.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", b.path, err)
	}
	b.file = f
	b.writer = bufio.NewWriter(f)
	return nil
}

func (b *FileBackend) Write(_ context.Context, batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Terminal(fmt.Errorf("file backend: write after close"))
	}
	if err := b.ensureOpen(); err != nil {
		return Terminal(err)
	}

	for _, e := range batch {
		line, err := json.Marshal(e)
		if err != nil {
			return Terminal(fmt.Errorf("marshal event %s: %w", e.EventID, err))
		}
		line = append(line, '\n')
		if _, err := b.writer.Write(line); err != nil {
			return Transient(fmt.Errorf("write event %s: %w", e.EventID, err))
		}
	}
	if err := b.writer.Flush(); err != nil {
		return Transient(fmt.Errorf("flush: %w", err))
	}
	return nil
}

// Close flushes and releases the file handle. Safe to call more than once.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.file == nil {
		return nil
	}
	if err := b.writer.Flush(); err != nil {
		_ = b.file.Close()
		return fmt.Errorf("final flush: %w", err)
	}
	return b.file.Close()
}

func (b *FileBackend) HealthCheck(_ context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}
