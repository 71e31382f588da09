// Package player implements the Player (C8): loads a recording, migrates
// older schema versions forward, and replays it instantly or at a
// controlled speed.
package player

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/agentic-observability/aef/pkg/recorder"
)

// Migration maps an event from one schema version to the next.
type Migration func(event map[string]any) map[string]any

// registry is the central migration catalog (spec §9 "Open migrations
// register themselves with a central registry at startup"). Keyed by the
// FROM version; Register(0, fn) means "migrate a v0 event to v1".
var registry = map[int]Migration{}

// Register adds a migration from schema version `from` to `from+1`. Meant
// to be called from package init() by each versioned migration.
func Register(from int, m Migration) {
	registry[from] = m
}

// Player replays a recorded session.
type Player struct {
	metadata       recorder.Metadata
	events         []map[string]any
	workspaceFiles map[string][]byte
}

// Load detects whether path is a directory (workspace-aware format:
// events.jsonl + optional workspace/) or a single file (legacy: header
// line + event lines) and parses it accordingly, chaining schema
// migrations up to the current version.
func Load(path string) (*Player, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	eventsFile := path
	workspaceDir := ""
	if info.IsDir() {
		eventsFile = filepath.Join(path, "events.jsonl")
		workspaceDir = filepath.Join(path, "workspace")
	}

	lines, err := readLines(eventsFile)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty recording file: %s", eventsFile)
	}

	meta, eventLines, err := parseHeader(lines)
	if err != nil {
		return nil, err
	}

	parsed := make([]map[string]any, 0, len(eventLines))
	for _, line := range eventLines {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return nil, fmt.Errorf("parse event line: %w", err)
		}
		parsed = append(parsed, m)
	}

	migrated := migrateAll(parsed, meta.EventSchemaVersion)

	p := &Player{metadata: meta, events: migrated}

	if workspaceDir != "" {
		if files, err := loadWorkspace(workspaceDir); err == nil {
			p.workspaceFiles = files
		}
	}

	return p, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func parseHeader(lines []string) (recorder.Metadata, []string, error) {
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		return recorder.Metadata{}, nil, fmt.Errorf("parse first line: %w", err)
	}

	if raw, ok := first["_recording"]; ok {
		b, err := json.Marshal(raw)
		if err != nil {
			return recorder.Metadata{}, nil, err
		}
		var meta recorder.Metadata
		if err := json.Unmarshal(b, &meta); err != nil {
			return recorder.Metadata{}, nil, err
		}
		return meta, lines[1:], nil
	}

	// Old format without a metadata header: treat every line as an event.
	return recorder.Metadata{
		Version:            0,
		EventSchemaVersion:  0,
		CLIVersion:          "unknown",
		Provider:            "claude",
		RecordedAt:          time.Now().UTC(),
		EventCount:          len(lines),
	}, lines, nil
}

func migrateAll(events []map[string]any, fromVersion int) []map[string]any {
	out := make([]map[string]any, len(events))
	copy(out, events)

	for v := fromVersion; v < recorder.CurrentSchemaVersion; v++ {
		m, ok := registry[v]
		if !ok {
			continue
		}
		for i, e := range out {
			out[i] = m(e)
		}
	}
	return out
}

func loadWorkspace(dir string) (map[string][]byte, error) {
	files := map[string][]byte{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[rel] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Metadata returns the recording's header.
func (p *Player) Metadata() recorder.Metadata { return p.metadata }

// SessionID returns the session_id from the recording's header.
func (p *Player) SessionID() string { return p.metadata.SessionID }

// Len returns the number of events in the recording.
func (p *Player) Len() int { return len(p.events) }

// HasWorkspace is true iff the recording carries a non-empty workspace.
func (p *Player) HasWorkspace() bool { return len(p.workspaceFiles) > 0 }

// GetWorkspaceFiles returns the path→content mapping captured alongside
// the recording.
func (p *Player) GetWorkspaceFiles() map[string][]byte { return p.workspaceFiles }

// GetEvents returns a copy of every event, optionally stripping _offset_ms.
func (p *Player) GetEvents(stripTiming bool) []map[string]any {
	out := make([]map[string]any, len(p.events))
	for i, e := range p.events {
		copied := make(map[string]any, len(e))
		for k, v := range e {
			if stripTiming && k == "_offset_ms" {
				continue
			}
			copied[k] = v
		}
		out[i] = copied
	}
	return out
}

// EmitFunc receives one timing-stripped event during replay.
type EmitFunc func(ctx context.Context, event map[string]any) error

// Play replays events in order at the given speed multiplier. speed must
// be positive; math.Inf(1) means instant (no sleeps). Errors from emitFn
// abort replay and propagate.
func (p *Player) Play(ctx context.Context, emitFn EmitFunc, speed float64) (int, error) {
	if speed <= 0 {
		return 0, fmt.Errorf("player: speed must be positive, got %v", speed)
	}

	var lastOffset int64
	count := 0

	for _, e := range p.events {
		offset := offsetOf(e)
		delayMS := offset - lastOffset

		if delayMS > 0 && !isInfSpeed(speed) {
			delay := time.Duration(float64(delayMS) / speed * float64(time.Millisecond))
			select {
			case <-ctx.Done():
				return count, ctx.Err()
			case <-time.After(delay):
			}
		}

		clean := make(map[string]any, len(e))
		for k, v := range e {
			if k != "_offset_ms" {
				clean[k] = v
			}
		}
		if err := emitFn(ctx, clean); err != nil {
			return count, fmt.Errorf("player: emit failed at event %d: %w", count, err)
		}

		lastOffset = offset
		count++
	}

	return count, nil
}

// PlaySync replays every event synchronously without timing, for
// non-blocking test callers.
func (p *Player) PlaySync(emitFn func(event map[string]any) error) (int, error) {
	count := 0
	for _, e := range p.GetEvents(true) {
		if err := emitFn(e); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func offsetOf(e map[string]any) int64 {
	switch v := e["_offset_ms"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func isInfSpeed(speed float64) bool {
	return math.IsInf(speed, 1) || speed > 1e18
}
