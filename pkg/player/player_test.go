package player

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentic-observability/aef/pkg/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRecordingRoundTrip is S6 from spec §8.
func TestRecordingRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := now
	fakeClock := func() time.Time { return tick }

	rec := recorder.New(path, recorder.Metadata{Model: "claude", Provider: "anthropic", SessionID: "s1"}, recorder.WithClock(fakeClock))

	events := []map[string]any{
		{"event_type": "session.started", "session_id": "s1"},
		{"event_type": "tool.called", "session_id": "s1"},
		{"event_type": "tool.called", "session_id": "s1"},
		{"event_type": "session.ended", "session_id": "s1"},
	}
	for i, e := range events {
		tick = now.Add(time.Duration(i) * 50 * time.Millisecond)
		require.NoError(t, rec.Record(e))
	}
	require.NoError(t, rec.Close())

	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, p.Metadata().EventCount)
	assert.InDelta(t, 150, p.Metadata().DurationMS, 1)

	got := p.GetEvents(true)
	require.Len(t, got, 4)
	for i, e := range got {
		assert.Equal(t, events[i]["event_type"], e["event_type"])
	}

	start := time.Now()
	count, err := p.Play(context.Background(), func(_ context.Context, _ map[string]any) error { return nil }, math.Inf(1))
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestPlayRejectsNonPositiveSpeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	rec := recorder.New(path, recorder.Metadata{SessionID: "s1"})
	require.NoError(t, rec.Record(map[string]any{"event_type": "notification", "session_id": "s1"}))
	require.NoError(t, rec.Close())

	p, err := Load(path)
	require.NoError(t, err)

	_, err = p.Play(context.Background(), func(context.Context, map[string]any) error { return nil }, 0)
	require.Error(t, err)
}

func TestPlayAbortsOnEmitError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	rec := recorder.New(path, recorder.Metadata{SessionID: "s1"})
	require.NoError(t, rec.Record(map[string]any{"event_type": "a", "session_id": "s1"}))
	require.NoError(t, rec.Record(map[string]any{"event_type": "b", "session_id": "s1"}))
	require.NoError(t, rec.Close())

	p, err := Load(path)
	require.NoError(t, err)

	boom := assertErr("boom")
	count, err := p.Play(context.Background(), func(context.Context, map[string]any) error { return boom }, math.Inf(1))
	require.Error(t, err)
	assert.Equal(t, 0, count)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestLoadLegacyFormatWithoutHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.jsonl")
	writeLegacyFile(t, path)

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())
}

func writeLegacyFile(t *testing.T, path string) {
	t.Helper()
	content := "{\"event_type\":\"session.started\",\"session_id\":\"s1\"}\n{\"event_type\":\"session.ended\",\"session_id\":\"s1\"}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
