package sqlbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentic-observability/aef/pkg/events"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const insertColumns = "event_id, event_type, session_id, workflow_id, phase_id, milestone_id, data, timestamp"

// writeWithMultiInsert builds one parameterized multi-row INSERT, the
// fast path for batches smaller than use_copy_threshold.
func writeWithMultiInsert(ctx context.Context, pool *pgxpool.Pool, batch []events.Event) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO events (%s) VALUES ", insertColumns)

	args := make([]any, 0, len(batch)*8)
	for i, e := range batch {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshal data for event %s: %w", e.EventID, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 8
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d::jsonb, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args,
			e.EventID, string(e.EventType), e.SessionID,
			nullableUUID(e.WorkflowID), nullableString(e.PhaseID), nullableString(e.MilestoneID),
			data, e.Timestamp,
		)
	}
	sb.WriteString(" ON CONFLICT (event_id) DO NOTHING")

	_, err := pool.Exec(ctx, sb.String(), args...)
	return err
}

// writeWithCopy streams rows into a session-scoped temp table via pgx's
// native CopyFrom (the idiomatic Go equivalent of the source's hand-rolled
// tab-separated buffer into a driver-level COPY call — same wire protocol)
// then moves them into the real table with ON CONFLICT DO NOTHING, the
// fast path for batches at or above use_copy_threshold.
func writeWithCopy(ctx context.Context, pool *pgxpool.Pool, batch []events.Event) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const stagingDDL = `
		CREATE TEMP TABLE events_staging (
			event_id UUID, event_type VARCHAR(100), session_id VARCHAR(255),
			workflow_id UUID, phase_id VARCHAR(100), milestone_id VARCHAR(100),
			data JSONB, timestamp TIMESTAMPTZ
		) ON COMMIT DROP`
	if _, err := tx.Exec(ctx, stagingDDL); err != nil {
		return fmt.Errorf("create staging table: %w", err)
	}

	rows := make([][]any, len(batch))
	for i, e := range batch {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshal data for event %s: %w", e.EventID, err)
		}
		rows[i] = []any{
			e.EventID, string(e.EventType), e.SessionID,
			nullableUUID(e.WorkflowID), nullableString(e.PhaseID), nullableString(e.MilestoneID),
			data, e.Timestamp,
		}
	}

	cols := []string{"event_id", "event_type", "session_id", "workflow_id", "phase_id", "milestone_id", "data", "timestamp"}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"events_staging"}, cols, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy into staging table: %w", err)
	}

	const moveSQL = `
		INSERT INTO events (event_id, event_type, session_id, workflow_id, phase_id, milestone_id, data, timestamp)
		SELECT event_id, event_type, session_id, workflow_id, phase_id, milestone_id, data, timestamp
		FROM events_staging
		ON CONFLICT (event_id) DO NOTHING`
	if _, err := tx.Exec(ctx, moveSQL); err != nil {
		return fmt.Errorf("insert from staging table: %w", err)
	}

	return tx.Commit(ctx)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableUUID(s string) any {
	if s == "" {
		return nil
	}
	return s
}
