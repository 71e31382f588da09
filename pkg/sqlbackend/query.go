package sqlbackend

import (
	"context"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

// SessionEventCounts is a read-model row: how many events of a given
// event_type a session has recorded, and when the most recent one landed.
type SessionEventCounts struct {
	EventType string
	Count     int64
	LastSeen  time.Time
}

// SessionEventCounts runs a GROUP BY read-model query over the events
// table for one session, built with the ent dialect/sql query builder
// rather than a hand-written string — the bulk-write paths in insert.go
// need raw COPY/multi-VALUES control that the builder doesn't give, but
// this query is a plain aggregate with no such requirement.
func (b *Backend) SessionEventCounts(ctx context.Context, sessionID string) ([]SessionEventCounts, error) {
	b.mu.Lock()
	pool := b.pool
	b.mu.Unlock()
	if pool == nil {
		return nil, fmt.Errorf("sqlbackend: SessionEventCounts called before Connect")
	}

	builder := entsql.Dialect(dialect.Postgres).
		Select("event_type", "COUNT(*)", "MAX(timestamp)").
		From(entsql.Table("events")).
		Where(entsql.EQ("session_id", sessionID)).
		GroupBy("event_type").
		OrderBy("event_type")

	query, args := builder.Query()

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query session event counts: %w", err)
	}
	defer rows.Close()

	var out []SessionEventCounts
	for rows.Next() {
		var row SessionEventCounts
		if err := rows.Scan(&row.EventType, &row.Count, &row.LastSeen); err != nil {
			return nil, fmt.Errorf("scan session event counts: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
