// Package sqlbackend implements the SQL backend (C4): bulk insert with
// adaptive protocol (prepared multi-row insert vs. streaming COPY via a
// staging temp table) over a pgx connection pool, with embedded migrations.
package sqlbackend

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	aefbackend "github.com/agentic-observability/aef/pkg/backend"
	"github.com/agentic-observability/aef/pkg/events"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for migrations
)

//go:embed migrations
var migrationsFS embed.FS

// Backend is the SQL implementation of backend.Backend. Connect is
// idempotent; Close drains the pool and is safe to call more than once.
type Backend struct {
	cfg Config

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// New validates cfg and returns an unconnected Backend. Callers must call
// Connect before Write/HealthCheck.
func New(cfg Config) (*Backend, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", aefbackend.ErrConfiguration, err)
	}
	if cfg.PoolMinSize == 0 {
		cfg.PoolMinSize = DefaultConfig().PoolMinSize
	}
	if cfg.PoolMaxSize == 0 {
		cfg.PoolMaxSize = DefaultConfig().PoolMaxSize
	}
	if cfg.UseCopyThreshold == 0 {
		cfg.UseCopyThreshold = DefaultConfig().UseCopyThreshold
	}
	return &Backend{cfg: cfg}, nil
}

// Connect runs pending migrations and opens the runtime connection pool.
// Calling Connect on an already-connected Backend is a no-op.
func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pool != nil {
		return nil
	}

	if err := runMigrations(b.cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(b.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse database_url: %w", err)
	}
	poolCfg.MinConns = int32(b.cfg.PoolMinSize)
	poolCfg.MaxConns = int32(b.cfg.PoolMaxSize)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping: %w", err)
	}

	b.pool = pool
	return nil
}

// runMigrations applies embedded migrations using golang-migrate over a
// throwaway database/sql connection (opened via the pgx stdlib driver
// registered above). m.Close() is never called; the source driver is closed
// with sourceDriver.Close() and the throwaway *sql.DB by the deferred
// db.Close().
func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "events", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return sourceDriver.Close()
}

// Write inserts batch, using the prepared multi-row path below
// use_copy_threshold and the COPY-via-staging-table path at or above it.
// Both paths use ON CONFLICT (event_id) DO NOTHING so re-delivered
// batches are idempotent.
func (b *Backend) Write(ctx context.Context, batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}

	b.mu.Lock()
	pool := b.pool
	b.mu.Unlock()
	if pool == nil {
		return aefbackend.Terminal(fmt.Errorf("sqlbackend: Write called before Connect"))
	}

	var err error
	if len(batch) >= b.cfg.UseCopyThreshold {
		err = writeWithCopy(ctx, pool, batch)
	} else {
		err = writeWithMultiInsert(ctx, pool, batch)
	}
	if err != nil {
		return aefbackend.Transient(fmt.Errorf("sqlbackend: write: %w", err))
	}
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool == nil {
		return nil
	}
	b.pool.Close()
	b.pool = nil
	return nil
}

// HealthCheck runs a cheap SELECT 1; returns false when unconnected or on
// any error.
func (b *Backend) HealthCheck(ctx context.Context) bool {
	b.mu.Lock()
	pool := b.pool
	b.mu.Unlock()
	if pool == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var one int
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return false
	}
	return one == 1
}
