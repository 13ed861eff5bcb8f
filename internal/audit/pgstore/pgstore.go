// Package pgstore is the pgx-backed, durable twin of internal/audit's
// MemoryRecorder: it implements the same audit.Recorder interface
// against Postgres, so a run's relational audit trail survives process
// restarts and is queryable outside the running engine. The connection
// pooling and lifecycle here follow the reference orchestrator's
// common/db.DB wrapper around pgxpool.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tachyon-beep/elspeth/internal/audit"
)

//go:embed schema.sql
var schema string

// Store wraps a pgxpool.Pool and implements audit.Recorder.
type Store struct {
	*pgxpool.Pool
}

var _ audit.Recorder = (*Store)(nil)

// PoolConfig mirrors the reference orchestrator's config.DatabaseConfig
// fields Connect needs, kept independent of internal/config so this
// package has no import-time dependency on it.
type PoolConfig struct {
	MaxConns    int32
	MinConns    int32
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// Connect opens a pool against databaseURL and verifies connectivity.
func Connect(ctx context.Context, databaseURL string, cfg PoolConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	}
	if cfg.MaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{Pool: pool}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.Pool.Close()
}

// Migrate applies the audit trail's schema. Idempotent: every statement
// is CREATE TABLE/INDEX IF NOT EXISTS, so it is safe to call on every
// process start rather than requiring a separate migration step.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply audit schema: %w", err)
	}
	return nil
}
