// Package store is the relational persistence layer. Membership rows are
// soft-flagged, never deleted: a member is active while left_at is NULL and
// visible while hidden_at is also NULL. Every write is a single statement,
// so no method opens a transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors the HTTP and socket layers translate into statuses and
// error frames.
var (
	// ErrNotFound replaces pgx.ErrNoRows so callers never import pgx.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a lost write race (e.g. an invitation already
	// moved out of pending).
	ErrConflict = errors.New("conflict")
)

// Store owns the relational pool. It is a cheap handle; every repository
// method hangs off the same *Store.
type Store struct {
	pool *pgxpool.Pool
}

// New connects the pool and verifies the database is reachable.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Health checks database connectivity for the health endpoint.
func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
