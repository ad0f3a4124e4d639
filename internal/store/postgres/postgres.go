// Package postgres implements the store contract over PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/tenderscope-ai/be-plt-accounts/internal/store"
)

// Store is the PostgreSQL-backed store.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New creates a Store over an existing pool.
func New(pool *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{
		pool: pool,
		log:  log.With().Str("component", "postgres").Logger(),
	}
}

// Connect opens a pool, verifies the connection, and returns the store.
func Connect(ctx context.Context, databaseURL string, log zerolog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(pool, log), nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// isUniqueViolation reports a duplicate-key rejection.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ store.Store = (*Store)(nil)
