// Package store implements row-store access over PostgreSQL. Each concern
// gets its own store type; cross-table writes run inside a single transaction
// via BeginFunc.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the query surface shared by *pgxpool.Pool and pgx.Tx, so store
// methods can run standalone or inside a caller-owned transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store bundles all row-store accessors over one pool.
type Store struct {
	pool *pgxpool.Pool

	Stories   *StoryStore
	AssetJobs *AssetJobStore
	AsyncJobs *AsyncJobStore
	Sessions  *SessionStore
	Users     *UserStore
	Platform  *PlatformStore
}

// New builds a Store over the pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:      pool,
		Stories:   &StoryStore{pool: pool},
		AssetJobs: &AssetJobStore{pool: pool},
		AsyncJobs: &AsyncJobStore{pool: pool},
		Sessions:  &SessionStore{pool: pool},
		Users:     &UserStore{pool: pool},
		Platform:  &PlatformStore{pool: pool},
	}
}

// Pool exposes the underlying pool for callers that manage transactions.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// BeginFunc runs fn inside a transaction, committing on nil and rolling back
// on error or panic.
func (s *Store) BeginFunc(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
