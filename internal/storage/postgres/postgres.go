// Package postgres implements storage.Store on Supabase Postgres through a
// pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sprintpulse/sprintsync/internal/debug"
	"github.com/sprintpulse/sprintsync/internal/storage"
)

// Config configures Open.
type Config struct {
	URL             string
	MaxConns        int32
	ApplicationName string
	// ConnectTimeout bounds the whole connect-and-ping retry loop.
	ConnectTimeout time.Duration
}

// Store implements storage.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// New wraps an existing pool. The caller keeps ownership of migrations.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to cfg.URL, retrying transient failures, and returns a Store.
// Migrations are not applied; call Migrate.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	conn, err := ConnString(cfg.URL, cfg.ApplicationName)
	if err != nil {
		return nil, err
	}
	pcfg, err := pgxpool.ParseConfig(conn.String)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if conn.Pooled {
		// The Supabase transaction pooler does not keep prepared statements
		// across transactions.
		pcfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var pool *pgxpool.Pool
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = timeout
	connect := func() error {
		p, err := pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create pool: %w", err))
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			if ctx.Err() != nil || !isTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		pool = p
		return nil
	}
	notify := func(err error, wait time.Duration) {
		debug.Logf("postgres: connect failed (%v), retrying in %s", err, wait)
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", conn.Redacted, err)
	}
	debug.Logf("postgres: connected to %s (pooled=%v)", conn.Redacted, conn.Pooled)
	return New(pool), nil
}

// isTransient reports whether a connect error is worth retrying. Bad
// credentials and unknown databases are not.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28P01", "28000", "3D000":
			return false
		}
	}
	return true
}

// Pool exposes the underlying pool for migrations and tests.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// wrapNotFound turns pgx.ErrNoRows into storage.ErrNotFound.
func wrapNotFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
