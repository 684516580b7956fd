// Package database holds the Postgres pool setup and the transaction helper
// every multi-step mutation runs through.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Retry settings for transient failures.
const (
	maxAttempts = 4
	baseBackoff = 25 * time.Millisecond
)

// ErrContended marks work that lost a race for locked rows and should run
// again in a new transaction.
var ErrContended = errors.New("rows locked by a concurrent transaction")

// TxBeginner starts a transaction. *pgxpool.Pool satisfies it, as does the
// in-memory store used in tests.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NewPool parses url, opens a pool and pings the server.
func NewPool(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return pool, nil
}

// WithTx runs fn inside a transaction and commits when fn returns nil.
// Serialization failures, deadlocks and connection errors that are safe to
// retry re-run fn in a fresh transaction with exponential backoff. fn must not
// have side effects outside the transaction.
func WithTx(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			wait := baseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		err = runTx(ctx, db, fn)
		if err == nil || !IsTransient(err) {
			return err
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", maxAttempts, err)
}

func runTx(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// IsTransient reports whether err is worth retrying in a new transaction.
func IsTransient(err error) bool {
	if errors.Is(err, ErrContended) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
