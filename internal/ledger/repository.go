package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmomarket/settlement/internal/apperr"
	"github.com/mmomarket/settlement/internal/database"
	"github.com/mmomarket/settlement/internal/models"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// AddBalance applies delta to the account in a single conditional UPDATE, so
// the balance check and the write cannot interleave with another writer. A
// debit that would go below zero affects no row and returns
// ErrInsufficientFunds with the balance unchanged. Runs inside tx; a nil tx
// gets its own transaction.
func (r *Repository) AddBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, delta int64, kind string, ref *uuid.UUID) (int64, error) {
	if tx == nil {
		var balance int64
		err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
			var err error
			balance, err = r.AddBalance(ctx, tx, accountID, delta, kind, ref)
			return err
		})
		return balance, err
	}

	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE accounts SET balance = balance + $1, updated_at = now()
		WHERE id = $2 AND balance + $1 >= 0
		RETURNING balance
	`, delta, accountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, r.explainMiss(ctx, tx, accountID, delta)
	}
	if err != nil {
		return 0, err
	}
	if err := insertEntry(ctx, tx, accountID, kind, delta, balance, ref); err != nil {
		return 0, err
	}
	return balance, nil
}

// Confiscate sets the balance to zero and returns the amount taken.
func (r *Repository) Confiscate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, ref *uuid.UUID) (int64, error) {
	var taken int64
	err := tx.QueryRow(ctx, `
		UPDATE accounts a SET balance = 0, updated_at = now()
		FROM (SELECT id, balance FROM accounts WHERE id = $1 FOR UPDATE) old
		WHERE a.id = old.id
		RETURNING old.balance
	`, accountID).Scan(&taken)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.New(apperr.ErrNotFound, "account %s", accountID)
	}
	if err != nil {
		return 0, err
	}
	if taken == 0 {
		return 0, nil
	}
	if err := insertEntry(ctx, tx, accountID, models.LedgerEntryConfiscation, -taken, 0, ref); err != nil {
		return 0, err
	}
	return taken, nil
}

// explainMiss tells a missing account apart from a rejected debit.
func (r *Repository) explainMiss(ctx context.Context, q querier, accountID uuid.UUID, delta int64) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return apperr.New(apperr.ErrNotFound, "account %s", accountID)
	}
	return apperr.New(apperr.ErrInsufficientFunds, "account %s cannot cover %d", accountID, -delta)
}

func insertEntry(ctx context.Context, q querier, accountID uuid.UUID, kind string, delta, balanceAfter int64, ref *uuid.UUID) error {
	_, err := q.Exec(ctx, `
		INSERT INTO ledger_entries (id, account_id, kind, delta, balance_after, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), accountID, kind, delta, balanceAfter, ref)
	return err
}
