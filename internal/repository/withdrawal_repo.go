package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmomarket/settlement/internal/models"
)

const withdrawalColumns = `id, seller_id, amount, bank_name, account_number, status, refunded_amount, note, created_at, updated_at`

type WithdrawalRepo struct {
	pool *pgxpool.Pool
}

func NewWithdrawalRepo(pool *pgxpool.Pool) *WithdrawalRepo {
	return &WithdrawalRepo{pool: pool}
}

func (r *WithdrawalRepo) Create(ctx context.Context, tx pgx.Tx, w *models.Withdrawal) error {
	_, err := conn(r.pool, tx).Exec(ctx, `
		INSERT INTO withdrawals (id, seller_id, amount, bank_name, account_number, status, refunded_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, w.ID, w.SellerID, w.Amount, w.BankName, w.AccountNumber, w.Status, w.RefundedAmount, w.CreatedAt, w.UpdatedAt)
	return err
}

func (r *WithdrawalRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := tx.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id).Scan(
		&w.ID, &w.SellerID, &w.Amount, &w.BankName, &w.AccountNumber, &w.Status, &w.RefundedAmount, &w.Note, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "withdrawal", id)
	}
	return &w, nil
}

func (r *WithdrawalRepo) Update(ctx context.Context, tx pgx.Tx, w *models.Withdrawal) error {
	_, err := conn(r.pool, tx).Exec(ctx, `
		UPDATE withdrawals SET status = $2, refunded_amount = $3, note = $4, updated_at = $5 WHERE id = $1
	`, w.ID, w.Status, w.RefundedAmount, w.Note, w.UpdatedAt)
	return err
}
