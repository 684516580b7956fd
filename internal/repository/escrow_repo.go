package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmomarket/settlement/internal/models"
)

const escrowColumns = `id, order_id, buyer_id, seller_id, shop_id, product_id, variant_id, amount, commission, seller_payout, status, escrow_release_at, created_at, completed_at`

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

func (r *EscrowRepo) Create(ctx context.Context, tx pgx.Tx, e *models.EscrowTransaction) error {
	_, err := conn(r.pool, tx).Exec(ctx, `
		INSERT INTO escrow_transactions (id, order_id, buyer_id, seller_id, shop_id, product_id, variant_id, amount, commission, seller_payout, status, escrow_release_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, e.OrderID, e.BuyerID, e.SellerID, e.ShopID, e.ProductID, e.VariantID, e.Amount, e.Commission, e.SellerPayout, e.Status, e.EscrowReleaseAt, e.CreatedAt)
	return err
}

func (r *EscrowRepo) GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EscrowTransaction, error) {
	e, err := scanEscrow(conn(r.pool, tx).QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_transactions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "transaction", id)
	}
	return e, nil
}

// GetForUpdate locks the transaction row. Complaint filing and escrow release
// both take this lock, which orders them.
func (r *EscrowRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EscrowTransaction, error) {
	e, err := scanEscrow(tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "transaction", id)
	}
	return e, nil
}

// ListDueIDs returns held transactions whose release time has passed.
func (r *EscrowRepo) ListDueIDs(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]uuid.UUID, error) {
	return collectIDs(conn(r.pool, tx).Query(ctx, `
		SELECT id FROM escrow_transactions
		WHERE status = $1 AND escrow_release_at <= $2
		ORDER BY escrow_release_at ASC LIMIT $3
	`, models.EscrowStatusHeld, now, limit))
}

// MarkCompleted moves a held transaction to completed. It reports false when
// the row was no longer held.
func (r *EscrowRepo) MarkCompleted(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := conn(r.pool, tx).Exec(ctx, `
		UPDATE escrow_transactions SET status = $2, completed_at = $3
		WHERE id = $1 AND status = $4
	`, id, models.EscrowStatusCompleted, at, models.EscrowStatusHeld)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanEscrow(row pgx.Row) (*models.EscrowTransaction, error) {
	var e models.EscrowTransaction
	err := row.Scan(&e.ID, &e.OrderID, &e.BuyerID, &e.SellerID, &e.ShopID, &e.ProductID, &e.VariantID,
		&e.Amount, &e.Commission, &e.SellerPayout, &e.Status, &e.EscrowReleaseAt, &e.CreatedAt, &e.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
