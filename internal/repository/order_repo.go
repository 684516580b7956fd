package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmomarket/settlement/internal/models"
)

const orderColumns = `id, buyer_id, product_id, variant_id, quantity, total_price, status, linked_transaction_id, error_message, created_at, processed_at`

type OrderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

func (r *OrderRepo) Create(ctx context.Context, tx pgx.Tx, o *models.Order) error {
	return conn(r.pool, tx).QueryRow(ctx, `
		INSERT INTO orders (id, buyer_id, product_id, variant_id, quantity, total_price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, o.ID, o.BuyerID, o.ProductID, o.VariantID, o.Quantity, o.TotalPrice, o.Status).Scan(&o.CreatedAt)
}

func (r *OrderRepo) GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
	o, err := scanOrder(conn(r.pool, tx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return o, nil
}

// ListPendingIDs returns pending orders oldest first.
func (r *OrderRepo) ListPendingIDs(ctx context.Context, tx pgx.Tx, limit int) ([]uuid.UUID, error) {
	return collectIDs(conn(r.pool, tx).Query(ctx, `
		SELECT id FROM orders WHERE status = $1 ORDER BY created_at ASC LIMIT $2
	`, models.OrderStatusPending, limit))
}

// ClaimPending locks a pending order and moves it to processing. It returns
// nil when the order is gone, no longer pending, or locked by another worker.
func (r *OrderRepo) ClaimPending(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE id = $1 AND status = $2
		FOR UPDATE SKIP LOCKED
	`, id, models.OrderStatusPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, id, models.OrderStatusProcessing); err != nil {
		return nil, err
	}
	o.Status = models.OrderStatusProcessing
	return o, nil
}

func (r *OrderRepo) MarkCompleted(ctx context.Context, tx pgx.Tx, id, transactionID uuid.UUID, at time.Time) error {
	_, err := conn(r.pool, tx).Exec(ctx, `
		UPDATE orders SET status = $2, linked_transaction_id = $3, processed_at = $4
		WHERE id = $1 AND status = $5
	`, id, models.OrderStatusCompleted, transactionID, at, models.OrderStatusProcessing)
	return err
}

func (r *OrderRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string, at time.Time) error {
	_, err := conn(r.pool, tx).Exec(ctx, `
		UPDATE orders SET status = $2, error_message = $3, processed_at = $4
		WHERE id = $1 AND status = $5
	`, id, models.OrderStatusFailed, reason, at, models.OrderStatusProcessing)
	return err
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.BuyerID, &o.ProductID, &o.VariantID, &o.Quantity, &o.TotalPrice, &o.Status,
		&o.LinkedTransactionID, &o.ErrorMessage, &o.CreatedAt, &o.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
