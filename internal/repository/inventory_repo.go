package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmomarket/settlement/internal/apperr"
	"github.com/mmomarket/settlement/internal/database"
	"github.com/mmomarket/settlement/internal/models"
)

type InventoryRepo struct {
	pool *pgxpool.Pool
}

func NewInventoryRepo(pool *pgxpool.Pool) *InventoryRepo {
	return &InventoryRepo{pool: pool}
}

// ReserveUnits atomically moves count available units of the variant to
// reserved. Rows locked by a concurrent reservation are skipped rather than
// waited on, so two settlements never receive the same unit. On a shortfall
// the unlocked count decides: if locked rows could still cover the request the
// error is database.ErrContended and the caller retries, otherwise it is
// ErrInsufficientStock. Nothing is reserved on error.
func (r *InventoryRepo) ReserveUnits(ctx context.Context, tx pgx.Tx, variantID uuid.UUID, count int) ([]uuid.UUID, error) {
	ids, err := collectIDs(tx.Query(ctx, `
		SELECT id FROM inventory_units
		WHERE variant_id = $1 AND status = $2
		ORDER BY id
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, variantID, models.UnitStatusAvailable, count))
	if err != nil {
		return nil, err
	}
	if len(ids) < count {
		available, err := r.CountAvailable(ctx, tx, variantID)
		if err != nil {
			return nil, err
		}
		return nil, shortfall(variantID, count, len(ids), available)
	}
	if _, err := tx.Exec(ctx, `UPDATE inventory_units SET status = $2 WHERE id = ANY($1)`, ids, models.UnitStatusReserved); err != nil {
		return nil, err
	}
	return ids, nil
}

// shortfall classifies a reservation that locked fewer than want units.
// available counts every unit still marked available, locked or not.
func shortfall(variantID uuid.UUID, want, locked, available int) error {
	if available >= want {
		return fmt.Errorf("%w: variant %s: wanted %d, %d of %d available units locked elsewhere",
			database.ErrContended, variantID, want, available-locked, available)
	}
	return apperr.New(apperr.ErrInsufficientStock, "variant %s: wanted %d, available %d", variantID, want, available)
}

// ReleaseUnits returns reserved units to the available pool.
func (r *InventoryRepo) ReleaseUnits(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := conn(r.pool, tx).Exec(ctx, `
		UPDATE inventory_units SET status = $2 WHERE id = ANY($1) AND status = $3
	`, ids, models.UnitStatusAvailable, models.UnitStatusReserved)
	return err
}

// MarkSold binds reserved units to the transaction. Sold is terminal.
func (r *InventoryRepo) MarkSold(ctx context.Context, tx pgx.Tx, ids []uuid.UUID, transactionID uuid.UUID) error {
	tag, err := conn(r.pool, tx).Exec(ctx, `
		UPDATE inventory_units SET status = $2, transaction_id = $3
		WHERE id = ANY($1) AND status = $4
	`, ids, models.UnitStatusSold, transactionID, models.UnitStatusReserved)
	if err != nil {
		return err
	}
	if int(tag.RowsAffected()) != len(ids) {
		return apperr.New(apperr.ErrInvalidState, "expected %d reserved units, sold %d", len(ids), tag.RowsAffected())
	}
	return nil
}

func (r *InventoryRepo) CountAvailable(ctx context.Context, tx pgx.Tx, variantID uuid.UUID) (int, error) {
	var n int
	err := conn(r.pool, tx).QueryRow(ctx, `
		SELECT count(*) FROM inventory_units WHERE variant_id = $1 AND status = $2
	`, variantID, models.UnitStatusAvailable).Scan(&n)
	return n, err
}

func (r *InventoryRepo) ListByTransaction(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) ([]*models.InventoryUnit, error) {
	rows, err := conn(r.pool, tx).Query(ctx, `
		SELECT id, variant_id, status, transaction_id, activated, activated_at
		FROM inventory_units WHERE transaction_id = $1 ORDER BY id
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.InventoryUnit
	for rows.Next() {
		var u models.InventoryUnit
		if err := rows.Scan(&u.ID, &u.VariantID, &u.Status, &u.TransactionID, &u.Activated, &u.ActivatedAt); err != nil {
			return nil, err
		}
		list = append(list, &u)
	}
	return list, rows.Err()
}

// ActivateByTransaction marks every unit of the transaction activated and
// returns how many changed.
func (r *InventoryRepo) ActivateByTransaction(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID, at time.Time) (int, error) {
	tag, err := conn(r.pool, tx).Exec(ctx, `
		UPDATE inventory_units SET activated = TRUE, activated_at = $2
		WHERE transaction_id = $1 AND NOT activated
	`, transactionID, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
