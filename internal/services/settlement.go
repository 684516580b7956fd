package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmomarket/settlement/internal/apperr"
	"github.com/mmomarket/settlement/internal/database"
	"github.com/mmomarket/settlement/internal/events"
	"github.com/mmomarket/settlement/internal/models"
)

// SettlementOutcome is what happened to one order.
type SettlementOutcome string

const (
	SettlementCompleted SettlementOutcome = "completed"
	SettlementFailed    SettlementOutcome = "failed"
	// SettlementSkipped means the order was not pending or was claimed by another worker.
	SettlementSkipped SettlementOutcome = "skipped"
)

var hundred = decimal.NewFromInt(100)

// SettlementWorker turns pending orders into escrow transactions.
type SettlementWorker struct {
	deps Deps
}

func NewSettlementWorker(deps Deps) *SettlementWorker {
	return &SettlementWorker{deps: deps}
}

// ProcessPending settles one batch of pending orders, oldest first. A failing
// order never aborts the batch.
func (w *SettlementWorker) ProcessPending(ctx context.Context) (BatchResult, error) {
	var res BatchResult
	ids, err := w.deps.Orders.ListPendingIDs(ctx, nil, w.deps.Policy.SettlementBatchSize)
	if err != nil {
		return res, fmt.Errorf("list pending orders: %w", err)
	}
	for _, id := range ids {
		res.Processed++
		outcome, err := w.ProcessOrder(ctx, id)
		switch {
		case err != nil:
			res.Failed++
			w.deps.Logger.Error("settlement error, order stays pending", "order_id", id, "error", err)
		case outcome == SettlementCompleted:
			res.Succeeded++
		case outcome == SettlementFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}
	return res, nil
}

// ProcessOrder settles a single order in one transaction. Business failures
// (missing entity, no stock, no funds) are recorded on the order and
// committed with no ledger effect. A business failure after the buyer was
// debited rolls the settlement back and records the failure in a second
// transaction. Any other error rolls everything back and leaves the order
// pending for the next run.
func (w *SettlementWorker) ProcessOrder(ctx context.Context, orderID uuid.UUID) (SettlementOutcome, error) {
	var outcome SettlementOutcome
	var failure, afterDebit error
	err := database.WithTx(ctx, w.deps.DB, func(tx pgx.Tx) error {
		outcome, failure, afterDebit = "", nil, nil

		order, err := w.deps.Orders.ClaimPending(ctx, tx, orderID)
		if err != nil {
			return fmt.Errorf("claim order: %w", err)
		}
		if order == nil {
			outcome = SettlementSkipped
			return nil
		}

		st := &settlement{order: order}
		err = w.settle(ctx, tx, st)
		if err == nil {
			outcome = SettlementCompleted
			return nil
		}
		if !apperr.IsBusiness(err) {
			return err
		}
		if st.debited {
			afterDebit = err
			return err
		}

		if err := w.deps.Inventory.ReleaseUnits(ctx, tx, st.reserved); err != nil {
			return fmt.Errorf("release units: %w", err)
		}
		if err := w.recordFailure(ctx, tx, order.ID, err); err != nil {
			return err
		}
		outcome, failure = SettlementFailed, err
		return nil
	})
	if err != nil && afterDebit != nil && errors.Is(err, afterDebit) {
		outcome, err = w.failAfterRollback(ctx, orderID, afterDebit)
		failure = afterDebit
	}
	if err != nil {
		return "", err
	}
	switch outcome {
	case SettlementFailed:
		w.deps.Logger.Warn("order failed", "order_id", orderID, "reason", failure)
	case SettlementCompleted:
		w.deps.Logger.Info("order settled", "order_id", orderID)
	}
	return outcome, nil
}

// failAfterRollback marks the order failed once the settlement transaction
// has been rolled back. Reservations and the debit are already undone.
func (w *SettlementWorker) failAfterRollback(ctx context.Context, orderID uuid.UUID, cause error) (SettlementOutcome, error) {
	var outcome SettlementOutcome
	err := database.WithTx(ctx, w.deps.DB, func(tx pgx.Tx) error {
		order, err := w.deps.Orders.ClaimPending(ctx, tx, orderID)
		if err != nil {
			return fmt.Errorf("claim order: %w", err)
		}
		if order == nil {
			outcome = SettlementSkipped
			return nil
		}
		outcome = SettlementFailed
		return w.recordFailure(ctx, tx, order.ID, cause)
	})
	return outcome, err
}

func (w *SettlementWorker) recordFailure(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, cause error) error {
	if err := w.deps.Orders.MarkFailed(ctx, tx, orderID, cause.Error(), w.deps.now()); err != nil {
		return fmt.Errorf("mark order failed: %w", err)
	}
	return w.deps.emit(ctx, tx, events.TypeOrderFailed, orderID, map[string]any{
		"order_id": orderID,
		"reason":   cause.Error(),
	})
}

// settlement tracks progress so a failure can be unwound correctly.
type settlement struct {
	order    *models.Order
	reserved []uuid.UUID
	debited  bool
}

func (w *SettlementWorker) settle(ctx context.Context, tx pgx.Tx, st *settlement) error {
	order := st.order

	buyer, err := w.deps.Accounts.GetByID(ctx, tx, order.BuyerID)
	if err != nil {
		return err
	}
	product, err := w.deps.Catalog.GetProduct(ctx, tx, order.ProductID)
	if err != nil {
		return err
	}
	if product.Deleted {
		return apperr.New(apperr.ErrNotFound, "product %s is no longer listed", product.ID)
	}
	variant, err := w.deps.Catalog.GetVariant(ctx, tx, order.VariantID)
	if err != nil {
		return err
	}
	if variant.ProductID != product.ID {
		return apperr.New(apperr.ErrNotFound, "variant %s does not belong to product %s", variant.ID, product.ID)
	}
	shop, err := w.deps.Catalog.GetShop(ctx, tx, product.ShopID)
	if err != nil {
		return err
	}

	st.reserved, err = w.deps.Inventory.ReserveUnits(ctx, tx, variant.ID, order.Quantity)
	if err != nil {
		return err
	}

	if _, err := w.deps.Ledger.AddBalance(ctx, tx, buyer.ID, -order.TotalPrice, models.LedgerEntryPurchaseDebit, &order.ID); err != nil {
		return err
	}
	st.debited = true

	now := w.deps.now()
	commission := Commission(order.TotalPrice, w.commissionPercent(shop))
	escrow := &models.EscrowTransaction{
		ID:              uuid.New(),
		OrderID:         order.ID,
		BuyerID:         buyer.ID,
		SellerID:        shop.OwnerID,
		ShopID:          shop.ID,
		ProductID:       product.ID,
		VariantID:       variant.ID,
		Amount:          order.TotalPrice,
		Commission:      commission,
		SellerPayout:    order.TotalPrice - commission,
		Status:          models.EscrowStatusHeld,
		EscrowReleaseAt: now.Add(w.deps.Policy.HoldPeriod),
		CreatedAt:       now,
	}
	if err := w.deps.Escrow.Create(ctx, tx, escrow); err != nil {
		return fmt.Errorf("create escrow transaction: %w", err)
	}
	if err := w.deps.Inventory.MarkSold(ctx, tx, st.reserved, escrow.ID); err != nil {
		return fmt.Errorf("mark units sold: %w", err)
	}

	left, err := w.deps.Inventory.CountAvailable(ctx, tx, variant.ID)
	if err != nil {
		return err
	}
	if left == 0 {
		if err := w.deps.Catalog.DeactivateVariant(ctx, tx, variant.ID); err != nil {
			return err
		}
	}

	if err := w.deps.Orders.MarkCompleted(ctx, tx, order.ID, escrow.ID, now); err != nil {
		return fmt.Errorf("mark order completed: %w", err)
	}
	return w.deps.emit(ctx, tx, events.TypeOrderCompleted, order.ID, map[string]any{
		"order_id":       order.ID,
		"transaction_id": escrow.ID,
		"buyer_id":       buyer.ID,
		"amount":         escrow.Amount,
		"commission":     escrow.Commission,
	})
}

func (w *SettlementWorker) commissionPercent(shop *models.Shop) decimal.Decimal {
	if shop.CommissionPercent != nil {
		return *shop.CommissionPercent
	}
	return w.deps.Policy.DefaultCommissionPercent
}

// Commission returns round_half_up(amount * percent / 100).
func Commission(amount int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(percent).Div(hundred).Round(0).IntPart()
}
