package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmomarket/settlement/internal/database"
	"github.com/mmomarket/settlement/internal/events"
	"github.com/mmomarket/settlement/internal/models"
)

// ReleaseOutcome is the result of one release attempt.
type ReleaseOutcome string

const (
	ReleaseReleased ReleaseOutcome = "released"
	// ReleaseBlocked means a blocking complaint is open on the transaction.
	ReleaseBlocked ReleaseOutcome = "blocked"
	// ReleaseNotDue covers transactions already released or not yet due.
	ReleaseNotDue ReleaseOutcome = "not_due"
)

// EscrowReleaser pays out held funds once the hold period ends.
type EscrowReleaser struct {
	deps Deps
}

func NewEscrowReleaser(deps Deps) *EscrowReleaser {
	return &EscrowReleaser{deps: deps}
}

// ReleaseDue releases one batch of due transactions. Errors on a single
// transaction are logged and the transaction is retried on the next run.
func (r *EscrowReleaser) ReleaseDue(ctx context.Context) (BatchResult, error) {
	var res BatchResult
	ids, err := r.deps.Escrow.ListDueIDs(ctx, nil, r.deps.now(), r.deps.Policy.ReleaseBatchSize)
	if err != nil {
		return res, fmt.Errorf("list due transactions: %w", err)
	}
	for _, id := range ids {
		res.Processed++
		outcome, err := r.ReleaseOne(ctx, id)
		switch {
		case err != nil:
			res.Failed++
			r.deps.Logger.Error("escrow release failed", "transaction_id", id, "error", err)
		case outcome == ReleaseReleased:
			res.Succeeded++
		default:
			res.Skipped++
		}
	}
	if res.Processed > 0 {
		r.deps.Logger.Info("escrow release run", "processed", res.Processed, "released", res.Succeeded, "skipped", res.Skipped, "failed", res.Failed)
	}
	return res, nil
}

// ReleaseOne releases a single transaction if it is held, due and free of
// blocking complaints. The status flip and the seller credit commit together.
func (r *EscrowReleaser) ReleaseOne(ctx context.Context, transactionID uuid.UUID) (ReleaseOutcome, error) {
	var outcome ReleaseOutcome
	var escrow *models.EscrowTransaction
	err := database.WithTx(ctx, r.deps.DB, func(tx pgx.Tx) error {
		var err error
		escrow, err = r.deps.Escrow.GetForUpdate(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		now := r.deps.now()
		if escrow.Status != models.EscrowStatusHeld || escrow.EscrowReleaseAt.After(now) {
			outcome = ReleaseNotDue
			return nil
		}

		blocked, err := r.deps.Complaints.HasOpenBlocking(ctx, tx, escrow.ID)
		if err != nil {
			return fmt.Errorf("check open complaints: %w", err)
		}
		if blocked {
			outcome = ReleaseBlocked
			return nil
		}

		ok, err := r.deps.Escrow.MarkCompleted(ctx, tx, escrow.ID, now)
		if err != nil {
			return fmt.Errorf("mark transaction completed: %w", err)
		}
		if !ok {
			outcome = ReleaseNotDue
			return nil
		}
		if _, err := r.deps.Ledger.AddBalance(ctx, tx, escrow.SellerID, escrow.SellerPayout, models.LedgerEntryEscrowPayout, &escrow.ID); err != nil {
			return fmt.Errorf("credit seller: %w", err)
		}
		outcome = ReleaseReleased
		return r.deps.emit(ctx, tx, events.TypeEscrowReleased, escrow.ID, map[string]any{
			"transaction_id": escrow.ID,
			"seller_id":      escrow.SellerID,
			"payout":         escrow.SellerPayout,
		})
	})
	if err != nil {
		return "", err
	}
	switch outcome {
	case ReleaseReleased:
		r.deps.Notifier.Notify(ctx, escrow.SellerID, "Payout received",
			fmt.Sprintf("%d coins from order %s were released to your balance.", escrow.SellerPayout, escrow.OrderID))
	case ReleaseBlocked:
		r.deps.Logger.Info("escrow release blocked by open complaint", "transaction_id", transactionID)
	}
	return outcome, nil
}
