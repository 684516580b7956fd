package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmomarket/settlement/internal/apperr"
	"github.com/mmomarket/settlement/internal/database"
	"github.com/mmomarket/settlement/internal/events"
	"github.com/mmomarket/settlement/internal/models"
)

type WithdrawalInput struct {
	Amount        int64  `json:"amount" validate:"required,min=1"`
	BankName      string `json:"bank_name" validate:"required,max=100"`
	AccountNumber string `json:"account_number" validate:"required,max=50"`
}

type WithdrawalDecision struct {
	Approve bool   `json:"approve"`
	Refund  bool   `json:"refund"`
	Note    string `json:"note" validate:"max=1000"`
}

// WithdrawalService moves seller balance out of the platform.
type WithdrawalService struct {
	deps Deps
}

func NewWithdrawalService(deps Deps) *WithdrawalService {
	return &WithdrawalService{deps: deps}
}

// Request debits the seller and records a pending withdrawal.
func (s *WithdrawalService) Request(ctx context.Context, actor Actor, in WithdrawalInput) (*models.Withdrawal, error) {
	if actor.Role != models.RoleSeller {
		return nil, apperr.New(apperr.ErrUnauthorized, "only sellers may request withdrawals")
	}
	if err := inputValidator.Struct(in); err != nil {
		return nil, err
	}
	var w *models.Withdrawal
	var notes []notice
	err := database.WithTx(ctx, s.deps.DB, func(tx pgx.Tx) error {
		now := s.deps.now()
		w = &models.Withdrawal{
			ID:            uuid.New(),
			SellerID:      actor.UserID,
			Amount:        in.Amount,
			BankName:      strings.TrimSpace(in.BankName),
			AccountNumber: strings.TrimSpace(in.AccountNumber),
			Status:        models.WithdrawalStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if _, err := s.deps.Ledger.AddBalance(ctx, tx, actor.UserID, -in.Amount, models.LedgerEntryWithdrawalDebit, &w.ID); err != nil {
			return err
		}
		if err := s.deps.Withdrawals.Create(ctx, tx, w); err != nil {
			return fmt.Errorf("create withdrawal: %w", err)
		}
		if err := s.deps.emit(ctx, tx, events.TypeWithdrawalRequested, w.ID, map[string]any{
			"withdrawal_id": w.ID,
			"seller_id":     w.SellerID,
			"amount":        w.Amount,
		}); err != nil {
			return err
		}
		var err error
		notes, err = s.deps.adminNotices(ctx, tx, "Withdrawal requested",
			fmt.Sprintf("Seller %s requested a withdrawal of %d coins.", w.SellerID, w.Amount))
		return err
	})
	if err != nil {
		return nil, err
	}
	s.deps.send(ctx, notes)
	return w, nil
}

// Process approves or rejects a pending withdrawal. A rejection with refund
// credits back the configured share of the amount.
func (s *WithdrawalService) Process(ctx context.Context, actor Actor, withdrawalID uuid.UUID, d WithdrawalDecision) (*models.Withdrawal, error) {
	if !actor.IsAdmin() {
		return nil, apperr.New(apperr.ErrUnauthorized, "only admins may process withdrawals")
	}
	if err := inputValidator.Struct(d); err != nil {
		return nil, err
	}
	var w *models.Withdrawal
	err := database.WithTx(ctx, s.deps.DB, func(tx pgx.Tx) error {
		var err error
		if w, err = s.deps.Withdrawals.GetForUpdate(ctx, tx, withdrawalID); err != nil {
			return err
		}
		if w.Status != models.WithdrawalStatusPending {
			return apperr.New(apperr.ErrInvalidState, "withdrawal %s is already %s", w.ID, w.Status)
		}
		w.Status = models.WithdrawalStatusRejected
		if d.Approve {
			w.Status = models.WithdrawalStatusApproved
		} else if d.Refund {
			w.RefundedAmount = RefundAmount(w.Amount, s.deps.Policy.WithdrawalRefundPercent)
			if w.RefundedAmount > 0 {
				if _, err := s.deps.Ledger.AddBalance(ctx, tx, w.SellerID, w.RefundedAmount, models.LedgerEntryWithdrawalRefund, &w.ID); err != nil {
					return err
				}
			}
		}
		if note := strings.TrimSpace(d.Note); note != "" {
			w.Note = &note
		}
		w.UpdatedAt = s.deps.now()
		if err := s.deps.Withdrawals.Update(ctx, tx, w); err != nil {
			return err
		}
		return s.deps.emit(ctx, tx, events.TypeWithdrawalProcessed, w.ID, map[string]any{
			"withdrawal_id": w.ID,
			"status":        w.Status,
			"refunded":      w.RefundedAmount,
		})
	})
	if err != nil {
		return nil, err
	}
	body := fmt.Sprintf("Your withdrawal of %d coins was %s.", w.Amount, w.Status)
	if w.RefundedAmount > 0 {
		body += fmt.Sprintf(" %d coins were returned to your balance.", w.RefundedAmount)
	}
	s.deps.Notifier.Notify(ctx, w.SellerID, "Withdrawal "+w.Status, body)
	return w, nil
}

// RefundAmount returns round(amount * percent / 100).
func RefundAmount(amount int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(percent).Div(hundred).Round(0).IntPart()
}
