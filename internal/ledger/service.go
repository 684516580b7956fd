package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmomarket/settlement/internal/apperr"
	"github.com/mmomarket/settlement/internal/models"
)

// Service is the only way balances change.
type Service interface {
	AddBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, delta int64, kind string, ref *uuid.UUID) (int64, error)
	Confiscate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, ref *uuid.UUID) (int64, error)
	// Deposit credits coins confirmed by the payment gateway.
	Deposit(ctx context.Context, accountID uuid.UUID, amount int64, paymentRef uuid.UUID) (int64, error)
}

// Store is the persistence the service needs. *Repository implements it.
type Store interface {
	AddBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, delta int64, kind string, ref *uuid.UUID) (int64, error)
	Confiscate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, ref *uuid.UUID) (int64, error)
}

type service struct {
	store Store
}

func NewService(store Store) Service {
	return &service{store: store}
}

var _ Service = (*service)(nil)

func (s *service) AddBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, delta int64, kind string, ref *uuid.UUID) (int64, error) {
	return s.store.AddBalance(ctx, tx, accountID, delta, kind, ref)
}

func (s *service) Confiscate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, ref *uuid.UUID) (int64, error) {
	return s.store.Confiscate(ctx, tx, accountID, ref)
}

func (s *service) Deposit(ctx context.Context, accountID uuid.UUID, amount int64, paymentRef uuid.UUID) (int64, error) {
	if amount <= 0 {
		return 0, apperr.New(apperr.ErrValidation, "deposit amount must be positive, got %d", amount)
	}
	return s.store.AddBalance(ctx, nil, accountID, amount, models.LedgerEntryDeposit, &paymentRef)
}
