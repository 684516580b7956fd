package memrepo

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmomarket/settlement/internal/apperr"
	"github.com/mmomarket/settlement/internal/database"
	"github.com/mmomarket/settlement/internal/events"
	"github.com/mmomarket/settlement/internal/models"
)

func TestRollbackRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	s := New()
	acc := &models.Account{ID: uuid.New(), Role: models.RoleBuyer, Balance: 100, Active: true}
	s.PutAccount(acc)

	boom := errors.New("boom")
	err := database.WithTx(ctx, s, func(tx pgx.Tx) error {
		if _, err := s.Ledger().AddBalance(ctx, tx, acc.ID, -40, models.LedgerEntryPurchaseDebit, nil); err != nil {
			return err
		}
		if err := s.Outbox().Enqueue(ctx, tx, events.New(events.TypeOrderFailed, acc.ID, acc.CreatedAt, nil)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(100), s.Account(acc.ID).Balance)
	assert.Empty(t, s.Events())
	assert.Empty(t, s.LedgerEntries(acc.ID))
}

func TestCommitKeepsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	acc := &models.Account{ID: uuid.New(), Role: models.RoleSeller, Balance: 10, Active: true}
	s.PutAccount(acc)

	err := database.WithTx(ctx, s, func(tx pgx.Tx) error {
		_, err := s.Ledger().AddBalance(ctx, tx, acc.ID, 15, models.LedgerEntryEscrowPayout, nil)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(25), s.Account(acc.ID).Balance)
	entries := s.LedgerEntries(acc.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(25), entries[0].BalanceAfter)
}

func TestAddBalanceRejectsOverdraft(t *testing.T) {
	ctx := context.Background()
	s := New()
	acc := &models.Account{ID: uuid.New(), Balance: 5, Active: true}
	s.PutAccount(acc)

	_, err := s.Ledger().AddBalance(ctx, nil, acc.ID, -6, models.LedgerEntryPurchaseDebit, nil)
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.Equal(t, int64(5), s.Account(acc.ID).Balance)

	_, err = s.Ledger().AddBalance(ctx, nil, uuid.New(), 1, models.LedgerEntryDeposit, nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestClosedTransaction(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.ErrorIs(t, tx.Rollback(ctx), pgx.ErrTxClosed)
	_, err = s.Inventory().CountAvailable(ctx, tx, uuid.New())
	assert.ErrorIs(t, err, pgx.ErrTxClosed)
}

func TestReserveUnitsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	variant := uuid.New()
	s.AddUnits(variant, 2)

	_, err := s.Inventory().ReserveUnits(ctx, nil, variant, 3)
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.Equal(t, 2, s.UnitsByStatus(variant)[models.UnitStatusAvailable])

	ids, err := s.Inventory().ReserveUnits(ctx, nil, variant, 2)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Equal(t, 2, s.UnitsByStatus(variant)[models.UnitStatusReserved])
}

func TestOneOpenComplaintPerTransaction(t *testing.T) {
	ctx := context.Background()
	s := New()
	txID := uuid.New()
	first := &models.Complaint{ID: uuid.New(), TransactionID: txID, Status: models.ComplaintStatusNew}
	require.NoError(t, s.Complaints().Create(ctx, nil, first))

	second := &models.Complaint{ID: uuid.New(), TransactionID: txID, Status: models.ComplaintStatusNew}
	assert.ErrorIs(t, s.Complaints().Create(ctx, nil, second), apperr.ErrInvalidState)
}
