package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmomarket/settlement/internal/apperr"
	"github.com/mmomarket/settlement/internal/models"
)

// mockStore reproduces the conditional-update contract of Repository.
type mockStore struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
	kinds    []string
}

func (m *mockStore) AddBalance(_ context.Context, _ pgx.Tx, id uuid.UUID, delta int64, kind string, _ *uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[id]
	if !ok {
		return 0, apperr.New(apperr.ErrNotFound, "account %s", id)
	}
	if b+delta < 0 {
		return 0, apperr.New(apperr.ErrInsufficientFunds, "account %s", id)
	}
	m.balances[id] = b + delta
	m.kinds = append(m.kinds, kind)
	return b + delta, nil
}

func (m *mockStore) Confiscate(_ context.Context, _ pgx.Tx, id uuid.UUID, _ *uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.balances[id]
	m.balances[id] = 0
	return b, nil
}

func TestDeposit(t *testing.T) {
	acc := uuid.New()
	store := &mockStore{balances: map[uuid.UUID]int64{acc: 10}}
	svc := NewService(store)

	got, err := svc.Deposit(context.Background(), acc, 90, uuid.New())
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if got != 100 {
		t.Errorf("balance: got %d, want 100", got)
	}
	if len(store.kinds) != 1 || store.kinds[0] != models.LedgerEntryDeposit {
		t.Errorf("entry kinds: got %v", store.kinds)
	}
}

func TestDeposit_RejectsNonPositive(t *testing.T) {
	acc := uuid.New()
	svc := NewService(&mockStore{balances: map[uuid.UUID]int64{acc: 10}})
	for _, amount := range []int64{0, -5} {
		if _, err := svc.Deposit(context.Background(), acc, amount, uuid.New()); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("amount %d: got %v, want ErrValidation", amount, err)
		}
	}
}

func TestAddBalance_NeverNegative(t *testing.T) {
	acc := uuid.New()
	store := &mockStore{balances: map[uuid.UUID]int64{acc: 100}}
	svc := NewService(store)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.AddBalance(context.Background(), nil, acc, -30, models.LedgerEntryPurchaseDebit, nil); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, apperr.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 3 {
		t.Errorf("successful debits: got %d, want 3", succeeded)
	}
	if b := store.balances[acc]; b != 10 {
		t.Errorf("final balance: got %d, want 10", b)
	}
}
