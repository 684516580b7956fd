package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeTx records commit/rollback calls. Unused pgx.Tx methods panic via the
// nil embedded interface.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

type fakeDB struct {
	txs []*fakeTx
}

func (d *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	d.txs = append(d.txs, tx)
	return tx, nil
}

func TestWithTx_Commits(t *testing.T) {
	db := &fakeDB{}
	if err := WithTx(context.Background(), db, func(pgx.Tx) error { return nil }); err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if len(db.txs) != 1 || !db.txs[0].committed {
		t.Fatalf("expected one committed transaction, got %+v", db.txs)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db := &fakeDB{}
	want := errors.New("boom")
	err := WithTx(context.Background(), db, func(pgx.Tx) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}
	if len(db.txs) != 1 {
		t.Fatalf("non-transient error must not be retried, got %d attempts", len(db.txs))
	}
	if db.txs[0].committed || !db.txs[0].rolledBack {
		t.Error("expected rollback without commit")
	}
}

func TestWithTx_RetriesSerializationFailure(t *testing.T) {
	db := &fakeDB{}
	calls := 0
	err := WithTx(context.Background(), db, func(pgx.Tx) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
	if !db.txs[2].committed {
		t.Error("final attempt should commit")
	}
}

func TestWithTx_GivesUp(t *testing.T) {
	db := &fakeDB{}
	err := WithTx(context.Background(), db, func(pgx.Tx) error {
		return &pgconn.PgError{Code: "40P01"}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if len(db.txs) != maxAttempts {
		t.Errorf("attempts: got %d, want %d", len(db.txs), maxAttempts)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Error("23505 should be a unique violation")
	}
	if IsUniqueViolation(errors.New("other")) {
		t.Error("plain error is not a unique violation")
	}
}

func TestWithTx_RetriesContention(t *testing.T) {
	db := &fakeDB{}
	calls := 0
	err := WithTx(context.Background(), db, func(pgx.Tx) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("%w: variant busy", ErrContended)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected a retry after contention, got %d calls", calls)
	}
}
