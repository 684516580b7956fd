// Package memrepo is an in-memory, transactional implementation of the
// settlement stores. Transactions are serialized and a rollback restores the
// snapshot taken at Begin, so tests observe the same atomicity as Postgres.
package memrepo

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmomarket/settlement/internal/events"
	"github.com/mmomarket/settlement/internal/models"
)

type data struct {
	accounts    map[uuid.UUID]*models.Account
	ledger      []*models.LedgerEntry
	shops       map[uuid.UUID]*models.Shop
	categories  map[uuid.UUID]*models.Category
	products    map[uuid.UUID]*models.Product
	variants    map[uuid.UUID]*models.Variant
	units       map[uuid.UUID]*models.InventoryUnit
	orders      map[uuid.UUID]*models.Order
	escrows     map[uuid.UUID]*models.EscrowTransaction
	complaints  map[uuid.UUID]*models.Complaint
	flags       map[uuid.UUID]*models.Flag
	withdrawals map[uuid.UUID]*models.Withdrawal
	events      []events.Event
}

func newData() *data {
	return &data{
		accounts:    make(map[uuid.UUID]*models.Account),
		shops:       make(map[uuid.UUID]*models.Shop),
		categories:  make(map[uuid.UUID]*models.Category),
		products:    make(map[uuid.UUID]*models.Product),
		variants:    make(map[uuid.UUID]*models.Variant),
		units:       make(map[uuid.UUID]*models.InventoryUnit),
		orders:      make(map[uuid.UUID]*models.Order),
		escrows:     make(map[uuid.UUID]*models.EscrowTransaction),
		complaints:  make(map[uuid.UUID]*models.Complaint),
		flags:       make(map[uuid.UUID]*models.Flag),
		withdrawals: make(map[uuid.UUID]*models.Withdrawal),
	}
}

func cloneMap[T any](m map[uuid.UUID]*T) map[uuid.UUID]*T {
	out := make(map[uuid.UUID]*T, len(m))
	for k, v := range m {
		cp := *v
		out[k] = &cp
	}
	return out
}

func (d *data) clone() *data {
	return &data{
		accounts:    cloneMap(d.accounts),
		ledger:      append([]*models.LedgerEntry(nil), d.ledger...),
		shops:       cloneMap(d.shops),
		categories:  cloneMap(d.categories),
		products:    cloneMap(d.products),
		variants:    cloneMap(d.variants),
		units:       cloneMap(d.units),
		orders:      cloneMap(d.orders),
		escrows:     cloneMap(d.escrows),
		complaints:  cloneMap(d.complaints),
		flags:       cloneMap(d.flags),
		withdrawals: cloneMap(d.withdrawals),
		events:      append([]events.Event(nil), d.events...),
	}
}

// Store holds all records. One transaction runs at a time, which stands in
// for the row locks the Postgres repositories take.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	d    *data

	// FailBegin, when set, is returned by the next Begin calls.
	FailBegin error
}

func New() *Store {
	return &Store{d: newData()}
}

// Tx is a transaction on a Store.
type Tx struct {
	pgx.Tx
	s        *Store
	snapshot *data
	done     bool
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	fail := s.FailBegin
	s.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	s.txMu.Lock()
	s.mu.Lock()
	snap := s.d.clone()
	s.mu.Unlock()
	return &Tx{s: s, snapshot: snap}, nil
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("memrepo: nested transactions are not supported")
}

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.s.txMu.Unlock()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.s.mu.Lock()
	t.s.d = t.snapshot
	t.s.mu.Unlock()
	t.s.txMu.Unlock()
	return nil
}

// read runs fn against the live records.
func (s *Store) read(tx pgx.Tx, fn func(d *data) error) error {
	if err := s.check(tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.d)
}

// write runs fn inside tx, or as its own transaction when tx is nil.
func (s *Store) write(tx pgx.Tx, fn func(d *data) error) error {
	if tx == nil {
		ctx := context.Background()
		own, err := s.Begin(ctx)
		if err != nil {
			return err
		}
		if err := s.write(own, fn); err != nil {
			_ = own.Rollback(ctx)
			return err
		}
		return own.Commit(ctx)
	}
	return s.read(tx, fn)
}

func (s *Store) check(tx pgx.Tx) error {
	if tx == nil {
		return nil
	}
	t, ok := tx.(*Tx)
	if !ok || t.s != s {
		return errors.New("memrepo: foreign transaction")
	}
	if t.done {
		return pgx.ErrTxClosed
	}
	return nil
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
}

func copyOf[T any](v *T) *T {
	cp := *v
	return &cp
}
