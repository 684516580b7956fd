package memrepo

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmomarket/settlement/internal/apperr"
	"github.com/mmomarket/settlement/internal/events"
	"github.com/mmomarket/settlement/internal/models"
)

// Ledger mirrors ledger.Repository.
type Ledger struct{ s *Store }

func (s *Store) Ledger() *Ledger { return &Ledger{s} }

func (l *Ledger) AddBalance(_ context.Context, tx pgx.Tx, accountID uuid.UUID, delta int64, kind string, ref *uuid.UUID) (int64, error) {
	var balance int64
	err := l.s.write(tx, func(d *data) error {
		a, ok := d.accounts[accountID]
		if !ok {
			return apperr.New(apperr.ErrNotFound, "account %s", accountID)
		}
		if a.Balance+delta < 0 {
			return apperr.New(apperr.ErrInsufficientFunds, "account %s cannot cover %d", accountID, -delta)
		}
		a.Balance += delta
		balance = a.Balance
		d.ledger = append(d.ledger, &models.LedgerEntry{
			ID: uuid.New(), AccountID: accountID, Kind: kind, Delta: delta, BalanceAfter: balance, ReferenceID: ref, CreatedAt: time.Now().UTC(),
		})
		return nil
	})
	return balance, err
}

func (l *Ledger) Confiscate(_ context.Context, tx pgx.Tx, accountID uuid.UUID, ref *uuid.UUID) (int64, error) {
	var taken int64
	err := l.s.write(tx, func(d *data) error {
		a, ok := d.accounts[accountID]
		if !ok {
			return apperr.New(apperr.ErrNotFound, "account %s", accountID)
		}
		taken, a.Balance = a.Balance, 0
		if taken > 0 {
			d.ledger = append(d.ledger, &models.LedgerEntry{
				ID: uuid.New(), AccountID: accountID, Kind: models.LedgerEntryConfiscation, Delta: -taken, ReferenceID: ref, CreatedAt: time.Now().UTC(),
			})
		}
		return nil
	})
	return taken, err
}

type Accounts struct{ s *Store }

func (s *Store) Accounts() *Accounts { return &Accounts{s} }

func (r *Accounts) GetByID(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	var out *models.Account
	err := r.s.read(tx, func(d *data) error {
		a, ok := d.accounts[id]
		if !ok {
			return apperr.New(apperr.ErrNotFound, "account %s", id)
		}
		out = copyOf(a)
		return nil
	})
	return out, err
}

func (r *Accounts) ListActiveAdmins(_ context.Context, tx pgx.Tx) ([]*models.Account, error) {
	var out []*models.Account
	err := r.s.read(tx, func(d *data) error {
		var ids []uuid.UUID
		for id, a := range d.accounts {
			if a.Role == models.RoleAdmin && a.Active {
				ids = append(ids, id)
			}
		}
		sortIDs(ids)
		for _, id := range ids {
			out = append(out, copyOf(d.accounts[id]))
		}
		return nil
	})
	return out, err
}

type Orders struct{ s *Store }

func (s *Store) Orders() *Orders { return &Orders{s} }

func (r *Orders) Create(_ context.Context, tx pgx.Tx, o *models.Order) error {
	return r.s.write(tx, func(d *data) error {
		d.orders[o.ID] = copyOf(o)
		return nil
	})
}

func (r *Orders) GetByID(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
	var out *models.Order
	err := r.s.read(tx, func(d *data) error {
		o, ok := d.orders[id]
		if !ok {
			return apperr.New(apperr.ErrNotFound, "order %s", id)
		}
		out = copyOf(o)
		return nil
	})
	return out, err
}

func (r *Orders) ListPendingIDs(_ context.Context, tx pgx.Tx, limit int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := r.s.read(tx, func(d *data) error {
		var pending []*models.Order
		for _, o := range d.orders {
			if o.Status == models.OrderStatusPending {
				pending = append(pending, o)
			}
		}
		sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
		for i := 0; i < len(pending) && i < limit; i++ {
			out = append(out, pending[i].ID)
		}
		return nil
	})
	return out, err
}

func (r *Orders) ClaimPending(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error) {
	var out *models.Order
	err := r.s.write(tx, func(d *data) error {
		o, ok := d.orders[id]
		if !ok || o.Status != models.OrderStatusPending {
			return nil
		}
		o.Status = models.OrderStatusProcessing
		out = copyOf(o)
		return nil
	})
	return out, err
}

func (r *Orders) MarkCompleted(_ context.Context, tx pgx.Tx, id, transactionID uuid.UUID, at time.Time) error {
	return r.s.write(tx, func(d *data) error {
		o, ok := d.orders[id]
		if !ok {
			return apperr.New(apperr.ErrNotFound, "order %s", id)
		}
		o.Status = models.OrderStatusCompleted
		o.LinkedTransactionID = &transactionID
		o.ProcessedAt = &at
		return nil
	})
}

func (r *Orders) MarkFailed(_ context.Context, tx pgx.Tx, id uuid.UUID, reason string, at time.Time) error {
	return r.s.write(tx, func(d *data) error {
		o, ok := d.orders[id]
		if !ok {
			return apperr.New(apperr.ErrNotFound, "order %s", id)
		}
		o.Status = models.OrderStatusFailed
		o.ErrorMessage = &reason
		o.ProcessedAt = &at
		return nil
	})
}

type Catalog struct{ s *Store }

func (s *Store) Catalog() *Catalog { return &Catalog{s} }

func (r *Catalog) GetShop(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Shop, error) {
	var out *models.Shop
	err := r.s.read(tx, func(d *data) error {
		sh, ok := d.shops[id]
		if !ok {
			return apperr.New(apperr.ErrNotFound, "shop %s", id)
		}
		out = copyOf(sh)
		return nil
	})
	return out, err
}

func (r *Catalog) GetShopForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Shop, error) {
	return r.GetShop(ctx, tx, id)
}

func (r *Catalog) BanShop(_ context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) (bool, error) {
	var changed bool
	err := r.s.write(tx, func(d *data) error {
		sh, ok := d.shops[id]
		if !ok || sh.Status == models.ShopStatusBanned {
			return nil
		}
		sh.Status = models.ShopStatusBanned
		sh.BannedAt = &at
		changed = true
		return nil
	})
	return changed, err
}

func (r *Catalog) SoftDeleteProducts(_ context.Context, tx pgx.Tx, shopID uuid.UUID) (int64, error) {
	var n int64
	err := r.s.write(tx, func(d *data) error {
		for _, p := range d.products {
			if p.ShopID == shopID && !p.Deleted {
				p.Deleted = true
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *Catalog) GetProduct(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Product, error) {
	var out *models.Product
	err := r.s.read(tx, func(d *data) error {
		p, ok := d.products[id]
		if !ok {
			return apperr.New(apperr.ErrNotFound, "product %s", id)
		}
		out = copyOf(p)
		return nil
	})
	return out, err
}

func (r *Catalog) GetVariant(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Variant, error) {
	var out *models.Variant
	err := r.s.read(tx, func(d *data) error {
		v, ok := d.variants[id]
		if !ok {
			return apperr.New(apperr.ErrNotFound, "variant %s", id)
		}
		out = copyOf(v)
		return nil
	})
	return out, err
}

func (r *Catalog) DeactivateVariant(_ context.Context, tx pgx.Tx, id uuid.UUID) error {
	return r.s.write(tx, func(d *data) error {
		if v, ok := d.variants[id]; ok {
			v.Active = false
		}
		return nil
	})
}

func (r *Catalog) GetCategory(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Category, error) {
	var out *models.Category
	err := r.s.read(tx, func(d *data) error {
		c, ok := d.categories[id]
		if !ok {
			return apperr.New(apperr.ErrNotFound, "category %s", id)
		}
		out = copyOf(c)
		return nil
	})
	return out, err
}

type Inventory struct{ s *Store }

func (s *Store) Inventory() *Inventory { return &Inventory{s} }

func (r *Inventory) ReserveUnits(_ context.Context, tx pgx.Tx, variantID uuid.UUID, count int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := r.s.write(tx, func(d *data) error {
		var ids []uuid.UUID
		for id, u := range d.units {
			if u.VariantID == variantID && u.Status == models.UnitStatusAvailable {
				ids = append(ids, id)
			}
		}
		if len(ids) < count {
			return apperr.New(apperr.ErrInsufficientStock, "variant %s: wanted %d, available %d", variantID, count, len(ids))
		}
		sortIDs(ids)
		out = ids[:count]
		for _, id := range out {
			d.units[id].Status = models.UnitStatusReserved
		}
		return nil
	})
	return out, err
}

func (r *Inventory) ReleaseUnits(_ context.Context, tx pgx.Tx, ids []uuid.UUID) error {
	return r.s.write(tx, func(d *data) error {
		for _, id := range ids {
			if u, ok := d.units[id]; ok && u.Status == models.UnitStatusReserved {
				u.Status = models.UnitStatusAvailable
			}
		}
		return nil
	})
}

func (r *Inventory) MarkSold(_ context.Context, tx pgx.Tx, ids []uuid.UUID, transactionID uuid.UUID) error {
	return r.s.write(tx, func(d *data) error {
		for _, id := range ids {
			u, ok := d.units[id]
			if !ok || u.Status != models.UnitStatusReserved {
				return apperr.New(apperr.ErrInvalidState, "unit %s is not reserved", id)
			}
		}
		for _, id := range ids {
			u := d.units[id]
			u.Status = models.UnitStatusSold
			u.TransactionID = &transactionID
		}
		return nil
	})
}

func (r *Inventory) CountAvailable(_ context.Context, tx pgx.Tx, variantID uuid.UUID) (int, error) {
	var n int
	err := r.s.read(tx, func(d *data) error {
		for _, u := range d.units {
			if u.VariantID == variantID && u.Status == models.UnitStatusAvailable {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *Inventory) ListByTransaction(_ context.Context, tx pgx.Tx, transactionID uuid.UUID) ([]*models.InventoryUnit, error) {
	var out []*models.InventoryUnit
	err := r.s.read(tx, func(d *data) error {
		var ids []uuid.UUID
		for id, u := range d.units {
			if u.TransactionID != nil && *u.TransactionID == transactionID {
				ids = append(ids, id)
			}
		}
		sortIDs(ids)
		for _, id := range ids {
			out = append(out, copyOf(d.units[id]))
		}
		return nil
	})
	return out, err
}

func (r *Inventory) ActivateByTransaction(_ context.Context, tx pgx.Tx, transactionID uuid.UUID, at time.Time) (int, error) {
	var n int
	err := r.s.write(tx, func(d *data) error {
		for _, u := range d.units {
			if u.TransactionID != nil && *u.TransactionID == transactionID && !u.Activated {
				u.Activated = true
				u.ActivatedAt = &at
				n++
			}
		}
		return nil
	})
	return n, err
}

type Escrow struct{ s *Store }

func (s *Store) Escrow() *Escrow { return &Escrow{s} }

func (r *Escrow) Create(_ context.Context, tx pgx.Tx, e *models.EscrowTransaction) error {
	return r.s.write(tx, func(d *data) error {
		d.escrows[e.ID] = copyOf(e)
		return nil
	})
}

func (r *Escrow) GetByID(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.EscrowTransaction, error) {
	var out *models.EscrowTransaction
	err := r.s.read(tx, func(d *data) error {
		e, ok := d.escrows[id]
		if !ok {
			return apperr.New(apperr.ErrNotFound, "transaction %s", id)
		}
		out = copyOf(e)
		return nil
	})
	return out, err
}

func (r *Escrow) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EscrowTransaction, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *Escrow) ListDueIDs(_ context.Context, tx pgx.Tx, now time.Time, limit int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := r.s.read(tx, func(d *data) error {
		var due []*models.EscrowTransaction
		for _, e := range d.escrows {
			if e.Status == models.EscrowStatusHeld && !e.EscrowReleaseAt.After(now) {
				due = append(due, e)
			}
		}
		sort.Slice(due, func(i, j int) bool { return due[i].EscrowReleaseAt.Before(due[j].EscrowReleaseAt) })
		for i := 0; i < len(due) && i < limit; i++ {
			out = append(out, due[i].ID)
		}
		return nil
	})
	return out, err
}

func (r *Escrow) MarkCompleted(_ context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) (bool, error) {
	var changed bool
	err := r.s.write(tx, func(d *data) error {
		e, ok := d.escrows[id]
		if !ok || e.Status != models.EscrowStatusHeld {
			return nil
		}
		e.Status = models.EscrowStatusCompleted
		e.CompletedAt = &at
		changed = true
		return nil
	})
	return changed, err
}

type Complaints struct{ s *Store }

func (s *Store) Complaints() *Complaints { return &Complaints{s} }

func (r *Complaints) Create(_ context.Context, tx pgx.Tx, c *models.Complaint) error {
	return r.s.write(tx, func(d *data) error {
		if models.IsOpenComplaintStatus(c.Status) && hasOpen(d, c.TransactionID, false) {
			return apperr.New(apperr.ErrInvalidState, "transaction %s already has an open complaint", c.TransactionID)
		}
		d.complaints[c.ID] = copyOf(c)
		return nil
	})
}

func (r *Complaints) GetByID(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Complaint, error) {
	var out *models.Complaint
	err := r.s.read(tx, func(d *data) error {
		c, ok := d.complaints[id]
		if !ok {
			return apperr.New(apperr.ErrNotFound, "complaint %s", id)
		}
		out = copyOf(c)
		return nil
	})
	return out, err
}

func (r *Complaints) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Complaint, error) {
	return r.GetByID(ctx, tx, id)
}

func hasOpen(d *data, transactionID uuid.UUID, blockingOnly bool) bool {
	for _, c := range d.complaints {
		if c.TransactionID == transactionID && models.IsOpenComplaintStatus(c.Status) && (c.Blocking || !blockingOnly) {
			return true
		}
	}
	return false
}

func (r *Complaints) HasOpen(_ context.Context, tx pgx.Tx, transactionID uuid.UUID) (bool, error) {
	var open bool
	err := r.s.read(tx, func(d *data) error {
		open = hasOpen(d, transactionID, false)
		return nil
	})
	return open, err
}

func (r *Complaints) HasOpenBlocking(_ context.Context, tx pgx.Tx, transactionID uuid.UUID) (bool, error) {
	var open bool
	err := r.s.read(tx, func(d *data) error {
		open = hasOpen(d, transactionID, true)
		return nil
	})
	return open, err
}

func (r *Complaints) Update(_ context.Context, tx pgx.Tx, c *models.Complaint) error {
	return r.s.write(tx, func(d *data) error {
		cur, ok := d.complaints[c.ID]
		if !ok {
			return apperr.New(apperr.ErrNotFound, "complaint %s", c.ID)
		}
		cur.Status = c.Status
		cur.AdminHandlerID = c.AdminHandlerID
		cur.EscalationReason = c.EscalationReason
		cur.ResolutionNote = c.ResolutionNote
		cur.UpdatedAt = c.UpdatedAt
		return nil
	})
}

func (r *Complaints) ListStalePendingIDs(_ context.Context, tx pgx.Tx, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := r.s.read(tx, func(d *data) error {
		var stale []*models.Complaint
		for _, c := range d.complaints {
			if c.Status == models.ComplaintStatusPendingConfirmation && c.UpdatedAt.Before(cutoff) {
				stale = append(stale, c)
			}
		}
		sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
		for i := 0; i < len(stale) && i < limit; i++ {
			out = append(out, stale[i].ID)
		}
		return nil
	})
	return out, err
}

func (r *Complaints) CountOpenEscalations(_ context.Context, tx pgx.Tx) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int)
	err := r.s.read(tx, func(d *data) error {
		for _, c := range d.complaints {
			if c.Status == models.ComplaintStatusEscalated && c.AdminHandlerID != nil {
				out[*c.AdminHandlerID]++
			}
		}
		return nil
	})
	return out, err
}

type Flags struct{ s *Store }

func (s *Store) Flags() *Flags { return &Flags{s} }

func (r *Flags) Create(_ context.Context, tx pgx.Tx, f *models.Flag) error {
	return r.s.write(tx, func(d *data) error {
		d.flags[f.ID] = copyOf(f)
		return nil
	})
}

func (r *Flags) GetForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Flag, error) {
	var out *models.Flag
	err := r.s.read(tx, func(d *data) error {
		f, ok := d.flags[id]
		if !ok {
			return apperr.New(apperr.ErrNotFound, "flag %s", id)
		}
		out = copyOf(f)
		return nil
	})
	return out, err
}

func (r *Flags) Resolve(_ context.Context, tx pgx.Tx, id uuid.UUID, notes string, at time.Time) (bool, error) {
	var changed bool
	err := r.s.write(tx, func(d *data) error {
		f, ok := d.flags[id]
		if !ok || f.Status != models.FlagStatusActive {
			return nil
		}
		f.Status = models.FlagStatusResolved
		f.ResolutionNotes = &notes
		f.ResolvedAt = &at
		changed = true
		return nil
	})
	return changed, err
}

func (r *Flags) filter(tx pgx.Tx, keep func(*models.Flag) bool, limit int) ([]*models.Flag, error) {
	var out []*models.Flag
	err := r.s.read(tx, func(d *data) error {
		for _, f := range d.flags {
			if keep(f) {
				out = append(out, copyOf(f))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *Flags) ListActiveByShop(_ context.Context, tx pgx.Tx, shopID uuid.UUID) ([]*models.Flag, error) {
	return r.filter(tx, func(f *models.Flag) bool {
		return f.ShopID == shopID && f.Status == models.FlagStatusActive
	}, 0)
}

func (r *Flags) ListActiveCreatedBefore(_ context.Context, tx pgx.Tx, cutoff time.Time, limit int) ([]*models.Flag, error) {
	return r.filter(tx, func(f *models.Flag) bool {
		return f.Status == models.FlagStatusActive && f.CreatedAt.Before(cutoff)
	}, limit)
}

func (r *Flags) LatestCreatedAt(_ context.Context, tx pgx.Tx, shopID uuid.UUID) (*time.Time, error) {
	var latest *time.Time
	err := r.s.read(tx, func(d *data) error {
		for _, f := range d.flags {
			if f.ShopID == shopID && (latest == nil || f.CreatedAt.After(*latest)) {
				at := f.CreatedAt
				latest = &at
			}
		}
		return nil
	})
	return latest, err
}

func (r *Flags) ListShopsWithActiveFlags(_ context.Context, tx pgx.Tx) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := r.s.read(tx, func(d *data) error {
		seen := make(map[uuid.UUID]bool)
		for _, f := range d.flags {
			if f.Status == models.FlagStatusActive && !seen[f.ShopID] {
				seen[f.ShopID] = true
				out = append(out, f.ShopID)
			}
		}
		return nil
	})
	sortIDs(out)
	return out, err
}

func (r *Flags) Stats(_ context.Context, tx pgx.Tx, since time.Time) (*models.FlagStats, error) {
	st := &models.FlagStats{ActiveByLevel: make(map[string]int)}
	err := r.s.read(tx, func(d *data) error {
		shops := make(map[uuid.UUID]bool)
		for _, f := range d.flags {
			st.Total++
			if f.Status == models.FlagStatusActive {
				st.Active++
				st.ActiveByLevel[f.Level]++
				shops[f.ShopID] = true
			}
			if !f.CreatedAt.Before(since) {
				st.CreatedSince++
			}
			if f.ResolvedAt != nil && !f.ResolvedAt.Before(since) {
				st.ResolvedSince++
			}
		}
		st.ShopsWithActive = len(shops)
		return nil
	})
	return st, err
}

type Withdrawals struct{ s *Store }

func (s *Store) Withdrawals() *Withdrawals { return &Withdrawals{s} }

func (r *Withdrawals) Create(_ context.Context, tx pgx.Tx, w *models.Withdrawal) error {
	return r.s.write(tx, func(d *data) error {
		d.withdrawals[w.ID] = copyOf(w)
		return nil
	})
}

func (r *Withdrawals) GetForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.Withdrawal, error) {
	var out *models.Withdrawal
	err := r.s.read(tx, func(d *data) error {
		w, ok := d.withdrawals[id]
		if !ok {
			return apperr.New(apperr.ErrNotFound, "withdrawal %s", id)
		}
		out = copyOf(w)
		return nil
	})
	return out, err
}

func (r *Withdrawals) Update(_ context.Context, tx pgx.Tx, w *models.Withdrawal) error {
	return r.s.write(tx, func(d *data) error {
		if _, ok := d.withdrawals[w.ID]; !ok {
			return apperr.New(apperr.ErrNotFound, "withdrawal %s", w.ID)
		}
		d.withdrawals[w.ID] = copyOf(w)
		return nil
	})
}

// Outbox records events with the transaction, dropping them on rollback.
type Outbox struct{ s *Store }

func (s *Store) Outbox() *Outbox { return &Outbox{s} }

func (o *Outbox) Enqueue(_ context.Context, tx pgx.Tx, evt events.Event) error {
	if tx == nil {
		return errNoTx
	}
	return o.s.write(tx, func(d *data) error {
		d.events = append(d.events, evt)
		return nil
	})
}
