package memrepo

import (
	"errors"

	"github.com/google/uuid"

	"github.com/mmomarket/settlement/internal/events"
	"github.com/mmomarket/settlement/internal/models"
)

var errNoTx = errors.New("memrepo: enqueue requires a transaction")

// Seeding and inspection helpers. They bypass transactions and must not be
// called while one is open on the same goroutine.

func (s *Store) put(fn func(d *data)) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.d)
}

func (s *Store) get(fn func(d *data)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.d)
}

func (s *Store) PutAccount(a *models.Account) {
	s.put(func(d *data) { d.accounts[a.ID] = copyOf(a) })
}

func (s *Store) PutShop(sh *models.Shop) {
	s.put(func(d *data) { d.shops[sh.ID] = copyOf(sh) })
}

func (s *Store) PutCategory(c *models.Category) {
	s.put(func(d *data) { d.categories[c.ID] = copyOf(c) })
}

func (s *Store) PutProduct(p *models.Product) {
	s.put(func(d *data) { d.products[p.ID] = copyOf(p) })
}

func (s *Store) PutVariant(v *models.Variant) {
	s.put(func(d *data) { d.variants[v.ID] = copyOf(v) })
}

func (s *Store) PutOrder(o *models.Order) {
	s.put(func(d *data) { d.orders[o.ID] = copyOf(o) })
}

func (s *Store) PutEscrow(e *models.EscrowTransaction) {
	s.put(func(d *data) { d.escrows[e.ID] = copyOf(e) })
}

func (s *Store) PutComplaint(c *models.Complaint) {
	s.put(func(d *data) { d.complaints[c.ID] = copyOf(c) })
}

func (s *Store) PutFlag(f *models.Flag) {
	s.put(func(d *data) { d.flags[f.ID] = copyOf(f) })
}

func (s *Store) PutUnit(u *models.InventoryUnit) {
	s.put(func(d *data) { d.units[u.ID] = copyOf(u) })
}

// AddUnits stocks n available units of a variant.
func (s *Store) AddUnits(variantID uuid.UUID, n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	s.put(func(d *data) {
		for i := range ids {
			ids[i] = uuid.New()
			d.units[ids[i]] = &models.InventoryUnit{ID: ids[i], VariantID: variantID, Status: models.UnitStatusAvailable}
		}
	})
	return ids
}

func (s *Store) Account(id uuid.UUID) (a *models.Account) {
	s.get(func(d *data) {
		if v, ok := d.accounts[id]; ok {
			a = copyOf(v)
		}
	})
	return a
}

func (s *Store) Shop(id uuid.UUID) (sh *models.Shop) {
	s.get(func(d *data) {
		if v, ok := d.shops[id]; ok {
			sh = copyOf(v)
		}
	})
	return sh
}

func (s *Store) Product(id uuid.UUID) (p *models.Product) {
	s.get(func(d *data) {
		if v, ok := d.products[id]; ok {
			p = copyOf(v)
		}
	})
	return p
}

func (s *Store) Variant(id uuid.UUID) (out *models.Variant) {
	s.get(func(d *data) {
		if v, ok := d.variants[id]; ok {
			out = copyOf(v)
		}
	})
	return out
}

func (s *Store) Order(id uuid.UUID) (o *models.Order) {
	s.get(func(d *data) {
		if v, ok := d.orders[id]; ok {
			o = copyOf(v)
		}
	})
	return o
}

func (s *Store) EscrowByOrder(orderID uuid.UUID) (e *models.EscrowTransaction) {
	s.get(func(d *data) {
		for _, v := range d.escrows {
			if v.OrderID == orderID {
				e = copyOf(v)
			}
		}
	})
	return e
}

func (s *Store) EscrowTx(id uuid.UUID) (e *models.EscrowTransaction) {
	s.get(func(d *data) {
		if v, ok := d.escrows[id]; ok {
			e = copyOf(v)
		}
	})
	return e
}

func (s *Store) Complaint(id uuid.UUID) (c *models.Complaint) {
	s.get(func(d *data) {
		if v, ok := d.complaints[id]; ok {
			c = copyOf(v)
		}
	})
	return c
}

func (s *Store) Flag(id uuid.UUID) (f *models.Flag) {
	s.get(func(d *data) {
		if v, ok := d.flags[id]; ok {
			f = copyOf(v)
		}
	})
	return f
}

func (s *Store) Withdrawal(id uuid.UUID) (w *models.Withdrawal) {
	s.get(func(d *data) {
		if v, ok := d.withdrawals[id]; ok {
			w = copyOf(v)
		}
	})
	return w
}

// UnitsByStatus counts a variant's units per status.
func (s *Store) UnitsByStatus(variantID uuid.UUID) map[string]int {
	out := make(map[string]int)
	s.get(func(d *data) {
		for _, u := range d.units {
			if u.VariantID == variantID {
				out[u.Status]++
			}
		}
	})
	return out
}

// Events returns committed events, optionally filtered by type.
func (s *Store) Events(types ...string) []events.Event {
	var out []events.Event
	s.get(func(d *data) {
		for _, e := range d.events {
			if len(types) == 0 || contains(types, e.Type) {
				out = append(out, e)
			}
		}
	})
	return out
}

// LedgerEntries returns the account's ledger rows, oldest first.
func (s *Store) LedgerEntries(accountID uuid.UUID) []models.LedgerEntry {
	var out []models.LedgerEntry
	s.get(func(d *data) {
		for _, e := range d.ledger {
			if e.AccountID == accountID {
				out = append(out, *e)
			}
		}
	})
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
