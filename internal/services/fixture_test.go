package services

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mmomarket/settlement/internal/config"
	"github.com/mmomarket/settlement/internal/models"
	"github.com/mmomarket/settlement/internal/repository/memrepo"
)

// ---------------------------------------------------------------------------
// Test doubles: a recording notifier and a settable clock. Stores are the
// transactional in-memory implementation from memrepo.
// ---------------------------------------------------------------------------

type sentNotice struct {
	UserID uuid.UUID
	Title  string
	Body   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (n *recordingNotifier) Notify(_ context.Context, userID uuid.UUID, title, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{UserID: userID, Title: title, Body: body})
}

func (n *recordingNotifier) to(userID uuid.UUID) []sentNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentNotice
	for _, s := range n.sent {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

func (n *recordingNotifier) titled(userID uuid.UUID, title string) int {
	count := 0
	for _, s := range n.to(userID) {
		if strings.EqualFold(s.Title, title) {
			count++
		}
	}
	return count
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

const day = 24 * time.Hour

type fixture struct {
	store *memrepo.Store
	notes *recordingNotifier
	clock *testClock
	deps  Deps

	buyer    *models.Account
	seller   *models.Account
	admin    *models.Account
	shop     *models.Shop
	category *models.Category
	product  *models.Product
	variant  *models.Variant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memrepo.New()
	f := &fixture{
		store: store,
		notes: &recordingNotifier{},
		clock: &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.deps = Deps{
		DB:          store,
		Ledger:      store.Ledger(),
		Accounts:    store.Accounts(),
		Orders:      store.Orders(),
		Catalog:     store.Catalog(),
		Inventory:   store.Inventory(),
		Escrow:      store.Escrow(),
		Complaints:  store.Complaints(),
		Flags:       store.Flags(),
		Withdrawals: store.Withdrawals(),
		Events:      store.Outbox(),
		Notifier:    f.notes,
		Policy:      config.DefaultPolicy(),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:         f.clock.now,
	}

	f.buyer = f.account(models.RoleBuyer, 1000)
	f.seller = f.account(models.RoleSeller, 0)
	f.admin = f.account(models.RoleAdmin, 0)
	f.shop = &models.Shop{ID: uuid.New(), OwnerID: f.seller.ID, Name: "Dragon Loot", Status: models.ShopStatusActive}
	store.PutShop(f.shop)
	f.category = &models.Category{ID: uuid.New(), Name: "Game accounts"}
	store.PutCategory(f.category)
	f.product = &models.Product{ID: uuid.New(), ShopID: f.shop.ID, CategoryID: f.category.ID, Name: "Level 80 account"}
	store.PutProduct(f.product)
	f.variant = &models.Variant{ID: uuid.New(), ProductID: f.product.ID, Name: "EU", Price: 100, Active: true}
	store.PutVariant(f.variant)
	return f
}

func (f *fixture) account(role string, balance int64) *models.Account {
	a := &models.Account{ID: uuid.New(), Email: role + "@example.com", Role: role, Balance: balance, Active: true}
	f.store.PutAccount(a)
	return a
}

func (f *fixture) actor(a *models.Account) Actor {
	return Actor{UserID: a.ID, Role: a.Role}
}

func (f *fixture) balance(a *models.Account) int64 {
	return f.store.Account(a.ID).Balance
}

// pendingOrder stores a pending order for the fixture's variant.
func (f *fixture) pendingOrder(buyer *models.Account, qty int, total int64) uuid.UUID {
	o := &models.Order{
		ID:         uuid.New(),
		BuyerID:    buyer.ID,
		ProductID:  f.product.ID,
		VariantID:  f.variant.ID,
		Quantity:   qty,
		TotalPrice: total,
		Status:     models.OrderStatusPending,
		CreatedAt:  f.clock.now(),
	}
	f.store.PutOrder(o)
	return o.ID
}

// purchase settles an order and returns its escrow transaction.
func (f *fixture) purchase(t *testing.T, qty int, total int64) *models.EscrowTransaction {
	t.Helper()
	f.store.AddUnits(f.variant.ID, qty)
	orderID := f.pendingOrder(f.buyer, qty, total)
	outcome, err := NewSettlementWorker(f.deps).ProcessOrder(context.Background(), orderID)
	if err != nil || outcome != SettlementCompleted {
		t.Fatalf("settle order: outcome=%q err=%v", outcome, err)
	}
	return f.store.EscrowByOrder(orderID)
}

// activated purchases and activates the units so a complaint may be filed.
func (f *fixture) activated(t *testing.T, total int64) *models.EscrowTransaction {
	t.Helper()
	escrow := f.purchase(t, 1, total)
	if _, err := NewDisputeService(f.deps, NewPenaltyEngine(f.deps)).ActivateUnits(context.Background(), f.actor(f.buyer), escrow.ID); err != nil {
		t.Fatalf("activate units: %v", err)
	}
	return escrow
}

func complaintInput(transactionID uuid.UUID) FileComplaintInput {
	return FileComplaintInput{
		TransactionID: transactionID,
		Type:          models.ComplaintTypeItemNotWorking,
		Description:   "the account password was changed after delivery",
		Evidence:      []EvidenceInput{{URL: "https://cdn.example.com/e/1.png", Kind: models.EvidenceKindImage}},
	}
}
