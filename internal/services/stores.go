package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmomarket/settlement/internal/config"
	"github.com/mmomarket/settlement/internal/database"
	"github.com/mmomarket/settlement/internal/events"
	"github.com/mmomarket/settlement/internal/models"
	"github.com/mmomarket/settlement/internal/notify"
)

// Every store method takes the caller's transaction. Implementations live in
// internal/repository (Postgres) and internal/repository/memrepo (tests).

// LedgerStore is the only path to an account balance.
type LedgerStore interface {
	AddBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, delta int64, kind string, ref *uuid.UUID) (int64, error)
	Confiscate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, ref *uuid.UUID) (int64, error)
}

type AccountStore interface {
	GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	ListActiveAdmins(ctx context.Context, tx pgx.Tx) ([]*models.Account, error)
}

type OrderStore interface {
	Create(ctx context.Context, tx pgx.Tx, o *models.Order) error
	GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error)
	ListPendingIDs(ctx context.Context, tx pgx.Tx, limit int) ([]uuid.UUID, error)
	ClaimPending(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Order, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, id, transactionID uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string, at time.Time) error
}

type CatalogStore interface {
	GetShop(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Shop, error)
	GetShopForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Shop, error)
	BanShop(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) (bool, error)
	SoftDeleteProducts(ctx context.Context, tx pgx.Tx, shopID uuid.UUID) (int64, error)
	GetProduct(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Product, error)
	GetVariant(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Variant, error)
	DeactivateVariant(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	GetCategory(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Category, error)
}

type InventoryStore interface {
	ReserveUnits(ctx context.Context, tx pgx.Tx, variantID uuid.UUID, count int) ([]uuid.UUID, error)
	ReleaseUnits(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) error
	MarkSold(ctx context.Context, tx pgx.Tx, ids []uuid.UUID, transactionID uuid.UUID) error
	CountAvailable(ctx context.Context, tx pgx.Tx, variantID uuid.UUID) (int, error)
	ListByTransaction(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) ([]*models.InventoryUnit, error)
	ActivateByTransaction(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID, at time.Time) (int, error)
}

type EscrowStore interface {
	Create(ctx context.Context, tx pgx.Tx, e *models.EscrowTransaction) error
	GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EscrowTransaction, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EscrowTransaction, error)
	ListDueIDs(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]uuid.UUID, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) (bool, error)
}

type ComplaintStore interface {
	Create(ctx context.Context, tx pgx.Tx, c *models.Complaint) error
	GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Complaint, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Complaint, error)
	HasOpen(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) (bool, error)
	HasOpenBlocking(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) (bool, error)
	Update(ctx context.Context, tx pgx.Tx, c *models.Complaint) error
	ListStalePendingIDs(ctx context.Context, tx pgx.Tx, cutoff time.Time, limit int) ([]uuid.UUID, error)
	CountOpenEscalations(ctx context.Context, tx pgx.Tx) (map[uuid.UUID]int, error)
}

type FlagStore interface {
	Create(ctx context.Context, tx pgx.Tx, f *models.Flag) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Flag, error)
	Resolve(ctx context.Context, tx pgx.Tx, id uuid.UUID, notes string, at time.Time) (bool, error)
	ListActiveByShop(ctx context.Context, tx pgx.Tx, shopID uuid.UUID) ([]*models.Flag, error)
	ListActiveCreatedBefore(ctx context.Context, tx pgx.Tx, cutoff time.Time, limit int) ([]*models.Flag, error)
	LatestCreatedAt(ctx context.Context, tx pgx.Tx, shopID uuid.UUID) (*time.Time, error)
	ListShopsWithActiveFlags(ctx context.Context, tx pgx.Tx) ([]uuid.UUID, error)
	Stats(ctx context.Context, tx pgx.Tx, since time.Time) (*models.FlagStats, error)
}

type WithdrawalStore interface {
	Create(ctx context.Context, tx pgx.Tx, w *models.Withdrawal) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Withdrawal, error)
	Update(ctx context.Context, tx pgx.Tx, w *models.Withdrawal) error
}

// EventOutbox records domain events in the caller's transaction.
type EventOutbox interface {
	Enqueue(ctx context.Context, tx pgx.Tx, evt events.Event) error
}

// Deps wires the services to their stores and collaborators.
type Deps struct {
	DB          database.TxBeginner
	Ledger      LedgerStore
	Accounts    AccountStore
	Orders      OrderStore
	Catalog     CatalogStore
	Inventory   InventoryStore
	Escrow      EscrowStore
	Complaints  ComplaintStore
	Flags       FlagStore
	Withdrawals WithdrawalStore
	Events      EventOutbox
	Notifier    notify.Notifier
	Policy      config.Policy
	Logger      *slog.Logger
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func (d Deps) emit(ctx context.Context, tx pgx.Tx, eventType string, aggregateID uuid.UUID, data map[string]any) error {
	return d.Events.Enqueue(ctx, tx, events.New(eventType, aggregateID, d.now(), data))
}

// notice is a notification collected inside a transaction and sent after commit.
type notice struct {
	userID uuid.UUID
	title  string
	body   string
}

func (d Deps) send(ctx context.Context, notes []notice) {
	for _, n := range notes {
		d.Notifier.Notify(ctx, n.userID, n.title, n.body)
	}
}

// adminNotices addresses the same message to every active admin.
func (d Deps) adminNotices(ctx context.Context, tx pgx.Tx, title, body string) ([]notice, error) {
	admins, err := d.Accounts.ListActiveAdmins(ctx, tx)
	if err != nil {
		return nil, err
	}
	notes := make([]notice, 0, len(admins))
	for _, a := range admins {
		notes = append(notes, notice{userID: a.ID, title: title, body: body})
	}
	return notes, nil
}

// BatchResult summarizes one run of a periodic task.
type BatchResult struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
}
