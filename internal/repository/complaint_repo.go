package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmomarket/settlement/internal/apperr"
	"github.com/mmomarket/settlement/internal/database"
	"github.com/mmomarket/settlement/internal/models"
)

const complaintColumns = `id, transaction_id, buyer_id, seller_id, type, description, evidence, status, blocking, admin_handler_id, escalation_reason, resolution_note, created_at, updated_at`

type ComplaintRepo struct {
	pool *pgxpool.Pool
}

func NewComplaintRepo(pool *pgxpool.Pool) *ComplaintRepo {
	return &ComplaintRepo{pool: pool}
}

// Create inserts the complaint. The partial unique index on open complaints
// per transaction turns a concurrent duplicate into ErrInvalidState.
func (r *ComplaintRepo) Create(ctx context.Context, tx pgx.Tx, c *models.Complaint) error {
	_, err := conn(r.pool, tx).Exec(ctx, `
		INSERT INTO complaints (id, transaction_id, buyer_id, seller_id, type, description, evidence, status, blocking, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.ID, c.TransactionID, c.BuyerID, c.SellerID, c.Type, c.Description, c.Evidence, c.Status, c.Blocking, c.CreatedAt, c.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return apperr.New(apperr.ErrInvalidState, "transaction %s already has an open complaint", c.TransactionID)
	}
	return err
}

func (r *ComplaintRepo) GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Complaint, error) {
	c, err := scanComplaint(conn(r.pool, tx).QueryRow(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "complaint", id)
	}
	return c, nil
}

func (r *ComplaintRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Complaint, error) {
	c, err := scanComplaint(tx.QueryRow(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "complaint", id)
	}
	return c, nil
}

// HasOpen reports whether the transaction has a complaint in the open set.
func (r *ComplaintRepo) HasOpen(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) (bool, error) {
	var exists bool
	err := conn(r.pool, tx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM complaints WHERE transaction_id = $1 AND status = ANY($2))
	`, transactionID, models.OpenComplaintStatuses).Scan(&exists)
	return exists, err
}

// HasOpenBlocking is HasOpen restricted to complaints filed while funds were held.
func (r *ComplaintRepo) HasOpenBlocking(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) (bool, error) {
	var exists bool
	err := conn(r.pool, tx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM complaints WHERE transaction_id = $1 AND blocking AND status = ANY($2))
	`, transactionID, models.OpenComplaintStatuses).Scan(&exists)
	return exists, err
}

// Update persists the mutable fields of a complaint.
func (r *ComplaintRepo) Update(ctx context.Context, tx pgx.Tx, c *models.Complaint) error {
	_, err := conn(r.pool, tx).Exec(ctx, `
		UPDATE complaints SET status = $2, admin_handler_id = $3, escalation_reason = $4, resolution_note = $5, updated_at = $6
		WHERE id = $1
	`, c.ID, c.Status, c.AdminHandlerID, c.EscalationReason, c.ResolutionNote, c.UpdatedAt)
	return err
}

// ListStalePendingIDs returns complaints awaiting buyer confirmation since before cutoff.
func (r *ComplaintRepo) ListStalePendingIDs(ctx context.Context, tx pgx.Tx, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	return collectIDs(conn(r.pool, tx).Query(ctx, `
		SELECT id FROM complaints WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC LIMIT $3
	`, models.ComplaintStatusPendingConfirmation, cutoff, limit))
}

// CountOpenEscalations returns, per admin, how many escalated complaints they hold.
func (r *ComplaintRepo) CountOpenEscalations(ctx context.Context, tx pgx.Tx) (map[uuid.UUID]int, error) {
	rows, err := conn(r.pool, tx).Query(ctx, `
		SELECT admin_handler_id, count(*) FROM complaints
		WHERE status = $1 AND admin_handler_id IS NOT NULL
		GROUP BY admin_handler_id
	`, models.ComplaintStatusEscalated)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func scanComplaint(row pgx.Row) (*models.Complaint, error) {
	var c models.Complaint
	err := row.Scan(&c.ID, &c.TransactionID, &c.BuyerID, &c.SellerID, &c.Type, &c.Description, &c.Evidence,
		&c.Status, &c.Blocking, &c.AdminHandlerID, &c.EscalationReason, &c.ResolutionNote, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
