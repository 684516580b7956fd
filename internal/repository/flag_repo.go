package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmomarket/settlement/internal/models"
)

const flagColumns = `id, shop_id, admin_id, level, status, related_complaint_id, reason, resolution_notes, created_at, resolved_at`

type FlagRepo struct {
	pool *pgxpool.Pool
}

func NewFlagRepo(pool *pgxpool.Pool) *FlagRepo {
	return &FlagRepo{pool: pool}
}

func (r *FlagRepo) Create(ctx context.Context, tx pgx.Tx, f *models.Flag) error {
	_, err := conn(r.pool, tx).Exec(ctx, `
		INSERT INTO shop_flags (id, shop_id, admin_id, level, status, related_complaint_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, f.ID, f.ShopID, f.AdminID, f.Level, f.Status, f.RelatedComplaintID, f.Reason, f.CreatedAt)
	return err
}

func (r *FlagRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Flag, error) {
	f, err := scanFlag(tx.QueryRow(ctx, `SELECT `+flagColumns+` FROM shop_flags WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "flag", id)
	}
	return f, nil
}

// Resolve moves an active flag to resolved. It reports false when the flag
// was already resolved.
func (r *FlagRepo) Resolve(ctx context.Context, tx pgx.Tx, id uuid.UUID, notes string, at time.Time) (bool, error) {
	tag, err := conn(r.pool, tx).Exec(ctx, `
		UPDATE shop_flags SET status = $2, resolution_notes = $3, resolved_at = $4
		WHERE id = $1 AND status = $5
	`, id, models.FlagStatusResolved, notes, at, models.FlagStatusActive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *FlagRepo) ListActiveByShop(ctx context.Context, tx pgx.Tx, shopID uuid.UUID) ([]*models.Flag, error) {
	return r.list(ctx, tx, `
		SELECT `+flagColumns+` FROM shop_flags
		WHERE shop_id = $1 AND status = $2 ORDER BY created_at ASC
	`, shopID, models.FlagStatusActive)
}

// ListActiveCreatedBefore returns active flags older than cutoff.
func (r *FlagRepo) ListActiveCreatedBefore(ctx context.Context, tx pgx.Tx, cutoff time.Time, limit int) ([]*models.Flag, error) {
	return r.list(ctx, tx, `
		SELECT `+flagColumns+` FROM shop_flags
		WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3
	`, models.FlagStatusActive, cutoff, limit)
}

// LatestCreatedAt returns the creation time of the shop's newest flag in any
// status, or nil when the shop has none.
func (r *FlagRepo) LatestCreatedAt(ctx context.Context, tx pgx.Tx, shopID uuid.UUID) (*time.Time, error) {
	var at *time.Time
	err := conn(r.pool, tx).QueryRow(ctx, `SELECT max(created_at) FROM shop_flags WHERE shop_id = $1`, shopID).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return at, err
}

func (r *FlagRepo) ListShopsWithActiveFlags(ctx context.Context, tx pgx.Tx) ([]uuid.UUID, error) {
	return collectIDs(conn(r.pool, tx).Query(ctx, `
		SELECT DISTINCT shop_id FROM shop_flags WHERE status = $1 ORDER BY shop_id
	`, models.FlagStatusActive))
}

func (r *FlagRepo) Stats(ctx context.Context, tx pgx.Tx, since time.Time) (*models.FlagStats, error) {
	q := conn(r.pool, tx)
	s := &models.FlagStats{ActiveByLevel: make(map[string]int)}
	err := q.QueryRow(ctx, `
		SELECT count(*),
			count(*) FILTER (WHERE status = $1),
			count(*) FILTER (WHERE created_at >= $2),
			count(*) FILTER (WHERE resolved_at >= $2),
			count(DISTINCT shop_id) FILTER (WHERE status = $1)
		FROM shop_flags
	`, models.FlagStatusActive, since).Scan(&s.Total, &s.Active, &s.CreatedSince, &s.ResolvedSince, &s.ShopsWithActive)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, `SELECT level, count(*) FROM shop_flags WHERE status = $1 GROUP BY level`, models.FlagStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		s.ActiveByLevel[level] = n
	}
	return s, rows.Err()
}

func (r *FlagRepo) list(ctx context.Context, tx pgx.Tx, sql string, args ...any) ([]*models.Flag, error) {
	rows, err := conn(r.pool, tx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Flag
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, f)
	}
	return list, rows.Err()
}

func scanFlag(row pgx.Row) (*models.Flag, error) {
	var f models.Flag
	err := row.Scan(&f.ID, &f.ShopID, &f.AdminID, &f.Level, &f.Status, &f.RelatedComplaintID, &f.Reason,
		&f.ResolutionNotes, &f.CreatedAt, &f.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
