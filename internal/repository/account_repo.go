package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmomarket/settlement/internal/models"
)

const accountColumns = `id, email, role, balance, active, created_at, updated_at`

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func (r *AccountRepo) Create(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	return conn(r.pool, tx).QueryRow(ctx, `
		INSERT INTO accounts (id, email, role, balance, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, a.ID, a.Email, a.Role, a.Balance, a.Active).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *AccountRepo) GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	a, err := scanAccount(conn(r.pool, tx).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "account", id)
	}
	return a, nil
}

// ListActiveAdmins returns admins ordered by id so selection ties are stable.
func (r *AccountRepo) ListActiveAdmins(ctx context.Context, tx pgx.Tx) ([]*models.Account, error) {
	rows, err := conn(r.pool, tx).Query(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE role = $1 AND active ORDER BY id
	`, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	if err := row.Scan(&a.ID, &a.Email, &a.Role, &a.Balance, &a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
