package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmomarket/settlement/internal/models"
)

const shopColumns = `id, owner_id, name, status, commission_percent, banned_at, created_at`

// CatalogRepo reads shops, products, variants and categories. Catalog CRUD
// lives elsewhere; settlement only needs lookups and the few state changes
// below.
type CatalogRepo struct {
	pool *pgxpool.Pool
}

func NewCatalogRepo(pool *pgxpool.Pool) *CatalogRepo {
	return &CatalogRepo{pool: pool}
}

func (r *CatalogRepo) GetShop(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Shop, error) {
	s, err := scanShop(conn(r.pool, tx).QueryRow(ctx, `SELECT `+shopColumns+` FROM shops WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "shop", id)
	}
	return s, nil
}

// GetShopForUpdate locks the shop row so penalty evaluation is serialized per shop.
func (r *CatalogRepo) GetShopForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Shop, error) {
	s, err := scanShop(tx.QueryRow(ctx, `SELECT `+shopColumns+` FROM shops WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "shop", id)
	}
	return s, nil
}

// BanShop marks the shop banned. It reports false when the shop already was.
func (r *CatalogRepo) BanShop(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := conn(r.pool, tx).Exec(ctx, `
		UPDATE shops SET status = $2, banned_at = $3 WHERE id = $1 AND status <> $2
	`, id, models.ShopStatusBanned, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SoftDeleteProducts hides every product of the shop.
func (r *CatalogRepo) SoftDeleteProducts(ctx context.Context, tx pgx.Tx, shopID uuid.UUID) (int64, error) {
	tag, err := conn(r.pool, tx).Exec(ctx, `UPDATE products SET deleted = TRUE WHERE shop_id = $1 AND NOT deleted`, shopID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *CatalogRepo) GetProduct(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Product, error) {
	var p models.Product
	err := conn(r.pool, tx).QueryRow(ctx, `
		SELECT id, shop_id, category_id, name, deleted FROM products WHERE id = $1
	`, id).Scan(&p.ID, &p.ShopID, &p.CategoryID, &p.Name, &p.Deleted)
	if err != nil {
		return nil, notFound(err, "product", id)
	}
	return &p, nil
}

func (r *CatalogRepo) GetVariant(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Variant, error) {
	var v models.Variant
	err := conn(r.pool, tx).QueryRow(ctx, `
		SELECT id, product_id, name, price, active FROM product_variants WHERE id = $1
	`, id).Scan(&v.ID, &v.ProductID, &v.Name, &v.Price, &v.Active)
	if err != nil {
		return nil, notFound(err, "variant", id)
	}
	return &v, nil
}

func (r *CatalogRepo) DeactivateVariant(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := conn(r.pool, tx).Exec(ctx, `UPDATE product_variants SET active = FALSE WHERE id = $1`, id)
	return err
}

func (r *CatalogRepo) GetCategory(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Category, error) {
	var c models.Category
	err := conn(r.pool, tx).QueryRow(ctx, `
		SELECT id, name, high_risk FROM categories WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.HighRisk)
	if err != nil {
		return nil, notFound(err, "category", id)
	}
	return &c, nil
}

func scanShop(row pgx.Row) (*models.Shop, error) {
	var s models.Shop
	if err := row.Scan(&s.ID, &s.OwnerID, &s.Name, &s.Status, &s.CommissionPercent, &s.BannedAt, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
