package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ShopStatusActive = "active"
	ShopStatusBanned = "banned"
)

type Shop struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`
	Name    string    `json:"name"`
	Status  string    `json:"status"`
	// CommissionPercent overrides the platform default when set.
	CommissionPercent *decimal.Decimal `json:"commission_percent,omitempty"`
	BannedAt          *time.Time       `json:"banned_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

type Category struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	HighRisk bool      `json:"high_risk"`
}

type Product struct {
	ID         uuid.UUID `json:"id"`
	ShopID     uuid.UUID `json:"shop_id"`
	CategoryID uuid.UUID `json:"category_id"`
	Name       string    `json:"name"`
	Deleted    bool      `json:"deleted"`
}

type Variant struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Active    bool      `json:"active"`
}
