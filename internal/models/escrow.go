package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	EscrowStatusHeld      = "escrow"
	EscrowStatusCompleted = "completed"
)

// EscrowTransaction is the settlement record of a completed order. Funds stay
// held until EscrowReleaseAt and move to the seller exactly once.
type EscrowTransaction struct {
	ID              uuid.UUID  `json:"id"`
	OrderID         uuid.UUID  `json:"order_id"`
	BuyerID         uuid.UUID  `json:"buyer_id"`
	SellerID        uuid.UUID  `json:"seller_id"`
	ShopID          uuid.UUID  `json:"shop_id"`
	ProductID       uuid.UUID  `json:"product_id"`
	VariantID       uuid.UUID  `json:"variant_id"`
	Amount          int64      `json:"amount"`
	Commission      int64      `json:"commission"`
	SellerPayout    int64      `json:"seller_payout"`
	Status          string     `json:"status"`
	EscrowReleaseAt time.Time  `json:"escrow_release_at"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}
