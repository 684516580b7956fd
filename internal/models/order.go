package models

import (
	"time"

	"github.com/google/uuid"
)

// Order statuses. Transitions are monotonic: pending -> processing -> completed|failed.
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusFailed     = "failed"
)

type Order struct {
	ID                  uuid.UUID  `json:"id"`
	BuyerID             uuid.UUID  `json:"buyer_id"`
	ProductID           uuid.UUID  `json:"product_id"`
	VariantID           uuid.UUID  `json:"variant_id"`
	Quantity            int        `json:"quantity"`
	TotalPrice          int64      `json:"total_price"`
	Status              string     `json:"status"`
	LinkedTransactionID *uuid.UUID `json:"linked_transaction_id,omitempty"`
	ErrorMessage        *string    `json:"error_message,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	ProcessedAt         *time.Time `json:"processed_at,omitempty"`
}
