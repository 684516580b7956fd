package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	UnitStatusAvailable = "available"
	UnitStatusReserved  = "reserved"
	UnitStatusSold      = "sold"
)

type InventoryUnit struct {
	ID            uuid.UUID  `json:"id"`
	VariantID     uuid.UUID  `json:"variant_id"`
	Status        string     `json:"status"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	Activated     bool       `json:"activated"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
}
