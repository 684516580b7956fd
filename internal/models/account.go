package models

import (
	"time"

	"github.com/google/uuid"
)

// Account roles.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// Account holds a user's coin balance. Balance is only mutated through the
// ledger primitives and never goes negative.
type Account struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Balance   int64     `json:"balance"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
