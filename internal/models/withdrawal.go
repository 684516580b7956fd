package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	WithdrawalStatusPending  = "pending"
	WithdrawalStatusApproved = "approved"
	WithdrawalStatusRejected = "rejected"
)

type Withdrawal struct {
	ID             uuid.UUID `json:"id"`
	SellerID       uuid.UUID `json:"seller_id"`
	Amount         int64     `json:"amount"`
	BankName       string    `json:"bank_name"`
	AccountNumber  string    `json:"account_number"`
	Status         string    `json:"status"`
	RefundedAmount int64     `json:"refunded_amount"`
	Note           *string   `json:"note,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
