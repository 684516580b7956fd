package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry kinds. One entry is written per balance mutation.
const (
	LedgerEntryDeposit          = "deposit"
	LedgerEntryPurchaseDebit    = "purchase_debit"
	LedgerEntryEscrowPayout     = "escrow_payout"
	LedgerEntryWithdrawalDebit  = "withdrawal_debit"
	LedgerEntryWithdrawalRefund = "withdrawal_refund"
	LedgerEntryConfiscation     = "confiscation"
)

type LedgerEntry struct {
	ID           uuid.UUID  `json:"id"`
	AccountID    uuid.UUID  `json:"account_id"`
	Kind         string     `json:"kind"`
	Delta        int64      `json:"delta"`
	BalanceAfter int64      `json:"balance_after"`
	ReferenceID  *uuid.UUID `json:"reference_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
