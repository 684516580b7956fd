package models

import (
	"time"

	"github.com/google/uuid"
)

// Complaint statuses.
const (
	ComplaintStatusNew                 = "new"
	ComplaintStatusInProgress          = "in_progress"
	ComplaintStatusPendingConfirmation = "pending_confirmation"
	ComplaintStatusEscalated           = "escalated"
	ComplaintStatusResolved            = "resolved"
	ComplaintStatusClosedByAdmin       = "closed_by_admin"
	ComplaintStatusCancelled           = "cancelled"
)

// OpenComplaintStatuses is the set of statuses that block escrow release.
var OpenComplaintStatuses = []string{
	ComplaintStatusNew,
	ComplaintStatusInProgress,
	ComplaintStatusPendingConfirmation,
	ComplaintStatusEscalated,
}

// IsOpenComplaintStatus reports whether status belongs to the open set.
func IsOpenComplaintStatus(status string) bool {
	for _, s := range OpenComplaintStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Complaint types.
const (
	ComplaintTypeItemNotWorking     = "item_not_working"
	ComplaintTypeItemNotAsDescribed = "item_not_as_described"
	ComplaintTypeFraudSuspicion     = "fraud_suspicion"
	ComplaintTypeOther              = "other"
)

const (
	EvidenceKindImage = "image"
	EvidenceKindVideo = "video"
)

type Evidence struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

type Complaint struct {
	ID            uuid.UUID  `json:"id"`
	TransactionID uuid.UUID  `json:"transaction_id"`
	BuyerID       uuid.UUID  `json:"buyer_id"`
	SellerID      uuid.UUID  `json:"seller_id"`
	Type          string     `json:"type"`
	Description   string     `json:"description"`
	Evidence      []Evidence `json:"evidence"`
	Status        string     `json:"status"`
	// Blocking is false for complaints filed after the funds were released.
	Blocking         bool       `json:"blocking"`
	AdminHandlerID   *uuid.UUID `json:"admin_handler_id,omitempty"`
	EscalationReason *string    `json:"escalation_reason,omitempty"`
	ResolutionNote   *string    `json:"resolution_note,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
