// Package events carries domain events from the settlement components to
// downstream consumers. Events are enqueued as River jobs inside the same
// transaction as the state change, so an event exists iff the change committed.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeOrderCompleted         = "order.completed"
	TypeOrderFailed            = "order.failed"
	TypeEscrowReleased         = "escrow.released"
	TypeComplaintFiled         = "complaint.filed"
	TypeComplaintStatusChanged = "complaint.status_changed"
	TypeFlagCreated            = "flag.created"
	TypeFlagResolved           = "flag.resolved"
	TypeShopBanned             = "shop.banned"
	TypeWithdrawalRequested    = "withdrawal.requested"
	TypeWithdrawalProcessed    = "withdrawal.processed"
)

type Event struct {
	ID          uuid.UUID      `json:"id"`
	Type        string         `json:"type"`
	AggregateID uuid.UUID      `json:"aggregate_id"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Data        map[string]any `json:"data"`
}

// New builds an event with a fresh id.
func New(eventType string, aggregateID uuid.UUID, at time.Time, data map[string]any) Event {
	return Event{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		OccurredAt:  at.UTC(),
		Data:        data,
	}
}
