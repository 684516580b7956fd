package events

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

// QueueEvents is the River queue publish jobs run on.
const QueueEvents = "events"

type PublishArgs struct {
	Event Event `json:"event"`
}

func (PublishArgs) Kind() string { return "publish_event" }

func (PublishArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueEvents, MaxAttempts: 10}
}

// InsertTxFunc enqueues a publish job within the given transaction. Provided
// by main using river.Client.InsertTx.
type InsertTxFunc func(ctx context.Context, tx pgx.Tx, args PublishArgs) error

// Outbox records events in the caller's transaction.
type Outbox struct {
	insert InsertTxFunc
}

func NewOutbox(insert InsertTxFunc) *Outbox {
	return &Outbox{insert: insert}
}

// Enqueue stores evt in tx. It must be called with a live transaction.
func (o *Outbox) Enqueue(ctx context.Context, tx pgx.Tx, evt Event) error {
	if tx == nil {
		return errors.New("events: enqueue requires a transaction")
	}
	return o.insert(ctx, tx, PublishArgs{Event: evt})
}
