// Package notify delivers user notifications out of band. Callers enqueue and
// move on; delivery runs as a River job with retries.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// QueueNotifications is the River queue delivery jobs run on.
const QueueNotifications = "notifications"

// Notifier is fire-and-forget: failures are logged, never returned.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, title, body string)
}

type DeliverArgs struct {
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (DeliverArgs) Kind() string { return "deliver_notification" }

func (DeliverArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueNotifications, MaxAttempts: 5}
}

// InsertFunc enqueues a delivery job. Provided by main using river.Client.Insert.
type InsertFunc func(ctx context.Context, args DeliverArgs) error

// Queue is the Notifier used by the services.
type Queue struct {
	insert InsertFunc
	logger *slog.Logger
}

func NewQueue(insert InsertFunc, logger *slog.Logger) *Queue {
	return &Queue{insert: insert, logger: logger}
}

var _ Notifier = (*Queue)(nil)

func (q *Queue) Notify(ctx context.Context, userID uuid.UUID, title, body string) {
	args := DeliverArgs{
		MessageID: uuid.New(),
		UserID:    userID,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.insert(ctx, args); err != nil {
		q.logger.Warn("notification enqueue failed", "user_id", userID, "title", title, "error", err)
	}
}
