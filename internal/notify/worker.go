package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
)

// ErrUndeliverable marks a message no retry can fix.
var ErrUndeliverable = errors.New("undeliverable notification")

// Sink hands a message to a transport.
type Sink interface {
	Send(ctx context.Context, msg DeliverArgs) error
}

type DeliverWorker struct {
	river.WorkerDefaults[DeliverArgs]
	sink   Sink
	logger *slog.Logger
}

func NewDeliverWorker(sink Sink, logger *slog.Logger) *DeliverWorker {
	return &DeliverWorker{sink: sink, logger: logger}
}

func (w *DeliverWorker) Work(ctx context.Context, job *river.Job[DeliverArgs]) error {
	msg := job.Args
	err := w.sink.Send(ctx, msg)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUndeliverable) {
		w.logger.Error("dropping notification", "message_id", msg.MessageID, "user_id", msg.UserID, "error", err)
		return river.JobCancel(err)
	}
	return fmt.Errorf("deliver notification %s: %w", msg.MessageID, err)
}
