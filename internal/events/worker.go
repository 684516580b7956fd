package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
)

// Publisher delivers a serialized event to the outside world.
type Publisher interface {
	Publish(ctx context.Context, evt Event, payload []byte) error
}

type PublishWorker struct {
	river.WorkerDefaults[PublishArgs]
	publisher Publisher
	schemas   *SchemaValidator
	logger    *slog.Logger
}

func NewPublishWorker(publisher Publisher, schemas *SchemaValidator, logger *slog.Logger) *PublishWorker {
	return &PublishWorker{publisher: publisher, schemas: schemas, logger: logger}
}

func (w *PublishWorker) Work(ctx context.Context, job *river.Job[PublishArgs]) error {
	evt := job.Args.Event

	payload, err := json.Marshal(evt)
	if err != nil {
		return w.cancel(evt, fmt.Errorf("marshal event: %w", err))
	}
	if w.schemas != nil {
		if err := w.schemas.Validate(evt); err != nil {
			return w.cancel(evt, err)
		}
	}

	if err := w.publisher.Publish(ctx, evt, payload); err != nil {
		return fmt.Errorf("publish %s %s: %w", evt.Type, evt.ID, err)
	}
	return nil
}

// cancel stops retries for an event that can never be published.
func (w *PublishWorker) cancel(evt Event, err error) error {
	w.logger.Error("dropping unpublishable event", "event_id", evt.ID, "type", evt.Type, "error", err)
	return river.JobCancel(err)
}
