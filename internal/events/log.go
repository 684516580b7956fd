package events

import (
	"context"
	"log/slog"
)

// LogPublisher writes events to the structured log. Used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evt Event, _ []byte) error {
	p.logger.Info("domain event",
		"event_id", evt.ID, "type", evt.Type, "aggregate_id", evt.AggregateID, "data", evt.Data)
	return nil
}
