package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmomarket/settlement/internal/config"
	"github.com/mmomarket/settlement/internal/events"
	"github.com/mmomarket/settlement/internal/notify"
	"github.com/mmomarket/settlement/internal/scheduler"
	"github.com/mmomarket/settlement/internal/services"
)

const shutdownTimeout = 30 * time.Second

// batch adapts a batch service call to a scheduler task and logs its totals.
func batch(name string, logger *slog.Logger, fn func(context.Context) (services.BatchResult, error)) func(context.Context) error {
	return func(ctx context.Context) error {
		res, err := fn(ctx)
		if err != nil {
			return err
		}
		if res != (services.BatchResult{}) {
			logger.Info("batch finished", "task", name, "result", res)
		}
		return nil
	}
}

func tasks(iv config.Intervals, logger *slog.Logger, settlement *services.SettlementWorker, releaser *services.EscrowReleaser, disputes *services.DisputeService, penalty *services.PenaltyEngine) []scheduler.Task {
	return []scheduler.Task{
		{Name: "settle", Interval: iv.Settle, Run: batch("settle", logger, settlement.ProcessPending)},
		{Name: "release", Interval: iv.Release, Run: batch("release", logger, releaser.ReleaseDue)},
		{Name: "auto_resolve", Interval: iv.AutoResolve, Run: batch("auto_resolve", logger, disputes.AutoResolveStale)},
		{Name: "flag_expiry", Interval: iv.FlagExpiry, Run: batch("flag_expiry", logger, penalty.ExpireStaleFlags)},
		{Name: "shop_review", Interval: iv.ShopReview, Run: batch("shop_review", logger, penalty.ReviewShops)},
		{Name: "report", Interval: iv.Report, Run: func(ctx context.Context) error {
			_, err := penalty.Report(ctx)
			return err
		}},
	}
}

func notificationSink(ctx context.Context, cfg config.Config, logger *slog.Logger) (notify.Sink, func(), error) {
	switch cfg.NotifySink {
	case config.SinkAMQP:
		s, err := notify.NewAMQPSink(ctx, cfg.AMQPURL, cfg.NotifyQueue, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.SinkNATS:
		s, err := notify.NewNATSSink(cfg.NATSURL, cfg.NotifySubject)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.SinkLog, "":
		return notify.NewLogSink(logger), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown notification sink %q", cfg.NotifySink)
}

func eventPublisher(cfg config.Config, logger *slog.Logger) (events.Publisher, func(), error) {
	switch cfg.EventsSink {
	case config.SinkKafka:
		p, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.EventsTopic)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {
			if err := p.Close(); err != nil {
				logger.Warn("kafka writer close failed", "error", err)
			}
		}, nil
	case config.SinkLog, "":
		return events.NewLogPublisher(logger), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown events sink %q", cfg.EventsSink)
}
