package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/mmomarket/settlement/internal/config"
	"github.com/mmomarket/settlement/internal/database"
	"github.com/mmomarket/settlement/internal/events"
	"github.com/mmomarket/settlement/internal/ledger"
	"github.com/mmomarket/settlement/internal/notify"
	"github.com/mmomarket/settlement/internal/repository"
	"github.com/mmomarket/settlement/internal/scheduler"
	"github.com/mmomarket/settlement/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(ctx, pool, logger); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	// Insert funcs are set after the River client is created (breaks init cycle)
	var insertMu sync.Mutex
	var client *river.Client[pgx.Tx]
	riverClient := func() *river.Client[pgx.Tx] {
		insertMu.Lock()
		defer insertMu.Unlock()
		if client == nil {
			panic("river insert not wired")
		}
		return client
	}
	insertEvent := func(ctx context.Context, tx pgx.Tx, args events.PublishArgs) error {
		_, err := riverClient().InsertTx(ctx, tx, args, nil)
		return err
	}
	insertNotification := func(ctx context.Context, args notify.DeliverArgs) error {
		_, err := riverClient().Insert(ctx, args, nil)
		return err
	}

	deps := services.Deps{
		DB:          pool,
		Ledger:      ledger.NewService(ledger.NewRepository(pool)),
		Accounts:    repository.NewAccountRepo(pool),
		Orders:      repository.NewOrderRepo(pool),
		Catalog:     repository.NewCatalogRepo(pool),
		Inventory:   repository.NewInventoryRepo(pool),
		Escrow:      repository.NewEscrowRepo(pool),
		Complaints:  repository.NewComplaintRepo(pool),
		Flags:       repository.NewFlagRepo(pool),
		Withdrawals: repository.NewWithdrawalRepo(pool),
		Events:      events.NewOutbox(insertEvent),
		Notifier:    notify.NewQueue(insertNotification, logger),
		Policy:      cfg.Policy,
		Logger:      logger,
	}

	settlement := services.NewSettlementWorker(deps)
	releaser := services.NewEscrowReleaser(deps)
	penalty := services.NewPenaltyEngine(deps)
	disputes := services.NewDisputeService(deps, penalty)

	sched, err := scheduler.New(logger, tasks(cfg.Policy.Intervals, logger, settlement, releaser, disputes, penalty)...)
	if err != nil {
		slog.Error("Failed to build scheduler", "error", err)
		os.Exit(1)
	}

	sink, closeSink, err := notificationSink(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to open notification sink", "sink", cfg.NotifySink, "error", err)
		os.Exit(1)
	}
	defer closeSink()

	publisher, closePublisher, err := eventPublisher(cfg, logger)
	if err != nil {
		slog.Error("Failed to open event publisher", "sink", cfg.EventsSink, "error", err)
		os.Exit(1)
	}
	defer closePublisher()

	schemas, err := events.NewSchemaValidator()
	if err != nil {
		slog.Error("Failed to compile event schemas", "error", err)
		os.Exit(1)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, events.NewPublishWorker(publisher, schemas, logger))
	river.AddWorker(workers, notify.NewDeliverWorker(sink, logger))
	river.AddWorker(workers, scheduler.NewTickWorker(sched))

	riverCfg := &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault:        {MaxWorkers: cfg.RiverMaxWorkers},
			events.QueueEvents:        {MaxWorkers: cfg.RiverMaxWorkers},
			notify.QueueNotifications: {MaxWorkers: cfg.RiverMaxWorkers},
		},
		Workers: workers,
	}
	if cfg.SchedulerMode == config.SchedulerRiver {
		riverCfg.PeriodicJobs = sched.PeriodicJobs()
	}

	c, err := river.NewClient(riverpgxv5.New(pool), riverCfg)
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	insertMu.Lock()
	client = c
	insertMu.Unlock()

	if err := c.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}
	slog.Info("Settlement engine running", "scheduler", cfg.SchedulerMode, "notify_sink", cfg.NotifySink, "events_sink", cfg.EventsSink)

	if cfg.SchedulerMode == config.SchedulerLocal {
		sched.Run(ctx)
	} else {
		<-ctx.Done()
	}

	slog.Info("Shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.Stop(stopCtx); err != nil {
		slog.Error("River client stop failed", "error", err)
	}
}
