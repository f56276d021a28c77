package main

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fintrack/internal/aggregate"
	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	"fintrack/internal/log"
	"fintrack/internal/recurring"
	"fintrack/internal/sheets"
	"fintrack/internal/sheets/google"
	"fintrack/internal/storage"
	"fintrack/internal/summary"
	"fintrack/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	bootstrap := cli.SetupLogger(nil, log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(bootstrap)
	logger := cli.SetupLogger(cfg, log.ComponentWorker)

	logger.Info("Starting recurring-worker",
		log.FieldBackend, cfg.DataBackend,
		"interval", cfg.RecurringInterval)

	store, closeStore := cli.InitStore(context.Background(), logger, cfg)
	publisher, client := cli.InitPublisher(logger, cfg)

	registry := summary.NewRegistry(store, cfg.SummaryCacheSize, cfg.SummaryCacheTTL)
	caches := cache.NewManager()
	caches.Register(registry.Cache())
	if cfg.SummaryCacheTTL > 0 {
		caches.StartCleanup(cfg.SummaryCacheTTL)
	}

	// The configured owner's summary is kept live and logged on every change.
	summaryLogger := logger.WithComponent(log.ComponentSummary)
	unsubscribe := registry.For(cfg.OwnerID).Subscribe(func(sum aggregate.FinancialSummary) {
		summaryLogger.Info("Summary updated",
			log.FieldOwnerID, cfg.OwnerID,
			"income", sum.TotalIncome.String(),
			"expenses", sum.TotalExpenses.String(),
			"net", sum.NetStatus.String(),
			"transactions", sum.TransactionCount)
	})

	var closeOnce sync.Once
	shutdown := func() {
		closeOnce.Do(func() {
			unsubscribe()
			caches.Stop()
			if err := publisher.Close(); err != nil {
				logger.Warn("Failed to close AMQP client", log.FieldError, err)
			}
			if err := closeStore(); err != nil {
				logger.Warn("Failed to close store", log.FieldError, err)
			}
		})
	}
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, shutdown)
	ctx = log.NewContext(ctx, logger)

	handler := amqp.Handler(registry.HandleEvent)
	if cfg.GoogleSpreadsheetID != "" {
		syncWorker, err := newSyncWorker(ctx, cfg, store)
		if err != nil {
			logger.Warn("Sheets sync disabled", log.FieldError, err)
		} else {
			if err := syncWorker.SyncOwner(ctx, cfg.OwnerID); err != nil {
				logger.Warn("Initial trend sync failed", log.FieldOwnerID, cfg.OwnerID, log.FieldError, err)
			}
			handler = worker.Fanout(registry.HandleEvent, syncWorker.HandleChange)
		}
	}

	// With a broker the worker hears its own instances back through the
	// queue. Without one they are handed to the handler directly.
	var notifier recurring.Notifier = publisher
	if client == nil {
		notifier = worker.NewLocalNotifier(publisher, handler)
	}
	scheduler := recurring.NewScheduler(store, recurring.WithNotifier(notifier))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runScheduler(gctx, logger.WithComponent(log.ComponentScheduler), scheduler, cfg.RecurringInterval, time.Now)
		return nil
	})

	if client != nil {
		g.Go(func() error {
			return client.ConsumeChanges(gctx, handler)
		})
	}

	if _, err := registry.For(cfg.OwnerID).Refresh(ctx); err != nil {
		logger.Warn("Initial summary failed", log.FieldOwnerID, cfg.OwnerID, log.FieldError, err)
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped", log.FieldError, err)
		shutdown()
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
}

func newSyncWorker(ctx context.Context, cfg *config.Config, store storage.Store) (*worker.SyncWorker, error) {
	var (
		client *google.Client
		err    error
	)
	if cfg.GoogleCredentialsFile != "" {
		client, err = google.NewWithCredentialsFile(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleTrendSheetName, cfg.GoogleCredentialsFile)
	} else {
		client, err = google.New(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleTrendSheetName)
	}
	if err != nil {
		return nil, err
	}
	return worker.NewSyncWorker(sheets.NewExporter(store, client), cfg.OwnerID), nil
}
