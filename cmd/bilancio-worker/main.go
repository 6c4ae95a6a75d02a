package main

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/cache"
	"bilancio/internal/cli"
	applog "bilancio/internal/log"
	"bilancio/internal/services"
	"bilancio/internal/worker"
)

// bilancio-worker is a headless replica: it syncs on request from the queue,
// delivers queued notifications and runs the periodic sync and reminder
// checks. Point SQLITE_DB_PATH at its own database.
func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	if !cfg.AMQPEnabled() {
		logger.ErrorType(context.Background(), "AMQP_URL is required for the worker", errors.New("amqp disabled"), applog.ErrorTypeConfiguration)
		os.Exit(1)
	}

	app, err := cli.Bootstrap(context.Background(), cfg, cli.Options{})
	if err != nil {
		logger.ErrorType(context.Background(), "Failed to start", err, applog.ErrorTypeConfiguration)
		os.Exit(1)
	}

	syncClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPSyncQueue)
	if err != nil {
		logger.ErrorType(context.Background(), "Failed to initialize AMQP client", err, applog.ErrorTypeNetwork, "queue", cfg.AMQPSyncQueue)
		os.Exit(1)
	}
	notifyClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPNotifyQueue)
	if err != nil {
		logger.ErrorType(context.Background(), "Failed to initialize AMQP client", err, applog.ErrorTypeNetwork, "queue", cfg.AMQPNotifyQueue)
		os.Exit(1)
	}

	caches := cache.NewManager()
	caches.Register(app.Budget.ReportCache())
	caches.Register(app.Identity.Cleaner())
	caches.StartCleanup(10 * time.Minute)

	scheduler := services.NewScheduler(app.Budget, services.SchedulerConfig{
		SyncInterval:     cfg.SyncInterval,
		ReminderInterval: cfg.ReminderInterval,
	}, nil)

	var consumers sync.WaitGroup
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Warn("Scheduler stop error", "error", err)
		}
		consumers.Wait()
		caches.Stop()
		syncClient.Close()
		notifyClient.Close()
		if err := app.Close(); err != nil {
			logger.Error("Failed to close application", "error", err)
		}
	})

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	w := worker.NewSyncWorker(app.Budget)
	consumers.Add(2)
	go func() {
		defer consumers.Done()
		if err := w.Run(ctx, syncClient); err != nil {
			logger.ErrorType(ctx, "Sync request consumption failed", err, applog.ErrorTypeNetwork)
		}
	}()
	go func() {
		defer consumers.Done()
		err := notifyClient.ConsumeNotifications(ctx, app.Dispatcher)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorType(ctx, "Notification consumption failed", err, applog.ErrorTypeNetwork)
		}
	}()

	logger.Info("Starting bilancio-worker", "sync_queue", cfg.AMQPSyncQueue, "notify_queue", cfg.AMQPNotifyQueue)
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
