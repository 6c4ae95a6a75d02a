package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/cache"
	"bilancio/internal/cli"
	apphttp "bilancio/internal/http"
	applog "bilancio/internal/log"
	"bilancio/internal/notify"
	"bilancio/internal/services"
	"bilancio/internal/websocket"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	hub := websocket.NewHub(logger.WithComponent(applog.ComponentWebSocket).Logger)
	opts := cli.Options{Notifiers: []notify.Notifier{hub}}

	// With a broker, notifications are delivered by bilancio-worker.
	var notifyClient *amqp.Client
	if cfg.AMQPEnabled() {
		var err error
		notifyClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPNotifyQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, delivering notifications locally", "error", err)
		} else {
			opts.Notifiers = append(opts.Notifiers, amqp.NewPublisher(notifyClient))
			opts.DisableWebPush = true
			logger.Info("Publishing notifications to AMQP", "queue", cfg.AMQPNotifyQueue)
		}
	}

	app, err := cli.Bootstrap(context.Background(), cfg, opts)
	if err != nil {
		logger.ErrorType(context.Background(), "Failed to start", err, applog.ErrorTypeConfiguration)
		os.Exit(1)
	}

	srv, err := apphttp.NewServer(apphttp.Config{Addr: ":" + cfg.Port}, app.Budget, hub, logger)
	if err != nil {
		logger.ErrorType(context.Background(), "Failed to configure HTTP server", err, applog.ErrorTypeConfiguration)
		os.Exit(1)
	}
	srv.ReadTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	caches := cache.NewManager()
	caches.Register(app.Budget.ReportCache())
	caches.Register(app.Identity.Cleaner())
	for _, c := range srv.Cleaners() {
		caches.Register(c)
	}
	caches.StartCleanup(10 * time.Minute)

	scheduler := services.NewScheduler(app.Budget, services.SchedulerConfig{
		SyncInterval:     cfg.SyncInterval,
		ReminderInterval: cfg.ReminderInterval,
	}, nil)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Warn("Scheduler stop error", "error", err)
		}
		caches.Stop()
		if err := app.Close(); err != nil {
			logger.Error("Failed to close application", "error", err)
		}
		if notifyClient != nil {
			notifyClient.Close()
		}
	})

	dashboards, err := app.Budget.Watch(ctx)
	if err != nil {
		logger.Error("Failed to watch dashboard", "error", err)
		os.Exit(1)
	}
	go websocket.Follow(hub, dashboards)

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("Starting bilancio server", "port", cfg.Port, "remote", cfg.RemoteBackend, "db", cfg.SQLiteDBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err, "port", cfg.Port)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
