// Package cli provides common CLI initialization utilities shared by
// cmd/bilancio, cmd/bilancio-worker and cmd/bilancioctl.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bilancio/internal/auth"
	"bilancio/internal/backend"
	"bilancio/internal/config"
	applog "bilancio/internal/log"
	"bilancio/internal/notify"
	"bilancio/internal/services"
	"bilancio/internal/sheets"
	"bilancio/internal/sheets/google"
	"bilancio/internal/storage"
	"bilancio/internal/store"
)

// SetupLogger initializes structured logging from LOG_LEVEL and LOG_JSON,
// sets it as the default logger and returns it.
func SetupLogger(component string) *applog.Logger {
	level, err := applog.ParseLevel(os.Getenv("LOG_LEVEL"))
	logger := applog.New(applog.Config{
		Level:     level,
		Component: component,
		JSON:      os.Getenv("LOG_JSON") == "true",
		Output:    os.Stdout,
	})
	applog.SetDefault(logger)
	if err != nil {
		logger.Warn("Invalid LOG_LEVEL, using info", "error", err)
	}
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *applog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// App is the wired application shared by the binaries.
type App struct {
	Config     *config.Config
	Repository *storage.SQLiteRepository
	Store      *store.Store
	Sync       *services.SyncEngine
	Budget     *services.BudgetService
	Sheets     *google.Client
	Dispatcher *notify.Dispatcher
	Identity   *auth.Cached

	closers []func() error
}

// Options lets a binary add its own notification sinks, e.g. the AMQP
// publisher.
type Options struct {
	Notifiers []notify.Notifier

	// DisableWebPush leaves push delivery to another process, typically the
	// worker consuming the notification queue.
	DisableWebPush bool
}

// Bootstrap opens the database, loads the store and wires the facade.
func Bootstrap(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	repo, err := storage.NewSQLiteRepository(ctx, cfg.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	app := &App{Config: cfg, Repository: repo}
	app.closers = append(app.closers, repo.Close)

	app.Store, err = store.Open(ctx, repo)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	sinks := append([]notify.Notifier{notify.LogNotifier{}}, opts.Notifiers...)
	if cfg.WebPushEnabled() && !opts.DisableWebPush {
		var subs []notify.Subscription
		if cfg.PushSubscriptionsFile != "" {
			if subs, err = notify.LoadSubscriptions(cfg.PushSubscriptionsFile); err != nil {
				slog.WarnContext(ctx, "Failed to load push subscriptions", "path", cfg.PushSubscriptionsFile, "error", err)
			}
		}
		sinks = append(sinks, notify.NewWebPushNotifier(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber, subs))
	}
	app.Dispatcher = notify.NewDispatcher(notify.Multi(sinks), 64, 10*time.Second)
	app.closers = append(app.closers, func() error { app.Dispatcher.Close(); return nil })

	remoteStore, err := backend.NewFactory(nil).Create(backend.FromAppConfig(cfg))
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Sync = services.NewSyncEngine(remoteStore, app.Dispatcher, services.SyncEngineConfig{
		Timeout:     cfg.SyncTimeout,
		MaxAttempts: cfg.SyncMaxAttempts,
	}, nil)
	app.closers = append(app.closers, func() error { app.Sync.Close(); return nil })

	var reports sheets.ReportWriter
	if cfg.SheetsEnabled() {
		app.Sheets, err = google.New(ctx, google.Config{
			SpreadsheetID:      cfg.GoogleSpreadsheetID,
			ReportsSheet:       cfg.GoogleReportSheetName,
			CategoriesSheet:    cfg.GoogleCategoriesSheetName,
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
			ServiceAccountFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			slog.WarnContext(ctx, "Google Sheets export disabled", "error", err)
		} else {
			reports = app.Sheets
		}
	}

	app.Identity = auth.NewCached(identityProvider(cfg), 5*time.Minute)
	app.Budget, err = services.NewBudgetService(services.BudgetServiceConfig{
		Store:     app.Store,
		Auth:      app.Identity,
		Sync:      app.Sync,
		Notifier:  app.Dispatcher,
		Reports:   reports,
		Reminders: repo,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func identityProvider(cfg *config.Config) auth.Provider {
	if cfg.AuthJWTSecret != "" {
		token := cfg.AccountIDToken
		return auth.NewJWTProvider(cfg.AuthJWTSecret, func(context.Context) (string, error) {
			return token, nil
		})
	}
	return auth.Static{ID: auth.Identity{IDToken: cfg.AccountIDToken, Email: cfg.AccountEmail}}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *applog.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		cancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup()
			}
			close(finished)
		}()
		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-time.After(timeout):
			logger.Warn("Shutdown timeout reached")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
