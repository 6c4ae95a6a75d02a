package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"bilancio/internal/amqp"
	"bilancio/internal/config"
	"bilancio/internal/core"
	applog "bilancio/internal/log"
	"bilancio/internal/report"
	"bilancio/internal/services"
	"bilancio/internal/sheets"
)

// Budget is the part of the facade bilancioctl drives.
type Budget interface {
	Session(ctx context.Context) (services.Session, error)
	Sync(ctx context.Context) (services.SyncResult, error)
	SyncStatus(ctx context.Context) (services.SyncStatus, error)
	Report(ctx context.Context, kind report.Kind) (report.Report, error)
	ExportReport(ctx context.Context, kind report.Kind) (string, error)
	CheckRecurringReminders(ctx context.Context, now time.Time) (int, error)
	SendInvite(ctx context.Context, email, inviterName string, role core.Role) (core.CollaborationInvite, error)
	UpdateInviteStatus(ctx context.Context, email string, status core.InviteStatus) (core.CollaborationInvite, error)
	ImportCategories(ctx context.Context, r sheets.CategoryReader) (int, error)
}

// SyncQueue hands a sync run to the worker.
type SyncQueue interface {
	PublishSyncRequest(ctx context.Context, account, reason string) error
}

// Env is what a command runs against. Categories and Queue are nil when
// the sheet or the broker is not configured.
type Env struct {
	Budget     Budget
	Categories sheets.CategoryReader
	Queue      SyncQueue
	Close      func() error
}

// EnvLoader builds the Env once per invocation.
type EnvLoader func(ctx context.Context) (*Env, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "text" | "json"

	load EnvLoader
	env  *Env
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the bilancioctl command tree. load is called lazily
// by commands that need the application.
func NewRootCommand(load EnvLoader) *cobra.Command {
	opts := &RootOptions{load: load}

	cmd := &cobra.Command{
		Use:           "bilancioctl",
		Short:         "Operate a bilancio family budget replica",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.env != nil && opts.env.Close != nil {
				return opts.env.Close()
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newReportCommand(opts))
	cmd.AddCommand(newRemindersCommand(opts))
	cmd.AddCommand(newInviteCommand(opts))
	cmd.AddCommand(newCategoriesCommand(opts))
	return cmd
}

func (o *RootOptions) environment(ctx context.Context) (*Env, error) {
	if o.env != nil {
		return o.env, nil
	}
	env, err := o.load(ctx)
	if err != nil {
		return nil, err
	}
	o.env = env
	return env, nil
}

// print writes v as indented JSON, or text via the callback.
func (o *RootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

// LoadEnv is the production EnvLoader: it reads the environment, validates
// the configuration and bootstraps the application. Logs go to stderr so
// that JSON output stays parseable.
func LoadEnv(ctx context.Context) (*Env, error) {
	LoadEnvFile()
	level, _ := applog.ParseLevel(os.Getenv("LOG_LEVEL"))
	applog.SetDefault(applog.New(applog.Config{
		Level:     level,
		Component: applog.ComponentCLI,
		Output:    os.Stderr,
	}))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app, err := Bootstrap(ctx, cfg, Options{})
	if err != nil {
		return nil, err
	}
	env := &Env{Budget: app.Budget, Close: app.Close}
	if app.Sheets != nil {
		env.Categories = app.Sheets
	}
	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPSyncQueue)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("connect to broker: %w", err)
		}
		env.Queue = client
		env.Close = func() error {
			client.Close()
			return app.Close()
		}
	}
	return env, nil
}
