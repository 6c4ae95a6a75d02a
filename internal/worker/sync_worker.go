// Package worker runs sync requests that arrive over the message queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"bilancio/internal/amqp"
	"bilancio/internal/services"
)

// Syncer is the part of the facade the worker drives.
type Syncer interface {
	Session(ctx context.Context) (services.Session, error)
	Sync(ctx context.Context) (services.SyncResult, error)
}

// SyncWorker handles sync requests for the account signed in on this
// process. Requests for other accounts are acknowledged and ignored.
type SyncWorker struct {
	budget Syncer
}

func NewSyncWorker(budget Syncer) *SyncWorker {
	return &SyncWorker{budget: budget}
}

// HandleSyncRequest processes a single sync request from AMQP. A failed sync
// returns an error so the message is requeued; a disabled sync does not.
func (w *SyncWorker) HandleSyncRequest(ctx context.Context, msg *amqp.SyncRequestMessage) error {
	slog.InfoContext(ctx, "Processing sync request",
		"id", msg.ID,
		"account", msg.Account,
		"reason", msg.Reason)

	sess, err := w.budget.Session(ctx)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	if sess.Email != msg.Account {
		slog.WarnContext(ctx, "Ignoring sync request for another account",
			"id", msg.ID,
			"account", msg.Account,
			"signed_in", sess.Email)
		return nil
	}

	res, err := w.budget.Sync(ctx)
	if errors.Is(err, services.ErrSyncDisabled) {
		slog.WarnContext(ctx, "Sync requested but not configured", "id", msg.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("sync %s: %w", msg.Account, err)
	}

	slog.InfoContext(ctx, "Sync request completed",
		"id", msg.ID,
		"run_id", res.RunID,
		"pushed", res.Push.Pushed,
		"pulled", res.Pulled,
		"adopted", res.Merge.Adopted)
	return nil
}

// Consumer is the queue side of the worker.
type Consumer interface {
	ConsumeSyncRequests(ctx context.Context, handler func(context.Context, *amqp.SyncRequestMessage) error) error
}

// Run consumes sync requests until ctx is done.
func (w *SyncWorker) Run(ctx context.Context, c Consumer) error {
	err := c.ConsumeSyncRequests(ctx, w.HandleSyncRequest)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
