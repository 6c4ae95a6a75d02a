package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Periodic is what the scheduler drives. BudgetService implements it.
type Periodic interface {
	Sync(ctx context.Context) (SyncResult, error)
	CheckRecurringReminders(ctx context.Context, now time.Time) (int, error)
}

// SchedulerConfig holds configuration for the scheduler
type SchedulerConfig struct {
	// SyncInterval is how often a sync is triggered; zero disables it (default: 15m)
	SyncInterval time.Duration

	// ReminderInterval is how often due recurring payments are checked (default: 24h)
	ReminderInterval time.Duration
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		SyncInterval:     15 * time.Minute,
		ReminderInterval: 24 * time.Hour,
	}
}

// Scheduler is the background trigger for periodic sync and the daily
// recurring payment reminder check. Both also run once at start.
type Scheduler struct {
	target Periodic
	config SchedulerConfig
	now    func() time.Time

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewScheduler(target Periodic, config SchedulerConfig, now func() time.Time) *Scheduler {
	if config.ReminderInterval <= 0 {
		config.ReminderInterval = DefaultSchedulerConfig().ReminderInterval
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{target: target, config: config, now: now}
}

// Start begins the trigger loop. Returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.runLoop(ctx, s.stopCh, s.doneCh)

	slog.InfoContext(ctx, "Scheduler started",
		"sync_interval", s.config.SyncInterval,
		"reminder_interval", s.config.ReminderInterval)
	return nil
}

// Stop gracefully stops the scheduler and waits for the current trigger to
// finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Scheduler stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Scheduler stop timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	var syncC <-chan time.Time
	if s.config.SyncInterval > 0 {
		syncTicker := time.NewTicker(s.config.SyncInterval)
		defer syncTicker.Stop()
		syncC = syncTicker.C
	}
	reminderTicker := time.NewTicker(s.config.ReminderInterval)
	defer reminderTicker.Stop()

	s.checkReminders(ctx)
	if syncC != nil {
		s.runSync(ctx)
	}

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-syncC:
			s.runSync(ctx)
		case <-reminderTicker.C:
			s.checkReminders(ctx)
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	if _, err := s.target.Sync(ctx); err != nil && !errors.Is(err, ErrSyncDisabled) {
		// Failures are already recorded and notified by the engine.
		slog.DebugContext(ctx, "Scheduled sync failed", "error", err)
	}
}

func (s *Scheduler) checkReminders(ctx context.Context) {
	if _, err := s.target.CheckRecurringReminders(ctx, s.now()); err != nil {
		slog.ErrorContext(ctx, "Failed to check recurring reminders", "error", err)
	}
}
