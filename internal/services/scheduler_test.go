package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingTarget struct {
	syncs     atomic.Int32
	reminders atomic.Int32
}

func (c *countingTarget) Sync(context.Context) (SyncResult, error) {
	c.syncs.Add(1)
	return SyncResult{}, nil
}

func (c *countingTarget) CheckRecurringReminders(context.Context, time.Time) (int, error) {
	c.reminders.Add(1)
	return 0, nil
}

func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()

	if config.SyncInterval != 15*time.Minute {
		t.Errorf("expected SyncInterval 15m, got %v", config.SyncInterval)
	}
	if config.ReminderInterval != 24*time.Hour {
		t.Errorf("expected ReminderInterval 24h, got %v", config.ReminderInterval)
	}
}

func TestScheduler_IsRunning(t *testing.T) {
	s := NewScheduler(&countingTarget{}, DefaultSchedulerConfig(), nil)

	if s.IsRunning() {
		t.Error("scheduler should not be running initially")
	}
}

func TestScheduler_StartTwice(t *testing.T) {
	s := NewScheduler(&countingTarget{}, DefaultSchedulerConfig(), nil)
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer s.Stop(ctx)

	if err := s.Start(ctx); err == nil {
		t.Error("expected error when starting already running scheduler")
	}
}

func TestScheduler_StopNotRunning(t *testing.T) {
	s := NewScheduler(&countingTarget{}, DefaultSchedulerConfig(), nil)

	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop should not error when not running: %v", err)
	}
}

func TestScheduler_Triggers(t *testing.T) {
	target := &countingTarget{}
	s := NewScheduler(target, SchedulerConfig{
		SyncInterval:     10 * time.Millisecond,
		ReminderInterval: time.Hour,
	}, nil)
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for target.syncs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if s.IsRunning() {
		t.Error("scheduler should not be running after Stop")
	}
	if target.syncs.Load() < 3 {
		t.Errorf("expected at least 3 syncs, got %d", target.syncs.Load())
	}
	if target.reminders.Load() != 1 {
		t.Errorf("expected the startup reminder check only, got %d", target.reminders.Load())
	}
}

func TestScheduler_SyncDisabled(t *testing.T) {
	target := &countingTarget{}
	s := NewScheduler(target, SchedulerConfig{ReminderInterval: time.Hour}, nil)
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if n := target.syncs.Load(); n != 0 {
		t.Errorf("expected no syncs with a zero interval, got %d", n)
	}
}
