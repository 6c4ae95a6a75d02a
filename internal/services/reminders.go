package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bilancio/internal/notify"
)

const dayLayout = "2006-01-02"

// ReminderLog remembers which payments were reminded on which day. MarkReminded
// reports false when the payment was already marked for day.
type ReminderLog interface {
	MarkReminded(ctx context.Context, paymentID int64, day string, at time.Time) (bool, error)
}

type memoryReminderLog struct {
	mu   sync.Mutex
	sent map[string]time.Time
}

// NewMemoryReminderLog returns a process-local ReminderLog.
func NewMemoryReminderLog() ReminderLog {
	return &memoryReminderLog{sent: make(map[string]time.Time)}
}

func (l *memoryReminderLog) MarkReminded(_ context.Context, paymentID int64, day string, at time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := fmt.Sprintf("%d/%s", paymentID, day)
	if _, ok := l.sent[k]; ok {
		return false, nil
	}
	l.sent[k] = at
	return true, nil
}

// CheckRecurringReminders notifies each active recurring payment due on the
// calendar day of now, at most once per payment and day. It returns the
// number of reminders sent.
func (s *BudgetService) CheckRecurringReminders(ctx context.Context, now time.Time) (int, error) {
	day := now.Format(dayLayout)
	var (
		sent int
		errs []error
	)
	for _, rp := range s.RecurringPayments() {
		if !rp.DueOn(now) {
			continue
		}
		first, err := s.reminders.MarkReminded(ctx, rp.ID, day, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("mark reminder %d: %w", rp.ID, err))
			continue
		}
		if !first {
			continue
		}
		err = s.notifier.Notify(ctx, notify.Event{
			Kind:  notify.KindRecurringReminder,
			Title: "Payment due today: " + rp.Title,
			Body:  fmt.Sprintf("%s of %s is due today", rp.Title, rp.Amount),
			Data: map[string]string{
				"paymentId": fmt.Sprint(rp.ID),
				"title":     rp.Title,
				"amount":    rp.Amount.String(),
				"day":       day,
			},
			At: now,
		})
		if err != nil {
			slog.WarnContext(ctx, "Failed to deliver reminder", "payment_id", rp.ID, "error", err)
		}
		sent++
	}
	slog.InfoContext(ctx, "Recurring reminders checked", "day", day, "sent", sent)
	return sent, errors.Join(errs...)
}
