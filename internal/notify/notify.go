// Package notify is the notification boundary. The core hands events to a
// Notifier; formatting and delivery belong to the implementation.
package notify

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	KindLimitExceeded     Kind = "limitExceeded"
	KindLimitNearing      Kind = "limitNearing"
	KindRecurringReminder Kind = "recurringReminder"
	KindSyncSuccess       Kind = "syncSuccess"
	KindSyncError         Kind = "syncError"
)

// Event is one notification. Data carries the structured payload, e.g. the
// category name, month, spent and limit of a limit event.
type Event struct {
	Kind  Kind              `json:"kind"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	At    time.Time         `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, e Event) error

func (f Func) Notify(ctx context.Context, e Event) error { return f(ctx, e) }

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
