package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes every event to the default logger.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, e Event) error {
	args := []any{"kind", e.Kind, "title", e.Title, "body", e.Body}
	for k, v := range e.Data {
		args = append(args, k, v)
	}
	slog.InfoContext(ctx, "Notification", args...)
	return nil
}
