package worker

import (
	"context"
	"errors"
	"testing"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/services"
)

type fakeSyncer struct {
	email   string
	syncErr error
	calls   int
}

func (f *fakeSyncer) Session(context.Context) (services.Session, error) {
	return services.Session{Email: f.email, Role: core.RoleOwner}, nil
}

func (f *fakeSyncer) Sync(context.Context) (services.SyncResult, error) {
	f.calls++
	return services.SyncResult{RunID: "run"}, f.syncErr
}

func TestHandleSyncRequest(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		account   string
		syncErr   error
		wantErr   bool
		wantCalls int
	}{
		{"own account", "family@example.com", nil, false, 1},
		{"other account", "other@example.com", nil, false, 0},
		{"sync fails", "family@example.com", boom, true, 1},
		{"sync disabled", "family@example.com", services.ErrSyncDisabled, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSyncer{email: "family@example.com", syncErr: tt.syncErr}
			err := NewSyncWorker(s).HandleSyncRequest(context.Background(), amqp.NewSyncRequestMessage(tt.account, "test"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, boom) {
				t.Fatalf("cause lost: %v", err)
			}
			if s.calls != tt.wantCalls {
				t.Fatalf("sync calls = %d, want %d", s.calls, tt.wantCalls)
			}
		})
	}
}

type fakeConsumer struct {
	msgs []*amqp.SyncRequestMessage
	errs []error
}

func (c *fakeConsumer) ConsumeSyncRequests(ctx context.Context, handler func(context.Context, *amqp.SyncRequestMessage) error) error {
	for _, m := range c.msgs {
		c.errs = append(c.errs, handler(ctx, m))
	}
	return context.Canceled
}

func TestRunStopsCleanly(t *testing.T) {
	s := &fakeSyncer{email: "family@example.com"}
	c := &fakeConsumer{msgs: []*amqp.SyncRequestMessage{
		amqp.NewSyncRequestMessage("family@example.com", "a"),
		amqp.NewSyncRequestMessage("family@example.com", "b"),
	}}
	if err := NewSyncWorker(s).Run(context.Background(), c); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if s.calls != 2 || len(c.errs) != 2 || c.errs[0] != nil {
		t.Fatalf("calls %d errs %v", s.calls, c.errs)
	}
}
