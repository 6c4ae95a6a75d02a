package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/report"
	"bilancio/internal/services"
	"bilancio/internal/sheets"
	sheetsmem "bilancio/internal/sheets/memory"
)

type fakeBudget struct {
	syncs     int
	exported  []report.Kind
	remindAt  time.Time
	invites   []core.CollaborationInvite
	imported  []string
	statusErr error
}

func (f *fakeBudget) Session(context.Context) (services.Session, error) {
	return services.Session{Email: "owner@example.com", Role: core.RoleOwner}, nil
}

func (f *fakeBudget) Sync(context.Context) (services.SyncResult, error) {
	f.syncs++
	return services.SyncResult{RunID: "run-1", Push: services.PushResult{Pushed: 3}, Pulled: 5, Merge: services.MergeResult{Adopted: 2}}, nil
}

func (f *fakeBudget) SyncStatus(context.Context) (services.SyncStatus, error) {
	if f.statusErr != nil {
		return services.SyncStatus{}, f.statusErr
	}
	return services.SyncStatus{Account: "owner@example.com", State: services.SyncIdle}, nil
}

func (f *fakeBudget) Report(_ context.Context, kind report.Kind) (report.Report, error) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return report.Report{
		Kind:               kind,
		Title:              "Monthly report March 2024",
		Period:             report.Period{From: from, To: from.AddDate(0, 1, 0)},
		Income:             core.Money{Cents: 100000},
		Expense:            core.Money{Cents: 25050},
		TopExpenseCategory: "Food",
	}, nil
}

func (f *fakeBudget) ExportReport(_ context.Context, kind report.Kind) (string, error) {
	f.exported = append(f.exported, kind)
	return "Reports!A2:I2", nil
}

func (f *fakeBudget) CheckRecurringReminders(_ context.Context, now time.Time) (int, error) {
	f.remindAt = now
	return 2, nil
}

func (f *fakeBudget) SendInvite(_ context.Context, email, inviter string, role core.Role) (core.CollaborationInvite, error) {
	inv := core.CollaborationInvite{Email: email, InviterName: inviter, Role: role, Status: core.InvitePending}
	f.invites = append(f.invites, inv)
	return inv, nil
}

func (f *fakeBudget) UpdateInviteStatus(_ context.Context, email string, status core.InviteStatus) (core.CollaborationInvite, error) {
	return core.CollaborationInvite{Email: email, Status: status}, nil
}

func (f *fakeBudget) ImportCategories(ctx context.Context, r sheets.CategoryReader) (int, error) {
	names, err := r.ListCategories(ctx)
	if err != nil {
		return 0, err
	}
	f.imported = names
	return len(names), nil
}

type fakeQueue struct{ accounts []string }

func (q *fakeQueue) PublishSyncRequest(_ context.Context, account, _ string) error {
	q.accounts = append(q.accounts, account)
	return nil
}

func run(t *testing.T, env *Env, args ...string) (string, error) {
	t.Helper()
	loads := 0
	cmd := NewRootCommand(func(context.Context) (*Env, error) {
		loads++
		return env, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if loads > 1 {
		t.Fatalf("environment loaded %d times", loads)
	}
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(nil)
	for _, path := range [][]string{{"sync"}, {"status"}, {"report"}, {"reminders"}, {"invite", "send"}, {"invite", "resolve"}, {"categories", "import"}} {
		sub, _, err := cmd.Find(path)
		if err != nil || sub.Name() != path[len(path)-1] {
			t.Fatalf("command %v missing: %v", path, err)
		}
	}
}

func TestInvalidFormat(t *testing.T) {
	if _, err := run(t, &Env{Budget: &fakeBudget{}}, "status", "--format", "xml"); err == nil {
		t.Fatal("expected error for invalid format")
	}
}

func TestSyncCommand(t *testing.T) {
	b := &fakeBudget{}
	out, err := run(t, &Env{Budget: b}, "sync")
	if err != nil {
		t.Fatal(err)
	}
	if b.syncs != 1 || !strings.Contains(out, "pushed 3") || !strings.Contains(out, "adopted 2") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSyncQueue(t *testing.T) {
	if _, err := run(t, &Env{Budget: &fakeBudget{}}, "sync", "--queue"); !errors.Is(err, ErrNoQueue) {
		t.Fatalf("expected ErrNoQueue, got %v", err)
	}

	q := &fakeQueue{}
	b := &fakeBudget{}
	out, err := run(t, &Env{Budget: b, Queue: q}, "sync", "--queue", "--format", "json")
	if err != nil {
		t.Fatal(err)
	}
	if b.syncs != 0 || len(q.accounts) != 1 || q.accounts[0] != "owner@example.com" {
		t.Fatalf("syncs %d, queued %v", b.syncs, q.accounts)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil || got["queued"] != "owner@example.com" {
		t.Fatalf("unexpected JSON %q: %v", out, err)
	}
}

func TestStatusCommand(t *testing.T) {
	out, err := run(t, &Env{Budget: &fakeBudget{}}, "status")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "State:        idle") {
		t.Fatalf("unexpected output %q", out)
	}

	want := errors.New("boom")
	if _, err := run(t, &Env{Budget: &fakeBudget{statusErr: want}}, "status"); !errors.Is(err, want) {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestReportCommand(t *testing.T) {
	if _, err := run(t, &Env{Budget: &fakeBudget{}}, "report", "yearly"); err == nil {
		t.Fatal("expected error for unknown kind")
	}

	b := &fakeBudget{}
	out, err := run(t, &Env{Budget: b}, "report", "monthly", "--export", "--format", "json")
	if err != nil {
		t.Fatal(err)
	}
	var got reportOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Balance.Cents != 74950 || got.To != "2024-03-31" || got.Ref != "Reports!A2:I2" || got.Trend != "insufficient data" {
		t.Fatalf("unexpected report %+v", got)
	}
	if len(b.exported) != 1 || b.exported[0] != report.Monthly {
		t.Fatalf("exported %v", b.exported)
	}
}

func TestRemindersCommand(t *testing.T) {
	b := &fakeBudget{}
	out, err := run(t, &Env{Budget: b}, "reminders", "--date", "2024-04-30")
	if err != nil {
		t.Fatal(err)
	}
	if b.remindAt.Day() != 30 || b.remindAt.Month() != time.April || !strings.Contains(out, "2 reminder(s)") {
		t.Fatalf("remindAt %s, output %q", b.remindAt, out)
	}
	if _, err := run(t, &Env{Budget: b}, "reminders", "--date", "30/04"); err == nil {
		t.Fatal("expected error for bad date")
	}
}

func TestInviteCommands(t *testing.T) {
	b := &fakeBudget{}
	if _, err := run(t, &Env{Budget: b}, "invite", "send", "bea@example.com"); err == nil {
		t.Fatal("expected error without --from")
	}
	out, err := run(t, &Env{Budget: b}, "invite", "send", "bea@example.com", "--from", "Owner", "--role", "viewer")
	if err != nil {
		t.Fatal(err)
	}
	if len(b.invites) != 1 || b.invites[0].Role != core.RoleViewer || !strings.Contains(out, "as viewer") {
		t.Fatalf("invites %+v, output %q", b.invites, out)
	}

	out, err = run(t, &Env{Budget: b}, "invite", "resolve", "bea@example.com", "declined")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "declined") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCategoriesImport(t *testing.T) {
	b := &fakeBudget{}
	if _, err := run(t, &Env{Budget: b}, "categories", "import"); !errors.Is(err, ErrNoCategories) {
		t.Fatalf("expected ErrNoCategories, got %v", err)
	}

	out, err := run(t, &Env{Budget: b, Categories: sheetsmem.New([]string{"Food", "Home"})}, "categories", "import")
	if err != nil {
		t.Fatal(err)
	}
	if len(b.imported) != 2 || !strings.Contains(out, "2 categories imported") {
		t.Fatalf("imported %v, output %q", b.imported, out)
	}

	path := filepath.Join(t.TempDir(), "cats.txt")
	if err := os.WriteFile(path, []byte("Travel\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = run(t, &Env{Budget: b}, "categories", "import", "--file", path)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.imported) != 1 || b.imported[0] != "Travel" || !strings.Contains(out, "1 category imported") {
		t.Fatalf("imported %v, output %q", b.imported, out)
	}
}

func TestCloseRunsAfterCommand(t *testing.T) {
	closed := false
	env := &Env{Budget: &fakeBudget{}, Close: func() error { closed = true; return nil }}
	if _, err := run(t, env, "status"); err != nil {
		t.Fatal(err)
	}
	if !closed {
		t.Fatal("environment not closed")
	}
}
