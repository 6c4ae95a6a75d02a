package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/store"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "data", "bilancio.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.UnixMilli(1_700_000_000_000)

	s, err := store.Open(ctx, repo)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	cat, err := s.Upsert(ctx, core.Category{Name: "Food", Color: "green", UpdatedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	tx, err := s.Upsert(ctx, core.Transaction{Amount: core.Money{Cents: 1250}, CategoryID: cat.EntityID(), Date: now, UpdatedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	gone, err := s.Upsert(ctx, core.Category{Name: "Old", UpdatedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, core.TableCategories, gone.EntityID(), now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	reopened, err := store.Open(ctx, repo)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	got, ok := store.Find[core.Transaction](reopened, tx.EntityID())
	if !ok || got != tx.(core.Transaction) {
		t.Fatalf("transaction after reopen = %+v, want %+v", got, tx)
	}
	if n := reopened.Count(core.TableCategories); n != 1 {
		t.Fatalf("categories after reopen = %d", n)
	}
	ts := reopened.Tombstones()
	if len(ts) != 1 || ts[0].ID != gone.EntityID() || !ts[0].DeletedAt.Equal(now.Add(time.Second)) {
		t.Fatalf("tombstones after reopen = %+v", ts)
	}

	reopened.ClearTombstone(ctx, ts[0])
	again, err := store.Open(ctx, repo)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Tombstones()) != 0 {
		t.Fatalf("tombstone not cleared in database")
	}
	// Deleted ids stay reserved only while tombstoned; the next id follows the live maximum.
	next, err := again.Upsert(ctx, core.Category{Name: "New", UpdatedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	if next.EntityID() <= cat.EntityID() {
		t.Fatalf("next id = %d", next.EntityID())
	}
}

func TestMarkRemindedOncePerDay(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Now()

	first, err := repo.MarkReminded(ctx, 3, "2024-05-15", now)
	if err != nil || !first {
		t.Fatalf("first mark = %v, %v", first, err)
	}
	second, err := repo.MarkReminded(ctx, 3, "2024-05-15", now)
	if err != nil || second {
		t.Fatalf("second mark = %v, %v", second, err)
	}
	other, err := repo.MarkReminded(ctx, 3, "2024-05-16", now)
	if err != nil || !other {
		t.Fatalf("next day mark = %v, %v", other, err)
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bilancio.db")
	for i := 0; i < 2; i++ {
		version, err := Migrate(ctx, path)
		if err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
		if version != 2 {
			t.Fatalf("migrate run %d: version %d, want 2", i+1, version)
		}
	}

	repo, err := NewSQLiteRepository(ctx, path)
	if err != nil {
		t.Fatalf("open migrated database: %v", err)
	}
	defer repo.Close()
	if _, _, err := repo.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
}
