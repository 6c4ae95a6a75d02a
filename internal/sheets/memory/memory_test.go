package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/report"
)

func TestMemoryStoreAppendAndList(t *testing.T) {
	ctx := context.Background()
	s := New([]string{"A", "B", "A", " "})
	cats, err := s.ListCategories(ctx)
	if err != nil || len(cats) != 2 {
		t.Fatalf("unexpected categories: %v err=%v", cats, err)
	}

	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	r, err := report.Build(report.Weekly, now, []core.Transaction{
		{ID: 1, Amount: core.Money{Cents: 500}, Date: now},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ref, err := s.AppendReport(ctx, r)
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref, err)
	}
	rows, _ := s.ListReports(ctx)
	if len(rows) != 1 || rows[0].Expense.Cents != 500 || rows[0].TopCategory != report.Uncategorized {
		t.Fatalf("rows = %+v", rows)
	}

	if _, err := s.AppendReport(ctx, report.Report{Kind: "yearly"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestNewFromFileSeedsAndDedupe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.txt")
	if _, err := NewFromFile(path); err == nil {
		t.Fatal("expected error for missing file")
	}

	content := "# header\nA\nB\nA\n\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}
	s, err := NewFromFile(path)
	if err != nil {
		t.Fatalf("NewFromFile: %v", err)
	}
	cats, _ := s.ListCategories(context.Background())
	if len(cats) != 2 || cats[0] != "A" || cats[1] != "B" {
		t.Fatalf("unexpected cats: %v", cats)
	}
}
