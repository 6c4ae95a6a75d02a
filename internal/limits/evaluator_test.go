package limits

import (
	"testing"
	"time"

	"bilancio/internal/core"
)

func expense(cents int64, category int64, day time.Time) core.Transaction {
	return core.Transaction{Amount: core.Money{Cents: cents}, CategoryID: category, Date: day}
}

func TestClassify(t *testing.T) {
	limit := core.Money{Cents: 10000}
	cases := []struct {
		spent int64
		want  Status
	}{
		{0, StatusOK},
		{7999, StatusOK},
		{8000, StatusNear},
		{9999, StatusNear},
		{10000, StatusExceeded},
		{25000, StatusExceeded},
	}
	for _, tc := range cases {
		got, _ := Classify(core.Money{Cents: tc.spent}, limit)
		if got != tc.want {
			t.Errorf("spent %d: got %s, want %s", tc.spent, got, tc.want)
		}
	}

	if got, _ := Classify(core.Money{Cents: 5}, core.Money{}); got != StatusInvalid {
		t.Errorf("zero limit: got %s", got)
	}
	if got, _ := Classify(core.Money{Cents: 5}, core.Money{Cents: -100}); got != StatusInvalid {
		t.Errorf("negative limit: got %s", got)
	}
}

func TestDisplayProgressClamps(t *testing.T) {
	status, progress := Classify(core.Money{Cents: 15000}, core.Money{Cents: 10000})
	r := Result{Progress: progress, Status: status}
	if !r.Progress.Equal(progress) || progress.String() != "1.5" {
		t.Fatalf("progress = %s", progress)
	}
	if d := r.DisplayProgress(); d.String() != "1" {
		t.Fatalf("display progress = %s", d)
	}
}

func TestSpentFiltersCategoryMonthAndIncome(t *testing.T) {
	may := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)
	june := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	income := expense(999, 1, may)
	income.IsIncome = true
	txs := []core.Transaction{
		expense(100, 1, may),
		expense(200, 1, may),
		expense(400, 2, may),
		expense(800, 1, june),
		income,
	}
	if got := Spent(txs, 1, "2024-05"); got.Cents != 300 {
		t.Fatalf("spent = %d", got.Cents)
	}
}

func TestCrossingsFireOnce(t *testing.T) {
	may := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)
	limit := core.CategoryLimit{ID: 1, CategoryID: 4, MonthlyLimit: core.Money{Cents: 10000}, Month: "2024-05"}
	e := NewEvaluator()

	var fired []Trigger
	run := func(txs []core.Transaction) {
		_, ts := e.Evaluate("2024-05", []core.CategoryLimit{limit}, txs)
		fired = append(fired, ts...)
	}

	run(nil)
	run(nil)
	txs := []core.Transaction{expense(9000, 4, may)}
	run(txs)
	run(txs)
	txs = append(txs, expense(2000, 4, may))
	run(txs)
	run(txs)

	if len(fired) != 2 {
		t.Fatalf("fired %d triggers, want 2: %v", len(fired), fired)
	}
	if fired[0].Status != StatusNear || fired[1].Status != StatusExceeded {
		t.Fatalf("unexpected order: %v", fired)
	}
	if fired[1].Spent.Cents != 11000 || fired[1].Limit.Cents != 10000 {
		t.Fatalf("unexpected payload: %+v", fired[1])
	}

	// Dropping back under the limit and crossing again stays silent.
	run(txs[:1])
	run(txs)
	if len(fired) != 2 {
		t.Fatalf("re-crossing fired again: %v", fired)
	}
}

func TestJumpStraightToExceeded(t *testing.T) {
	may := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)
	limit := core.CategoryLimit{CategoryID: 4, MonthlyLimit: core.Money{Cents: 100}, Month: "2024-05"}
	e := NewEvaluator()
	e.Evaluate("2024-05", []core.CategoryLimit{limit}, nil)
	_, ts := e.Evaluate("2024-05", []core.CategoryLimit{limit}, []core.Transaction{expense(500, 4, may)})
	if len(ts) != 1 || ts[0].Status != StatusExceeded {
		t.Fatalf("triggers = %v", ts)
	}
}

func TestInvalidLimitNeverFires(t *testing.T) {
	may := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)
	limit := core.CategoryLimit{CategoryID: 4, Month: "2024-05"}
	results, ts := NewEvaluator().Evaluate("2024-05", []core.CategoryLimit{limit}, []core.Transaction{expense(500, 4, may)})
	if len(ts) != 0 {
		t.Fatalf("triggers = %v", ts)
	}
	if len(results) != 1 || results[0].Status != StatusInvalid {
		t.Fatalf("results = %+v", results)
	}
}

func TestEvaluateIgnoresOtherMonths(t *testing.T) {
	limits := []core.CategoryLimit{
		{CategoryID: 1, MonthlyLimit: core.Money{Cents: 100}, Month: "2024-04"},
		{CategoryID: 1, MonthlyLimit: core.Money{Cents: 100}, Month: "2024-05"},
	}
	results, _ := NewEvaluator().Evaluate("2024-05", limits, nil)
	if len(results) != 1 || results[0].Limit.Month != "2024-05" {
		t.Fatalf("results = %+v", results)
	}
}

func TestForgetDropsOldMonths(t *testing.T) {
	april := time.Date(2024, 4, 3, 0, 0, 0, 0, time.UTC)
	limit := core.CategoryLimit{CategoryID: 1, MonthlyLimit: core.Money{Cents: 100}, Month: "2024-04"}
	txs := []core.Transaction{expense(500, 1, april)}
	e := NewEvaluator()
	if _, ts := e.Evaluate("2024-04", []core.CategoryLimit{limit}, txs); len(ts) != 1 {
		t.Fatalf("first evaluation triggers = %v", ts)
	}
	e.Forget("2024-05")
	if _, ts := e.Evaluate("2024-04", []core.CategoryLimit{limit}, txs); len(ts) != 1 {
		t.Fatalf("after forget triggers = %v", ts)
	}
}
