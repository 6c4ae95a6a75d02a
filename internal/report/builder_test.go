package report

import (
	"testing"
	"time"

	"bilancio/internal/core"
)

func tx(cents int64, category int64, income bool, day time.Time) core.Transaction {
	return core.Transaction{Amount: core.Money{Cents: cents}, CategoryID: category, IsIncome: income, Date: day}
}

func TestPeriods(t *testing.T) {
	now := time.Date(2024, 3, 15, 18, 30, 0, 0, time.UTC)

	cur, prev, err := Periods(Weekly, now)
	if err != nil {
		t.Fatal(err)
	}
	if !cur.From.Equal(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)) || !cur.To.Equal(time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("weekly = %v..%v", cur.From, cur.To)
	}
	if !prev.From.Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)) || !prev.To.Equal(cur.From) {
		t.Fatalf("previous weekly = %v..%v", prev.From, prev.To)
	}

	cur, prev, err = Periods(Monthly, now)
	if err != nil {
		t.Fatal(err)
	}
	if !cur.From.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) || !cur.To.Equal(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("monthly = %v..%v", cur.From, cur.To)
	}
	if !prev.From.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("previous monthly from = %v", prev.From)
	}

	if _, _, err := Periods("daily", now); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestBuildMonthly(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	mar := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)
	cats := []core.Category{{ID: 1, Name: "Food"}, {ID: 2, Name: "Home"}}
	txs := []core.Transaction{
		tx(300000, 0, true, mar),
		tx(20000, 1, false, mar),
		tx(40000, 2, false, mar),
		tx(50000, 1, false, feb),
		tx(99999, 1, false, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)),
	}
	r, err := Build(Monthly, now, txs, cats)
	if err != nil {
		t.Fatal(err)
	}
	if r.Title != "Monthly report March 2024" {
		t.Fatalf("title = %q", r.Title)
	}
	if r.Income.Cents != 300000 || r.Expense.Cents != 60000 || r.PreviousExpense.Cents != 50000 {
		t.Fatalf("totals = %+v", r)
	}
	if r.Balance().Cents != 240000 {
		t.Fatalf("balance = %d", r.Balance().Cents)
	}
	if r.TopExpenseCategory != "Home" {
		t.Fatalf("top = %q", r.TopExpenseCategory)
	}
	if got := r.ExpenseTrend.String(); got != "+20.0%" {
		t.Fatalf("trend = %q", got)
	}
}

func TestTopCategoryTieBreaksByName(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	day := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	cats := []core.Category{{ID: 1, Name: "Zoo"}, {ID: 2, Name: "Apples"}}
	r, err := Build(Weekly, now, []core.Transaction{tx(100, 1, false, day), tx(100, 2, false, day)}, cats)
	if err != nil {
		t.Fatal(err)
	}
	if r.TopExpenseCategory != "Apples" {
		t.Fatalf("top = %q", r.TopExpenseCategory)
	}
}

func TestTopCategoryKeepsSameNamedCategoriesApart(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	day := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	cats := []core.Category{{ID: 1, Name: "Food"}, {ID: 2, Name: "Food"}, {ID: 3, Name: "Bills"}}
	tests := []struct {
		name string
		txs  []core.Transaction
		want string
	}{
		{"largest single category wins", []core.Transaction{tx(300, 1, false, day), tx(300, 2, false, day), tx(500, 3, false, day)}, "Bills"},
		{"same-named tie", []core.Transaction{tx(400, 1, false, day), tx(400, 2, false, day)}, "Food"},
		{"unknown ids pool as uncategorized", []core.Transaction{tx(300, 8, false, day), tx(300, 9, false, day), tx(500, 3, false, day)}, Uncategorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Build(Weekly, now, tt.txs, cats)
			if err != nil {
				t.Fatal(err)
			}
			if r.TopExpenseCategory != tt.want {
				t.Fatalf("top = %q, want %q", r.TopExpenseCategory, tt.want)
			}
		})
	}
}

func TestTopCategoryEmptyAndUncategorized(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	r, err := Build(Weekly, now, []core.Transaction{tx(100, 0, true, now)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.TopExpenseCategory != NoExpenses {
		t.Fatalf("top = %q", r.TopExpenseCategory)
	}

	r, err = Build(Weekly, now, []core.Transaction{tx(100, 9, false, now)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.TopExpenseCategory != Uncategorized {
		t.Fatalf("top = %q", r.TopExpenseCategory)
	}
}

func TestTrendInsufficientData(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	r, err := Build(Weekly, now, []core.Transaction{tx(50000, 0, false, now)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.ExpenseTrend.Defined {
		t.Fatalf("trend should be undefined, got %s", r.ExpenseTrend.Percent)
	}
	if got := r.ExpenseTrend.String(); got != InsufficientData {
		t.Fatalf("trend = %q", got)
	}
}

func TestTrendDecrease(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	lastWeek := now.AddDate(0, 0, -8)
	r, err := Build(Weekly, now, []core.Transaction{tx(300, 0, false, now), tx(400, 0, false, lastWeek)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := r.ExpenseTrend.String(); got != "-25.0%" {
		t.Fatalf("trend = %q", got)
	}
}
