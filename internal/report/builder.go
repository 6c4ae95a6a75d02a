// Package report aggregates transactions into weekly and monthly period
// reports with the expense trend against the preceding period.
package report

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
)

type Kind string

const (
	Weekly  Kind = "weekly"
	Monthly Kind = "monthly"
)

const (
	// NoExpenses is reported as top category when the period has no expenses.
	NoExpenses = "—"

	// Uncategorized names expenses without a category.
	Uncategorized = "Uncategorized"

	// InsufficientData replaces the trend when the previous period is empty.
	InsufficientData = "insufficient data"
)

func (k Kind) Valid() bool { return k == Weekly || k == Monthly }

// Period is the half-open interval [From, To).
type Period struct {
	From time.Time
	To   time.Time
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.From) && t.Before(p.To)
}

// Trend is the expense change in percent. It is undefined when the previous
// period had no expenses.
type Trend struct {
	Defined bool
	Percent decimal.Decimal
}

func (t Trend) String() string {
	if !t.Defined {
		return InsufficientData
	}
	p := t.Percent.Round(1)
	if p.IsPositive() {
		return "+" + p.StringFixed(1) + "%"
	}
	return p.StringFixed(1) + "%"
}

type Report struct {
	Kind               Kind
	Title              string
	Period             Period
	Previous           Period
	Income             core.Money
	Expense            core.Money
	PreviousExpense    core.Money
	TopExpenseCategory string
	ExpenseTrend       Trend
}

// Balance is income minus expense for the period.
func (r Report) Balance() core.Money { return r.Income.Sub(r.Expense) }

// Periods returns the current and previous period of kind at now. Weekly is
// the last seven days including today; monthly is the calendar month of now
// and the calendar month before it.
func Periods(kind Kind, now time.Time) (Period, Period, error) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch kind {
	case Weekly:
		cur := Period{From: day.AddDate(0, 0, -6), To: day.AddDate(0, 0, 1)}
		prev := Period{From: cur.From.AddDate(0, 0, -7), To: cur.From}
		return cur, prev, nil
	case Monthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		cur := Period{From: start, To: start.AddDate(0, 1, 0)}
		prev := Period{From: start.AddDate(0, -1, 0), To: start}
		return cur, prev, nil
	}
	return Period{}, Period{}, fmt.Errorf("unknown report kind %q", kind)
}

// Build computes the report of kind at now over txs. categories resolves
// category names for the top expense category.
func Build(kind Kind, now time.Time, txs []core.Transaction, categories []core.Category) (Report, error) {
	cur, prev, err := Periods(kind, now)
	if err != nil {
		return Report{}, err
	}
	names := make(map[int64]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}

	r := Report{Kind: kind, Title: title(kind, cur), Period: cur, Previous: prev}
	byCategory := make(map[int64]core.Money)
	for _, tx := range txs {
		switch {
		case cur.Contains(tx.Date):
			if tx.IsIncome {
				r.Income = r.Income.Add(tx.Amount)
				continue
			}
			r.Expense = r.Expense.Add(tx.Amount)
			id := tx.CategoryID
			if _, ok := names[id]; !ok {
				id = 0
			}
			byCategory[id] = byCategory[id].Add(tx.Amount)
		case prev.Contains(tx.Date) && !tx.IsIncome:
			r.PreviousExpense = r.PreviousExpense.Add(tx.Amount)
		}
	}
	r.TopExpenseCategory = topCategory(byCategory, names)
	r.ExpenseTrend = trend(r.Expense, r.PreviousExpense)
	return r, nil
}

// topCategory names the category with the largest total. Ties go to the
// alphabetically first name, then to the lower id.
func topCategory(byCategory map[int64]core.Money, names map[int64]string) string {
	if len(byCategory) == 0 {
		return NoExpenses
	}
	name := func(id int64) string {
		if n, ok := names[id]; ok {
			return n
		}
		return Uncategorized
	}
	var (
		top   int64
		found bool
	)
	for id, total := range byCategory {
		if !found {
			top, found = id, true
			continue
		}
		best := byCategory[top]
		switch {
		case total.Cents > best.Cents:
			top = id
		case total.Cents == best.Cents:
			if n, bn := name(id), name(top); n < bn || (n == bn && id < top) {
				top = id
			}
		}
	}
	return name(top)
}

func trend(current, previous core.Money) Trend {
	if previous.Cents == 0 {
		return Trend{}
	}
	cur := decimal.NewFromInt(current.Cents)
	prev := decimal.NewFromInt(previous.Cents)
	return Trend{Defined: true, Percent: cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100))}
}

func title(kind Kind, p Period) string {
	if kind == Monthly {
		return "Monthly report " + p.From.Format("January 2006")
	}
	last := p.To.AddDate(0, 0, -1)
	return fmt.Sprintf("Weekly report %s to %s", p.From.Format("2006-01-02"), last.Format("2006-01-02"))
}
