// Package limits derives monthly budget status per category and detects the
// threshold crossings that should produce a notification.
package limits

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
)

type Status string

const (
	StatusOK       Status = "ok"
	StatusNear     Status = "near"
	StatusExceeded Status = "exceeded"
	// StatusInvalid marks a limit that is not positive. It never notifies.
	StatusInvalid Status = "invalid"
)

var (
	nearThreshold = decimal.RequireFromString("0.8")
	one           = decimal.NewFromInt(1)
)

// Result is the evaluation of one limit.
type Result struct {
	Limit    core.CategoryLimit
	Spent    core.Money
	Progress decimal.Decimal
	Status   Status
}

// DisplayProgress is Progress clamped to [0, 1].
func (r Result) DisplayProgress() decimal.Decimal {
	if r.Progress.GreaterThan(one) {
		return one
	}
	if r.Progress.IsNegative() {
		return decimal.Zero
	}
	return r.Progress
}

// Trigger is a crossing into near or exceeded that has not fired before.
type Trigger struct {
	CategoryID int64
	Month      core.MonthKey
	Status     Status
	Spent      core.Money
	Limit      core.Money
}

// Classify returns the status for spent against limit, and the exact ratio.
func Classify(spent, limit core.Money) (Status, decimal.Decimal) {
	if limit.Cents <= 0 {
		return StatusInvalid, decimal.Zero
	}
	progress := decimal.NewFromInt(spent.Cents).Div(decimal.NewFromInt(limit.Cents))
	switch {
	case progress.GreaterThanOrEqual(one):
		return StatusExceeded, progress
	case progress.GreaterThanOrEqual(nearThreshold):
		return StatusNear, progress
	}
	return StatusOK, progress
}

// Spent sums the expenses of category in month.
func Spent(txs []core.Transaction, categoryID int64, month core.MonthKey) core.Money {
	var total core.Money
	for _, tx := range txs {
		if !tx.IsIncome && tx.CategoryID == categoryID && tx.Month() == month {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

type fireKey struct {
	categoryID int64
	month      core.MonthKey
	status     Status
}

type seenKey struct {
	categoryID int64
	month      core.MonthKey
}

// Evaluator remembers what it has already reported so that repeated
// evaluation of unchanged data fires nothing. Safe for concurrent use.
type Evaluator struct {
	mu    sync.Mutex
	seen  map[seenKey]Status
	fired map[fireKey]bool
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		seen:  make(map[seenKey]Status),
		fired: make(map[fireKey]bool),
	}
}

// Evaluate classifies every limit of month and returns the results together
// with the triggers for crossings seen for the first time. A limit moving from
// ok straight to exceeded yields a single exceeded trigger. Each of near and
// exceeded fires at most once per category and month.
func (e *Evaluator) Evaluate(month core.MonthKey, limits []core.CategoryLimit, txs []core.Transaction) ([]Result, []Trigger) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		results  []Result
		triggers []Trigger
	)
	for _, l := range limits {
		if l.Month != month {
			continue
		}
		spent := Spent(txs, l.CategoryID, l.Month)
		status, progress := Classify(spent, l.MonthlyLimit)
		results = append(results, Result{Limit: l, Spent: spent, Progress: progress, Status: status})

		sk := seenKey{l.CategoryID, l.Month}
		prev := e.seen[sk]
		e.seen[sk] = status
		if rank(status) <= rank(prev) {
			continue
		}
		fk := fireKey{l.CategoryID, l.Month, status}
		if e.fired[fk] {
			continue
		}
		e.fired[fk] = true
		triggers = append(triggers, Trigger{
			CategoryID: l.CategoryID,
			Month:      l.Month,
			Status:     status,
			Spent:      spent,
			Limit:      l.MonthlyLimit,
		})
	}
	return results, triggers
}

// Forget drops the memory for months other than keep.
func (e *Evaluator) Forget(keep core.MonthKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.seen {
		if k.month != keep {
			delete(e.seen, k)
		}
	}
	for k := range e.fired {
		if k.month != keep {
			delete(e.fired, k)
		}
	}
}

func rank(s Status) int {
	switch s {
	case StatusNear:
		return 1
	case StatusExceeded:
		return 2
	}
	return 0
}

func (t Trigger) String() string {
	return fmt.Sprintf("category %d %s in %s (%s of %s)", t.CategoryID, t.Status, t.Month, t.Spent, t.Limit)
}
