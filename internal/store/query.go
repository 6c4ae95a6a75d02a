package store

import (
	"time"

	"bilancio/internal/core"
)

// Select returns the records of T's table matching pred, ordered by id. A nil
// pred matches everything.
func Select[T core.Entity](s *Store, pred func(T) bool) []T {
	var zero T
	var out []T
	for _, e := range s.QueryAll(zero.EntityTable()) {
		v, ok := e.(T)
		if ok && (pred == nil || pred(v)) {
			out = append(out, v)
		}
	}
	return out
}

// Find returns the record of T's table with the given id.
func Find[T core.Entity](s *Store, id int64) (T, bool) {
	var zero T
	e, ok := s.Get(zero.EntityTable(), id)
	if !ok {
		return zero, false
	}
	v, ok := e.(T)
	return v, ok
}

// Sum adds up the amounts of the transactions matching pred.
func (s *Store) Sum(pred func(core.Transaction) bool) core.Money {
	var total core.Money
	for _, tx := range Select(s, pred) {
		total = total.Add(tx.Amount)
	}
	return total
}

// InPeriod matches transactions dated in [from, to).
func InPeriod(from, to time.Time) func(core.Transaction) bool {
	return func(tx core.Transaction) bool {
		return !tx.Date.Before(from) && tx.Date.Before(to)
	}
}

// Expenses restricts pred to expense transactions.
func Expenses(pred func(core.Transaction) bool) func(core.Transaction) bool {
	return func(tx core.Transaction) bool {
		return !tx.IsIncome && (pred == nil || pred(tx))
	}
}

// Income restricts pred to income transactions.
func Income(pred func(core.Transaction) bool) func(core.Transaction) bool {
	return func(tx core.Transaction) bool {
		return tx.IsIncome && (pred == nil || pred(tx))
	}
}

// SpendByCategory groups the expenses in [from, to) by category id. Expenses
// without a category are grouped under 0.
func (s *Store) SpendByCategory(from, to time.Time) map[int64]core.Money {
	out := make(map[int64]core.Money)
	for _, tx := range Select(s, Expenses(InPeriod(from, to))) {
		out[tx.CategoryID] = out[tx.CategoryID].Add(tx.Amount)
	}
	return out
}
