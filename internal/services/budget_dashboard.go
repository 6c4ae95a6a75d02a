package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
	"bilancio/internal/limits"
	"bilancio/internal/notify"
	"bilancio/internal/store"
)

const recentTransactions = 10

// LimitStatus is the dashboard view of one category limit.
type LimitStatus struct {
	CategoryID   int64           `json:"categoryId"`
	CategoryName string          `json:"categoryName"`
	Month        core.MonthKey   `json:"monthKey"`
	Limit        core.Money      `json:"limit"`
	Spent        core.Money      `json:"spent"`
	Progress     decimal.Decimal `json:"progress"`
	Ratio        decimal.Decimal `json:"ratio"`
	Status       limits.Status   `json:"status"`
}

// Dashboard is the state shown on the home screen. Income, Expense and
// Balance cover every transaction; Limits cover the current month.
type Dashboard struct {
	Version uint64             `json:"version"`
	Month   core.MonthKey      `json:"month"`
	Role    core.Role          `json:"role"`
	Income  core.Money         `json:"income"`
	Expense core.Money         `json:"expense"`
	Balance core.Money         `json:"balance"`
	Limits  []LimitStatus      `json:"limits"`
	Recent  []core.Transaction `json:"recent"`
}

type tables struct {
	version      uint64
	categories   []core.Category
	members      []core.FamilyMember
	transactions []core.Transaction
	limits       []core.CategoryLimit
}

func (s *BudgetService) currentTables() tables {
	return tables{
		version:      s.store.Version(),
		categories:   store.Select[core.Category](s.store, nil),
		members:      store.Select[core.FamilyMember](s.store, nil),
		transactions: store.Select[core.Transaction](s.store, nil),
		limits:       store.Select[core.CategoryLimit](s.store, nil),
	}
}

func tablesOf(v store.View) tables {
	return tables{
		version:      v.Version,
		categories:   recordsOf[core.Category](v.Records(core.TableCategories)),
		members:      recordsOf[core.FamilyMember](v.Records(core.TableMembers)),
		transactions: recordsOf[core.Transaction](v.Records(core.TableTransactions)),
		limits:       recordsOf[core.CategoryLimit](v.Records(core.TableCategoryLimits)),
	}
}

func recordsOf[T core.Entity](es []core.Entity) []T {
	out := make([]T, 0, len(es))
	for _, e := range es {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Dashboard computes the current dashboard for the caller. Limit crossings
// found on the way are notified.
func (s *BudgetService) Dashboard(ctx context.Context) (Dashboard, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	return s.dashboard(ctx, sess.Email, s.currentTables()), nil
}

func (s *BudgetService) dashboard(ctx context.Context, email string, t tables) Dashboard {
	month := core.MonthOf(s.now())
	d := Dashboard{
		Version: t.version,
		Month:   month,
		Role:    roleOf(email, t.members),
		Limits:  []LimitStatus{},
	}
	for _, tx := range t.transactions {
		if tx.IsIncome {
			d.Income = d.Income.Add(tx.Amount)
		} else {
			d.Expense = d.Expense.Add(tx.Amount)
		}
	}
	d.Balance = d.Income.Sub(d.Expense)

	names := categoryNames(t.categories)
	for _, r := range s.evaluate(ctx, month, t, names) {
		d.Limits = append(d.Limits, LimitStatus{
			CategoryID:   r.Limit.CategoryID,
			CategoryName: names[r.Limit.CategoryID],
			Month:        r.Limit.Month,
			Limit:        r.Limit.MonthlyLimit,
			Spent:        r.Spent,
			Progress:     r.DisplayProgress(),
			Ratio:        r.Progress,
			Status:       r.Status,
		})
	}

	recent := append([]core.Transaction(nil), t.transactions...)
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].Date.After(recent[j].Date) })
	if len(recent) > recentTransactions {
		recent = recent[:recentTransactions]
	}
	d.Recent = recent
	return d
}

func categoryNames(cats []core.Category) map[int64]string {
	names := make(map[int64]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Name
	}
	return names
}

// refreshLimits re-evaluates the current month after a change.
func (s *BudgetService) refreshLimits(ctx context.Context) {
	t := s.currentTables()
	s.evaluate(ctx, core.MonthOf(s.now()), t, categoryNames(t.categories))
}

func (s *BudgetService) evaluate(ctx context.Context, month core.MonthKey, t tables, names map[int64]string) []limits.Result {
	s.evaluator.Forget(month)
	results, triggers := s.evaluator.Evaluate(month, t.limits, t.transactions)
	for _, tr := range triggers {
		s.notifyLimit(ctx, tr, names[tr.CategoryID])
	}
	return results
}

func (s *BudgetService) notifyLimit(ctx context.Context, tr limits.Trigger, category string) {
	e := notify.Event{
		Body: fmt.Sprintf("Spent %s of %s in %s", tr.Spent, tr.Limit, tr.Month),
		Data: map[string]string{
			"category":   category,
			"categoryId": fmt.Sprint(tr.CategoryID),
			"month":      string(tr.Month),
			"spent":      tr.Spent.String(),
			"limit":      tr.Limit.String(),
		},
		At: s.now(),
	}
	switch tr.Status {
	case limits.StatusExceeded:
		e.Kind = notify.KindLimitExceeded
		e.Title = "Budget exceeded: " + category
	case limits.StatusNear:
		e.Kind = notify.KindLimitNearing
		e.Title = "Budget almost reached: " + category
	default:
		return
	}
	slog.InfoContext(ctx, "Limit threshold crossed", "category_id", tr.CategoryID, "month", tr.Month, "status", tr.Status)
	if err := s.notifier.Notify(ctx, e); err != nil {
		slog.WarnContext(ctx, "Failed to deliver limit notification", "kind", e.Kind, "error", err)
	}
}

// Watch streams the caller's dashboard, first the current one and then one
// after every store change. A slow reader only sees the latest dashboard.
// The channel is closed when ctx is done.
func (s *BudgetService) Watch(ctx context.Context) (<-chan Dashboard, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return nil, err
	}
	views := s.store.Subscribe(ctx,
		core.TableCategories, core.TableMembers, core.TableTransactions, core.TableCategoryLimits)
	out := make(chan Dashboard, 1)
	go func() {
		defer close(out)
		for v := range views {
			d := s.dashboard(ctx, sess.Email, tablesOf(v))
			select {
			case <-out:
			default:
			}
			out <- d
		}
	}()
	return out, nil
}
