package sheets

import (
	"context"
	"strings"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/report"
)

const dayLayout = "2006-01-02"

// ReportRow is one exported period report, as laid out in the reports sheet.
type ReportRow struct {
	Kind        report.Kind
	Title       string
	From        string
	To          string
	Income      core.Money
	Expense     core.Money
	Balance     core.Money
	TopCategory string
	Trend       string
}

// ReportHeader is the header row of the reports sheet.
var ReportHeader = []any{"Kind", "Title", "From", "To", "Income", "Expense", "Balance", "Top category", "Trend"}

// Ports for outbound adapters.
type (
	ReportWriter interface {
		AppendReport(ctx context.Context, r report.Report) (rowRef string, err error)
	}

	ReportLister interface {
		ListReports(ctx context.Context) ([]ReportRow, error)
	}

	// CategoryReader lists category names used to seed a new account.
	CategoryReader interface {
		ListCategories(ctx context.Context) ([]string, error)
	}
)

// RowFrom flattens r. To is the last day included in the period.
func RowFrom(r report.Report) ReportRow {
	return ReportRow{
		Kind:        r.Kind,
		Title:       r.Title,
		From:        r.Period.From.Format(dayLayout),
		To:          r.Period.To.Add(-time.Nanosecond).Format(dayLayout),
		Income:      r.Income,
		Expense:     r.Expense,
		Balance:     r.Balance(),
		TopCategory: r.TopExpenseCategory,
		Trend:       r.ExpenseTrend.String(),
	}
}

// Values returns the row cells in sheet column order.
func (r ReportRow) Values() []any {
	return []any{
		string(r.Kind), r.Title, r.From, r.To,
		r.Income.String(), r.Expense.String(), r.Balance.String(),
		r.TopCategory, r.Trend,
	}
}

// ParseRow reads a sheet row back. Rows that are not reports (headers,
// blanks, foreign data) are reported as not ok.
func ParseRow(cols []string) (ReportRow, bool) {
	if len(cols) < len(ReportHeader) {
		return ReportRow{}, false
	}
	kind := report.Kind(strings.TrimSpace(cols[0]))
	if !kind.Valid() {
		return ReportRow{}, false
	}
	parse := func(s string) (core.Money, bool) {
		s = strings.TrimSpace(s)
		if s == "0" || s == "0.00" || s == "0,00" {
			return core.Money{}, true
		}
		neg := strings.HasPrefix(s, "-")
		m, err := core.ParseMoney(strings.TrimPrefix(s, "-"))
		if err != nil {
			return core.Money{}, false
		}
		if neg {
			m.Cents = -m.Cents
		}
		return m, true
	}
	income, ok1 := parse(cols[4])
	expense, ok2 := parse(cols[5])
	balance, ok3 := parse(cols[6])
	if !ok1 || !ok2 || !ok3 {
		return ReportRow{}, false
	}
	return ReportRow{
		Kind:        kind,
		Title:       strings.TrimSpace(cols[1]),
		From:        strings.TrimSpace(cols[2]),
		To:          strings.TrimSpace(cols[3]),
		Income:      income,
		Expense:     expense,
		Balance:     balance,
		TopCategory: strings.TrimSpace(cols[7]),
		Trend:       strings.TrimSpace(cols[8]),
	}, true
}
