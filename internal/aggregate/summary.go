package aggregate

import (
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

// FinancialSummary is the full set of views computed from one transaction set.
type FinancialSummary struct {
	TotalIncome      decimal.Decimal     `json:"total_income"`
	TotalExpenses    decimal.Decimal     `json:"total_expenses"`
	NetStatus        decimal.Decimal     `json:"net_status"`
	Theme            Theme               `json:"theme"`
	Categories       []CategorySummary   `json:"categories"`
	Trend            []MonthlyTrendPoint `json:"trend"`
	MonthOverMonth   SpendingChange      `json:"month_over_month"`
	TransactionCount int                 `json:"transaction_count"`
	ComputedAt       time.Time           `json:"computed_at"`
}

// Summarize computes every summary view at once. now anchors the
// month-over-month comparison and is recorded as ComputedAt.
func Summarize(txs []core.Transaction, now time.Time) FinancialSummary {
	income := TotalIncome(txs)
	expenses := TotalExpenses(txs)
	net := income.Sub(expenses)
	return FinancialSummary{
		TotalIncome:      income,
		TotalExpenses:    expenses,
		NetStatus:        net,
		Theme:            NetStatusTheme(net),
		Categories:       CategoryBreakdown(txs),
		Trend:            MonthlyTrend(txs),
		MonthOverMonth:   MonthOverMonth(txs, now),
		TransactionCount: len(txs),
		ComputedAt:       now,
	}
}

// FilterPeriod keeps transactions dated within [from, to], both inclusive.
func FilterPeriod(txs []core.Transaction, from, to core.Date) []core.Transaction {
	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Date.Before(from) || tx.Date.After(to) {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// MonthOverMonth compares expenses of now's calendar month with the month
// before it.
func MonthOverMonth(txs []core.Transaction, now time.Time) SpendingChange {
	start := core.NewDate(now.Year(), int(now.Month()), 1)
	end := core.Date{Time: start.AddDate(0, 1, -1)}
	prevStart := core.Date{Time: start.AddDate(0, -1, 0)}
	prevEnd := core.Date{Time: start.AddDate(0, 0, -1)}

	current := TotalExpenses(FilterPeriod(txs, start, end))
	previous := TotalExpenses(FilterPeriod(txs, prevStart, prevEnd))
	return SpendingTrend(current, previous)
}
