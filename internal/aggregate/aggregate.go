// Package aggregate turns a set of transactions into summary views.
//
// Every function here is pure and total: empty or degenerate input yields
// zero values, never an error, NaN or Inf.
package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

const (
	ThemePositive Theme = "positive"
	ThemeNegative Theme = "negative"
)

const (
	Increasing Direction = "increasing"
	Decreasing Direction = "decreasing"
	Stable     Direction = "stable"
)

// StableBand is the absolute percentage change within which spending is
// considered unchanged.
const StableBand = 5.0

var hundred = decimal.NewFromInt(100)

type (
	Theme     string
	Direction string

	// CategorySummary is one row of the expense breakdown.
	CategorySummary struct {
		Category   string          `json:"category"`
		Amount     decimal.Decimal `json:"amount"`
		Percentage float64         `json:"percentage"`
		Count      int             `json:"count"`
	}

	// MonthlyTrendPoint aggregates one calendar month.
	MonthlyTrendPoint struct {
		Month     string          `json:"month"` // YYYY-MM
		Income    decimal.Decimal `json:"income"`
		Expenses  decimal.Decimal `json:"expenses"`
		NetStatus decimal.Decimal `json:"net_status"`
	}

	// SpendingChange compares spending between two periods.
	SpendingChange struct {
		Direction        Direction       `json:"direction"`
		Current          decimal.Decimal `json:"current"`
		Previous         decimal.Decimal `json:"previous"`
		PercentageChange float64         `json:"percentage_change"`
	}
)

func sumKind(txs []core.Transaction, kind core.Kind) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		if tx.Kind == kind {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

// TotalIncome sums income amounts.
func TotalIncome(txs []core.Transaction) decimal.Decimal {
	return sumKind(txs, core.Income)
}

// TotalExpenses sums expense amounts.
func TotalExpenses(txs []core.Transaction) decimal.Decimal {
	return sumKind(txs, core.Expense)
}

// NetStatus is total income minus total expenses.
func NetStatus(txs []core.Transaction) decimal.Decimal {
	return TotalIncome(txs).Sub(TotalExpenses(txs))
}

// NetStatusTheme classifies a net status. Zero is positive.
func NetStatusTheme(net decimal.Decimal) Theme {
	if net.IsNegative() {
		return ThemeNegative
	}
	return ThemePositive
}

// CategoryBreakdown groups expenses by category, sorted by amount descending.
// Ties keep the order in which categories were first encountered. Income is
// ignored.
func CategoryBreakdown(txs []core.Transaction) []CategorySummary {
	index := make(map[string]int)
	out := make([]CategorySummary, 0)
	total := decimal.Zero
	for _, tx := range txs {
		if tx.Kind != core.Expense {
			continue
		}
		total = total.Add(tx.Amount)
		i, ok := index[tx.Category]
		if !ok {
			i = len(out)
			index[tx.Category] = i
			out = append(out, CategorySummary{Category: tx.Category, Amount: decimal.Zero})
		}
		out[i].Amount = out[i].Amount.Add(tx.Amount)
		out[i].Count++
	}
	for i := range out {
		out[i].Percentage = percentOf(out[i].Amount, total)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Amount.GreaterThan(out[j].Amount)
	})
	return out
}

func percentOf(part, total decimal.Decimal) float64 {
	if total.IsZero() {
		return 0
	}
	return part.Mul(hundred).Div(total).InexactFloat64()
}

// MonthlyTrend returns one point per YYYY-MM present in txs, oldest first.
func MonthlyTrend(txs []core.Transaction) []MonthlyTrendPoint {
	byMonth := make(map[string]*MonthlyTrendPoint)
	for _, tx := range txs {
		key := tx.Date.YearMonth()
		p, ok := byMonth[key]
		if !ok {
			p = &MonthlyTrendPoint{Month: key, Income: decimal.Zero, Expenses: decimal.Zero}
			byMonth[key] = p
		}
		switch tx.Kind {
		case core.Income:
			p.Income = p.Income.Add(tx.Amount)
		case core.Expense:
			p.Expenses = p.Expenses.Add(tx.Amount)
		}
	}
	out := make([]MonthlyTrendPoint, 0, len(byMonth))
	for _, p := range byMonth {
		p.NetStatus = p.Income.Sub(p.Expenses)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// PercentageChange returns 100 * (new - old) / old.
//
// When old is zero the result saturates: 0 if new is also zero, otherwise 100
// regardless of the size or sign of new. That 100 is a convention for "grew
// from nothing", not a real percentage.
func PercentageChange(oldValue, newValue decimal.Decimal) float64 {
	if oldValue.IsZero() {
		if newValue.IsZero() {
			return 0
		}
		return 100
	}
	return newValue.Sub(oldValue).Mul(hundred).Div(oldValue).InexactFloat64()
}

// SpendingTrend compares two spending totals. Changes within ±StableBand
// percent are stable.
func SpendingTrend(current, previous decimal.Decimal) SpendingChange {
	change := PercentageChange(previous, current)
	dir := Stable
	switch {
	case change > StableBand:
		dir = Increasing
	case change < -StableBand:
		dir = Decreasing
	}
	return SpendingChange{
		Direction:        dir,
		Current:          current,
		Previous:         previous,
		PercentageChange: change,
	}
}
