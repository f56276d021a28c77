// Package sheets exports monthly trend reports to spreadsheets.
package sheets

import (
	"context"

	"fintrack/internal/aggregate"
)

// TrendHeader is the first row written above the trend data.
var TrendHeader = []any{"Month", "Income", "Expenses", "Net"}

// Ports for outbound adapters.
type (
	// TrendWriter replaces the owner's trend report with points.
	TrendWriter interface {
		WriteTrend(ctx context.Context, ownerID string, points []aggregate.MonthlyTrendPoint) (rangeRef string, err error)
	}
)

// TrendRows renders the header followed by one row per point. Amounts are
// fixed to two decimals so the sheet parses them as numbers.
func TrendRows(points []aggregate.MonthlyTrendPoint) [][]any {
	rows := make([][]any, 0, len(points)+1)
	rows = append(rows, TrendHeader)
	for _, p := range points {
		rows = append(rows, []any{
			p.Month,
			p.Income.StringFixed(2),
			p.Expenses.StringFixed(2),
			p.NetStatus.StringFixed(2),
		})
	}
	return rows
}
