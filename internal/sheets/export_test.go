package sheets_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/aggregate"
	"fintrack/internal/core"
	"fintrack/internal/sheets"
	sheetsmem "fintrack/internal/sheets/memory"
	storemem "fintrack/internal/storage/memory"
)

func seed(t *testing.T, s *storemem.Store, id string, kind core.Kind, amount int64, date core.Date, template bool) {
	t.Helper()
	tx := core.Transaction{
		ID:                  id,
		OwnerID:             "owner-1",
		Amount:              decimal.NewFromInt(amount),
		Kind:                kind,
		Category:            "General",
		Date:                date,
		IsRecurringTemplate: template,
		CreatedAt:           time.Now(),
		UpdatedAt:           time.Now(),
	}
	if template {
		tx.Status = core.StatusActive
	}
	require.NoError(t, s.CreateTransaction(context.Background(), tx))
}

func TestExportTrend(t *testing.T) {
	store := storemem.New()
	seed(t, store, "i1", core.Income, 3000, core.NewDate(2024, 1, 1), false)
	seed(t, store, "e1", core.Expense, 1200, core.NewDate(2024, 1, 15), false)
	seed(t, store, "e2", core.Expense, 500, core.NewDate(2024, 2, 3), false)
	seed(t, store, "rent", core.Expense, 900, core.NewDate(2024, 2, 1), true)

	writer := sheetsmem.New()
	ref, err := sheets.NewExporter(store, writer).ExportTrend(context.Background(), "owner-1", core.Date{}, core.Date{})
	require.NoError(t, err)
	assert.Equal(t, "mem:owner-1!A1:D3", ref)

	rows := writer.Rows("owner-1")
	require.Len(t, rows, 3)
	assert.Equal(t, sheets.TrendHeader, rows[0])
	assert.Equal(t, []any{"2024-01", "3000.00", "1200.00", "1800.00"}, rows[1])
	assert.Equal(t, []any{"2024-02", "0.00", "500.00", "-500.00"}, rows[2], "templates are not exported")
}

func TestExportTrend_RespectsRange(t *testing.T) {
	store := storemem.New()
	seed(t, store, "e1", core.Expense, 100, core.NewDate(2024, 1, 15), false)
	seed(t, store, "e2", core.Expense, 200, core.NewDate(2024, 3, 3), false)

	writer := sheetsmem.New()
	_, err := sheets.NewExporter(store, writer).
		ExportTrend(context.Background(), "owner-1", core.NewDate(2024, 3, 1), core.NewDate(2024, 3, 31))
	require.NoError(t, err)

	rows := writer.Rows("owner-1")
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-03", rows[1][0])
}

type failingWriter struct{}

func (failingWriter) WriteTrend(context.Context, string, []aggregate.MonthlyTrendPoint) (string, error) {
	return "", errors.New("quota exceeded")
}

func TestExportTrend_WriterFailureIsUpstream(t *testing.T) {
	_, err := sheets.NewExporter(storemem.New(), failingWriter{}).
		ExportTrend(context.Background(), "owner-1", core.Date{}, core.Date{})
	assert.ErrorIs(t, err, core.ErrUpstream)
}

func TestTrendRows_Empty(t *testing.T) {
	rows := sheets.TrendRows(nil)
	assert.Equal(t, [][]any{sheets.TrendHeader}, rows)
}

func TestMemoryWriterCountsWrites(t *testing.T) {
	w := sheetsmem.New()
	_, _ = w.WriteTrend(context.Background(), "a", nil)
	_, _ = w.WriteTrend(context.Background(), "a", nil)
	assert.Equal(t, 2, w.Writes())
	assert.Empty(t, w.Rows("missing"))
}
