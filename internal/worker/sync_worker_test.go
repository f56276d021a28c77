package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/sheets"
	sheetsmem "fintrack/internal/sheets/memory"
	"fintrack/internal/storage/memory"
)

func TestSyncWorker_HandleChange(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreateTransaction(ctx, core.Transaction{
		ID: "t1", OwnerID: "o1", Amount: decimal.NewFromInt(30), Kind: core.Expense,
		Category: "Food", Date: core.NewDate(2024, 5, 2),
	}))
	recorder := sheetsmem.New()
	w := NewSyncWorker(sheets.NewExporter(store, recorder), "o1")

	require.NoError(t, w.HandleChange(ctx, core.NewChangeEvent(core.EntityGoal, core.OpInsert, "o1", "g1")))
	assert.Zero(t, recorder.Writes(), "goal events do not touch the trend")

	require.NoError(t, w.HandleChange(ctx, core.NewChangeEvent(core.EntityTransaction, core.OpInsert, "o1", "t1")))
	assert.Equal(t, 1, recorder.Writes())
	rows := recorder.Rows("o1")
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-05", rows[1][0])
	assert.Equal(t, "30.00", rows[1][2])
}

func TestSyncWorker_HandleChangeIgnoresOtherOwners(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	for _, owner := range []string{"o1", "o2"} {
		require.NoError(t, store.CreateTransaction(ctx, core.Transaction{
			ID: "t-" + owner, OwnerID: owner, Amount: decimal.NewFromInt(30), Kind: core.Expense,
			Category: "Food", Date: core.NewDate(2024, 5, 2),
		}))
	}
	recorder := sheetsmem.New()
	w := NewSyncWorker(sheets.NewExporter(store, recorder), "o1")

	require.NoError(t, w.HandleChange(ctx, core.NewChangeEvent(core.EntityTransaction, core.OpInsert, "o2", "t-o2")))
	assert.Zero(t, recorder.Writes(), "another owner's change must not overwrite the sheet")
	assert.Empty(t, recorder.Rows("o2"))

	require.NoError(t, w.HandleChange(ctx, core.NewChangeEvent(core.EntityTransaction, core.OpUpdate, "o1", "t-o1")))
	assert.Equal(t, 1, recorder.Writes())
	assert.NotEmpty(t, recorder.Rows("o1"))
}

type failingExporter struct{}

func (failingExporter) ExportTrend(context.Context, string, core.Date, core.Date) (string, error) {
	return "", errors.New("quota exceeded")
}

func TestSyncWorker_SyncOwnerReturnsExportError(t *testing.T) {
	w := NewSyncWorker(failingExporter{}, "o1")
	assert.EqualError(t, w.SyncOwner(context.Background(), "o1"), "quota exceeded")
}

func TestFanout_RunsEveryHandler(t *testing.T) {
	var calls []string
	first := func(context.Context, core.ChangeEvent) error {
		calls = append(calls, "first")
		return errors.New("first failed")
	}
	second := func(context.Context, core.ChangeEvent) error {
		calls = append(calls, "second")
		return nil
	}

	err := Fanout(first, second)(context.Background(), core.ChangeEvent{})
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.ErrorContains(t, err, "first failed")
}
