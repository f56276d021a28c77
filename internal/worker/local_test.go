package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/aggregate"
	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/recurring"
	"fintrack/internal/storage/memory"
	"fintrack/internal/summary"
)

type failingPublisher struct{ amqp.NopPublisher }

func (failingPublisher) PublishChange(context.Context, core.ChangeEvent) error {
	return errors.New("broker down")
}

func TestLocalNotifier_DeliversEvenWhenPublishFails(t *testing.T) {
	var got []core.ChangeEvent
	n := NewLocalNotifier(failingPublisher{}, func(_ context.Context, ev core.ChangeEvent) error {
		got = append(got, ev)
		return nil
	})

	ev := core.NewChangeEvent(core.EntityTransaction, core.OpInsert, "o1", "t1")
	err := n.PublishChange(context.Background(), ev)
	assert.ErrorContains(t, err, "broker down")
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].ID)
}

func TestLocalNotifier_GeneratedInstancesRefreshSubscribedSummary(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreateTransaction(ctx, core.Transaction{
		ID: "rent", OwnerID: "o1", Amount: decimal.NewFromInt(900), Kind: core.Expense,
		Category: "Rent", Date: core.NewDate(2024, 1, 1), IsRecurringTemplate: true, Status: core.StatusActive,
	}))

	registry := summary.NewRegistry(store, 4, time.Minute)
	_, err := registry.For("o1").Refresh(ctx)
	require.NoError(t, err)

	var updates []aggregate.FinancialSummary
	unsubscribe := registry.For("o1").Subscribe(func(sum aggregate.FinancialSummary) {
		updates = append(updates, sum)
	})
	defer unsubscribe()

	notifier := NewLocalNotifier(amqp.NopPublisher{}, registry.HandleEvent)
	s := recurring.NewScheduler(store, recurring.WithNotifier(notifier))
	res, err := s.RunDue(ctx, "o1", time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 1, res.Generated)

	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.True(t, last.TotalExpenses.Equal(decimal.NewFromInt(900)), "got %s", last.TotalExpenses)
}
