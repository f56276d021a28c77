// Package storetest holds the behaviour every storage.Store adapter must
// share. Adapter packages call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

const owner = "owner-1"

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"TransactionRoundTrip", testTransactionRoundTrip},
		{"OwnerScoping", testOwnerScoping},
		{"ListOrderingAndFilters", testListOrderingAndFilters},
		{"InstanceUniquePerMonth", testInstanceUniquePerMonth},
		{"DeleteTransactionCascadesAllocations", testDeleteTransactionCascadesAllocations},
		{"GoalsAndAllocations", testGoalsAndAllocations},
		{"TransactionLockRollsBackOnError", testTransactionLockRollsBackOnError},
		{"UpdateKeepsAmountCoveringAllocations", testUpdateKeepsAmountCoveringAllocations},
		{"ConcurrentLockedWrites", testConcurrentLockedWrites},
		{"Templates", testTemplates},
		{"DeleteTemplatePolicies", testDeleteTemplatePolicies},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func amount(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func expense(id string, date core.Date, created time.Duration) core.Transaction {
	return core.Transaction{
		ID:        id,
		OwnerID:   owner,
		Amount:    amount("12.50"),
		Kind:      core.Expense,
		Category:  "Food",
		Date:      date,
		CreatedAt: base.Add(created),
		UpdatedAt: base.Add(created),
	}
}

func template(id string) core.Transaction {
	tx := expense(id, core.NewDate(2024, 1, 5), 0)
	tx.Category = "Rent"
	tx.Amount = amount("900")
	tx.IsRecurringTemplate = true
	tx.Status = core.StatusActive
	return tx
}

func instance(id, parent string, date core.Date) core.Transaction {
	tx := expense(id, date, time.Minute)
	tx.Category = "Rent"
	tx.RecurringParentID = parent
	return tx
}

func mustCreate(t *testing.T, s storage.Store, txs ...core.Transaction) {
	t.Helper()
	for _, tx := range txs {
		require.NoError(t, s.CreateTransaction(context.Background(), tx), tx.ID)
	}
}

func ids(txs []core.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}

func testTransactionRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := expense("t1", core.NewDate(2024, 3, 10), 0)
	tx.Description = "Groceries"
	tx.Amount = amount("1234.56")
	mustCreate(t, s, tx)

	got, err := s.GetTransaction(ctx, owner, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
	assert.True(t, got.Amount.Equal(tx.Amount))
	assert.Equal(t, core.Expense, got.Kind)
	assert.Equal(t, "Groceries", got.Description)
	assert.Equal(t, "2024-03-10", got.Date.String())
	assert.True(t, got.CreatedAt.Equal(tx.CreatedAt))

	got.Category = "Dining"
	got.UpdatedAt = base.Add(time.Hour)
	require.NoError(t, s.UpdateTransaction(ctx, got))
	again, err := s.GetTransaction(ctx, owner, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Dining", again.Category)

	err = s.CreateTransaction(ctx, tx)
	assert.ErrorIs(t, err, core.ErrConflict)

	bad := expense("t2", core.NewDate(2024, 3, 10), 0)
	bad.Amount = decimal.Zero
	assert.ErrorIs(t, s.CreateTransaction(ctx, bad), core.ErrValidation)

	_, err = s.GetTransaction(ctx, owner, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testOwnerScoping(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, expense("t1", core.NewDate(2024, 3, 10), 0))
	require.NoError(t, s.CreateGoal(ctx, core.Goal{ID: "g1", OwnerID: owner, Name: "Car", TargetAmount: amount("100"), CreatedAt: base}))

	_, err := s.GetTransaction(ctx, "intruder", "t1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetGoal(ctx, "intruder", "g1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.DeleteTransaction(ctx, "intruder", "t1"), core.ErrNotFound)

	list, err := s.ListTransactions(ctx, "intruder", storage.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	err = s.WithTransactionLock(ctx, "intruder", "t1", func(context.Context, storage.AllocationTx) error { return nil })
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testListOrderingAndFilters(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := expense("a", core.NewDate(2024, 3, 1), 0)
	b := expense("b", core.NewDate(2024, 3, 5), 0)
	c := expense("c", core.NewDate(2024, 3, 5), time.Second)
	d := expense("d", core.NewDate(2024, 2, 20), 0)
	d.Category = "Travel"
	tmpl := template("tmpl")
	inst := instance("inst", "tmpl", core.NewDate(2024, 3, 5))
	mustCreate(t, s, a, b, c, d, tmpl, inst)

	all, err := s.ListTransactions(ctx, owner, storage.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"inst", "c", "b", "a", "d", "tmpl"}, ids(all))

	tests := []struct {
		name   string
		filter storage.TransactionFilter
		want   []string
	}{
		{"category", storage.TransactionFilter{Category: "Travel"}, []string{"d"}},
		{"range inclusive", storage.TransactionFilter{From: core.NewDate(2024, 3, 1), To: core.NewDate(2024, 3, 4)}, []string{"a"}},
		{"parent", storage.TransactionFilter{RecurringParentID: "tmpl"}, []string{"inst"}},
		{"templates only", storage.TransactionFilter{TemplatesOnly: true}, []string{"tmpl"}},
		{"exclude templates", storage.TransactionFilter{ExcludeTemplates: true}, []string{"inst", "c", "b", "a", "d"}},
		{"limit", storage.TransactionFilter{Limit: 2}, []string{"inst", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListTransactions(ctx, owner, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func testInstanceUniquePerMonth(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, template("tmpl"), instance("i1", "tmpl", core.NewDate(2024, 3, 1)))

	err := s.CreateTransaction(ctx, instance("i2", "tmpl", core.NewDate(2024, 3, 31)))
	assert.ErrorIs(t, err, core.ErrConflict)

	assert.NoError(t, s.CreateTransaction(ctx, instance("i3", "tmpl", core.NewDate(2024, 4, 1))))

	n, err := s.CountInstancesInPeriod(ctx, owner, "tmpl", core.NewDate(2024, 3, 1), core.NewDate(2024, 3, 31))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func createGoal(t *testing.T, s storage.Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateGoal(context.Background(), core.Goal{
		ID: id, OwnerID: owner, Name: "Goal " + id, TargetAmount: amount("1000"), CreatedAt: base,
	}))
}

func allocate(t *testing.T, s storage.Store, id, goalID, txID, amt string) {
	t.Helper()
	err := s.WithTransactionLock(context.Background(), owner, txID, func(ctx context.Context, tx storage.AllocationTx) error {
		return tx.InsertAllocation(ctx, core.Allocation{
			ID: id, GoalID: goalID, TransactionID: txID, Amount: amount(amt), CreatedAt: base,
		})
	})
	require.NoError(t, err)
}

func testDeleteTransactionCascadesAllocations(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, expense("t1", core.NewDate(2024, 3, 10), 0))
	createGoal(t, s, "g1")
	allocate(t, s, "a1", "g1", "t1", "5")

	require.NoError(t, s.DeleteTransaction(ctx, owner, "t1"))
	_, err := s.GetAllocation(ctx, owner, "a1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	list, err := s.ListAllocationsByGoal(ctx, owner, "g1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testGoalsAndAllocations(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, expense("t1", core.NewDate(2024, 3, 10), 0))
	deadline := core.NewDate(2024, 12, 31)
	require.NoError(t, s.CreateGoal(ctx, core.Goal{
		ID: "g1", OwnerID: owner, Name: "Holiday", TargetAmount: amount("2500.00"), Deadline: &deadline, CreatedAt: base,
	}))
	createGoal(t, s, "g2")

	g, err := s.GetGoal(ctx, owner, "g1")
	require.NoError(t, err)
	require.NotNil(t, g.Deadline)
	assert.Equal(t, "2024-12-31", g.Deadline.String())
	assert.True(t, g.TargetAmount.Equal(amount("2500")))

	g.Name = "Summer holiday"
	require.NoError(t, s.UpdateGoal(ctx, g))
	goals, err := s.ListGoals(ctx, owner)
	require.NoError(t, err)
	require.Len(t, goals, 2)
	assert.Equal(t, "Summer holiday", goals[0].Name)

	allocate(t, s, "a1", "g1", "t1", "5")
	allocate(t, s, "a2", "g2", "t1", "2.5")

	err = s.WithTransactionLock(ctx, owner, "t1", func(ctx context.Context, tx storage.AllocationTx) error {
		assert.True(t, tx.Transaction().Amount.Equal(amount("12.50")))
		total, err := tx.AllocatedTotal(ctx, "")
		require.NoError(t, err)
		assert.True(t, total.Equal(amount("7.5")))
		total, err = tx.AllocatedTotal(ctx, "a1")
		require.NoError(t, err)
		assert.True(t, total.Equal(amount("2.5")))
		return tx.UpdateAllocationAmount(ctx, "a1", amount("6"))
	})
	require.NoError(t, err)

	a, err := s.GetAllocation(ctx, owner, "a1")
	require.NoError(t, err)
	assert.True(t, a.Amount.Equal(amount("6")))

	byOwner, err := s.ListAllocationsByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, byOwner, 2)

	require.NoError(t, s.DeleteAllocation(ctx, owner, "a2"))
	assert.ErrorIs(t, s.DeleteAllocation(ctx, owner, "a2"), core.ErrNotFound)

	require.NoError(t, s.DeleteGoal(ctx, owner, "g1"))
	_, err = s.GetAllocation(ctx, owner, "a1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testTransactionLockRollsBackOnError(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, expense("t1", core.NewDate(2024, 3, 10), 0))
	createGoal(t, s, "g1")

	err := s.WithTransactionLock(ctx, owner, "t1", func(ctx context.Context, tx storage.AllocationTx) error {
		require.NoError(t, tx.InsertAllocation(ctx, core.Allocation{
			ID: "a1", GoalID: "g1", TransactionID: "t1", Amount: amount("1"), CreatedAt: base,
		}))
		return core.NewValidationError("amount", "rejected")
	})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = s.GetAllocation(ctx, owner, "a1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testUpdateKeepsAmountCoveringAllocations(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := expense("t1", core.NewDate(2024, 3, 10), 0)
	tx.Amount = amount("1000")
	mustCreate(t, s, tx)
	createGoal(t, s, "g1")
	allocate(t, s, "a1", "g1", "t1", "900")

	tx.Amount = amount("100")
	err := s.UpdateTransaction(ctx, tx)
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "amount", verr.Field)

	got, err := s.GetTransaction(ctx, owner, "t1")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(amount("1000")), "rejected edit must not be written")

	tx.Amount = amount("900")
	require.NoError(t, s.UpdateTransaction(ctx, tx))
	got, err = s.GetTransaction(ctx, owner, "t1")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(amount("900")))

	missing := expense("t9", core.NewDate(2024, 3, 10), 0)
	assert.ErrorIs(t, s.UpdateTransaction(ctx, missing), core.ErrNotFound)
}

func testConcurrentLockedWrites(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, expense("t1", core.NewDate(2024, 3, 10), 0))
	createGoal(t, s, "g1")

	// Each writer tops the allocations up by 2.5 only if room remains.
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithTransactionLock(ctx, owner, "t1", func(ctx context.Context, tx storage.AllocationTx) error {
				total, err := tx.AllocatedTotal(ctx, "")
				if err != nil {
					return err
				}
				step := amount("2.5")
				if total.Add(step).GreaterThan(tx.Transaction().Amount) {
					return core.NewValidationError("amount", "full")
				}
				return tx.InsertAllocation(ctx, core.Allocation{
					ID: "a" + string(rune('a'+i)), GoalID: "g1", TransactionID: "t1", Amount: step, CreatedAt: base,
				})
			})
		}()
	}
	wg.Wait()

	list, err := s.ListAllocationsByGoal(ctx, owner, "g1")
	require.NoError(t, err)
	sum := decimal.Zero
	for _, a := range list {
		sum = sum.Add(a.Amount)
	}
	assert.True(t, sum.LessThanOrEqual(amount("12.50")), "allocated %s", sum)
}

func testTemplates(t *testing.T, s storage.Store) {
	ctx := context.Background()
	other := template("other")
	other.OwnerID = "owner-2"
	mustCreate(t, s, template("tmpl"), other, expense("plain", core.NewDate(2024, 3, 1), 0))

	mine, err := s.ListTemplates(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, []string{"tmpl"}, ids(mine))

	everyone, err := s.ListTemplates(ctx, "")
	require.NoError(t, err)
	assert.Len(t, everyone, 2)

	require.NoError(t, s.SetTemplateStatus(ctx, owner, "tmpl", core.StatusPaused))
	got, err := s.GetTransaction(ctx, owner, "tmpl")
	require.NoError(t, err)
	assert.Equal(t, core.StatusPaused, got.Status)

	assert.ErrorIs(t, s.SetTemplateStatus(ctx, owner, "plain", core.StatusPaused), core.ErrNotFound)
}

func testDeleteTemplatePolicies(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s,
		template("cascade"),
		instance("c1", "cascade", core.NewDate(2024, 2, 5)),
		instance("c2", "cascade", core.NewDate(2024, 3, 5)),
		template("unlink"),
		instance("u1", "unlink", core.NewDate(2024, 2, 5)),
	)
	createGoal(t, s, "g1")
	allocate(t, s, "a1", "g1", "c1", "1")

	n, err := s.DeleteTemplate(ctx, owner, "cascade", storage.DeleteCascade)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = s.GetTransaction(ctx, owner, "c1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetAllocation(ctx, owner, "a1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	n, err = s.DeleteTemplate(ctx, owner, "unlink", storage.DeleteUnlink)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	kept, err := s.GetTransaction(ctx, owner, "u1")
	require.NoError(t, err)
	assert.Empty(t, kept.RecurringParentID)

	_, err = s.DeleteTemplate(ctx, owner, "unlink", storage.DeleteUnlink)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.DeleteTemplate(ctx, owner, "u1", storage.DeleteCascade)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
