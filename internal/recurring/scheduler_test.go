package recurring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
	"fintrack/internal/storage/memory"
)

const owner = "owner-1"

var march = core.NewDate(2024, 3, 10)

func template(id, description string, day int) core.Transaction {
	return core.Transaction{
		ID:                  id,
		OwnerID:             owner,
		Amount:              decimal.NewFromInt(1200),
		Kind:                core.Expense,
		Category:            "Fixed Cost",
		Description:         description,
		Date:                core.NewDate(2024, 1, day),
		IsRecurringTemplate: true,
		Status:              core.StatusActive,
	}
}

func newScheduler(t *testing.T, store Store, opts ...Option) *Scheduler {
	t.Helper()
	var seq atomic.Int64
	base := []Option{
		WithClock(func() time.Time { return time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC) }),
		WithIDGenerator(func() string { return fmt.Sprintf("inst-%d", seq.Add(1)) }),
	}
	return NewScheduler(store, append(base, opts...)...)
}

func seed(t *testing.T, store *memory.Store, txs ...core.Transaction) {
	t.Helper()
	for _, tx := range txs {
		require.NoError(t, store.CreateTransaction(context.Background(), tx))
	}
}

func instancesOf(t *testing.T, store *memory.Store, templateID string) []core.Transaction {
	t.Helper()
	got, err := store.ListTransactions(context.Background(), owner, storage.TransactionFilter{RecurringParentID: templateID})
	require.NoError(t, err)
	return got
}

func TestGenerateAllDueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	rent := template("rent", "Monthly rent", 1)
	seed(t, store, rent)
	s := newScheduler(t, store)

	first := s.GenerateAllDue(ctx, []core.Transaction{rent}, march)
	require.NoError(t, first.Err())
	assert.Equal(t, 1, first.Generated)

	insts := instancesOf(t, store, "rent")
	require.Len(t, insts, 1)
	assert.True(t, PeriodOf(march).Contains(insts[0].Date))
	assert.Equal(t, "rent", insts[0].RecurringParentID)
	assert.False(t, insts[0].IsRecurringTemplate)
	assert.True(t, insts[0].Amount.Equal(rent.Amount))
	assert.Equal(t, rent.Kind, insts[0].Kind)
	assert.Equal(t, rent.Category, insts[0].Category)

	second := s.GenerateAllDue(ctx, []core.Transaction{rent}, core.NewDate(2024, 3, 28))
	require.NoError(t, second.Err())
	assert.Equal(t, 0, second.Generated)
	assert.Equal(t, 1, second.Skipped)
	assert.Len(t, instancesOf(t, store, "rent"), 1)

	april := s.GenerateAllDue(ctx, []core.Transaction{rent}, core.NewDate(2024, 4, 2))
	assert.Equal(t, 1, april.Generated)
	assert.Len(t, instancesOf(t, store, "rent"), 2)
}

func TestGenerateAllDueSkipsPausedAndFutureTemplates(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	paused := template("gym", "Gym", 5)
	paused.Status = core.StatusPaused
	legacy := template("netflix", "Netflix [PAUSED]", 5)
	future := template("loan", "Loan", 5)
	future.Date = core.NewDate(2024, 4, 5)
	active := template("rent", "Rent", 1)
	seed(t, store, paused, legacy, future, active)

	res := newScheduler(t, store).GenerateAllDue(ctx, []core.Transaction{paused, legacy, future, active}, march)
	assert.Equal(t, 1, res.Generated)
	assert.Equal(t, 2, res.Paused)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.Failures)
}

// failingStore fails instance creation for chosen templates.
type failingStore struct {
	*memory.Store
	failFor map[string]bool
}

func (f *failingStore) CreateTransaction(ctx context.Context, tx core.Transaction) error {
	if f.failFor[tx.RecurringParentID] {
		return errors.New("connection reset")
	}
	return f.Store.CreateTransaction(ctx, tx)
}

func TestGenerateAllDueContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	a, b, c := template("a", "A", 1), template("b", "B", 1), template("c", "C", 1)
	seed(t, mem, a, b, c)
	store := &failingStore{Store: mem, failFor: map[string]bool{"b": true}}

	res := newScheduler(t, store).GenerateAllDue(ctx, []core.Transaction{a, b, c}, march)
	assert.Equal(t, 2, res.Generated)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "b", res.Failures[0].TemplateID)
	assert.ErrorIs(t, res.Failures[0].Err, core.ErrUpstream)
	assert.ErrorIs(t, res.Err(), core.ErrUpstream)
	assert.Len(t, instancesOf(t, mem, "a"), 1)
	assert.Len(t, instancesOf(t, mem, "c"), 1)
}

// blindStore never sees existing instances, so only the store's uniqueness
// rule stops duplicates.
type blindStore struct {
	*memory.Store
}

func (blindStore) CountInstancesInPeriod(context.Context, string, string, core.Date, core.Date) (int, error) {
	return 0, nil
}

func TestUniqueInstanceConflictCountsAsSkipped(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	rent := template("rent", "Rent", 1)
	seed(t, mem, rent)
	s := newScheduler(t, blindStore{mem})

	first := s.GenerateAllDue(ctx, []core.Transaction{rent}, march)
	require.Equal(t, 1, first.Generated)

	second := s.GenerateAllDue(ctx, []core.Transaction{rent}, march)
	assert.Equal(t, 0, second.Generated)
	assert.Equal(t, 1, second.Skipped)
	assert.Empty(t, second.Failures)
	assert.Len(t, instancesOf(t, mem, "rent"), 1)
}

func TestConcurrentRunsGenerateOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	rent := template("rent", "Rent", 1)
	seed(t, store, rent)
	s := newScheduler(t, store)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.GenerateAllDue(ctx, []core.Transaction{rent}, march)
		}()
	}
	wg.Wait()
	assert.Len(t, instancesOf(t, store, "rent"), 1)
}

func TestGenerateInstanceStripsPauseMarker(t *testing.T) {
	store := memory.New()
	tmpl := template("rent", "Rent [PAUSED] flat 3", 1)
	seed(t, store, tmpl)

	inst, err := newScheduler(t, store).GenerateInstance(context.Background(), tmpl, march)
	require.NoError(t, err)
	assert.Equal(t, "Rent flat 3", inst.Description)
	assert.True(t, IsActive(inst))
	assert.Equal(t, march, inst.Date)
}

func TestGenerateInstanceRejectsNonTemplates(t *testing.T) {
	tx := template("x", "", 1)
	tx.IsRecurringTemplate = false
	_, err := newScheduler(t, memory.New()).GenerateInstance(context.Background(), tx, march)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestTemplateDayClampsToPeriod(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	tmpl := template("card", "Card", 31)
	seed(t, store, tmpl)
	s := newScheduler(t, store, WithTemplateDay())

	res := s.GenerateAllDue(ctx, []core.Transaction{tmpl}, core.NewDate(2024, 2, 3))
	require.Len(t, res.Instances, 1)
	assert.Equal(t, core.NewDate(2024, 2, 29), res.Instances[0].Date)
}

func TestGenerateAllDueNeverDatesInstanceBeforeTemplate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	tmpl := template("insurance", "Insurance", 20)
	tmpl.Date = core.NewDate(2024, 3, 20)
	seed(t, store, tmpl)
	s := newScheduler(t, store)

	res := s.GenerateAllDue(ctx, []core.Transaction{tmpl}, march)
	require.Len(t, res.Instances, 1)
	assert.Equal(t, core.NewDate(2024, 3, 20), res.Instances[0].Date)

	res = s.GenerateAllDue(ctx, []core.Transaction{tmpl}, core.NewDate(2024, 4, 2))
	require.Len(t, res.Instances, 1)
	assert.Equal(t, core.NewDate(2024, 4, 2), res.Instances[0].Date, "later months keep the run date")
}

func TestGenerateAllDueLogsThroughContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.NewContext(context.Background(), log.New(log.Config{Format: "json", Output: &buf}))
	store := memory.New()
	rent := template("rent", "Rent", 1)
	seed(t, store, rent)

	newScheduler(t, store).GenerateAllDue(ctx, []core.Transaction{rent}, march)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var created, done map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &created))
	require.NoError(t, json.Unmarshal(lines[1], &done))

	assert.Equal(t, log.ComponentScheduler, created[log.FieldComponent])
	assert.Equal(t, "rent", created[log.FieldTemplateID])
	assert.Equal(t, owner, created[log.FieldOwnerID])
	assert.Equal(t, "Recurring generation complete", done["msg"])
	assert.Equal(t, log.OpGenerate, done[log.FieldOperation])
	assert.Equal(t, "2024-03", done[log.FieldPeriod])
	assert.Contains(t, done, log.FieldDuration)
}

func TestRunDueLoadsTemplates(t *testing.T) {
	store := memory.New()
	rent := template("rent", "Rent", 1)
	instance := core.Transaction{
		ID: "manual", OwnerID: owner, Amount: decimal.NewFromInt(5), Kind: core.Expense,
		Category: "Food", Date: march,
	}
	seed(t, store, rent, instance)

	res, err := newScheduler(t, store).RunDue(context.Background(), owner, time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Generated)
	assert.Equal(t, "2024-03", res.Period.String())
}

func TestPauseAndResume(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	modern := template("rent", "Rent", 1)
	legacy := template("gym", "Gym [PAUSED]", 1)
	seed(t, store, modern, legacy)
	s := newScheduler(t, store)

	require.NoError(t, s.Pause(ctx, owner, "rent"))
	got, err := store.GetTransaction(ctx, owner, "rent")
	require.NoError(t, err)
	assert.False(t, IsActive(got))
	assert.Equal(t, "Rent", got.Description)

	require.NoError(t, s.Resume(ctx, owner, "rent"))
	got, err = store.GetTransaction(ctx, owner, "rent")
	require.NoError(t, err)
	assert.True(t, IsActive(got))

	require.NoError(t, s.Resume(ctx, owner, "gym"))
	got, err = store.GetTransaction(ctx, owner, "gym")
	require.NoError(t, err)
	assert.True(t, IsActive(got))
	assert.Equal(t, "Gym", got.Description)

	assert.ErrorIs(t, s.Pause(ctx, owner, "missing"), core.ErrNotFound)
}

func TestDeleteTemplatePolicies(t *testing.T) {
	ctx := context.Background()

	for _, policy := range []storage.DeletePolicy{storage.DeleteCascade, storage.DeleteUnlink} {
		t.Run(string(policy), func(t *testing.T) {
			store := memory.New()
			rent := template("rent", "Rent", 1)
			seed(t, store, rent)
			s := newScheduler(t, store)
			s.GenerateAllDue(ctx, []core.Transaction{rent}, core.NewDate(2024, 2, 1))
			s.GenerateAllDue(ctx, []core.Transaction{rent}, march)

			n, err := s.DeleteTemplate(ctx, owner, "rent", policy)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			_, err = store.GetTransaction(ctx, owner, "rent")
			assert.ErrorIs(t, err, core.ErrNotFound)

			all, err := store.ListTransactions(ctx, owner, storage.TransactionFilter{})
			require.NoError(t, err)
			if policy == storage.DeleteCascade {
				assert.Empty(t, all)
				return
			}
			require.Len(t, all, 2)
			for _, tx := range all {
				assert.Empty(t, tx.RecurringParentID)
			}
		})
	}

	_, err := newScheduler(t, memory.New()).DeleteTemplate(ctx, owner, "rent", "archive")
	assert.ErrorIs(t, err, core.ErrValidation)
}
