// Package goals keeps the goal allocation ledger: it ties parts of
// transactions to savings goals without ever allocating more than a
// transaction's amount, and derives goal progress at read time.
package goals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

const (
	FilterAll       Filter = "all"
	FilterActive    Filter = "active"
	FilterCompleted Filter = "completed"
)

// Filter selects goals in ListProgress.
type Filter string

// Store is the subset of storage the ledger needs.
type Store interface {
	storage.GoalStore
	storage.AllocationStore
}

// Notifier publishes change events. Publish failures are logged and never
// fail a ledger write.
type Notifier interface {
	PublishChange(ctx context.Context, ev core.ChangeEvent) error
}

type Ledger struct {
	store    Store
	locks    *keyedMutex
	notifier Notifier
	now      func() time.Time
	newID    func() string
}

type Option func(*Ledger)

func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) { l.newID = gen }
}

func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		locks: newKeyedMutex(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allocate earmarks amount of transaction txID toward goalID.
func (l *Ledger) Allocate(ctx context.Context, ownerID, goalID, txID string, amount decimal.Decimal) (core.Allocation, error) {
	if !amount.IsPositive() {
		return core.Allocation{}, core.NewValidationError("amount", "must be greater than zero")
	}
	if _, err := l.store.GetGoal(ctx, ownerID, goalID); err != nil {
		return core.Allocation{}, core.Upstream("get goal", err)
	}

	alloc := core.Allocation{
		ID:            l.newID(),
		GoalID:        goalID,
		TransactionID: txID,
		Amount:        amount,
		CreatedAt:     l.now().UTC(),
	}

	err := l.withLock(ctx, ownerID, txID, func(ctx context.Context, tx storage.AllocationTx) error {
		if err := checkAvailable(ctx, tx, "", amount); err != nil {
			return err
		}
		return tx.InsertAllocation(ctx, alloc)
	})
	if err != nil {
		logger(ctx).WarnContext(ctx, "Allocation rejected",
			log.FieldOperation, log.OpAllocate,
			log.FieldOwnerID, ownerID,
			log.FieldGoalID, goalID,
			log.FieldTxID, txID,
			"amount", amount.String(),
			log.FieldError, err)
		return core.Allocation{}, err
	}

	logger(ctx).InfoContext(ctx, "Allocation created",
		log.FieldOperation, log.OpAllocate,
		log.FieldOwnerID, ownerID,
		"allocation_id", alloc.ID,
		log.FieldGoalID, goalID,
		log.FieldTxID, txID,
		"amount", amount.String())
	l.publish(ctx, core.OpInsert, ownerID, alloc.ID)
	return alloc, nil
}

// UpdateAllocation changes an allocation's amount. The allocation's own
// current amount does not count against the available balance.
func (l *Ledger) UpdateAllocation(ctx context.Context, ownerID, allocationID string, amount decimal.Decimal) (core.Allocation, error) {
	if !amount.IsPositive() {
		return core.Allocation{}, core.NewValidationError("amount", "must be greater than zero")
	}
	alloc, err := l.store.GetAllocation(ctx, ownerID, allocationID)
	if err != nil {
		return core.Allocation{}, core.Upstream("get allocation", err)
	}

	err = l.withLock(ctx, ownerID, alloc.TransactionID, func(ctx context.Context, tx storage.AllocationTx) error {
		if err := checkAvailable(ctx, tx, allocationID, amount); err != nil {
			return err
		}
		return tx.UpdateAllocationAmount(ctx, allocationID, amount)
	})
	if err != nil {
		logger(ctx).WarnContext(ctx, "Allocation update rejected",
			log.FieldOwnerID, ownerID,
			"allocation_id", allocationID,
			log.FieldTxID, alloc.TransactionID,
			"amount", amount.String(),
			log.FieldError, err)
		return core.Allocation{}, err
	}

	alloc.Amount = amount
	logger(ctx).InfoContext(ctx, "Allocation updated",
		log.FieldOwnerID, ownerID,
		"allocation_id", allocationID,
		log.FieldGoalID, alloc.GoalID,
		"amount", amount.String())
	l.publish(ctx, core.OpUpdate, ownerID, allocationID)
	return alloc, nil
}

// RemoveAllocation deletes an allocation.
func (l *Ledger) RemoveAllocation(ctx context.Context, ownerID, allocationID string) error {
	if err := l.store.DeleteAllocation(ctx, ownerID, allocationID); err != nil {
		return core.Upstream("delete allocation", err)
	}
	logger(ctx).InfoContext(ctx, "Allocation removed", log.FieldOwnerID, ownerID, "allocation_id", allocationID)
	l.publish(ctx, core.OpDelete, ownerID, allocationID)
	return nil
}

// Progress derives one goal's progress from its live allocations.
func (l *Ledger) Progress(ctx context.Context, ownerID, goalID string) (Progress, error) {
	goal, err := l.store.GetGoal(ctx, ownerID, goalID)
	if err != nil {
		return Progress{}, core.Upstream("get goal", err)
	}
	allocs, err := l.store.ListAllocationsByGoal(ctx, ownerID, goalID)
	if err != nil {
		return Progress{}, core.Upstream("list allocations", err)
	}
	return ComputeGoalProgress(goal, allocs).WithStatus(l.now()), nil
}

// ListProgress derives progress for every goal of ownerID that passes filter.
// "active" keeps goals that are not completed, overdue ones included.
func (l *Ledger) ListProgress(ctx context.Context, ownerID string, filter Filter) ([]Progress, error) {
	switch filter {
	case "", FilterAll, FilterActive, FilterCompleted:
	default:
		return nil, core.NewValidationError("filter", "must be one of: all active completed")
	}

	goals, err := l.store.ListGoals(ctx, ownerID)
	if err != nil {
		return nil, core.Upstream("list goals", err)
	}
	allocs, err := l.store.ListAllocationsByOwner(ctx, ownerID)
	if err != nil {
		return nil, core.Upstream("list allocations", err)
	}

	now := l.now()
	out := make([]Progress, 0, len(goals))
	for _, g := range goals {
		p := ComputeGoalProgress(g, allocs).WithStatus(now)
		switch {
		case filter == FilterActive && p.Status == StatusCompleted:
			continue
		case filter == FilterCompleted && p.Status != StatusCompleted:
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// withLock serializes writers per transaction inside the process and then
// relies on the store's row lock against other processes.
func (l *Ledger) withLock(ctx context.Context, ownerID, txID string, fn func(context.Context, storage.AllocationTx) error) error {
	unlock := l.locks.Lock(txID)
	defer unlock()
	if err := l.store.WithTransactionLock(ctx, ownerID, txID, fn); err != nil {
		return core.Upstream("allocation write", err)
	}
	return nil
}

func checkAvailable(ctx context.Context, tx storage.AllocationTx, excludeID string, amount decimal.Decimal) error {
	total := tx.Transaction().Amount
	if amount.GreaterThan(total) {
		return core.NewValidationError("amount",
			fmt.Sprintf("%s exceeds transaction amount %s", amount, total))
	}
	allocated, err := tx.AllocatedTotal(ctx, excludeID)
	if err != nil {
		return err
	}
	available := total.Sub(allocated)
	if amount.GreaterThan(available) {
		return core.NewValidationError("amount",
			fmt.Sprintf("%s exceeds available balance %s", amount, available))
	}
	return nil
}

func (l *Ledger) publish(ctx context.Context, op, ownerID, id string) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.PublishChange(ctx, core.NewChangeEvent(core.EntityAllocation, op, ownerID, id)); err != nil {
		logger(ctx).WarnContext(ctx, "Failed to publish allocation change",
			"allocation_id", id,
			"op", op,
			log.FieldError, err)
	}
}

func logger(ctx context.Context) *log.Logger {
	return log.FromContext(ctx).WithComponent(log.ComponentLedger)
}
