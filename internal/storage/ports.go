// Package storage defines the relational store contract shared by the
// sqlite, postgres and memory adapters.
package storage

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

const (
	// DeleteCascade removes a template together with every generated instance.
	DeleteCascade DeletePolicy = "cascade"
	// DeleteUnlink removes the template and clears recurring_parent_id on its
	// instances, preserving them as ordinary transactions.
	DeleteUnlink DeletePolicy = "unlink"
)

// DeletePolicy selects what happens to generated instances when their
// template is deleted.
type DeletePolicy string

func (p DeletePolicy) IsValid() bool {
	return p == DeleteCascade || p == DeleteUnlink
}

// TransactionFilter narrows ListTransactions. Zero fields do not filter.
type TransactionFilter struct {
	Category          string
	From              core.Date // inclusive
	To                core.Date // inclusive
	RecurringParentID string
	TemplatesOnly     bool
	ExcludeTemplates  bool
	Limit             int
}

// Ports implemented by every adapter. Every read and write is scoped by owner
// id; an entity owned by someone else is reported as NotFoundError.
type (
	TransactionStore interface {
		// CreateTransaction persists tx as given, ID included. A second
		// instance of the same template within one calendar month is
		// rejected with ConflictError.
		CreateTransaction(ctx context.Context, tx core.Transaction) error
		UpdateTransaction(ctx context.Context, tx core.Transaction) error
		GetTransaction(ctx context.Context, ownerID, id string) (core.Transaction, error)
		// DeleteTransaction removes the transaction and its allocations.
		DeleteTransaction(ctx context.Context, ownerID, id string) error
		// ListTransactions orders by date descending, then creation time
		// descending.
		ListTransactions(ctx context.Context, ownerID string, f TransactionFilter) ([]core.Transaction, error)
	}

	GoalStore interface {
		CreateGoal(ctx context.Context, g core.Goal) error
		UpdateGoal(ctx context.Context, g core.Goal) error
		GetGoal(ctx context.Context, ownerID, id string) (core.Goal, error)
		ListGoals(ctx context.Context, ownerID string) ([]core.Goal, error)
		// DeleteGoal removes the goal and its allocations.
		DeleteGoal(ctx context.Context, ownerID, id string) error
	}

	AllocationStore interface {
		GetAllocation(ctx context.Context, ownerID, id string) (core.Allocation, error)
		ListAllocationsByGoal(ctx context.Context, ownerID, goalID string) ([]core.Allocation, error)
		ListAllocationsByOwner(ctx context.Context, ownerID string) ([]core.Allocation, error)
		DeleteAllocation(ctx context.Context, ownerID, id string) error
		// WithTransactionLock runs fn while holding an exclusive lock on the
		// transaction row, so that validate-and-write of allocations against
		// it is atomic with respect to other writers. fn's writes commit
		// only if it returns nil.
		WithTransactionLock(ctx context.Context, ownerID, transactionID string, fn func(ctx context.Context, tx AllocationTx) error) error
	}

	// AllocationTx is the locked view handed to WithTransactionLock callbacks.
	AllocationTx interface {
		Transaction() core.Transaction
		// AllocatedTotal sums live allocations against the locked
		// transaction, skipping excludeID when non-empty.
		AllocatedTotal(ctx context.Context, excludeID string) (decimal.Decimal, error)
		InsertAllocation(ctx context.Context, a core.Allocation) error
		UpdateAllocationAmount(ctx context.Context, id string, amount decimal.Decimal) error
	}

	RecurringStore interface {
		// ListTemplates returns recurring templates of ownerID, or of every
		// owner when ownerID is empty.
		ListTemplates(ctx context.Context, ownerID string) ([]core.Transaction, error)
		// CountInstancesInPeriod counts instances of templateID dated within
		// [from, to] inclusive.
		CountInstancesInPeriod(ctx context.Context, ownerID, templateID string, from, to core.Date) (int, error)
		SetTemplateStatus(ctx context.Context, ownerID, id string, status core.RecurringStatus) error
		// DeleteTemplate removes the template and applies policy to its
		// instances. It returns the number of instances affected.
		DeleteTemplate(ctx context.Context, ownerID, id string, policy DeletePolicy) (int, error)
	}

	// Store is the full relational store.
	Store interface {
		TransactionStore
		GoalStore
		AllocationStore
		RecurringStore
		Close() error
	}
)

// CheckCoversAllocations rejects amount as the new value of the locked
// transaction when its allocations already claim more than that.
func CheckCoversAllocations(ctx context.Context, tx AllocationTx, amount decimal.Decimal) error {
	allocated, err := tx.AllocatedTotal(ctx, "")
	if err != nil {
		return err
	}
	if amount.LessThan(allocated) {
		return core.NewValidationError("amount",
			fmt.Sprintf("%s is below the %s already allocated", amount, allocated))
	}
	return nil
}
