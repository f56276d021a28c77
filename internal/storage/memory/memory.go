// Package memory is an in-process storage.Store used by tests and the
// "memory" backend.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

type Store struct {
	mu          sync.Mutex
	txs         map[string]core.Transaction
	goals       map[string]core.Goal
	allocations map[string]core.Allocation
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		txs:         make(map[string]core.Transaction),
		goals:       make(map[string]core.Goal),
		allocations: make(map[string]core.Allocation),
	}
}

func (s *Store) Close() error { return nil }

// CreateTransaction implements storage.TransactionStore.
func (s *Store) CreateTransaction(_ context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; ok {
		return &core.ConflictError{Entity: core.EntityTransaction, ID: tx.ID, Reason: "id already exists"}
	}
	if err := s.checkInstanceUnique(tx); err != nil {
		return err
	}
	s.txs[tx.ID] = tx
	return nil
}

// UpdateTransaction implements storage.TransactionStore.
func (s *Store) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.txs[tx.ID]
	if !ok || old.OwnerID != tx.OwnerID {
		return core.NewNotFoundError(core.EntityTransaction, tx.ID)
	}
	if err := s.checkInstanceUnique(tx); err != nil {
		return err
	}
	if err := storage.CheckCoversAllocations(ctx, &lockedTx{store: s, tx: old, ownerID: old.OwnerID}, tx.Amount); err != nil {
		return err
	}
	tx.CreatedAt = old.CreatedAt
	s.txs[tx.ID] = tx
	return nil
}

// checkInstanceUnique enforces one instance per template per calendar month.
func (s *Store) checkInstanceUnique(tx core.Transaction) error {
	if tx.RecurringParentID == "" {
		return nil
	}
	period := tx.Date.YearMonth()
	for id, other := range s.txs {
		if id != tx.ID && other.RecurringParentID == tx.RecurringParentID && other.Date.YearMonth() == period {
			return &core.ConflictError{
				Entity: core.EntityTransaction,
				ID:     tx.RecurringParentID,
				Reason: "instance already exists for " + period,
			}
		}
	}
	return nil
}

// GetTransaction implements storage.TransactionStore.
func (s *Store) GetTransaction(_ context.Context, ownerID, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok || tx.OwnerID != ownerID {
		return core.Transaction{}, core.NewNotFoundError(core.EntityTransaction, id)
	}
	return tx, nil
}

// DeleteTransaction implements storage.TransactionStore. Instances of a
// deleted template are unlinked, matching the relational schema.
func (s *Store) DeleteTransaction(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok || tx.OwnerID != ownerID {
		return core.NewNotFoundError(core.EntityTransaction, id)
	}
	s.unlinkInstances(id)
	s.deleteTransaction(id)
	return nil
}

func (s *Store) deleteTransaction(id string) {
	delete(s.txs, id)
	for aid, a := range s.allocations {
		if a.TransactionID == id {
			delete(s.allocations, aid)
		}
	}
}

func (s *Store) unlinkInstances(templateID string) int {
	n := 0
	for id, tx := range s.txs {
		if tx.RecurringParentID == templateID {
			tx.RecurringParentID = ""
			s.txs[id] = tx
			n++
		}
	}
	return n
}

// ListTransactions implements storage.TransactionStore.
func (s *Store) ListTransactions(_ context.Context, ownerID string, f storage.TransactionFilter) ([]core.Transaction, error) {
	s.mu.Lock()
	out := make([]core.Transaction, 0)
	for _, tx := range s.txs {
		if tx.OwnerID == ownerID && matches(tx, f) {
			out = append(out, tx)
		}
	}
	s.mu.Unlock()

	sortTransactions(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(tx core.Transaction, f storage.TransactionFilter) bool {
	switch {
	case f.Category != "" && tx.Category != f.Category:
		return false
	case !f.From.IsZero() && tx.Date.Before(f.From):
		return false
	case !f.To.IsZero() && tx.Date.After(f.To):
		return false
	case f.RecurringParentID != "" && tx.RecurringParentID != f.RecurringParentID:
		return false
	case f.TemplatesOnly && !tx.IsTemplate():
		return false
	case f.ExcludeTemplates && tx.IsTemplate():
		return false
	}
	return true
}

func sortTransactions(txs []core.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if !a.Date.Equal(b.Date.Time) {
			return a.Date.After(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

// CreateGoal implements storage.GoalStore.
func (s *Store) CreateGoal(_ context.Context, g core.Goal) error {
	if err := g.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.goals[g.ID]; ok {
		return &core.ConflictError{Entity: core.EntityGoal, ID: g.ID, Reason: "id already exists"}
	}
	s.goals[g.ID] = g
	return nil
}

// UpdateGoal implements storage.GoalStore.
func (s *Store) UpdateGoal(_ context.Context, g core.Goal) error {
	if err := g.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.goals[g.ID]
	if !ok || old.OwnerID != g.OwnerID {
		return core.NewNotFoundError(core.EntityGoal, g.ID)
	}
	g.CreatedAt = old.CreatedAt
	s.goals[g.ID] = g
	return nil
}

// GetGoal implements storage.GoalStore.
func (s *Store) GetGoal(_ context.Context, ownerID, id string) (core.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok || g.OwnerID != ownerID {
		return core.Goal{}, core.NewNotFoundError(core.EntityGoal, id)
	}
	return g, nil
}

// ListGoals implements storage.GoalStore, oldest first.
func (s *Store) ListGoals(_ context.Context, ownerID string) ([]core.Goal, error) {
	s.mu.Lock()
	out := make([]core.Goal, 0)
	for _, g := range s.goals {
		if g.OwnerID == ownerID {
			out = append(out, g)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteGoal implements storage.GoalStore.
func (s *Store) DeleteGoal(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok || g.OwnerID != ownerID {
		return core.NewNotFoundError(core.EntityGoal, id)
	}
	delete(s.goals, id)
	for aid, a := range s.allocations {
		if a.GoalID == id {
			delete(s.allocations, aid)
		}
	}
	return nil
}

// ownedAllocation reports whether a belongs to ownerID through its goal.
func (s *Store) ownedAllocation(id, ownerID string) (core.Allocation, bool) {
	a, ok := s.allocations[id]
	if !ok {
		return core.Allocation{}, false
	}
	g, ok := s.goals[a.GoalID]
	return a, ok && g.OwnerID == ownerID
}

// GetAllocation implements storage.AllocationStore.
func (s *Store) GetAllocation(_ context.Context, ownerID, id string) (core.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.ownedAllocation(id, ownerID)
	if !ok {
		return core.Allocation{}, core.NewNotFoundError(core.EntityAllocation, id)
	}
	return a, nil
}

// ListAllocationsByGoal implements storage.AllocationStore.
func (s *Store) ListAllocationsByGoal(_ context.Context, ownerID, goalID string) ([]core.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[goalID]
	if !ok || g.OwnerID != ownerID {
		return nil, core.NewNotFoundError(core.EntityGoal, goalID)
	}
	out := make([]core.Allocation, 0)
	for _, a := range s.allocations {
		if a.GoalID == goalID {
			out = append(out, a)
		}
	}
	sortAllocations(out)
	return out, nil
}

// ListAllocationsByOwner implements storage.AllocationStore.
func (s *Store) ListAllocationsByOwner(_ context.Context, ownerID string) ([]core.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Allocation, 0)
	for _, a := range s.allocations {
		if g, ok := s.goals[a.GoalID]; ok && g.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sortAllocations(out)
	return out, nil
}

func sortAllocations(as []core.Allocation) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].CreatedAt.Equal(as[j].CreatedAt) {
			return as[i].CreatedAt.Before(as[j].CreatedAt)
		}
		return as[i].ID < as[j].ID
	})
}

// DeleteAllocation implements storage.AllocationStore.
func (s *Store) DeleteAllocation(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ownedAllocation(id, ownerID); !ok {
		return core.NewNotFoundError(core.EntityAllocation, id)
	}
	delete(s.allocations, id)
	return nil
}

// WithTransactionLock implements storage.AllocationStore. The whole store is
// locked while fn runs; fn must only use the AllocationTx it is given.
func (s *Store) WithTransactionLock(ctx context.Context, ownerID, transactionID string, fn func(context.Context, storage.AllocationTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[transactionID]
	if !ok || tx.OwnerID != ownerID {
		return core.NewNotFoundError(core.EntityTransaction, transactionID)
	}
	lt := &lockedTx{store: s, tx: tx, ownerID: ownerID, staged: make(map[string]core.Allocation)}
	if err := fn(ctx, lt); err != nil {
		return err
	}
	for id, a := range lt.staged {
		s.allocations[id] = a
	}
	return nil
}

// lockedTx stages writes until the callback returns nil.
type lockedTx struct {
	store   *Store
	tx      core.Transaction
	ownerID string
	staged  map[string]core.Allocation
}

func (t *lockedTx) Transaction() core.Transaction { return t.tx }

func (t *lockedTx) current(id string) (core.Allocation, bool) {
	if a, ok := t.staged[id]; ok {
		return a, true
	}
	a, ok := t.store.allocations[id]
	return a, ok
}

func (t *lockedTx) AllocatedTotal(_ context.Context, excludeID string) (decimal.Decimal, error) {
	total := decimal.Zero
	seen := make(map[string]struct{}, len(t.staged))
	for id, a := range t.staged {
		seen[id] = struct{}{}
		if id != excludeID && a.TransactionID == t.tx.ID {
			total = total.Add(a.Amount)
		}
	}
	for id, a := range t.store.allocations {
		if _, dup := seen[id]; dup {
			continue
		}
		if id != excludeID && a.TransactionID == t.tx.ID {
			total = total.Add(a.Amount)
		}
	}
	return total, nil
}

func (t *lockedTx) InsertAllocation(_ context.Context, a core.Allocation) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.TransactionID != t.tx.ID {
		return core.NewValidationError("transaction_id", "does not match the locked transaction")
	}
	if g, ok := t.store.goals[a.GoalID]; !ok || g.OwnerID != t.ownerID {
		return core.NewNotFoundError(core.EntityGoal, a.GoalID)
	}
	if _, exists := t.current(a.ID); exists {
		return &core.ConflictError{Entity: core.EntityAllocation, ID: a.ID, Reason: "id already exists"}
	}
	t.staged[a.ID] = a
	return nil
}

func (t *lockedTx) UpdateAllocationAmount(_ context.Context, id string, amount decimal.Decimal) error {
	a, ok := t.current(id)
	if !ok || a.TransactionID != t.tx.ID {
		return core.NewNotFoundError(core.EntityAllocation, id)
	}
	a.Amount = amount
	t.staged[id] = a
	return nil
}

// ListTemplates implements storage.RecurringStore.
func (s *Store) ListTemplates(_ context.Context, ownerID string) ([]core.Transaction, error) {
	s.mu.Lock()
	out := make([]core.Transaction, 0)
	for _, tx := range s.txs {
		if tx.IsTemplate() && (ownerID == "" || tx.OwnerID == ownerID) {
			out = append(out, tx)
		}
	}
	s.mu.Unlock()
	sortTransactions(out)
	return out, nil
}

// CountInstancesInPeriod implements storage.RecurringStore.
func (s *Store) CountInstancesInPeriod(_ context.Context, ownerID, templateID string, from, to core.Date) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, tx := range s.txs {
		if tx.OwnerID != ownerID || tx.RecurringParentID != templateID {
			continue
		}
		if tx.Date.Before(from) || tx.Date.After(to) {
			continue
		}
		n++
	}
	return n, nil
}

// SetTemplateStatus implements storage.RecurringStore.
func (s *Store) SetTemplateStatus(_ context.Context, ownerID, id string, status core.RecurringStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok || tx.OwnerID != ownerID || !tx.IsTemplate() {
		return core.NewNotFoundError(core.EntityTransaction, id)
	}
	tx.Status = status
	s.txs[id] = tx
	return nil
}

// DeleteTemplate implements storage.RecurringStore.
func (s *Store) DeleteTemplate(_ context.Context, ownerID, id string, policy storage.DeletePolicy) (int, error) {
	if !policy.IsValid() {
		return 0, core.NewValidationError("policy", "must be cascade or unlink")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok || tx.OwnerID != ownerID || !tx.IsTemplate() {
		return 0, core.NewNotFoundError(core.EntityTransaction, id)
	}

	n := 0
	if policy == storage.DeleteCascade {
		for iid, inst := range s.txs {
			if inst.RecurringParentID == id {
				s.deleteTransaction(iid)
				n++
			}
		}
	} else {
		n = s.unlinkInstances(id)
	}
	s.deleteTransaction(id)
	return n, nil
}
