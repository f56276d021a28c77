package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// Seed is the JSON document accepted by Load.
type Seed struct {
	Transactions []core.Transaction `json:"transactions"`
	Goals        []core.Goal        `json:"goals"`
	Allocations  []core.Allocation  `json:"allocations"`
}

// NewFromFile returns a store loaded from the seed document at path.
func NewFromFile(ctx context.Context, path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	s := New()
	if err := s.Load(ctx, f); err != nil {
		return nil, fmt.Errorf("load seed file %s: %w", path, err)
	}
	return s, nil
}

// Load inserts every record of the seed through the regular write paths, so
// the same validation and uniqueness rules apply. Missing timestamps are set
// to now.
func (s *Store) Load(ctx context.Context, r io.Reader) error {
	var seed Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}

	now := time.Now().UTC()
	for _, tx := range seed.Transactions {
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = now
		}
		if tx.UpdatedAt.IsZero() {
			tx.UpdatedAt = tx.CreatedAt
		}
		if tx.IsTemplate() && tx.Status == "" {
			tx.Status = core.StatusActive
		}
		if err := s.CreateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
	}

	for _, g := range seed.Goals {
		if g.CreatedAt.IsZero() {
			g.CreatedAt = now
		}
		if g.UpdatedAt.IsZero() {
			g.UpdatedAt = g.CreatedAt
		}
		if err := s.CreateGoal(ctx, g); err != nil {
			return fmt.Errorf("goal %s: %w", g.ID, err)
		}
	}

	for _, a := range seed.Allocations {
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		s.mu.Lock()
		tx, ok := s.txs[a.TransactionID]
		s.mu.Unlock()
		if !ok {
			return fmt.Errorf("allocation %s: %w", a.ID, core.NewNotFoundError(core.EntityTransaction, a.TransactionID))
		}
		err := s.WithTransactionLock(ctx, tx.OwnerID, a.TransactionID, func(ctx context.Context, ltx storage.AllocationTx) error {
			allocated, err := ltx.AllocatedTotal(ctx, "")
			if err != nil {
				return err
			}
			if allocated.Add(a.Amount).GreaterThan(ltx.Transaction().Amount) {
				return core.NewValidationError("amount", "exceeds available balance")
			}
			return ltx.InsertAllocation(ctx, a)
		})
		if err != nil {
			return fmt.Errorf("allocation %s: %w", a.ID, err)
		}
	}
	return nil
}
