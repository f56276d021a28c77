// Package memory keeps exported trend reports in process, for dry runs and
// tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"fintrack/internal/aggregate"
	"fintrack/internal/sheets"
)

type Store struct {
	mu     sync.Mutex
	writes int
	rows   map[string][][]any
}

var _ sheets.TrendWriter = (*Store)(nil)

func New() *Store {
	return &Store{rows: make(map[string][][]any)}
}

// WriteTrend replaces the owner's rows and returns a synthetic reference.
func (s *Store) WriteTrend(_ context.Context, ownerID string, points []aggregate.MonthlyTrendPoint) (string, error) {
	rows := sheets.TrendRows(points)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.rows[ownerID] = rows
	return fmt.Sprintf("mem:%s!A1:D%d", ownerID, len(rows)), nil
}

// Rows returns a copy of the last rows written for ownerID.
func (s *Store) Rows(ownerID string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]any, len(s.rows[ownerID]))
	copy(out, s.rows[ownerID])
	return out
}

// Writes counts WriteTrend calls.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
