// Package summary caches one owner's financial summary and fans each
// successful recomputation out to subscribers.
package summary

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"fintrack/internal/aggregate"
	"fintrack/internal/cache"
	"fintrack/internal/core"
)

// Fetcher loads the transaction set a summary is computed from.
type Fetcher func(ctx context.Context) ([]core.Transaction, error)

// Callback receives every successfully recomputed summary.
type Callback func(aggregate.FinancialSummary)

type subscriber struct {
	id uint64
	fn Callback
}

// Service is the summary cache for a single owner.
//
// Subscribers observe recomputations in the order their fetches started and
// never receive a value older than the previous notification. A result whose
// fetch began before the latest ClearCache is returned to its caller but
// neither cached nor delivered.
type Service struct {
	key   string
	fetch Fetcher
	cache cache.Cache[aggregate.FinancialSummary]
	now   func() time.Time
	group singleflight.Group

	mu       sync.Mutex
	subs     []subscriber
	nextSub  uint64
	gen      uint64 // last fetch started
	cleared  uint64 // gen at the latest ClearCache
	notified uint64 // gen of the latest delivered value

	// deliverMu keeps callback delivery in generation order.
	deliverMu sync.Mutex
}

type Option func(*Service)

// WithCache stores the summary in c under the service's key. Services of a
// Registry share one bounded cache this way.
func WithCache(c cache.Cache[aggregate.FinancialSummary]) Option {
	return func(s *Service) { s.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a summary cache keyed by key (usually the owner id).
func NewService(key string, fetch Fetcher, opts ...Option) *Service {
	s := &Service{
		key:   key,
		fetch: fetch,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.NewLRUCache[aggregate.FinancialSummary](1, 0)
	}
	return s
}

// GetSummary returns the cached summary, or fetches, aggregates, caches and
// notifies when nothing valid is cached. Concurrent callers share one fetch.
// A fetch error is returned unchanged and leaves the cache as it was.
func (s *Service) GetSummary(ctx context.Context) (aggregate.FinancialSummary, error) {
	if v, ok := s.cache.Get(s.key); ok {
		return v, nil
	}

	v, err, _ := s.group.Do(s.key, func() (any, error) {
		return s.recompute(ctx)
	})
	if err != nil {
		return aggregate.FinancialSummary{}, err
	}
	return v.(aggregate.FinancialSummary), nil
}

func (s *Service) recompute(ctx context.Context) (aggregate.FinancialSummary, error) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	txs, err := s.fetch(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Summary fetch failed", "key", s.key, "error", err)
		return aggregate.FinancialSummary{}, err
	}

	sum := aggregate.Summarize(txs, s.now())
	s.deliver(gen, sum)
	return sum, nil
}

func (s *Service) deliver(gen uint64, sum aggregate.FinancialSummary) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if gen <= s.notified || gen <= s.cleared {
		s.mu.Unlock()
		return
	}
	s.notified = gen
	s.cache.Set(s.key, sum)
	subs := append([]subscriber(nil), s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(sum)
	}
}

// GetCurrentSummary returns the cached value without recomputing.
func (s *Service) GetCurrentSummary() (aggregate.FinancialSummary, bool) {
	return s.cache.Get(s.key)
}

// CalculateSummaryFromTransactions aggregates txs directly. It neither
// fetches nor touches the cache.
func (s *Service) CalculateSummaryFromTransactions(txs []core.Transaction) aggregate.FinancialSummary {
	return aggregate.Summarize(txs, s.now())
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (s *Service) Subscribe(fn Callback) (unsubscribe func()) {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Subscribers returns the number of registered callbacks.
func (s *Service) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// ClearCache drops the cached value. An in-flight fetch is detached so the
// next GetSummary starts a fresh one.
func (s *Service) ClearCache() {
	s.mu.Lock()
	s.cleared = s.gen
	s.cache.Delete(s.key)
	s.mu.Unlock()
	s.group.Forget(s.key)
}

// Refresh invalidates and recomputes.
func (s *Service) Refresh(ctx context.Context) (aggregate.FinancialSummary, error) {
	s.ClearCache()
	return s.GetSummary(ctx)
}
