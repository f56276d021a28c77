package summary

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fintrack/internal/aggregate"
	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// TransactionSource lists an owner's transactions.
type TransactionSource interface {
	ListTransactions(ctx context.Context, ownerID string, f storage.TransactionFilter) ([]core.Transaction, error)
}

// Registry hands out one Service per owner. Cached summaries live in a single
// bounded LRU cache so idle owners age out; their services, and therefore
// their subscribers, stay registered.
type Registry struct {
	source    TransactionSource
	summaries *cache.LRUCache[aggregate.FinancialSummary]
	opts      []Option

	mu       sync.Mutex
	services map[string]*Service
}

// NewRegistry creates a registry whose summaries are bounded by size entries
// and expire after ttl. Templates are excluded from every fetched set.
func NewRegistry(source TransactionSource, size int, ttl time.Duration, opts ...Option) *Registry {
	return &Registry{
		source:    source,
		summaries: cache.NewLRUCache[aggregate.FinancialSummary](size, ttl),
		opts:      opts,
		services:  make(map[string]*Service),
	}
}

// Cache exposes the shared summary cache for registration with a
// cache.Manager.
func (r *Registry) Cache() cache.Cleaner { return r.summaries }

// For returns the service of ownerID, creating it on first use.
func (r *Registry) For(ownerID string) *Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	if svc, ok := r.services[ownerID]; ok {
		return svc
	}
	fetch := func(ctx context.Context) ([]core.Transaction, error) {
		txs, err := r.source.ListTransactions(ctx, ownerID, storage.TransactionFilter{ExcludeTemplates: true})
		if err != nil {
			return nil, core.Upstream("list transactions", err)
		}
		return txs, nil
	}
	opts := append([]Option{WithCache(r.summaries)}, r.opts...)
	svc := NewService(ownerID, fetch, opts...)
	r.services[ownerID] = svc
	return svc
}

// HandleEvent reacts to a change notification. Events that cannot move the
// totals are ignored, as are owners nobody has asked about yet. An owner
// with subscribers is recomputed right away; otherwise the cache is only
// cleared and the next read recomputes.
func (r *Registry) HandleEvent(ctx context.Context, ev core.ChangeEvent) error {
	if !ev.AffectsSummary() {
		return nil
	}
	r.mu.Lock()
	svc, ok := r.services[ev.OwnerID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	if svc.Subscribers() == 0 {
		svc.ClearCache()
		return nil
	}
	if _, err := svc.Refresh(ctx); err != nil {
		slog.WarnContext(ctx, "Summary refresh after change failed",
			"owner_id", ev.OwnerID,
			"entity", ev.Entity,
			"op", ev.Op,
			"error", err)
		return err
	}
	return nil
}
