package services

import (
	"context"
	"fmt"
	"time"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/log"
)

// CachedAnalytics serves analytics reads from LRU caches that are emptied
// whenever a ledger event is published.
type CachedAnalytics struct {
	inner    *AnalyticsAggregator
	manager  *cache.Manager
	summary  *cache.LRUCache[core.FinancialSummary]
	spending *cache.LRUCache[[]core.CategoryAmount]
	balances *cache.LRUCache[[]core.AccountTypeBalance]
	progress *cache.LRUCache[[]core.EnvelopeProgress]
	logger   *log.Logger
}

func NewCachedAnalytics(inner *AnalyticsAggregator, manager *cache.Manager, size int, ttl time.Duration) *CachedAnalytics {
	c := &CachedAnalytics{
		inner:    inner,
		manager:  manager,
		summary:  cache.NewLRUCache[core.FinancialSummary](size, ttl),
		spending: cache.NewLRUCache[[]core.CategoryAmount](size, ttl),
		balances: cache.NewLRUCache[[]core.AccountTypeBalance](1, ttl),
		progress: cache.NewLRUCache[[]core.EnvelopeProgress](1, ttl),
		logger:   inner.logger.WithComponent(log.ComponentCache),
	}
	manager.Register(c.summary)
	manager.Register(c.spending)
	manager.Register(c.balances)
	manager.Register(c.progress)
	return c
}

func rangeKey(r core.DateRange) string {
	return fmt.Sprintf("%d:%d", r.From.UnixNano(), r.To.UnixNano())
}

func (c *CachedAnalytics) FinancialSummary(ctx context.Context, r core.DateRange) (core.FinancialSummary, error) {
	if err := r.Validate(); err != nil {
		return core.FinancialSummary{}, err
	}
	return c.summary.GetOrLoad(rangeKey(r), func() (core.FinancialSummary, error) {
		return c.inner.FinancialSummary(ctx, r)
	})
}

func (c *CachedAnalytics) SpendingByCategory(ctx context.Context, r core.DateRange) ([]core.CategoryAmount, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return c.spending.GetOrLoad(rangeKey(r), func() ([]core.CategoryAmount, error) {
		return c.inner.SpendingByCategory(ctx, r)
	})
}

func (c *CachedAnalytics) BalanceByAccountType(ctx context.Context) ([]core.AccountTypeBalance, error) {
	return c.balances.GetOrLoad("all", func() ([]core.AccountTypeBalance, error) {
		return c.inner.BalanceByAccountType(ctx)
	})
}

func (c *CachedAnalytics) EnvelopeProgress(ctx context.Context) ([]core.EnvelopeProgress, error) {
	return c.progress.GetOrLoad("active", func() ([]core.EnvelopeProgress, error) {
		return c.inner.EnvelopeProgress(ctx)
	})
}

// Overview always reads a fresh snapshot.
func (c *CachedAnalytics) Overview(ctx context.Context, r core.DateRange) (core.FinanceOverview, error) {
	return c.inner.Overview(ctx, r)
}

// Invalidate matches events.Handler; every committed change empties the caches.
func (c *CachedAnalytics) Invalidate(ctx context.Context, e core.LedgerEvent) {
	c.manager.PurgeAll()
	c.logger.DebugContext(ctx, "Analytics cache purged", "event", e.Type)
}
