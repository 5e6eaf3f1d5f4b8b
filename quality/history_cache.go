package quality

import (
	"context"
	"sync"
	"time"
)

// CacheConfig holds configuration for history caching
type CacheConfig struct {
	// TTL is the time-to-live for cached series.
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for history caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 5 * time.Minute,
	}
}

type cachedSeries struct {
	points   []HistoryPoint
	cachedAt time.Time
}

// CachedHistory wraps a HistoryPort and memoizes Series results per
// (company, field). Get is answered from a cached series when one is
// available. Errors are never cached.
type CachedHistory struct {
	next   HistoryPort
	config CacheConfig
	now    func() time.Time
	series map[historyKey]cachedSeries
	mu     sync.RWMutex
}

// NewCachedHistory creates a caching HistoryPort in front of next
func NewCachedHistory(next HistoryPort, config CacheConfig) *CachedHistory {
	return &CachedHistory{
		next:   next,
		config: config,
		now:    time.Now,
		series: make(map[historyKey]cachedSeries),
	}
}

// Get answers from the cached series for the metric, falling back to next
func (c *CachedHistory) Get(ctx context.Context, companyID int, field string, period int) (float64, bool, error) {
	if points, ok := c.lookup(historyKey{companyID, field}); ok {
		for _, p := range points {
			if p.Period == period {
				return p.Value, true, nil
			}
		}
		return 0, false, nil
	}
	return c.next.Get(ctx, companyID, field, period)
}

// Series returns the cached series or loads and caches it from next
func (c *CachedHistory) Series(ctx context.Context, companyID int, field string) ([]HistoryPoint, error) {
	key := historyKey{companyID, field}
	if points, ok := c.lookup(key); ok {
		return points, nil
	}

	points, err := c.next.Series(ctx, companyID, field)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.series[key] = cachedSeries{points: copyPoints(points), cachedAt: c.now()}
	c.mu.Unlock()

	return copyPoints(points), nil
}

// Invalidate drops the cached series for one metric
func (c *CachedHistory) Invalidate(companyID int, field string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.series, historyKey{companyID, field})
}

// InvalidateAll clears the cache
func (c *CachedHistory) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.series = make(map[historyKey]cachedSeries)
}

func (c *CachedHistory) lookup(key historyKey) ([]HistoryPoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.series[key]
	if !ok {
		return nil, false
	}
	if c.config.TTL > 0 && c.now().Sub(entry.cachedAt) > c.config.TTL {
		return nil, false
	}
	return copyPoints(entry.points), true
}

func copyPoints(points []HistoryPoint) []HistoryPoint {
	out := make([]HistoryPoint, len(points))
	copy(out, points)
	return out
}
