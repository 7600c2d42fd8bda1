package actuals

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/sells-group/contract-compliance/internal/model"
)

// CachedGatherer memoizes another Gatherer's results per contract and period
// for a fixed TTL. Events are cached for all types and filtered on read.
type CachedGatherer struct {
	next  Gatherer
	cache *gocache.Cache
}

// NewCachedGatherer wraps next with a TTL cache.
func NewCachedGatherer(next Gatherer, ttl time.Duration) *CachedGatherer {
	return &CachedGatherer{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func cacheKey(kind, contractID string, period model.Period) string {
	return kind + "|" + contractID + "|" + period.Key()
}

// Actuals implements Gatherer. Missing-data results are not cached.
func (c *CachedGatherer) Actuals(ctx context.Context, contractID string, period model.Period) (Actuals, error) {
	key := cacheKey("actuals", contractID, period)
	if v, ok := c.cache.Get(key); ok {
		return v.(Actuals), nil
	}
	a, err := c.next.Actuals(ctx, contractID, period)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, a)
	return a, nil
}

// Events implements Gatherer.
func (c *CachedGatherer) Events(ctx context.Context, contractID string, period model.Period, types []model.EventType) ([]model.Event, error) {
	key := cacheKey("events", contractID, period)
	if v, ok := c.cache.Get(key); ok {
		return FilterEvents(v.([]model.Event), contractID, period, types), nil
	}
	all, err := c.next.Events(ctx, contractID, period, nil)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, all)
	return FilterEvents(all, contractID, period, types), nil
}

// Invalidate drops cached entries for a contract and period.
func (c *CachedGatherer) Invalidate(contractID string, period model.Period) {
	c.cache.Delete(cacheKey("actuals", contractID, period))
	c.cache.Delete(cacheKey("events", contractID, period))
}

// Flush drops every cached entry.
func (c *CachedGatherer) Flush() {
	c.cache.Flush()
}
