package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/snaplist/internal/domain"
	"github.com/ashureev/snaplist/internal/metrics"
	lru "github.com/hashicorp/golang-lru"
)

type cached struct {
	result    Result
	fetchedAt time.Time
}

// Cache remembers recent searches by normalized query. Static-only
// results are never stored so a transient outage does not stick.
type Cache struct {
	inner Searcher
	items *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewCache wraps inner with an LRU of size entries.
func NewCache(inner Searcher, size int, ttl time.Duration) (*Cache, error) {
	items, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create price cache: %w", err)
	}
	return &Cache{inner: inner, items: items, ttl: ttl, now: time.Now}, nil
}

func cacheKey(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Search implements Searcher.
func (c *Cache) Search(ctx context.Context, query string) Result {
	key := cacheKey(query)
	if v, ok := c.items.Get(key); ok {
		entry := v.(cached)
		if c.now().Sub(entry.fetchedAt) < c.ttl {
			metrics.PriceCacheLookups.WithLabelValues("hit").Inc()
			res := entry.result
			res.Quotes = append([]domain.PriceQuote(nil), res.Quotes...)
			return res
		}
		c.items.Remove(key)
	}
	metrics.PriceCacheLookups.WithLabelValues("miss").Inc()

	res := c.inner.Search(ctx, query)
	if res.Stage != StaticName && len(res.Quotes) > 0 {
		stored := res
		stored.Quotes = append([]domain.PriceQuote(nil), res.Quotes...)
		c.items.Add(key, cached{result: stored, fetchedAt: c.now()})
	}
	return res
}

// SearchPrices returns the quotes of Search.
func (c *Cache) SearchPrices(ctx context.Context, query string) []domain.PriceQuote {
	return c.Search(ctx, query).Quotes
}
