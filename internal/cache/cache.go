// Package cache provides the bounded result caches that sit in front of the
// retrieval engines: an LRU keyed by canonicalized request parameters, with
// single-flight deduplication of concurrent misses.
package cache

import (
	"container/list"
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"golang.org/x/sync/singleflight"

	"github.com/cinematch/cinematch/internal/telemetry"
)

// DefaultCapacity matches the reference deployment's per-engine cache size.
const DefaultCapacity = 128

// Cache is a fixed-capacity LRU with single-flight miss handling. One
// instance per retrieval engine, constructed at startup and injected. Safe
// for concurrent use: the mutex guards only LRU bookkeeping, never a
// computation.
type Cache[V any] struct {
	name     string
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	group singleflight.Group

	hits      metric.Int64Counter
	misses    metric.Int64Counter
	evictions metric.Int64Counter
}

type entry[V any] struct {
	key   string
	value V
}

// New creates a cache with the given capacity. name labels the cache's OTEL
// counters (e.g. "structured", "vector"). Capacity <= 0 falls back to
// DefaultCapacity.
func New[V any](name string, capacity int) *Cache[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	meter := telemetry.Meter("cinematch/cache")
	hits, _ := meter.Int64Counter("cache.hits")
	misses, _ := meter.Int64Counter("cache.misses")
	evictions, _ := meter.Int64Counter("cache.evictions")

	return &Cache[V]{
		name:      name,
		capacity:  capacity,
		entries:   make(map[string]*list.Element, capacity),
		order:     list.New(),
		hits:      hits,
		misses:    misses,
		evictions: evictions,
	}
}

// GetOrCompute returns the cached value for key, or runs compute to produce
// it. Concurrent callers with the same key share a single computation; later
// callers block until the first finishes and receive its result. Errors are
// returned to every waiter but never cached, so the next request retries
// fresh.
//
// The computation runs on a cancel-detached context: a caller abandoning its
// request must not abort work other callers are awaiting. The engines bound
// their own work (pool timeouts, HTTP client timeouts), so detaching cannot
// leak an unbounded computation.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.get(key); ok {
		c.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("cache", c.name)))
		return v, nil
	}
	c.misses.Add(ctx, 1, metric.WithAttributes(attribute.String("cache", c.name)))

	detached := context.WithoutCancel(ctx)
	result, err, _ := c.group.Do(key, func() (any, error) {
		// A second caller may have raced past the miss check while the first
		// was populating the cache. Re-check before computing.
		if v, ok := c.get(key); ok {
			return v, nil
		}

		v, err := compute(detached)
		if err != nil {
			return nil, err
		}
		c.put(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

// get returns the value for key and refreshes its recency.
func (c *Cache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry[V]).value, true
}

// put inserts or refreshes key, evicting the least-recently-used entry on
// overflow.
func (c *Cache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*entry[V]).value = value
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&entry[V]{key: key, value: value})

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*entry[V]).key)
			c.evictions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("cache", c.name)))
		}
	}
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge drops every entry. Used when the underlying catalog or index is
// rebuilt out from under the cache.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element, c.capacity)
	c.order.Init()
}
