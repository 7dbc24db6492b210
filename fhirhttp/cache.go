/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package fhirhttp

import (
	"context"
	"fmt"
	"sync"

	"github.com/acronis/go-smartkit/internal/metrics"
)

// FetchFunc produces the value to be cached.
type FetchFunc func(ctx context.Context) (*Result, error)

// CacheOpts contains options for Cache.
type CacheOpts struct {
	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	// It allows distinguishing metrics from different instances of the same library.
	PrometheusLibInstanceLabel string
}

// Cache memoizes results by key.
// At most one fetch per key is in flight at any time: concurrent callers for a key
// that is being fetched wait for that fetch and observe its result.
// Successful entries never expire. A failed fetch is evicted once it settles (its waiters still
// get the error), so the next Get retries instead of replaying the failure until a forced refresh.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]*cacheEntry
	promMetrics *metrics.PrometheusMetrics
}

type cacheEntry struct {
	done   chan struct{}
	result *Result
	err    error
}

func (e *cacheEntry) settled() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// NewCache creates a new empty Cache.
func NewCache() *Cache {
	return NewCacheWithOpts(CacheOpts{})
}

// NewCacheWithOpts creates a new empty Cache with options.
func NewCacheWithOpts(opts CacheOpts) *Cache {
	return &Cache{
		entries:     make(map[string]*cacheEntry),
		promMetrics: metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, metrics.SourceFHIRClient),
	}
}

// Get returns the cached result for the key or calls fetch to obtain it.
// If force is true, a new fetch is started and replaces the entry.
// The fetch runs on a context that is not canceled together with ctx,
// since other callers may wait for it. Get itself returns as soon as ctx is done.
func (c *Cache) Get(ctx context.Context, key string, fetch FetchFunc, force bool) (*Result, error) {
	c.mu.Lock()
	entry, found := c.entries[key]
	switch {
	case force:
		c.promMetrics.IncCacheLookups(metrics.CacheLookupResultForced)
	case !found:
		c.promMetrics.IncCacheLookups(metrics.CacheLookupResultMiss)
	case entry.settled():
		c.promMetrics.IncCacheLookups(metrics.CacheLookupResultHit)
	default:
		c.promMetrics.IncCacheLookups(metrics.CacheLookupResultInFlight)
	}
	if !found || force {
		entry = &cacheEntry{done: make(chan struct{})}
		c.entries[key] = entry
		go c.fetch(context.WithoutCancel(ctx), key, entry, fetch)
	}
	c.mu.Unlock()

	select {
	case <-entry.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if entry.err != nil {
		return nil, entry.err
	}
	return entry.result.clone(), nil
}

func (c *Cache) fetch(ctx context.Context, key string, entry *cacheEntry, fetch FetchFunc) {
	defer close(entry.done)
	defer func() {
		if p := recover(); p != nil {
			entry.result, entry.err = nil, fmt.Errorf("fetch %s: panic: %v", key, p)
		}
		if entry.err != nil {
			c.mu.Lock()
			if c.entries[key] == entry {
				delete(c.entries, key)
			}
			c.mu.Unlock()
		}
	}()
	entry.result, entry.err = fetch(ctx)
	if entry.err == nil && entry.result == nil {
		entry.result = &Result{}
	}
}

// Put stores the settled result for the key, replacing any existing entry.
func (c *Cache) Put(key string, result *Result) {
	if result == nil {
		result = &Result{}
	}
	entry := &cacheEntry{done: make(chan struct{}), result: result}
	close(entry.done)
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Invalidate removes the entry for the key.
// Callers that already wait for an in-flight fetch still receive its result.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll removes all entries.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of entries, including in-flight ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
