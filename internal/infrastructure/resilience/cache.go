package resilience

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ResponseCache memoizes successful idempotent provider responses for a
// short TTL. A backend failure is never a call failure: Get degrades to a
// miss and Set/InvalidatePrefix are best-effort, with the backend logging
// its own degraded-mode warnings.
type ResponseCache interface {
	// Get returns the cached value for key, or false on miss.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores value under key for ttl. Errors are never cached; only the
	// client's success path calls Set.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	// InvalidatePrefix removes every entry whose key starts with prefix and
	// returns the number removed. Callers observe the removal before any
	// subsequent Get on the same keys.
	InvalidatePrefix(ctx context.Context, prefix string) int
	// Stats returns hit/miss counters for the health surface.
	Stats() CacheStats
	// Close releases background resources.
	Close() error
}

// CacheStats is a point-in-time counter snapshot.
type CacheStats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Invalidations int64 `json:"invalidations"`
}

// cacheEntry is a stored value with expiry
type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryResponseCache implements ResponseCache with an in-memory map.
// It is the degraded mode used when no durable store is configured, and the
// backend for single-instance deployments and tests.
type MemoryResponseCache struct {
	mu        sync.RWMutex
	entries   map[string]cacheEntry
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

// NewMemoryResponseCache creates an in-memory response cache and starts a
// background janitor that evicts expired entries.
func NewMemoryResponseCache() *MemoryResponseCache {
	c := &MemoryResponseCache{
		entries:  make(map[string]cacheEntry),
		stopChan: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.cleanupLoop()
	return c
}

// Get returns the cached value for key, or false on miss or expiry
func (c *MemoryResponseCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key for ttl
func (c *MemoryResponseCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// InvalidatePrefix removes every entry whose key starts with prefix. The
// write lock gives the happens-before edge: no Get that starts after this
// returns can observe a removed entry.
func (c *MemoryResponseCache) InvalidatePrefix(_ context.Context, prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.invalidations.Add(int64(removed))
	}
	return removed
}

// Stats returns hit/miss counters
func (c *MemoryResponseCache) Stats() CacheStats {
	return CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
}

// Close stops the janitor goroutine
func (c *MemoryResponseCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
	return nil
}

// Len returns the number of live entries (expired entries not yet swept count)
func (c *MemoryResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cleanupLoop evicts expired entries periodically
func (c *MemoryResponseCache) cleanupLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Ensure MemoryResponseCache implements ResponseCache
var _ ResponseCache = (*MemoryResponseCache)(nil)
