// Package cache provides caching implementations for Kestrel.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LRUCache is a bounded in-process cache with per-entry TTL. Claim
// summaries and intelligence reports are small JSON blobs, so a
// single-node Community deployment gets by without an external store.
// It also backs L1 in the Pro tier's two-phase cache.
type LRUCache struct {
	mu      sync.RWMutex
	cap     int
	entries map[string]*list.Element
	lru     *list.List
	windows map[string]*velocityWindow
}

// record is the list element payload. key carries the tenant-scoped
// form so eviction can delete the map entry without recomputing it.
type record struct {
	key     string
	value   []byte
	expires time.Time
}

// velocityWindow counts claim filings inside one rolling window.
type velocityWindow struct {
	count   int64
	expires time.Time
}

// windowSweepThreshold bounds the velocity map. Expired windows are
// swept lazily once the map grows past it.
const windowSweepThreshold = 4096

// NewLRUCache creates a cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LRUCache{
		cap:     capacity,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		windows: make(map[string]*velocityWindow),
	}
}

// Get returns the cached value, or nil when the key is absent or its
// TTL has lapsed. A lapsed entry is dropped on the spot.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	scoped, err := scopedKey(tenantID, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[scoped]
	if !ok {
		return nil, nil
	}
	rec := elem.Value.(*record)
	if time.Now().After(rec.expires) {
		c.drop(elem)
		return nil, nil
	}
	c.lru.MoveToFront(elem)
	return rec.value, nil
}

// Set stores value under the tenant-scoped key for ttl. An existing
// entry is refreshed in place and promoted.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	scoped, err := scopedKey(tenantID, key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[scoped]; ok {
		c.lru.MoveToFront(elem)
		rec := elem.Value.(*record)
		rec.value = value
		rec.expires = time.Now().Add(ttl)
		return nil
	}

	elem := c.lru.PushFront(&record{
		key:     scoped,
		value:   value,
		expires: time.Now().Add(ttl),
	})
	c.entries[scoped] = elem

	for c.lru.Len() > c.cap {
		if tail := c.lru.Back(); tail != nil {
			c.drop(tail)
		}
	}
	return nil
}

// Delete removes the entry if present.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	scoped, err := scopedKey(tenantID, key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[scoped]; ok {
		c.drop(elem)
	}
	return nil
}

// GetClaimSummary returns the cached summary for a claim, or nil when
// the pipeline has not cached it.
func (c *LRUCache) GetClaimSummary(ctx context.Context, tenantID string, claimID string) (*domain.ClaimSummary, error) {
	data, err := c.Get(ctx, tenantID, "claim:"+claimID)
	if err != nil || data == nil {
		return nil, err
	}
	var summary domain.ClaimSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// SetClaimSummary caches the summary the assessment pipeline reads.
func (c *LRUCache) SetClaimSummary(ctx context.Context, tenantID string, claimID string, data *domain.ClaimSummary, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, "claim:"+claimID, raw, ttl)
}

// IncrementCounter bumps the claim-velocity counter for key and returns
// the count inside the current window. A lapsed window restarts at 1.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	scoped, err := scopedKey(tenantID, "counter:"+key)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if len(c.windows) > windowSweepThreshold {
		c.sweepWindows(now)
	}

	w, ok := c.windows[scoped]
	if !ok || now.After(w.expires) {
		c.windows[scoped] = &velocityWindow{count: 1, expires: now.Add(window)}
		return 1, nil
	}
	w.count++
	return w.count, nil
}

// Ping reports cache health. An in-process cache is always reachable.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close discards all entries and counters.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru = list.New()
	c.windows = make(map[string]*velocityWindow)
	return nil
}

// Stats returns the live entry count and the configured capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len(), c.cap
}

// drop removes an element from both the list and the index.
// Caller holds the write lock.
func (c *LRUCache) drop(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.entries, elem.Value.(*record).key)
}

// sweepWindows clears expired velocity windows. Caller holds the
// write lock.
func (c *LRUCache) sweepWindows(now time.Time) {
	for k, w := range c.windows {
		if now.After(w.expires) {
			delete(c.windows, k)
		}
	}
}

// scopedKey prefixes key with the insurer tenant so one tenant can
// never read another's entries.
func scopedKey(tenantID, key string) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("tenantID is required")
	}
	return tenantID + ":" + key, nil
}
