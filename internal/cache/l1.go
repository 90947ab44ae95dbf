package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/metrics"
)

const tierL1 = "l1"

// ErrTooLarge is returned when a value exceeds the tier's byte budget.
var ErrTooLarge = fmt.Errorf("%w: value exceeds tier byte budget", apperrors.ErrCacheWrite)

// TierStats are counters for one tier.
type TierStats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	Rejections  int64 `json:"rejections"`
	Entries     int   `json:"entries"`
	Bytes       int64 `json:"bytes"`
}

// L1 is the in-process tier. It is bounded by entry count and total bytes
// and evicts in strict LRU order regardless of remaining TTL. Expired entries
// are swept on every mutation. A single RWMutex guards each instance.
type L1 struct {
	mu         sync.RWMutex
	lru        *simplelru.LRU[string, *Entry]
	maxBytes   int64
	bytes      int64
	nextExpiry time.Time
	now        Clock
	stats      TierStats
	metrics    *metrics.Metrics
}

// NewL1 returns an empty tier. A nil clock uses time.Now.
func NewL1(maxEntries int, maxBytes int64, now Clock, m *metrics.Metrics) (*L1, error) {
	if maxEntries <= 0 || maxBytes <= 0 {
		return nil, fmt.Errorf("%w: l1 limits must be positive (entries=%d bytes=%d)", apperrors.ErrInvalidInput, maxEntries, maxBytes)
	}
	if now == nil {
		now = time.Now
	}
	c := &L1{maxBytes: maxBytes, now: now, metrics: m}
	l, err := simplelru.NewLRU[string, *Entry](maxEntries, func(_ string, e *Entry) {
		c.bytes -= int64(e.SizeBytes)
	})
	if err != nil {
		return nil, fmt.Errorf("creating l1 lru: %w", err)
	}
	c.lru = l
	return c, nil
}

// Get returns a copy of the value under key, refreshing its recency. An
// expired entry is removed and reported as a miss.
func (c *L1) Get(key string) ([]byte, bool) {
	e, ok := c.GetEntry(key)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// GetEntry is Get returning the entry metadata as well. The returned entry is
// a copy.
func (c *L1) GetEntry(key string) (*Entry, bool) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if e.Expired(now) {
		c.lru.Remove(key)
		c.stats.Misses++
		c.stats.Expirations++
		c.metrics.RecordEviction(tierL1, "expired", 1)
		return nil, false
	}
	e.AccessCount++
	e.LastAccessed = now
	c.stats.Hits++
	out := *e
	out.Value = copyBytes(e.Value)
	return &out, true
}

// Put stores value under key for ttl (0 keeps it until evicted). A value
// larger than the tier's byte budget is rejected with ErrTooLarge and the
// tier is left unchanged.
func (c *L1) Put(key string, value []byte, ttl time.Duration) error {
	now := c.now()
	e := newEntry(key, copyBytes(value), now, ttl)
	if int64(e.SizeBytes) > c.maxBytes {
		c.mu.Lock()
		c.stats.Rejections++
		c.mu.Unlock()
		c.metrics.RecordRejection(tierL1, "too_large")
		return fmt.Errorf("%w: key %s is %d bytes, budget %d", ErrTooLarge, key, e.SizeBytes, c.maxBytes)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(now, false)

	c.lru.Remove(key)
	if c.lru.Add(key, e) {
		c.recordLRUEvictions(1)
	}
	c.bytes += int64(e.SizeBytes)

	evicted := 0
	for c.bytes > c.maxBytes {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
		evicted++
	}
	c.recordLRUEvictions(evicted)

	if e.HasTTL() && (c.nextExpiry.IsZero() || e.ExpiresAt.Before(c.nextExpiry)) {
		c.nextExpiry = e.ExpiresAt
	}
	return nil
}

// Delete removes key and reports whether it was present.
func (c *L1) Delete(key string) bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := c.lru.Remove(key)
	c.sweepLocked(now, false)
	return removed
}

// DeleteMatching removes every key matched by p and returns them.
func (c *L1) DeleteMatching(p Pattern) []string {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []string
	for _, key := range c.lru.Keys() {
		if p.Match(key) && c.lru.Remove(key) {
			removed = append(removed, key)
		}
	}
	c.sweepLocked(now, false)
	return removed
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *L1) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(now, true)
}

// sweepLocked drops expired entries. Unless forced it is skipped while no
// entry can have expired yet.
func (c *L1) sweepLocked(now time.Time, force bool) int {
	if !force && (c.nextExpiry.IsZero() || now.Before(c.nextExpiry)) {
		return 0
	}
	removed := 0
	var next time.Time
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if e.Expired(now) {
			c.lru.Remove(key)
			removed++
			continue
		}
		if e.HasTTL() && (next.IsZero() || e.ExpiresAt.Before(next)) {
			next = e.ExpiresAt
		}
	}
	c.nextExpiry = next
	if removed > 0 {
		c.stats.Expirations += int64(removed)
		c.metrics.RecordEviction(tierL1, "expired", removed)
	}
	return removed
}

func (c *L1) recordLRUEvictions(n int) {
	if n <= 0 {
		return
	}
	c.stats.Evictions += int64(n)
	c.metrics.RecordEviction(tierL1, "lru", n)
}

// Keys returns the live keys from least to most recently used.
func (c *L1) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Keys()
}

func (c *L1) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

func (c *L1) Bytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytes
}

func (c *L1) Stats() TierStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Entries = c.lru.Len()
	s.Bytes = c.bytes
	return s
}

// Purge drops every entry.
func (c *L1) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.bytes = 0
	c.nextExpiry = time.Time{}
}
