package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fractal-lba/bouncer/internal/api"
)

var ErrInvalidSize = errors.New("cache size must be positive")

// VerdictCache maps canonical transition digests to verdicts so identical
// observations are not re-solved.
//
// Key features:
//   - Size-bounded (evicts least recently used when full)
//   - TTL expiration (0 means no expiration)
//   - Safe for concurrent access
type VerdictCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, entry]
	ttl   time.Duration
	now   func() time.Time

	hits    atomic.Uint64
	misses  atomic.Uint64
	evicted atomic.Uint64
}

type entry struct {
	record    api.VerdictRecord
	expiresAt time.Time
}

// NewVerdictCache creates a cache holding at most size verdicts.
//
// Example:
//
//	c, err := NewVerdictCache(4096, 10*time.Minute)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c.Add(rec)
//	if rec, ok := c.Get(digest); ok {
//	    ...
//	}
func NewVerdictCache(size int, ttl time.Duration) (*VerdictCache, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	c := &VerdictCache{ttl: ttl, now: time.Now}
	cache, err := lru.NewWithEvict[string, entry](size, func(string, entry) {
		c.evicted.Add(1)
	})
	if err != nil {
		return nil, err
	}
	c.cache = cache
	return c, nil
}

// Get returns the verdict cached under digest. Expired entries count as
// misses and are removed.
func (c *VerdictCache) Get(digest string) (api.VerdictRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache.Get(digest)
	if ok && c.expired(e) {
		c.cache.Remove(digest)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		return api.VerdictRecord{}, false
	}
	c.hits.Add(1)
	return e.record, true
}

// Add caches rec under its digest. Records without a digest are ignored.
func (c *VerdictCache) Add(rec api.VerdictRecord) {
	if rec.Digest == "" {
		return
	}
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(rec.Digest, entry{record: rec, expiresAt: expiresAt})
}

// Len returns the number of cached verdicts, expired ones included.
func (c *VerdictCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// Purge drops every cached verdict, for example after the monitor is
// rebuilt with a different delta.
func (c *VerdictCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}

// CleanupExpired removes all expired entries and returns how many were
// removed. It is O(n).
func (c *VerdictCache) CleanupExpired() int {
	if c.ttl <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, k := range c.cache.Keys() {
		if e, ok := c.cache.Peek(k); ok && c.expired(e) {
			c.cache.Remove(k)
			removed++
		}
	}
	return removed
}

func (c *VerdictCache) expired(e entry) bool {
	return !e.expiresAt.IsZero() && c.now().After(e.expiresAt)
}

// Stats returns cache statistics for observability.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Evicted uint64  `json:"evicted"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns current cache statistics. Evicted counts every entry that
// left the cache, expired and purged ones included.
func (c *VerdictCache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:    hits,
		Misses:  misses,
		Evicted: c.evicted.Load(),
		Size:    c.Len(),
		HitRate: hitRate,
	}
}
