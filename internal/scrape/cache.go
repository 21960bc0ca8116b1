package scrape

import (
	"regexp"
	"sync"
	"time"
)

// CacheEntry holds one cached scrape result with its expiry. Entries are
// written whole on set and never partially updated.
type CacheEntry struct {
	URL       string
	Result    CachedResult
	ExpiresAt time.Time
}

// CacheStats reports hit/miss counters and the current entry count.
type CacheStats struct {
	Hits   int64
	Misses int64
	Size   int
}

// Cache is a URL-keyed result cache with per-entry TTL. Expiry is checked
// lazily on read, so a Get after expiry never returns stale data. It is safe
// for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]CacheEntry
	defaultTTL time.Duration
	clock      Clock
	hits       int64
	misses     int64
}

// NewCache constructs a Cache with the given default TTL. A nil clock falls
// back to the system time.
func NewCache(defaultTTL time.Duration, clock Clock) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Cache{
		entries:    make(map[string]CacheEntry),
		defaultTTL: defaultTTL,
		clock:      clock,
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Get returns the entry for url, or nil on a miss or after expiry. Expired
// entries are dropped in place.
func (c *Cache) Get(url string) *CacheEntry {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[url]
	if !ok {
		c.misses++
		return nil
	}
	if !now.Before(entry.ExpiresAt) {
		delete(c.entries, url)
		c.misses++
		return nil
	}
	c.hits++
	copied := entry
	return &copied
}

// Set stores result under url. A non-positive ttl uses the cache default.
// Existing entries are overwritten whole.
func (c *Cache) Set(url string, result CachedResult, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	entry := CacheEntry{
		URL:       url,
		Result:    result,
		ExpiresAt: c.clock.Now().Add(ttl),
	}
	c.mu.Lock()
	c.entries[url] = entry
	c.mu.Unlock()
}

// Invalidate removes the entry for url if present.
func (c *Cache) Invalidate(url string) {
	c.mu.Lock()
	delete(c.entries, url)
	c.mu.Unlock()
}

// InvalidatePattern removes every entry whose URL matches the pattern and
// returns the count removed.
func (c *Cache) InvalidatePattern(pattern *regexp.Regexp) int {
	if pattern == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for url := range c.entries {
		if pattern.MatchString(url) {
			delete(c.entries, url)
			removed++
		}
	}
	return removed
}

// Clear drops all entries and resets counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]CacheEntry)
	c.hits = 0
	c.misses = 0
	c.mu.Unlock()
}

// Stats returns a snapshot of the hit/miss counters and entry count.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Hits:   c.hits,
		Misses: c.misses,
		Size:   len(c.entries),
	}
}
