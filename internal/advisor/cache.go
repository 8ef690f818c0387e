package advisor

import (
	"sync"
	"time"
)

// Cache holds generated narratives in memory until they go stale.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	maxAge  time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	text      string
	createdAt time.Time
}

func NewCache(maxAge time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Get returns a cached narrative if it exists and is not stale.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.createdAt) > c.maxAge {
		return "", false
	}
	return e.text, true
}

func (c *Cache) Set(key, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{text: text, createdAt: c.now()}
	for k, e := range c.entries {
		if c.now().Sub(e.createdAt) > c.maxAge {
			delete(c.entries, k)
		}
	}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
