package client

import (
	"strings"
	"sync"
	"time"
)

// cacheEntry is one cached GET response body.
type cacheEntry struct {
	status    int
	body      []byte
	expiresAt time.Time
}

// responseCache caches GET responses keyed by full URL for a fixed TTL.
// Expired entries are evicted lazily on read and periodically by the
// background sweep so the map stays bounded between reads.
type responseCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration

	cancel chan struct{}
	done   chan struct{}
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

// get returns a live entry, evicting it if expired.
func (c *responseCache) get(url string) (cacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[url]
	c.mu.RUnlock()
	if !ok {
		return cacheEntry{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, url)
		c.mu.Unlock()
		return cacheEntry{}, false
	}
	return entry, true
}

// put stores a response body under the URL.
func (c *responseCache) put(url string, status int, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = cacheEntry{
		status:    status,
		body:      body,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// invalidatePrefix drops all entries whose URL starts with prefix. Writes
// call this with the mutated resource path so stale reads do not survive
// until TTL expiry.
func (c *responseCache) invalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for url := range c.entries {
		if strings.HasPrefix(url, prefix) {
			delete(c.entries, url)
		}
	}
}

// sweep removes all expired entries.
func (c *responseCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for url, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, url)
		}
	}
}

// startSweepRoutine starts the periodic eviction sweep.
func (c *responseCache) startSweepRoutine(interval time.Duration) {
	c.cancel = make(chan struct{})
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.cancel:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// close stops the sweep routine.
func (c *responseCache) close() {
	if c.cancel == nil {
		return
	}
	close(c.cancel)
	<-c.done
	c.cancel = nil
}

// len reports the number of entries, live or expired.
func (c *responseCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
