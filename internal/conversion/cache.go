package conversion

import "sync"

// defaultCacheSize bounds the render cache. Streaming produces one render
// per delta over the same growing prefix, so a few hundred entries cover an
// active turn comfortably.
const defaultCacheSize = 500

// renderCache is a bounded FIFO memo of markdown -> HTML renders. Eviction
// is oldest-first: streaming prefixes are never re-requested once the
// message grows past them, so recency tracking buys nothing here.
type renderCache struct {
	mu      sync.Mutex
	cap     int
	entries map[string]string
	order   []string
}

func newRenderCache(cap int) *renderCache {
	return &renderCache{cap: cap, entries: make(map[string]string, cap)}
}

func (c *renderCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	html, ok := c.entries[key]
	return html, ok
}

func (c *renderCache) put(key, html string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.entries[key] = html
		return
	}
	for len(c.entries) >= c.cap && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = html
	c.order = append(c.order, key)
}

func (c *renderCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
