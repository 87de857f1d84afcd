package stream

import "sync"

// Cache holds the most recent unread block for each stream. A newer block replaces an
// unread one; nothing is queued per key.
type Cache struct {
	sync.Mutex
	latest map[Key]*Block
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{latest: make(map[Key]*Block)}
}

// Publish stores b as the latest block for key, replacing any unread block.
func (c *Cache) Publish(key Key, b *Block) {
	c.Lock()
	c.latest[key] = b
	c.Unlock()
}

// Take returns and clears the latest block for key. It returns false if nothing new has
// been published since the last Take.
func (c *Cache) Take(key Key) (*Block, bool) {
	c.Lock()
	defer c.Unlock()
	b, ok := c.latest[key]
	if ok {
		delete(c.latest, key)
	}
	return b, ok
}

// Reset discards all unread blocks.
func (c *Cache) Reset() {
	c.Lock()
	c.latest = make(map[Key]*Block)
	c.Unlock()
}
