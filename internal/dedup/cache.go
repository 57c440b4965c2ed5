// Package dedup holds recently sent responses keyed by request id so that a
// retransmitted request is answered with the original bytes.
package dedup

import (
	"time"
)

// DefaultTTL is how long a response stays replayable.
const DefaultTTL = 2 * time.Second

type entry struct {
	createdAt time.Time
	raw       []byte
}

// Cache maps request keys to the exact bytes of the response sent for them.
//
// Entries are collected lazily on every Get and Put. Cache is owned by the
// dispatcher and is not safe for concurrent use.
type Cache struct {
	ttl     time.Duration
	entries map[string]entry
}

// New creates a cache with the given TTL. A non-positive ttl uses DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{ttl: ttl, entries: make(map[string]entry)}
}

// Get returns the cached response for key if it is still live at now.
func (c *Cache) Get(key string, now time.Time) ([]byte, bool) {
	c.gc(now)
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.raw, true
}

// Put stores raw for key. A later Put for the same key replaces the entry
// and restarts its TTL.
func (c *Cache) Put(key string, raw []byte, now time.Time) {
	c.gc(now)
	c.entries[key] = entry{createdAt: now, raw: append([]byte(nil), raw...)}
}

// Len returns the number of entries, live or not yet collected.
func (c *Cache) Len() int {
	return len(c.entries)
}

// gc drops entries with now - createdAt > ttl.
func (c *Cache) gc(now time.Time) {
	for key, e := range c.entries {
		if now.Sub(e.createdAt) > c.ttl {
			delete(c.entries, key)
		}
	}
}
