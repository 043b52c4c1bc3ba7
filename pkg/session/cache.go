package session

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is the ephemeral session lookup layer keyed by identity.
// A cache that loses entries only costs a store round trip, so there is no
// error surface here: absence and failure both read as a miss.
type Cache interface {
	Get(identity string) (Record, bool)
	// Peek reads without refreshing the entry's TTL.
	Peek(identity string) (Record, bool)
	Put(rec Record)
	Delete(identity string)
	Keys() []string
}

type lruCache struct {
	lru *expirable.LRU[string, Record]
}

// NewLRUCache builds a bounded TTL cache. ttl is the sliding idle window;
// reads through Get re-arm it.
func NewLRUCache(size int, ttl time.Duration) Cache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &lruCache{
		lru: expirable.NewLRU[string, Record](size, nil, ttl),
	}
}

func (c *lruCache) Get(identity string) (Record, bool) {
	rec, ok := c.lru.Get(identity)
	if !ok {
		return Record{}, false
	}
	// Entry TTLs are fixed from insert time; re-adding slides the window.
	c.lru.Add(identity, rec)
	return rec, true
}

func (c *lruCache) Peek(identity string) (Record, bool) {
	return c.lru.Peek(identity)
}

func (c *lruCache) Put(rec Record) {
	if rec.Identity == "" {
		return
	}
	c.lru.Add(rec.Identity, rec)
}

func (c *lruCache) Delete(identity string) {
	c.lru.Remove(identity)
}

func (c *lruCache) Keys() []string {
	return c.lru.Keys()
}