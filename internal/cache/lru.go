package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/seqbatch/internal/resource"
)

var _ BlockCache = (*LRUBlockCache)(nil)

// node is an entry in the recency ring. The sentinel's next is the most
// recently used entry, its prev the eviction candidate.
type node struct {
	key        CacheKey
	value      []byte
	prev, next *node
}

// LRUBlockCache is a byte-bounded LRU BlockCache. Sizes are tracked per
// CacheKind so blob blocks and spilled chunks can be told apart.
type LRUBlockCache struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	perKind  map[CacheKind]int64
	index    map[CacheKey]*node
	ring     node
	rc       *resource.Controller

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewLRUBlockCache creates a cache holding up to capacity bytes. A non-nil
// rc must also grant every cached byte; a refused block is not cached.
func NewLRUBlockCache(capacity int64, rc *resource.Controller) *LRUBlockCache {
	c := &LRUBlockCache{
		capacity: capacity,
		perKind:  make(map[CacheKind]int64),
		index:    make(map[CacheKey]*node),
		rc:       rc,
	}
	c.ring.prev, c.ring.next = &c.ring, &c.ring
	return c
}

func (c *LRUBlockCache) unlink(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

func (c *LRUBlockCache) pushFront(n *node) {
	n.prev = &c.ring
	n.next = c.ring.next
	c.ring.next.prev = n
	c.ring.next = n
}

// Get returns a cached block and marks it most recently used.
func (c *LRUBlockCache) Get(_ context.Context, key CacheKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.index[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.unlink(n)
	c.pushFront(n)
	return n.value, true
}

// Set caches b under key, replacing an older value. Blocks larger than the
// whole capacity are dropped.
func (c *LRUBlockCache) Set(_ context.Context, key CacheKey, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := int64(len(b))
	if n > c.capacity {
		return
	}
	if old, ok := c.index[key]; ok {
		c.drop(old)
	}
	for c.size+n > c.capacity && c.ring.prev != &c.ring {
		c.drop(c.ring.prev)
		c.evictions.Add(1)
	}
	if !c.rc.TryAcquireMemory(n) {
		return
	}

	e := &node{key: key, value: b}
	c.pushFront(e)
	c.index[key] = e
	c.size += n
	c.perKind[key.Kind] += n
}

// drop removes n and returns its bytes.
func (c *LRUBlockCache) drop(n *node) {
	c.unlink(n)
	delete(c.index, n.key)
	sz := int64(len(n.value))
	c.size -= sz
	c.perKind[n.key.Kind] -= sz
	c.rc.ReleaseMemory(sz)
}

// Invalidate removes every entry whose key matches predicate.
func (c *LRUBlockCache) Invalidate(predicate func(key CacheKey) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, n := range c.index {
		if predicate(key) {
			c.drop(n)
		}
	}
}

// Stats returns hit and miss counters.
func (c *LRUBlockCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Evictions returns how many entries were pushed out to make room.
func (c *LRUBlockCache) Evictions() int64 { return c.evictions.Load() }

// Size returns the cached bytes.
func (c *LRUBlockCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// SizeOf returns the cached bytes of one kind.
func (c *LRUBlockCache) SizeOf(kind CacheKind) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perKind[kind]
}

// Len returns the number of cached blocks.
func (c *LRUBlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}
