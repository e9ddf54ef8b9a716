package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/colgraph/resource"
)

// Key identifies one block of a named blob.
type Key struct {
	Path  string
	Block int64
}

// LRU is a least recently used block cache bounded by total bytes.
// It is safe for concurrent use. Cached slices must be treated as
// read-only.
type LRU struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	items    map[Key]*list.Element
	order    *list.List
	rc       *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key   Key
	value []byte
}

// NewLRU creates a cache holding at most capacity bytes. rc may be nil.
func NewLRU(capacity int64, rc *resource.Controller) *LRU {
	return &LRU{
		capacity: capacity,
		items:    make(map[Key]*list.Element),
		order:    list.New(),
		rc:       rc,
	}
}

// Get returns a cached block.
func (c *LRU) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.order.MoveToFront(el)
		return el.Value.(*entry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set caches a block. Blocks larger than the capacity are ignored.
func (c *LRU) Set(key Key, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := int64(len(b))
	if n > c.capacity {
		return
	}

	if el, ok := c.items[key]; ok {
		old := int64(len(el.Value.(*entry).value))
		if n > old && !c.rc.TryAcquireMemory(n-old) {
			return
		}
		if n < old {
			c.rc.ReleaseMemory(old - n)
		}
		c.size += n - old
		el.Value.(*entry).value = b
		c.order.MoveToFront(el)
		c.evict(el)
		return
	}

	// Evict first so released bytes can be reacquired below.
	for c.size+n > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.remove(back)
	}
	if !c.rc.TryAcquireMemory(n) {
		return
	}
	c.items[key] = c.order.PushFront(&entry{key: key, value: b})
	c.size += n
}

// Invalidate drops every block of path.
func (c *LRU) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var drop []*list.Element
	for key, el := range c.items {
		if key.Path == path {
			drop = append(drop, el)
		}
	}
	for _, el := range drop {
		c.remove(el)
	}
}

// Purge drops every block and returns the reserved memory.
func (c *LRU) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.order.Len() > 0 {
		c.remove(c.order.Back())
	}
}

// evict trims the cache to capacity, never removing keep.
func (c *LRU) evict(keep *list.Element) {
	for c.size > c.capacity {
		back := c.order.Back()
		if back == nil || back == keep {
			return
		}
		c.remove(back)
	}
}

func (c *LRU) remove(el *list.Element) {
	c.order.Remove(el)
	e := el.Value.(*entry)
	delete(c.items, e.key)
	n := int64(len(e.value))
	c.size -= n
	c.rc.ReleaseMemory(n)
}

// Stats returns the number of hits and misses so far.
func (c *LRU) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the cached bytes.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of cached blocks.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
