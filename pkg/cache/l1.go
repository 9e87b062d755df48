package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// L1 is the in-process tier: an LRU map with per-entry TTL. Eviction
// happens inline on Put once capacity is exceeded and never blocks a
// Get.
type L1 struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	capacity int

	hits      uint64
	misses    uint64
	evictions uint64
}

type l1Entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewL1 creates an in-process tier holding at most capacity entries.
func NewL1(capacity int) *L1 {
	if capacity <= 0 {
		capacity = 1024
	}
	return &L1{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
	}
}

// Name identifies the tier.
func (c *L1) Name() string { return "l1" }

// Get returns the cached value and bumps its recency.
func (c *L1) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false, nil
	}

	entry := elem.Value.(*l1Entry)
	if time.Now().After(entry.expiresAt) {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.misses++
		return nil, false, nil
	}

	c.order.MoveToFront(elem)
	c.hits++
	return entry.value, true, nil
}

// Put stores value under key, evicting least-recently-used entries if
// the tier is over capacity.
func (c *L1) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*l1Entry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(elem)
		return nil
	}

	elem := c.order.PushFront(&l1Entry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
	c.entries[key] = elem

	for len(c.entries) > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*l1Entry).key)
		c.evictions++
	}
	return nil
}

// Invalidate removes key. Idempotent.
func (c *L1) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
	return nil
}

// InvalidatePrefix removes every key with the given prefix.
func (c *L1) InvalidatePrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.order.Remove(elem)
			delete(c.entries, key)
		}
	}
	return nil
}

// Len returns the current entry count.
func (c *L1) Len(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), nil
}

// Close is a no-op for the in-process tier.
func (c *L1) Close() error { return nil }

// Stats returns hit/miss/eviction counters since creation.
func (c *L1) Stats() (hits, misses, evictions uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}
