package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Invalidation is the message broadcast when an entry is invalidated.
// Exactly one of Key or Prefix is set.
type Invalidation struct {
	// Origin is the instance id that issued the invalidation, so
	// instances can skip their own messages.
	Origin string

	// Key is the exact cache key to drop.
	Key string

	// Prefix drops every key with this prefix.
	Prefix string
}

// SharedBackend is the contract for the L2 shared tier: any store
// offering get/put/delete plus at-least-once delivery of invalidation
// messages to all subscribers. Redis with keyspace pub/sub is the
// archetype; Bus is the in-memory stand-in.
type SharedBackend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error

	// PublishInvalidation delivers msg to every subscriber. It returns
	// once delivery is acknowledged, which is what lets a write await
	// its invalidation broadcast.
	PublishInvalidation(ctx context.Context, msg Invalidation) error

	// Subscribe registers a handler for invalidation messages. The
	// returned func unsubscribes.
	Subscribe(handler func(Invalidation)) (func(), error)

	Len(ctx context.Context) (int, error)
	Close() error
}

// Bus is an in-memory SharedBackend. Multiple Manager instances
// sharing one Bus behave like instances sharing a remote cache:
// they see each other's writes and invalidations.
type Bus struct {
	mu      sync.RWMutex
	entries map[string]busEntry

	subMu       sync.RWMutex
	subscribers map[int]func(Invalidation)
	nextSub     int
}

type busEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewBus creates an empty shared backend.
func NewBus() *Bus {
	return &Bus{
		entries:     make(map[string]busEntry),
		subscribers: make(map[int]func(Invalidation)),
	}
}

// Get returns the value for key if present and unexpired.
func (b *Bus) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Put stores value under key for ttl.
func (b *Bus) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = busEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete removes key. Idempotent.
func (b *Bus) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

// DeletePrefix removes every key with the given prefix.
func (b *Bus) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.entries {
		if strings.HasPrefix(key, prefix) {
			delete(b.entries, key)
		}
	}
	return nil
}

// PublishInvalidation synchronously delivers msg to every subscriber.
func (b *Bus) PublishInvalidation(ctx context.Context, msg Invalidation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.subMu.RLock()
	handlers := make([]func(Invalidation), 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.subMu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

// Subscribe registers a handler for invalidation messages.
func (b *Bus) Subscribe(handler func(Invalidation)) (func(), error) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.subscribers[id] = handler

	return func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		delete(b.subscribers, id)
	}, nil
}

// Len returns the current entry count.
func (b *Bus) Len(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries), nil
}

// Close drops all entries and subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.entries = make(map[string]busEntry)
	b.mu.Unlock()

	b.subMu.Lock()
	b.subscribers = make(map[int]func(Invalidation))
	b.subMu.Unlock()
	return nil
}

// SharedTier adapts a SharedBackend to the Tier interface.
type SharedTier struct {
	backend SharedBackend
}

// NewSharedTier wraps a backend as the L2 tier.
func NewSharedTier(backend SharedBackend) *SharedTier {
	return &SharedTier{backend: backend}
}

// Name identifies the tier.
func (t *SharedTier) Name() string { return "l2" }

// Get returns the cached value for key.
func (t *SharedTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return t.backend.Get(ctx, key)
}

// Put stores value under key for ttl.
func (t *SharedTier) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return t.backend.Put(ctx, key, value, ttl)
}

// Invalidate removes key from the shared store.
func (t *SharedTier) Invalidate(ctx context.Context, key string) error {
	return t.backend.Delete(ctx, key)
}

// InvalidatePrefix removes every key with the given prefix.
func (t *SharedTier) InvalidatePrefix(ctx context.Context, prefix string) error {
	return t.backend.DeletePrefix(ctx, prefix)
}

// Len returns the current entry count.
func (t *SharedTier) Len(ctx context.Context) (int, error) {
	return t.backend.Len(ctx)
}

// Close is a no-op; the backend is owned by its creator.
func (t *SharedTier) Close() error { return nil }
