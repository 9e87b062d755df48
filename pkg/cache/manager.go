package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Observer receives cache traffic notifications; the telemetry
// package provides a Prometheus implementation. All methods must be
// cheap and non-blocking.
type Observer interface {
	Hit(tier string)
	Miss()
	Invalidation()
}

// ManagerConfig configures a cache Manager.
type ManagerConfig struct {
	// InstanceID distinguishes this process in invalidation
	// broadcasts. Default: a random UUID.
	InstanceID string

	// L1TTL, L2TTL, L3TTL are per-tier population TTLs. Back-fills
	// use the destination tier's TTL, not the origin's. Defaults:
	// 30s, 5m, 1h.
	L1TTL time.Duration
	L2TTL time.Duration
	L3TTL time.Duration

	// Observer optionally receives hit/miss/invalidation counts.
	Observer Observer
}

func (c *ManagerConfig) applyDefaults() {
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}
	if c.L1TTL <= 0 {
		c.L1TTL = 30 * time.Second
	}
	if c.L2TTL <= 0 {
		c.L2TTL = 5 * time.Minute
	}
	if c.L3TTL <= 0 {
		c.L3TTL = time.Hour
	}
}

// Manager orchestrates lookup, population, and invalidation across the
// cache tiers. Tier errors are absorbed and logged; a Get never fails
// because a tier is down, it just reports a miss so the caller fetches
// from the authoritative store.
type Manager struct {
	config ManagerConfig
	tiers  []Tier // ordered fastest first; nil tiers were not configured

	l1      *L1
	l3      *L3
	backend SharedBackend

	unsubscribe func()
	logger      *slog.Logger
}

// NewManager composes the given tiers. l1 is required; backend (L2)
// and l3 may be nil, in which case those tiers are skipped. When a
// backend is provided the manager subscribes to its invalidation
// stream and applies remote invalidations to the local tiers.
func NewManager(l1 *L1, backend SharedBackend, l3 *L3, config ManagerConfig) (*Manager, error) {
	if l1 == nil {
		return nil, fmt.Errorf("cache: l1 tier is required")
	}
	config.applyDefaults()

	m := &Manager{
		config:  config,
		l1:      l1,
		l3:      l3,
		backend: backend,
		logger:  slog.Default().With("component", "cache.manager", "instance", config.InstanceID),
	}

	m.tiers = append(m.tiers, l1)
	if backend != nil {
		m.tiers = append(m.tiers, NewSharedTier(backend))
	}
	if l3 != nil {
		m.tiers = append(m.tiers, l3)
	}

	if backend != nil {
		unsub, err := backend.Subscribe(m.onInvalidation)
		if err != nil {
			return nil, err
		}
		m.unsubscribe = unsub
	}

	m.logger.Debug("cache manager ready", "tiers", len(m.tiers))
	return m, nil
}

// Get looks key up tier by tier. A hit at tier n is back-filled into
// the faster tiers with their own TTLs so hot keys converge to L1.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	for i, tier := range m.tiers {
		value, found, err := tier.Get(ctx, key)
		if err != nil {
			// A broken tier degrades to the next one.
			m.logger.Warn("cache tier get failed", "tier", tier.Name(), "error", err)
			continue
		}
		if !found {
			continue
		}

		if m.config.Observer != nil {
			m.config.Observer.Hit(tier.Name())
		}
		m.backfill(ctx, key, value, i)
		return value, true
	}

	if m.config.Observer != nil {
		m.config.Observer.Miss()
	}
	return nil, false
}

// Put populates all tiers with their configured TTLs. Tier failures
// are logged and absorbed.
func (m *Manager) Put(ctx context.Context, key string, value []byte) {
	for i, tier := range m.tiers {
		if err := tier.Put(ctx, key, value, m.tierTTL(i)); err != nil {
			m.logger.Warn("cache tier put failed", "tier", tier.Name(), "error", err)
		}
	}
}

// Invalidate removes key from every tier and broadcasts the
// invalidation through the shared backend. It returns once the
// broadcast is acknowledged, which gives the originating instance
// read-your-writes; other instances observe the invalidation within
// the propagation delay. Invalidating an absent key is a no-op.
func (m *Manager) Invalidate(ctx context.Context, key string) error {
	for _, tier := range m.tiers {
		if err := tier.Invalidate(ctx, key); err != nil {
			m.logger.Warn("cache tier invalidate failed", "tier", tier.Name(), "error", err)
		}
	}

	if m.config.Observer != nil {
		m.config.Observer.Invalidation()
	}

	if m.backend == nil {
		return nil
	}
	return m.backend.PublishInvalidation(ctx, Invalidation{
		Origin: m.config.InstanceID,
		Key:    key,
	})
}

// InvalidateNamespace removes every cached entry in the namespace and
// its subtree across all tiers and instances.
func (m *Manager) InvalidateNamespace(ctx context.Context, namespace string) error {
	prefixes := NamespacePrefixes(namespace)

	for _, tier := range m.tiers {
		for _, prefix := range prefixes {
			if err := tier.InvalidatePrefix(ctx, prefix); err != nil {
				m.logger.Warn("cache tier prefix invalidate failed", "tier", tier.Name(), "error", err)
			}
		}
	}

	if m.config.Observer != nil {
		m.config.Observer.Invalidation()
	}

	if m.backend == nil {
		return nil
	}
	for _, prefix := range prefixes {
		if err := m.backend.PublishInvalidation(ctx, Invalidation{
			Origin: m.config.InstanceID,
			Prefix: prefix,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Close unsubscribes from the invalidation stream and closes owned
// tiers.
func (m *Manager) Close() error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	var firstErr error
	for _, tier := range m.tiers {
		if err := tier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// backfill copies a value hit at tier hitIndex into all faster tiers
// with each destination tier's own TTL.
func (m *Manager) backfill(ctx context.Context, key string, value []byte, hitIndex int) {
	for i := 0; i < hitIndex; i++ {
		if err := m.tiers[i].Put(ctx, key, value, m.tierTTL(i)); err != nil {
			m.logger.Warn("cache backfill failed", "tier", m.tiers[i].Name(), "error", err)
		}
	}
}

// onInvalidation applies a remote invalidation to the local tiers.
// The shared tier already dropped the entry at the originator.
func (m *Manager) onInvalidation(msg Invalidation) {
	if msg.Origin == m.config.InstanceID {
		return
	}

	ctx := context.Background()
	local := []Tier{}
	local = append(local, m.l1)
	if m.l3 != nil {
		local = append(local, m.l3)
	}

	for _, tier := range local {
		var err error
		switch {
		case msg.Key != "":
			err = tier.Invalidate(ctx, msg.Key)
		case msg.Prefix != "":
			err = tier.InvalidatePrefix(ctx, msg.Prefix)
		}
		if err != nil {
			m.logger.Warn("remote invalidation failed", "tier", tier.Name(), "error", err)
		}
	}
}

func (m *Manager) tierTTL(index int) time.Duration {
	switch m.tiers[index].Name() {
	case "l1":
		return m.config.L1TTL
	case "l2":
		return m.config.L2TTL
	default:
		return m.config.L3TTL
	}
}
