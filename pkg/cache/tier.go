package cache

import (
	"context"
	"strings"
	"time"
)

// keySeparator joins key components. The unit separator cannot appear
// in namespace paths, keys, or environment names (validated at write
// time), so distinct environments never collide.
const keySeparator = "\x1f"

// Key composes the deterministic cache key for a configuration entry.
func Key(namespace, key, environment string) string {
	return namespace + keySeparator + key + keySeparator + environment
}

// NamespacePrefixes returns the cache-key prefixes covering a
// namespace and its whole subtree, for prefix invalidation.
func NamespacePrefixes(namespace string) []string {
	return []string{
		namespace + keySeparator, // keys directly in the namespace
		namespace + "/",          // keys in descendant namespaces
	}
}

// ValidComponent reports whether a key component is usable in a cache
// key.
func ValidComponent(s string) bool {
	return !strings.Contains(s, keySeparator)
}

// Tier is one cache level. Implementations are safe for concurrent
// use. A miss is (nil, false, nil); errors indicate tier trouble and
// are absorbed by the Manager, never surfaced to readers.
type Tier interface {
	// Name identifies the tier in logs and metrics (l1, l2, l3).
	Name() string

	// Get returns the cached value for key, or found=false.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Put stores value under key for ttl.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Invalidate removes key. Removing an absent key is a no-op.
	Invalidate(ctx context.Context, key string) error

	// InvalidatePrefix removes every key with the given prefix.
	InvalidatePrefix(ctx context.Context, prefix string) error

	// Len returns the current entry count.
	Len(ctx context.Context) (int, error)

	// Close releases tier resources.
	Close() error
}
