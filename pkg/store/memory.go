package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and ephemeral setups.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]ConfigVersion

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]ConfigVersion),
		now:     time.Now,
	}
}

func entryKey(namespace, key, environment string) string {
	return namespace + "\x1f" + key + "\x1f" + environment
}

// Read returns the given version, or the latest when version is
// LatestVersion.
func (s *MemoryStore) Read(ctx context.Context, namespace, key, environment string, version int64) (*ConfigVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.entries[entryKey(namespace, key, environment)]
	if len(history) == 0 {
		return nil, ErrNotFound
	}

	if version == LatestVersion {
		v := history[len(history)-1]
		return &v, nil
	}
	if version < 1 || version > int64(len(history)) {
		return nil, ErrNotFound
	}
	v := history[version-1]
	return &v, nil
}

// AppendVersion appends a new version under optimistic concurrency.
func (s *MemoryStore) AppendVersion(ctx context.Context, req AppendRequest) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := entryKey(req.Namespace, req.Key, req.Environment)
	current := int64(len(s.entries[k]))
	if req.ExpectedVersion != current {
		return 0, &ConflictError{
			Namespace:   req.Namespace,
			Key:         req.Key,
			Environment: req.Environment,
			Expected:    req.ExpectedVersion,
			Actual:      current,
		}
	}

	next := current + 1
	s.entries[k] = append(s.entries[k], ConfigVersion{
		Namespace:   req.Namespace,
		Key:         req.Key,
		Environment: req.Environment,
		Version:     next,
		Value:       req.Value,
		ChangeType:  req.ChangeType,
		Author:      req.Author,
		CreatedAt:   s.now().UTC(),
		RestoreOf:   req.RestoreOf,
		Description: req.Description,
		Tags:        append([]string(nil), req.Tags...),
	})
	return next, nil
}

// ListVersions returns the full history oldest first.
func (s *MemoryStore) ListVersions(ctx context.Context, namespace, key, environment string) ([]ConfigVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.entries[entryKey(namespace, key, environment)]
	out := make([]ConfigVersion, len(history))
	copy(out, history)
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
