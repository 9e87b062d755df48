package secrets

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRotationNotFound is returned when no rotation record exists for a
// secret.
var ErrRotationNotFound = errors.New("secrets: rotation not found")

// ErrPolicyNotFound is returned when no rotation policy exists for a
// secret.
var ErrPolicyNotFound = errors.New("secrets: rotation policy not found")

// RotationStore persists rotation records and policies. Rotations are
// saved after every state transition so that a restart resumes the
// machine from durable state.
type RotationStore interface {
	// SaveRotation upserts the rotation record for its secret.
	SaveRotation(ctx context.Context, rot *Rotation) error

	// GetRotation returns the most recent rotation record for the
	// secret, or ErrRotationNotFound.
	GetRotation(ctx context.Context, secretID string) (*Rotation, error)

	// ListUnfinished returns all rotations not in a terminal state,
	// for resumption after a restart.
	ListUnfinished(ctx context.Context) ([]*Rotation, error)

	// SavePolicy upserts a rotation policy.
	SavePolicy(ctx context.Context, policy *RotationPolicy) error

	// GetPolicy returns the policy for a secret, or ErrPolicyNotFound.
	GetPolicy(ctx context.Context, secretID string) (*RotationPolicy, error)

	// ListDuePolicies returns all policies whose next rotation is at
	// or before now.
	ListDuePolicies(ctx context.Context, now time.Time) ([]*RotationPolicy, error)

	// Close releases backend resources.
	Close() error
}

// MemoryRotationStore is an in-memory RotationStore. All data is lost
// when the process exits; intended for tests and single-run tooling.
type MemoryRotationStore struct {
	mu        sync.RWMutex
	rotations map[string]*Rotation
	policies  map[string]*RotationPolicy
}

// NewMemoryRotationStore creates an empty in-memory rotation store.
func NewMemoryRotationStore() *MemoryRotationStore {
	return &MemoryRotationStore{
		rotations: make(map[string]*Rotation),
		policies:  make(map[string]*RotationPolicy),
	}
}

// SaveRotation upserts the rotation record for its secret.
func (s *MemoryRotationStore) SaveRotation(ctx context.Context, rot *Rotation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rot
	s.rotations[rot.SecretID] = &cp
	return nil
}

// GetRotation returns the rotation record for secretID.
func (s *MemoryRotationStore) GetRotation(ctx context.Context, secretID string) (*Rotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rot, ok := s.rotations[secretID]
	if !ok {
		return nil, ErrRotationNotFound
	}
	cp := *rot
	return &cp, nil
}

// ListUnfinished returns all non-terminal rotations.
func (s *MemoryRotationStore) ListUnfinished(ctx context.Context) ([]*Rotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Rotation
	for _, rot := range s.rotations {
		if !rot.State.Terminal() {
			cp := *rot
			out = append(out, &cp)
		}
	}
	return out, nil
}

// SavePolicy upserts a rotation policy.
func (s *MemoryRotationStore) SavePolicy(ctx context.Context, policy *RotationPolicy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *policy
	s.policies[policy.SecretID] = &cp
	return nil
}

// GetPolicy returns the policy for secretID.
func (s *MemoryRotationStore) GetPolicy(ctx context.Context, secretID string) (*RotationPolicy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies[secretID]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	cp := *policy
	return &cp, nil
}

// ListDuePolicies returns policies due at now.
func (s *MemoryRotationStore) ListDuePolicies(ctx context.Context, now time.Time) ([]*RotationPolicy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RotationPolicy
	for _, policy := range s.policies {
		if policy.Due(now) {
			cp := *policy
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryRotationStore) Close() error { return nil }
