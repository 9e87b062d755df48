package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeSecretBackend tracks stored versions and their validity the way
// the resolver wires rotation hooks in production.
type fakeSecretBackend struct {
	mu          sync.Mutex
	nextVersion int64
	valid       map[int64]bool
	healthErr   error
	generateErr error
	alerts      []string
}

func newFakeSecretBackend() *fakeSecretBackend {
	return &fakeSecretBackend{valid: map[int64]bool{1: true}, nextVersion: 1}
}

func (b *fakeSecretBackend) hooks() Hooks {
	return Hooks{
		Generate: func(ctx context.Context, secretID string) ([]byte, error) {
			if b.generateErr != nil {
				return nil, b.generateErr
			}
			return []byte("new-secret"), nil
		},
		StoreNewVersion: func(ctx context.Context, secretID string, plaintext []byte) (int64, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.nextVersion++
			b.valid[b.nextVersion] = true
			return b.nextVersion, nil
		},
		CheckHealth: func(ctx context.Context, secretID string) error {
			return b.healthErr
		},
		RetireOldVersion: func(ctx context.Context, secretID string, oldVersion int64) error {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.valid[oldVersion] = false
			return nil
		},
		ReactivateOldVersion: func(ctx context.Context, secretID string, oldVersion int64) error {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.valid[oldVersion] = true
			return nil
		},
		Alert: func(secretID string, cause error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.alerts = append(b.alerts, secretID)
		},
	}
}

func (b *fakeSecretBackend) isValid(version int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.valid[version]
}

func TestRotationHappyPath(t *testing.T) {
	ctx := context.Background()
	backend := newFakeSecretBackend()
	store := NewMemoryRotationStore()
	r := NewRotator(store, backend.hooks())

	if _, err := r.Begin(ctx, "app/db.password", 1, 10*time.Millisecond); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	rot, err := r.Run(ctx, "app/db.password", time.Millisecond)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rot.State != StateRotated {
		t.Fatalf("state = %s, want rotated", rot.State)
	}
	if rot.NewVersion != 2 {
		t.Errorf("new version = %d, want 2", rot.NewVersion)
	}
	if backend.isValid(1) {
		t.Error("old version still valid after retiring")
	}
	if !backend.isValid(2) {
		t.Error("new version not valid after rotation")
	}
}

func TestRotationDualValidWindow(t *testing.T) {
	ctx := context.Background()
	backend := newFakeSecretBackend()
	store := NewMemoryRotationStore()
	r := NewRotator(store, backend.hooks())

	if _, err := r.Begin(ctx, "s", 1, time.Hour); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	// Scheduled -> Generating -> DualValid.
	for i := 0; i < 2; i++ {
		if _, err := r.Step(ctx, "s"); err != nil {
			t.Fatalf("Step %d failed: %v", i, err)
		}
	}

	rot, _ := store.GetRotation(ctx, "s")
	if rot.State != StateDualValid {
		t.Fatalf("state = %s, want dual_valid", rot.State)
	}
	if !backend.isValid(1) || !backend.isValid(2) {
		t.Error("both versions must be valid during the grace period")
	}

	// Stepping inside the grace period must not advance the machine.
	rot, err := r.Step(ctx, "s")
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if rot.State != StateDualValid {
		t.Errorf("state advanced to %s before grace elapsed", rot.State)
	}
}

func TestRotationGenerateFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	backend := newFakeSecretBackend()
	backend.generateErr = fmt.Errorf("validation failed")
	store := NewMemoryRotationStore()
	r := NewRotator(store, backend.hooks())

	if _, err := r.Begin(ctx, "s", 1, time.Millisecond); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	rot, err := r.Run(ctx, "s", time.Millisecond)
	var re *RotationError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *RotationError", err)
	}
	if rot.State != StateRolledBack {
		t.Fatalf("state = %s, want rolled_back", rot.State)
	}
	if !backend.isValid(1) {
		t.Error("old version must remain valid after rollback")
	}
	if len(backend.alerts) != 1 {
		t.Errorf("alerts = %d, want 1", len(backend.alerts))
	}
}

func TestRotationHealthFailureReactivatesOld(t *testing.T) {
	ctx := context.Background()
	backend := newFakeSecretBackend()
	backend.healthErr = fmt.Errorf("dependents unhealthy")
	store := NewMemoryRotationStore()
	r := NewRotator(store, backend.hooks())

	if _, err := r.Begin(ctx, "s", 1, time.Millisecond); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	rot, err := r.Run(ctx, "s", time.Millisecond)
	if err == nil {
		t.Fatal("Run succeeded with failing health check")
	}
	if rot.State != StateRolledBack {
		t.Fatalf("state = %s, want rolled_back", rot.State)
	}
	if !backend.isValid(1) {
		t.Error("old version must be reactivated after failed verification")
	}
}

func TestRotationSingleInFlight(t *testing.T) {
	ctx := context.Background()
	backend := newFakeSecretBackend()
	store := NewMemoryRotationStore()
	r := NewRotator(store, backend.hooks())

	if _, err := r.Begin(ctx, "s", 1, time.Hour); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	_, err := r.Begin(ctx, "s", 1, time.Hour)
	if !errors.Is(err, ErrRotationInFlight) {
		t.Errorf("second Begin error = %v, want ErrRotationInFlight", err)
	}

	// A different secret is unaffected.
	if _, err := r.Begin(ctx, "other", 1, time.Hour); err != nil {
		t.Errorf("Begin for different secret failed: %v", err)
	}
}

func TestRotationResumesFromPersistedState(t *testing.T) {
	ctx := context.Background()
	backend := newFakeSecretBackend()
	store := NewMemoryRotationStore()

	r1 := NewRotator(store, backend.hooks())
	if _, err := r1.Begin(ctx, "s", 1, time.Millisecond); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := r1.Step(ctx, "s"); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
	}

	// Simulate a crash: a new rotator over the same store finishes the
	// rotation from the persisted DualValid state.
	time.Sleep(2 * time.Millisecond)
	r2 := NewRotator(store, backend.hooks())
	rot, err := r2.Run(ctx, "s", time.Millisecond)
	if err != nil {
		t.Fatalf("resumed Run failed: %v", err)
	}
	if rot.State != StateRotated {
		t.Fatalf("state = %s, want rotated", rot.State)
	}
}

func TestSQLiteRotationStorePersistence(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/rotations.db"

	s1, err := NewSQLiteRotationStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteRotationStore failed: %v", err)
	}

	rot := &Rotation{
		SecretID:    "app/db.password",
		State:       StateDualValid,
		OldVersion:  3,
		NewVersion:  4,
		GracePeriod: time.Minute,
		ScheduledAt: time.Now().UTC().Truncate(time.Second),
		DualValidAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s1.SaveRotation(ctx, rot); err != nil {
		t.Fatalf("SaveRotation failed: %v", err)
	}

	policy := &RotationPolicy{
		SecretID:     "app/db.password",
		Interval:     24 * time.Hour,
		GracePeriod:  time.Minute,
		NextRotation: time.Now().UTC().Add(-time.Hour).Truncate(time.Second),
	}
	if err := s1.SavePolicy(ctx, policy); err != nil {
		t.Fatalf("SavePolicy failed: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopen: state must survive the restart.
	s2, err := NewSQLiteRotationStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetRotation(ctx, "app/db.password")
	if err != nil {
		t.Fatalf("GetRotation failed: %v", err)
	}
	if got.State != StateDualValid || got.OldVersion != 3 || got.NewVersion != 4 {
		t.Errorf("restored rotation = %+v", got)
	}

	unfinished, err := s2.ListUnfinished(ctx)
	if err != nil {
		t.Fatalf("ListUnfinished failed: %v", err)
	}
	if len(unfinished) != 1 {
		t.Errorf("unfinished rotations = %d, want 1", len(unfinished))
	}

	due, err := s2.ListDuePolicies(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListDuePolicies failed: %v", err)
	}
	if len(due) != 1 {
		t.Errorf("due policies = %d, want 1", len(due))
	}

	if _, err := s2.GetRotation(ctx, "missing"); !errors.Is(err, ErrRotationNotFound) {
		t.Errorf("GetRotation(missing) error = %v, want ErrRotationNotFound", err)
	}
	if _, err := s2.GetPolicy(ctx, "missing"); !errors.Is(err, ErrPolicyNotFound) {
		t.Errorf("GetPolicy(missing) error = %v, want ErrPolicyNotFound", err)
	}
}

func TestRotationTransitionNotifications(t *testing.T) {
	ctx := context.Background()
	backend := newFakeSecretBackend()

	var mu sync.Mutex
	var states []RotationState
	hooks := backend.hooks()
	hooks.Transition = func(secretID string, state RotationState) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, state)
	}

	r := NewRotator(NewMemoryRotationStore(), hooks)
	if _, err := r.Begin(ctx, "app/db.password", 1, time.Millisecond); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := r.Run(ctx, "app/db.password", time.Millisecond); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []RotationState{
		StateScheduled, StateGenerating, StateDualValid,
		StateVerifying, StateRetiring, StateRotated,
	}
	if len(states) != len(want) {
		t.Fatalf("observed states %v, want %v", states, want)
	}
	for i, s := range want {
		if states[i] != s {
			t.Errorf("transition %d = %s, want %s", i, states[i], s)
		}
	}
}

func TestRotationWithoutHealthHookCompletes(t *testing.T) {
	ctx := context.Background()
	retired := make(map[int64]bool)

	// Only the required collaborators: no health signal and no
	// reactivation hook are wired.
	r := NewRotator(NewMemoryRotationStore(), Hooks{
		Generate: func(ctx context.Context, secretID string) ([]byte, error) {
			return []byte("new-secret"), nil
		},
		StoreNewVersion: func(ctx context.Context, secretID string, plaintext []byte) (int64, error) {
			return 2, nil
		},
		RetireOldVersion: func(ctx context.Context, secretID string, oldVersion int64) error {
			retired[oldVersion] = true
			return nil
		},
	})

	if _, err := r.Begin(ctx, "app/db.password", 1, time.Millisecond); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	rot, err := r.Run(ctx, "app/db.password", time.Millisecond)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rot.State != StateRotated {
		t.Fatalf("state = %s, want rotated", rot.State)
	}
	if !retired[1] {
		t.Error("old version was not retired")
	}
}

func TestRotationHealthFailureWithoutReactivateHook(t *testing.T) {
	ctx := context.Background()
	r := NewRotator(NewMemoryRotationStore(), Hooks{
		Generate: func(ctx context.Context, secretID string) ([]byte, error) {
			return []byte("new-secret"), nil
		},
		StoreNewVersion: func(ctx context.Context, secretID string, plaintext []byte) (int64, error) {
			return 2, nil
		},
		CheckHealth: func(ctx context.Context, secretID string) error {
			return errors.New("dependent service unhealthy")
		},
		RetireOldVersion: func(ctx context.Context, secretID string, oldVersion int64) error {
			return nil
		},
	})

	if _, err := r.Begin(ctx, "app/api.token", 1, time.Millisecond); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	rot, err := r.Run(ctx, "app/api.token", time.Millisecond)
	if err == nil {
		t.Fatal("Run succeeded, want rollback error")
	}
	if rot == nil || rot.State != StateRolledBack {
		t.Fatalf("rotation = %+v, want rolled_back", rot)
	}
}
