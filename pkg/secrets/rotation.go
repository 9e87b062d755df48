package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RotationState is a state in the rotation lifecycle.
type RotationState string

const (
	// StateScheduled means the rotation is eligible to run
	// (now >= the policy's next_rotation).
	StateScheduled RotationState = "scheduled"

	// StateGenerating means a new secret value is being produced and
	// validated.
	StateGenerating RotationState = "generating"

	// StateDualValid means both the old and new secret versions are
	// valid for reads. Entered immediately after the new version is
	// durably stored; lasts for the configured grace period.
	StateDualValid RotationState = "dual_valid"

	// StateVerifying means the grace period has elapsed and dependent
	// service health signals are being checked.
	StateVerifying RotationState = "verifying"

	// StateRetiring means the old version is being marked inaccessible
	// for new reads and its cached copies invalidated.
	StateRetiring RotationState = "retiring"

	// StateRotated is the success terminal.
	StateRotated RotationState = "rotated"

	// StateRolledBack is the failure terminal, reached from Generating,
	// DualValid, or Verifying. The old secret remains the sole valid
	// version.
	StateRolledBack RotationState = "rolled_back"
)

// Terminal reports whether the state is a terminal state.
func (s RotationState) Terminal() bool {
	return s == StateRotated || s == StateRolledBack
}

// Rotation is the persisted record of one rotation attempt for a
// secret. It is saved after every transition so a crash mid-rotation
// resumes from the stored state.
type Rotation struct {
	// SecretID identifies the secret being rotated (namespace/key).
	SecretID string `json:"secret_id"`

	// State is the current state-machine state.
	State RotationState `json:"state"`

	// OldVersion is the version that was current when the rotation
	// started. Zero if the secret had no prior version.
	OldVersion int64 `json:"old_version"`

	// NewVersion is the version created in Generating. Zero until then.
	NewVersion int64 `json:"new_version"`

	// GracePeriod is how long both versions stay valid.
	GracePeriod time.Duration `json:"grace_period"`

	ScheduledAt time.Time `json:"scheduled_at"`
	DualValidAt time.Time `json:"dual_valid_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`

	// LastError records why a rotation rolled back.
	LastError string `json:"last_error,omitempty"`
}

// RotationPolicy schedules recurring rotations for a secret.
type RotationPolicy struct {
	SecretID     string        `json:"secret_id"`
	Interval     time.Duration `json:"interval"`
	GracePeriod  time.Duration `json:"grace_period"`
	LastRotation time.Time     `json:"last_rotation,omitzero"`
	NextRotation time.Time     `json:"next_rotation"`
}

// Due reports whether the policy is eligible to rotate at now.
func (p *RotationPolicy) Due(now time.Time) bool {
	return !p.NextRotation.After(now)
}

// Hooks are the external collaborators a rotation drives. All hooks
// receive the secret id so one hook set can serve every secret.
type Hooks struct {
	// Generate produces and validates a new secret value.
	Generate func(ctx context.Context, secretID string) ([]byte, error)

	// StoreNewVersion durably stores the new value as a new secret
	// version and returns its version number. After it returns, both
	// versions are valid for reads.
	StoreNewVersion func(ctx context.Context, secretID string, plaintext []byte) (int64, error)

	// CheckHealth consults dependent-service health signals. A non-nil
	// error fails verification and rolls the rotation back. Optional;
	// with no health signal wired, verification passes.
	CheckHealth func(ctx context.Context, secretID string) error

	// RetireOldVersion marks the old version inaccessible for new
	// reads and invalidates any cached copies.
	RetireOldVersion func(ctx context.Context, secretID string, oldVersion int64) error

	// ReactivateOldVersion restores the old version as the sole valid
	// version after a failed verification. Optional.
	ReactivateOldVersion func(ctx context.Context, secretID string, oldVersion int64) error

	// Alert is invoked when a rotation rolls back. Optional.
	Alert func(secretID string, cause error)

	// Transition is invoked after each persisted state change, for
	// observers such as metrics and the audit trail. Optional.
	Transition func(secretID string, state RotationState)
}

// ErrRotationInFlight is returned by Begin when a non-terminal
// rotation already exists for the secret.
var ErrRotationInFlight = errors.New("secrets: rotation already in flight")

// Rotator drives the rotation state machine. State is persisted to a
// RotationStore between steps; the in-memory inflight set only
// prevents two goroutines in the same process from stepping the same
// secret concurrently.
type Rotator struct {
	store RotationStore
	hooks Hooks

	mu       sync.Mutex
	inflight map[string]struct{}

	now    func() time.Time
	logger *slog.Logger
}

// NewRotator creates a rotator over the given persistence and hooks.
func NewRotator(store RotationStore, hooks Hooks) *Rotator {
	return &Rotator{
		store:    store,
		hooks:    hooks,
		inflight: make(map[string]struct{}),
		now:      time.Now,
		logger:   slog.Default().With("component", "secrets.rotator"),
	}
}

// Begin starts a rotation for secretID from oldVersion. It fails with
// ErrRotationInFlight if a previous rotation has not reached a
// terminal state.
func (r *Rotator) Begin(ctx context.Context, secretID string, oldVersion int64, grace time.Duration) (*Rotation, error) {
	existing, err := r.store.GetRotation(ctx, secretID)
	if err != nil && !errors.Is(err, ErrRotationNotFound) {
		return nil, err
	}
	if existing != nil && !existing.State.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrRotationInFlight, secretID, existing.State)
	}

	rot := &Rotation{
		SecretID:    secretID,
		State:       StateScheduled,
		OldVersion:  oldVersion,
		GracePeriod: grace,
		ScheduledAt: r.now(),
	}
	if err := r.store.SaveRotation(ctx, rot); err != nil {
		return nil, err
	}

	r.logger.Info("rotation scheduled", "secret_id", secretID, "old_version", oldVersion, "grace_period", grace)
	r.notify(rot)
	return rot, nil
}

// Step advances the rotation for secretID by at most one transition
// and persists the result. In DualValid it is a no-op until the grace
// period has elapsed. Stepping a terminal rotation is a no-op.
//
// Any hook failure in Generating, DualValid, or Verifying transitions
// the rotation to RolledBack and returns a RotationError.
func (r *Rotator) Step(ctx context.Context, secretID string) (*Rotation, error) {
	if !r.acquire(secretID) {
		return nil, fmt.Errorf("%w: %s", ErrRotationInFlight, secretID)
	}
	defer r.release(secretID)

	rot, err := r.store.GetRotation(ctx, secretID)
	if err != nil {
		return nil, err
	}
	if rot.State.Terminal() {
		return rot, nil
	}

	if err := ctx.Err(); err != nil {
		return rot, err
	}

	switch rot.State {
	case StateScheduled:
		rot.State = StateGenerating

	case StateGenerating:
		plaintext, err := r.hooks.Generate(ctx, secretID)
		if err != nil {
			return r.rollBack(ctx, rot, fmt.Errorf("generate: %w", err))
		}
		version, err := r.hooks.StoreNewVersion(ctx, secretID, plaintext)
		if err != nil {
			return r.rollBack(ctx, rot, fmt.Errorf("store new version: %w", err))
		}
		rot.NewVersion = version
		rot.State = StateDualValid
		rot.DualValidAt = r.now()
		r.logger.Info("rotation entered dual-valid window",
			"secret_id", secretID, "new_version", version, "grace_period", rot.GracePeriod)

	case StateDualValid:
		if r.now().Before(rot.DualValidAt.Add(rot.GracePeriod)) {
			return rot, nil // grace period still running
		}
		rot.State = StateVerifying

	case StateVerifying:
		if err := r.checkHealth(ctx, secretID); err != nil {
			if r.hooks.ReactivateOldVersion != nil {
				if rerr := r.hooks.ReactivateOldVersion(ctx, secretID, rot.OldVersion); rerr != nil {
					r.logger.Error("old version reactivation failed",
						"secret_id", secretID, "old_version", rot.OldVersion, "error", rerr)
				}
			}
			return r.rollBack(ctx, rot, fmt.Errorf("health check: %w", err))
		}
		rot.State = StateRetiring

	case StateRetiring:
		if err := r.hooks.RetireOldVersion(ctx, secretID, rot.OldVersion); err != nil {
			// Retiring must not abandon the new version: the rotation
			// stays in Retiring and is retried on the next step.
			return rot, &RotationError{SecretID: secretID, State: rot.State, Cause: err}
		}
		rot.State = StateRotated
		rot.CompletedAt = r.now()
		r.logger.Info("rotation complete", "secret_id", secretID, "new_version", rot.NewVersion)

	default:
		return rot, fmt.Errorf("secrets: unknown rotation state %q", rot.State)
	}

	if err := r.store.SaveRotation(ctx, rot); err != nil {
		return rot, err
	}
	r.notify(rot)
	return rot, nil
}

// Run steps the rotation until it reaches a terminal state or the
// context is cancelled, polling while the grace period elapses.
func (r *Rotator) Run(ctx context.Context, secretID string, poll time.Duration) (*Rotation, error) {
	if poll <= 0 {
		poll = time.Second
	}

	for {
		rot, err := r.Step(ctx, secretID)
		if err != nil {
			return rot, err
		}
		if rot.State.Terminal() {
			return rot, nil
		}

		// Only the dual-valid window waits on wall time.
		if rot.State == StateDualValid {
			select {
			case <-ctx.Done():
				return rot, ctx.Err()
			case <-time.After(poll):
			}
		}
	}
}

// rollBack transitions to the failure terminal and emits an alert. The
// old secret version remains the sole valid version.
func (r *Rotator) rollBack(ctx context.Context, rot *Rotation, cause error) (*Rotation, error) {
	rot.State = StateRolledBack
	rot.CompletedAt = r.now()
	rot.LastError = cause.Error()

	if err := r.store.SaveRotation(ctx, rot); err != nil {
		r.logger.Error("failed to persist rollback", "secret_id", rot.SecretID, "error", err)
	}

	r.logger.Error("rotation rolled back", "secret_id", rot.SecretID, "error", cause)
	if r.hooks.Alert != nil {
		r.hooks.Alert(rot.SecretID, cause)
	}
	r.notify(rot)
	return rot, &RotationError{SecretID: rot.SecretID, State: StateRolledBack, Cause: cause}
}

// checkHealth consults the health hook. No hook means no signal to
// fail on, so verification passes.
func (r *Rotator) checkHealth(ctx context.Context, secretID string) error {
	if r.hooks.CheckHealth == nil {
		return nil
	}
	return r.hooks.CheckHealth(ctx, secretID)
}

func (r *Rotator) notify(rot *Rotation) {
	if r.hooks.Transition != nil {
		r.hooks.Transition(rot.SecretID, rot.State)
	}
}

func (r *Rotator) acquire(secretID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[secretID]; busy {
		return false
	}
	r.inflight[secretID] = struct{}{}
	return true
}

func (r *Rotator) release(secretID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, secretID)
}
