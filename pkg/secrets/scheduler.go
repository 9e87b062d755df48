package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// SchedulerConfig configures the rotation scheduler.
type SchedulerConfig struct {
	// Schedule is a cron expression controlling how often due
	// policies are scanned. Empty disables scheduled rotation.
	// Common values:
	//   - "* * * * *"   - every minute
	//   - "0 * * * *"   - hourly
	//   - "0 3 * * *"   - daily at 3 AM
	Schedule string

	// Poll is the interval Run uses while waiting out a grace period.
	// Default: 5 seconds.
	Poll time.Duration
}

// Scheduler scans rotation policies on a cron schedule and drives due
// rotations to completion. On Start it also resumes any rotation left
// non-terminal by a previous process.
type Scheduler struct {
	rotator *Rotator
	store   RotationStore
	config  SchedulerConfig
	cron    *cron.Cron

	mu      sync.Mutex
	running bool

	logger *slog.Logger
}

// NewScheduler creates a rotation scheduler.
func NewScheduler(rotator *Rotator, store RotationStore, config SchedulerConfig) *Scheduler {
	if config.Poll <= 0 {
		config.Poll = 5 * time.Second
	}
	return &Scheduler{
		rotator: rotator,
		store:   store,
		config:  config,
		cron:    cron.New(),
		logger:  slog.Default().With("component", "secrets.scheduler"),
	}
}

// Start resumes unfinished rotations and begins the scheduled scan.
// If no schedule is configured, only resumption happens.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resume(ctx)

	if s.config.Schedule == "" {
		s.logger.Info("rotation schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.config.Schedule); err != nil {
		return fmt.Errorf("invalid rotation schedule %q: %w", s.config.Schedule, err)
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		s.scan(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule rotation scan: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("rotation scheduler started", "schedule", s.config.Schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop halts the scheduled scans. In-flight rotations finish their
// current step.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info("rotation scheduler stopped")
}

// scan begins and runs every due rotation.
func (s *Scheduler) scan(ctx context.Context) {
	now := time.Now()
	due, err := s.store.ListDuePolicies(ctx, now)
	if err != nil {
		s.logger.Error("failed to list due rotation policies", "error", err)
		return
	}

	for _, policy := range due {
		policy := policy
		go func() {
			if err := s.rotate(ctx, policy); err != nil {
				s.logger.Error("scheduled rotation failed",
					"secret_id", policy.SecretID, "error", err)
			}
		}()
	}
}

// rotate runs one full rotation for the policy and reschedules it.
func (s *Scheduler) rotate(ctx context.Context, policy *RotationPolicy) error {
	rot, err := s.rotator.Begin(ctx, policy.SecretID, s.currentVersion(ctx, policy.SecretID), policy.GracePeriod)
	if err != nil {
		return err
	}

	rot, err = s.rotator.Run(ctx, policy.SecretID, s.config.Poll)
	if err != nil {
		return err
	}

	if rot.State == StateRotated {
		policy.LastRotation = rot.CompletedAt
		policy.NextRotation = rot.CompletedAt.Add(policy.Interval)
		if err := s.store.SavePolicy(ctx, policy); err != nil {
			return fmt.Errorf("reschedule policy %q: %w", policy.SecretID, err)
		}
	}
	return nil
}

// resume picks up rotations left non-terminal by a previous process.
func (s *Scheduler) resume(ctx context.Context) {
	unfinished, err := s.store.ListUnfinished(ctx)
	if err != nil {
		s.logger.Error("failed to list unfinished rotations", "error", err)
		return
	}

	for _, rot := range unfinished {
		rot := rot
		s.logger.Info("resuming rotation", "secret_id", rot.SecretID, "state", rot.State)
		go func() {
			if _, err := s.rotator.Run(ctx, rot.SecretID, s.config.Poll); err != nil {
				s.logger.Error("resumed rotation failed", "secret_id", rot.SecretID, "error", err)
			}
		}()
	}
}

// currentVersion looks up the last rotated version for a secret so the
// next rotation knows which version it supersedes.
func (s *Scheduler) currentVersion(ctx context.Context, secretID string) int64 {
	rot, err := s.store.GetRotation(ctx, secretID)
	if err != nil {
		return 0
	}
	if rot.State == StateRotated {
		return rot.NewVersion
	}
	return rot.OldVersion
}
