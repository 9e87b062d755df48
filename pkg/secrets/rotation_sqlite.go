package secrets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const rotationSchema = `
CREATE TABLE IF NOT EXISTS rotations (
    secret_id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    old_version INTEGER NOT NULL,
    new_version INTEGER NOT NULL,
    grace_period_ns INTEGER NOT NULL,
    scheduled_at TIMESTAMP NOT NULL,
    dual_valid_at TIMESTAMP,
    completed_at TIMESTAMP,
    last_error TEXT
);

CREATE TABLE IF NOT EXISTS rotation_policies (
    secret_id TEXT PRIMARY KEY,
    interval_ns INTEGER NOT NULL,
    grace_period_ns INTEGER NOT NULL,
    last_rotation TIMESTAMP,
    next_rotation TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rotations_state ON rotations(state);
CREATE INDEX IF NOT EXISTS idx_policies_next ON rotation_policies(next_rotation);
`

// SQLiteRotationStore persists rotation state in SQLite so that a
// crash mid-rotation resumes deterministically on restart.
type SQLiteRotationStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteRotationStore opens (creating if needed) a rotation store
// at the given database path.
func NewSQLiteRotationStore(path string) (*SQLiteRotationStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("secrets: open rotation store: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("secrets: enable wal: %w", err)
	}
	if _, err := db.Exec(rotationSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("secrets: create schema: %w", err)
	}

	logger := slog.Default().With("component", "secrets.rotation.sqlite")
	logger.Info("rotation store initialized", "path", path)

	return &SQLiteRotationStore{db: db, logger: logger}, nil
}

// SaveRotation upserts the rotation record for its secret.
func (s *SQLiteRotationStore) SaveRotation(ctx context.Context, rot *Rotation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rotations
			(secret_id, state, old_version, new_version, grace_period_ns,
			 scheduled_at, dual_valid_at, completed_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(secret_id) DO UPDATE SET
			state = excluded.state,
			old_version = excluded.old_version,
			new_version = excluded.new_version,
			grace_period_ns = excluded.grace_period_ns,
			scheduled_at = excluded.scheduled_at,
			dual_valid_at = excluded.dual_valid_at,
			completed_at = excluded.completed_at,
			last_error = excluded.last_error`,
		rot.SecretID, string(rot.State), rot.OldVersion, rot.NewVersion,
		int64(rot.GracePeriod), rot.ScheduledAt,
		nullTime(rot.DualValidAt), nullTime(rot.CompletedAt), rot.LastError)
	if err != nil {
		return fmt.Errorf("secrets: save rotation %q: %w", rot.SecretID, err)
	}
	return nil
}

// GetRotation returns the rotation record for secretID.
func (s *SQLiteRotationStore) GetRotation(ctx context.Context, secretID string) (*Rotation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT secret_id, state, old_version, new_version, grace_period_ns,
		       scheduled_at, dual_valid_at, completed_at, last_error
		FROM rotations WHERE secret_id = ?`, secretID)

	rot, err := scanRotation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRotationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: get rotation %q: %w", secretID, err)
	}
	return rot, nil
}

// ListUnfinished returns all non-terminal rotations.
func (s *SQLiteRotationStore) ListUnfinished(ctx context.Context) ([]*Rotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT secret_id, state, old_version, new_version, grace_period_ns,
		       scheduled_at, dual_valid_at, completed_at, last_error
		FROM rotations WHERE state NOT IN (?, ?)`,
		string(StateRotated), string(StateRolledBack))
	if err != nil {
		return nil, fmt.Errorf("secrets: list unfinished rotations: %w", err)
	}
	defer rows.Close()

	var out []*Rotation
	for rows.Next() {
		rot, err := scanRotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rot)
	}
	return out, rows.Err()
}

// SavePolicy upserts a rotation policy.
func (s *SQLiteRotationStore) SavePolicy(ctx context.Context, policy *RotationPolicy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rotation_policies
			(secret_id, interval_ns, grace_period_ns, last_rotation, next_rotation)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(secret_id) DO UPDATE SET
			interval_ns = excluded.interval_ns,
			grace_period_ns = excluded.grace_period_ns,
			last_rotation = excluded.last_rotation,
			next_rotation = excluded.next_rotation`,
		policy.SecretID, int64(policy.Interval), int64(policy.GracePeriod),
		nullTime(policy.LastRotation), policy.NextRotation)
	if err != nil {
		return fmt.Errorf("secrets: save policy %q: %w", policy.SecretID, err)
	}
	return nil
}

// GetPolicy returns the policy for secretID.
func (s *SQLiteRotationStore) GetPolicy(ctx context.Context, secretID string) (*RotationPolicy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT secret_id, interval_ns, grace_period_ns, last_rotation, next_rotation
		FROM rotation_policies WHERE secret_id = ?`, secretID)

	policy, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: get policy %q: %w", secretID, err)
	}
	return policy, nil
}

// ListDuePolicies returns policies due at now.
func (s *SQLiteRotationStore) ListDuePolicies(ctx context.Context, now time.Time) ([]*RotationPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT secret_id, interval_ns, grace_period_ns, last_rotation, next_rotation
		FROM rotation_policies WHERE next_rotation <= ?`, now)
	if err != nil {
		return nil, fmt.Errorf("secrets: list due policies: %w", err)
	}
	defer rows.Close()

	var out []*RotationPolicy
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, policy)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteRotationStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRotation(row rowScanner) (*Rotation, error) {
	var (
		rot         Rotation
		state       string
		graceNs     int64
		dualValidAt sql.NullTime
		completedAt sql.NullTime
		lastError   sql.NullString
	)
	err := row.Scan(&rot.SecretID, &state, &rot.OldVersion, &rot.NewVersion,
		&graceNs, &rot.ScheduledAt, &dualValidAt, &completedAt, &lastError)
	if err != nil {
		return nil, err
	}

	rot.State = RotationState(state)
	rot.GracePeriod = time.Duration(graceNs)
	if dualValidAt.Valid {
		rot.DualValidAt = dualValidAt.Time
	}
	if completedAt.Valid {
		rot.CompletedAt = completedAt.Time
	}
	if lastError.Valid {
		rot.LastError = lastError.String
	}
	return &rot, nil
}

func scanPolicy(row rowScanner) (*RotationPolicy, error) {
	var (
		policy       RotationPolicy
		intervalNs   int64
		graceNs      int64
		lastRotation sql.NullTime
	)
	err := row.Scan(&policy.SecretID, &intervalNs, &graceNs, &lastRotation, &policy.NextRotation)
	if err != nil {
		return nil, err
	}

	policy.Interval = time.Duration(intervalNs)
	policy.GracePeriod = time.Duration(graceNs)
	if lastRotation.Valid {
		policy.LastRotation = lastRotation.Time
	}
	return &policy, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
