package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS config_versions (
    namespace TEXT NOT NULL,
    key TEXT NOT NULL,
    environment TEXT NOT NULL,
    version INTEGER NOT NULL,
    value TEXT NOT NULL,
    change_type TEXT NOT NULL,
    author TEXT NOT NULL,
    created_at_ns INTEGER NOT NULL,
    restore_of INTEGER NOT NULL DEFAULT 0,
    description TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (namespace, key, environment, version)
);

CREATE INDEX IF NOT EXISTS idx_config_entry
    ON config_versions(namespace, key, environment);
`

// SQLiteStore is the SQLite-backed authoritative store. The primary
// key on (namespace, key, environment, version) plus a serialized
// append transaction keeps version sequences gapless under concurrent
// writers.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (creating if needed) the store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Immediate transactions take the write lock up front, so a losing
	// concurrent append blocks, re-reads the advanced version, and
	// reports a conflict instead of SQLITE_BUSY.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable wal: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	logger := slog.Default().With("component", "store.sqlite")
	logger.Info("configuration store opened", "path", path)

	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

// Read returns the given version, or the latest when version is
// LatestVersion.
func (s *SQLiteStore) Read(ctx context.Context, namespace, key, environment string, version int64) (*ConfigVersion, error) {
	query := `
		SELECT version, value, change_type, author, created_at_ns, restore_of, description, tags
		FROM config_versions
		WHERE namespace = ? AND key = ? AND environment = ?`
	args := []any{namespace, key, environment}

	if version == LatestVersion {
		query += ` ORDER BY version DESC LIMIT 1`
	} else {
		query += ` AND version = ?`
		args = append(args, version)
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	cv, err := scanVersion(row, namespace, key, environment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read: %w", err)
	}
	return cv, nil
}

// AppendVersion appends a new version under optimistic concurrency.
func (s *SQLiteStore) AppendVersion(ctx context.Context, req AppendRequest) (int64, error) {
	valueJSON, err := json.Marshal(req.Value)
	if err != nil {
		return 0, fmt.Errorf("store: encode value: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin append: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM config_versions
		WHERE namespace = ? AND key = ? AND environment = ?`,
		req.Namespace, req.Key, req.Environment).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("store: current version: %w", err)
	}

	if req.ExpectedVersion != current {
		return 0, &ConflictError{
			Namespace:   req.Namespace,
			Key:         req.Key,
			Environment: req.Environment,
			Expected:    req.ExpectedVersion,
			Actual:      current,
		}
	}

	tags := ""
	if len(req.Tags) > 0 {
		encoded, err := json.Marshal(req.Tags)
		if err != nil {
			return 0, fmt.Errorf("store: encode tags: %w", err)
		}
		tags = string(encoded)
	}

	next := current + 1
	_, err = tx.ExecContext(ctx, `
		INSERT INTO config_versions
			(namespace, key, environment, version, value, change_type, author, created_at_ns, restore_of, description, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.Namespace, req.Key, req.Environment, next,
		string(valueJSON), string(req.ChangeType), req.Author,
		s.now().UnixNano(), req.RestoreOf, req.Description, tags)
	if err != nil {
		return 0, fmt.Errorf("store: insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit append: %w", err)
	}
	return next, nil
}

// ListVersions returns the full history oldest first.
func (s *SQLiteStore) ListVersions(ctx context.Context, namespace, key, environment string) ([]ConfigVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, value, change_type, author, created_at_ns, restore_of, description, tags
		FROM config_versions
		WHERE namespace = ? AND key = ? AND environment = ?
		ORDER BY version ASC`,
		namespace, key, environment)
	if err != nil {
		return nil, fmt.Errorf("store: list versions: %w", err)
	}
	defer rows.Close()

	var out []ConfigVersion
	for rows.Next() {
		cv, err := scanVersion(rows, namespace, key, environment)
		if err != nil {
			return nil, fmt.Errorf("store: scan version: %w", err)
		}
		out = append(out, *cv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list versions: %w", err)
	}
	return out, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner, namespace, key, environment string) (*ConfigVersion, error) {
	var (
		cv          ConfigVersion
		valueJSON   string
		changeType  string
		createdAtNS int64
		tags        string
	)
	err := row.Scan(&cv.Version, &valueJSON, &changeType, &cv.Author, &createdAtNS, &cv.RestoreOf, &cv.Description, &tags)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(valueJSON), &cv.Value); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &cv.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}

	cv.Namespace = namespace
	cv.Key = key
	cv.Environment = environment
	cv.ChangeType = ChangeType(changeType)
	cv.CreatedAt = time.Unix(0, createdAtNS).UTC()
	return &cv, nil
}
