package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
    chain TEXT NOT NULL,
    idx INTEGER NOT NULL,
    id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    actor TEXT NOT NULL,
    resource TEXT NOT NULL,
    action TEXT NOT NULL,
    result TEXT NOT NULL,
    timestamp_ns INTEGER NOT NULL,
    correlation_id TEXT,
    previous_hash TEXT NOT NULL,
    hash TEXT NOT NULL,
    PRIMARY KEY (chain, idx)
);

CREATE TABLE IF NOT EXISTS audit_checkpoints (
    chain TEXT NOT NULL,
    idx INTEGER NOT NULL,
    head_hash TEXT NOT NULL,
    signature BLOB NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (chain, idx)
);
`

// SQLiteConfig configures the SQLite audit storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds.
	BusyTimeout time.Duration
}

// SQLiteStorage implements Storage using SQLite with WAL journaling.
// Record indexes are assigned inside a transaction so they stay dense
// even under concurrent appends from multiple chains.
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStorage opens (creating if needed) an audit store at the
// configured path.
func NewSQLiteStorage(cfg SQLiteConfig) (*SQLiteStorage, error) {
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, NewStorageError("sqlite", "enable_wal", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", cfg.BusyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, NewStorageError("sqlite", "set_busy_timeout", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, NewStorageError("sqlite", "create_schema", err)
	}

	logger := slog.Default().With("component", "audit.storage.sqlite")
	logger.Info("audit storage initialized", "path", cfg.Path)

	return &SQLiteStorage{db: db, logger: logger}, nil
}

// Append stores a record at the next index of the chain.
func (s *SQLiteStorage) Append(ctx context.Context, chain string, rec *Record) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, NewStorageError("sqlite", "begin", err)
	}
	defer tx.Rollback()

	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(idx) + 1, 0) FROM audit_records WHERE chain = ?`, chain).Scan(&next)
	if err != nil {
		return 0, NewStorageError("sqlite", "next_index", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_records
			(chain, idx, id, event_type, actor, resource, action, result,
			 timestamp_ns, correlation_id, previous_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chain, next, rec.ID, string(rec.Type), rec.Actor, rec.Resource,
		rec.Action, rec.Result, rec.Timestamp.UTC().UnixNano(),
		rec.CorrelationID, rec.PreviousHash, rec.Hash)
	if err != nil {
		return 0, NewStorageError("sqlite", "append", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, NewStorageError("sqlite", "commit", err)
	}
	return next, nil
}

// Head returns the latest record of the chain.
func (s *SQLiteStorage) Head(ctx context.Context, chain string) (int64, *Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT idx, id, event_type, actor, resource, action, result,
		       timestamp_ns, correlation_id, previous_hash, hash
		FROM audit_records WHERE chain = ? ORDER BY idx DESC LIMIT 1`, chain)

	idx, rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, ErrRecordNotFound
	}
	if err != nil {
		return 0, nil, NewStorageError("sqlite", "head", err)
	}
	return idx, rec, nil
}

// Get returns the record at index.
func (s *SQLiteStorage) Get(ctx context.Context, chain string, index int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT idx, id, event_type, actor, resource, action, result,
		       timestamp_ns, correlation_id, previous_hash, hash
		FROM audit_records WHERE chain = ? AND idx = ?`, chain, index)

	_, rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, NewStorageError("sqlite", "get", err)
	}
	return rec, nil
}

// Scan iterates records from index from upward in order.
func (s *SQLiteStorage) Scan(ctx context.Context, chain string, from int64, fn func(int64, *Record) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, id, event_type, actor, resource, action, result,
		       timestamp_ns, correlation_id, previous_hash, hash
		FROM audit_records WHERE chain = ? AND idx >= ? ORDER BY idx ASC`, chain, from)
	if err != nil {
		return NewStorageError("sqlite", "scan", err)
	}
	defer rows.Close()

	for rows.Next() {
		idx, rec, err := scanRecord(rows)
		if err != nil {
			return NewStorageError("sqlite", "scan", err)
		}
		if err := fn(idx, rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SaveCheckpoint persists a sealed checkpoint.
func (s *SQLiteStorage) SaveCheckpoint(ctx context.Context, chain string, cp *Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO audit_checkpoints (chain, idx, head_hash, signature, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		chain, cp.Index, cp.HeadHash, cp.Signature, cp.CreatedAt.UTC())
	if err != nil {
		return NewStorageError("sqlite", "save_checkpoint", err)
	}
	return nil
}

// LatestCheckpoint returns the most recent checkpoint of the chain.
func (s *SQLiteStorage) LatestCheckpoint(ctx context.Context, chain string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT idx, head_hash, signature, created_at
		FROM audit_checkpoints WHERE chain = ? ORDER BY idx DESC LIMIT 1`, chain)

	var cp Checkpoint
	err := row.Scan(&cp.Index, &cp.HeadHash, &cp.Signature, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, NewStorageError("sqlite", "latest_checkpoint", err)
	}
	return &cp, nil
}

// Close closes the underlying database.
func (s *SQLiteStorage) Close() error { return s.db.Close() }

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row sqlScanner) (int64, *Record, error) {
	var (
		idx         int64
		rec         Record
		eventType   string
		timestampNs int64
		correlation sql.NullString
	)
	err := row.Scan(&idx, &rec.ID, &eventType, &rec.Actor, &rec.Resource,
		&rec.Action, &rec.Result, &timestampNs, &correlation,
		&rec.PreviousHash, &rec.Hash)
	if err != nil {
		return 0, nil, err
	}

	rec.Type = EventType(eventType)
	rec.Timestamp = time.Unix(0, timestampNs).UTC()
	if correlation.Valid {
		rec.CorrelationID = correlation.String
	}
	return idx, &rec, nil
}
