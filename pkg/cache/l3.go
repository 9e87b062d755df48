package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const l3Schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    expires_at_ns INTEGER NOT NULL,
    last_access_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_last_access ON cache_entries(last_access_ns);
`

// L3Config configures the local-persistent tier.
type L3Config struct {
	// Path is the SQLite database file path.
	Path string

	// Capacity is the maximum entry count before least-recently
	// accessed entries are pruned. Default: 100000.
	Capacity int
}

// L3 is the local-persistent tier: a SQLite-backed store that
// survives process restarts, pruned in least-recently-accessed order
// once over capacity.
type L3 struct {
	db       *sql.DB
	capacity int
	logger   *slog.Logger
}

// NewL3 opens (creating if needed) the persistent tier.
func NewL3(cfg L3Config) (*L3, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100000
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("cache: open l3: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: enable wal: %w", err)
	}
	if _, err := db.Exec(l3Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create schema: %w", err)
	}

	logger := slog.Default().With("component", "cache.l3")
	logger.Info("persistent cache tier opened", "path", cfg.Path, "capacity", cfg.Capacity)

	return &L3{db: db, capacity: cfg.Capacity, logger: logger}, nil
}

// Name identifies the tier.
func (c *L3) Name() string { return "l3" }

// Get returns the cached value for key and bumps its access time.
func (c *L3) Get(ctx context.Context, key string) ([]byte, bool, error) {
	now := time.Now().UnixNano()

	var (
		value     []byte
		expiresAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT value, expires_at_ns FROM cache_entries WHERE key = ?`, key).
		Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: l3 get: %w", err)
	}

	if now > expiresAt {
		// Expired entries are removed lazily.
		_, _ = c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, false, nil
	}

	_, _ = c.db.ExecContext(ctx,
		`UPDATE cache_entries SET last_access_ns = ? WHERE key = ?`, now, key)
	return value, true, nil
}

// Put stores value under key for ttl and prunes if over capacity.
func (c *L3) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, expires_at_ns, last_access_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at_ns = excluded.expires_at_ns,
			last_access_ns = excluded.last_access_ns`,
		key, value, now.Add(ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("cache: l3 put: %w", err)
	}

	return c.prune(ctx)
}

// Invalidate removes key. Idempotent.
func (c *L3) Invalidate(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: l3 invalidate: %w", err)
	}
	return nil
}

// InvalidatePrefix removes every key with the given prefix.
func (c *L3) InvalidatePrefix(ctx context.Context, prefix string) error {
	// ESCAPE guards prefixes containing SQL wildcard characters.
	pattern := likeEscape(prefix) + "%"
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key LIKE ? ESCAPE '\'`, pattern); err != nil {
		return fmt.Errorf("cache: l3 invalidate prefix: %w", err)
	}
	return nil
}

// Len returns the current entry count.
func (c *L3) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache: l3 len: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (c *L3) Close() error { return c.db.Close() }

// prune deletes least-recently-accessed entries beyond capacity.
func (c *L3) prune(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE key IN (
			SELECT key FROM cache_entries
			ORDER BY last_access_ns DESC
			LIMIT -1 OFFSET ?
		)`, c.capacity)
	if err != nil {
		return fmt.Errorf("cache: l3 prune: %w", err)
	}
	return nil
}

func likeEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
