package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ChangeType records why a version exists.
type ChangeType string

const (
	ChangeCreate  ChangeType = "create"
	ChangeUpdate  ChangeType = "update"
	ChangeDelete  ChangeType = "delete"
	ChangeRestore ChangeType = "restore"
)

// ConfigVersion is an immutable snapshot of one configuration entry at
// one point in its history. Version numbers per (namespace, key,
// environment) are strictly increasing and gapless, starting at 1.
type ConfigVersion struct {
	Namespace   string     `json:"namespace"`
	Key         string     `json:"key"`
	Environment string     `json:"environment"`
	Version     int64      `json:"version"`
	Value       Value      `json:"value"`
	ChangeType  ChangeType `json:"change_type"`
	Author      string     `json:"author"`
	CreatedAt   time.Time  `json:"created_at"`

	// RestoreOf is the version this one restores, 0 otherwise.
	RestoreOf int64 `json:"restore_of,omitempty"`

	// Description and Tags are free-form metadata supplied by the
	// writer; they travel with the version they were written on.
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Tombstone reports whether this version marks the entry deleted.
func (v *ConfigVersion) Tombstone() bool { return v.ChangeType == ChangeDelete }

// AppendRequest describes a version to append.
type AppendRequest struct {
	Namespace   string
	Key         string
	Environment string
	Value       Value
	ChangeType  ChangeType
	Author      string
	RestoreOf   int64
	Description string
	Tags        []string

	// ExpectedVersion is the version the writer believes is current
	// (0 for a first write). Appends lose with a ConflictError when
	// the entry has advanced past it.
	ExpectedVersion int64
}

// LatestVersion selects the newest version in Read.
const LatestVersion int64 = 0

// ErrNotFound is returned when no version exists for the entry.
var ErrNotFound = errors.New("store: entry not found")

// ConflictError is returned when an optimistic append loses to a
// concurrent writer.
type ConflictError struct {
	Namespace   string
	Key         string
	Environment string
	Expected    int64
	Actual      int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store: version conflict on %s/%s[%s]: expected %d, found %d",
		e.Namespace, e.Key, e.Environment, e.Expected, e.Actual)
}

// Store is the authoritative configuration store.
type Store interface {
	// Read returns the given version, or the latest when version is
	// LatestVersion. The latest version may be a tombstone; callers
	// decide how to treat it.
	Read(ctx context.Context, namespace, key, environment string, version int64) (*ConfigVersion, error)

	// AppendVersion appends a new version and returns its number.
	AppendVersion(ctx context.Context, req AppendRequest) (int64, error)

	// ListVersions returns the full history oldest first.
	ListVersions(ctx context.Context, namespace, key, environment string) ([]ConfigVersion, error)

	Close() error
}
