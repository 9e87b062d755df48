// Package store is the authoritative configuration store boundary.
//
// Configuration is append-only: every mutation of a (namespace, key,
// environment) entry creates a new ConfigVersion with a monotonically
// increasing, gapless version number. Deletes append a tombstone
// version and never destroy history. Concurrent writers are serialized
// by optimistic concurrency: an append names the version it expects to
// follow, and loses with a ConflictError if another writer got there
// first.
//
// Two backends are provided, a SQLite store for production and an
// in-memory store for tests.
package store
