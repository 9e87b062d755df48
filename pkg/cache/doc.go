// Package cache implements the multi-tier read cache in front of the
// authoritative configuration store.
//
// Three tiers are composed by the Manager:
//
//   - L1: in-process LRU map, fastest, smallest.
//   - L2: shared tier over a pluggable backend (anything offering
//     get/put/delete plus at-least-once invalidation fan-out). The
//     in-memory Bus backend serves tests and single-host deployments.
//   - L3: local-persistent SQLite tier that survives restarts.
//
// Lookups go L1 -> L2 -> L3; a hit at tier n is back-filled into the
// faster tiers with each tier's own TTL so hot keys converge to L1.
// Invalidations are broadcast through the shared backend: the
// originating instance observes its own invalidation before the
// triggering write completes (read-your-writes), other instances see
// it within the propagation delay.
//
// Tier failures degrade transparently: a broken tier is skipped, and a
// fully unavailable cache degrades to direct fetch by the caller. A
// Get never fails because of cache trouble.
package cache
