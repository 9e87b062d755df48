// Package audit produces an append-only, tamper-evident record of
// every configuration read and mutation.
//
// Records form a hash chain: each record's SHA-256 hash covers its
// canonical fields plus the hash of the immediately preceding record.
// Appends are serialized by a single writer goroutine per chain, so
// record i+1 always references record i's hash. Periodically (every N
// records or a time interval, whichever comes first) the chain head is
// signed with an Ed25519 key and persisted as a checkpoint, allowing
// verification to start from the last sealed root instead of genesis.
//
// Append durability is two-tier: reads are audited fire-and-forget
// with background retry, while sensitive mutations use Append, which
// blocks until the record is durably stored and fails the triggering
// operation if it cannot be.
package audit
