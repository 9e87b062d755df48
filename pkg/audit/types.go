package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an audited event.
type EventType string

const (
	EventConfigRead     EventType = "config.read"
	EventConfigWrite    EventType = "config.write"
	EventConfigDelete   EventType = "config.delete"
	EventConfigRollback EventType = "config.rollback"
	EventSecretSeal     EventType = "secret.seal"
	EventSecretOpen     EventType = "secret.open"
	EventRotation       EventType = "rotation.transition"
	EventPolicyDenied   EventType = "policy.denied"
)

// Record is a single immutable audit entry. Hash and PreviousHash are
// assigned by the chain on append; callers fill the remaining fields.
type Record struct {
	// ID is a UUID v4 assigned at creation.
	ID string `json:"id"`

	// Type classifies the event.
	Type EventType `json:"type"`

	// Actor is who performed the action.
	Actor string `json:"actor"`

	// Resource is the acted-on resource (namespace/key@environment).
	Resource string `json:"resource"`

	// Action is the operation performed (resolve, write, rollback, ...).
	Action string `json:"action"`

	// Result is the outcome (success, not_found, denied,
	// decryption_failed, conflict, ...).
	Result string `json:"result"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID ties the record to the request that produced it.
	CorrelationID string `json:"correlation_id"`

	// PreviousHash is the hash of the immediately preceding record in
	// the chain; empty for the genesis record.
	PreviousHash string `json:"previous_hash"`

	// Hash is the SHA-256 over the record's canonical fields plus
	// PreviousHash, hex encoded.
	Hash string `json:"hash"`
}

// NewRecord creates a record with a fresh id and the current time.
func NewRecord(eventType EventType, actor, resource, action, result, correlationID string) *Record {
	return &Record{
		ID:            uuid.NewString(),
		Type:          eventType,
		Actor:         actor,
		Resource:      resource,
		Action:        action,
		Result:        result,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
}

// canonical returns the deterministic serialization the hash covers.
// Fields are newline separated in fixed order; timestamps use
// RFC 3339 with nanoseconds so re-serialization is stable.
func (r *Record) canonical() string {
	return strings.Join([]string{
		r.ID,
		string(r.Type),
		r.Actor,
		r.Resource,
		r.Action,
		r.Result,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.CorrelationID,
		r.PreviousHash,
	}, "\n")
}

// ComputeHash returns the hex-encoded SHA-256 over the record's
// canonical fields. PreviousHash must already be set.
func (r *Record) ComputeHash() string {
	sum := sha256.Sum256([]byte(r.canonical()))
	return hex.EncodeToString(sum[:])
}

// Checkpoint is a sealed root over a prefix of the chain: the head
// hash at Index signed with the chain's Ed25519 key.
type Checkpoint struct {
	// Index is the index of the last record the checkpoint covers.
	Index int64 `json:"index"`

	// HeadHash is the hash of the record at Index.
	HeadHash string `json:"head_hash"`

	// Signature is the Ed25519 signature over Index || HeadHash.
	Signature []byte `json:"signature"`

	// CreatedAt is when the checkpoint was sealed.
	CreatedAt time.Time `json:"created_at"`
}

// signingPayload is the byte string a checkpoint signature covers.
func (c *Checkpoint) signingPayload() []byte {
	return fmt.Appendf(nil, "%d\n%s", c.Index, c.HeadHash)
}
