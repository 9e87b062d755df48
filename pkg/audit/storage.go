package audit

import (
	"context"
	"errors"
	"sync"
)

// ErrRecordNotFound is returned when no record exists at an index.
var ErrRecordNotFound = errors.New("audit: record not found")

// ErrNoCheckpoint is returned when a chain has no sealed checkpoint.
var ErrNoCheckpoint = errors.New("audit: no checkpoint")

// Storage persists audit records and checkpoints for one or more
// chains. Records are keyed by (chain, index); indexes are dense and
// assigned by the storage in append order starting at zero.
type Storage interface {
	// Append durably stores a record at the next index of the chain
	// and returns that index.
	Append(ctx context.Context, chain string, rec *Record) (int64, error)

	// Head returns the highest index and its record, or
	// ErrRecordNotFound for an empty chain.
	Head(ctx context.Context, chain string) (int64, *Record, error)

	// Get returns the record at index, or ErrRecordNotFound.
	Get(ctx context.Context, chain string, index int64) (*Record, error)

	// Scan calls fn for every record from index from upward in order.
	// A non-nil error from fn stops the scan and is returned.
	Scan(ctx context.Context, chain string, from int64, fn func(index int64, rec *Record) error) error

	// SaveCheckpoint persists a sealed checkpoint.
	SaveCheckpoint(ctx context.Context, chain string, cp *Checkpoint) error

	// LatestCheckpoint returns the most recent checkpoint, or
	// ErrNoCheckpoint.
	LatestCheckpoint(ctx context.Context, chain string) (*Checkpoint, error)

	// Close releases backend resources.
	Close() error
}

// MemoryStorage is an in-memory Storage. All data is lost when the
// process exits; intended for tests and ephemeral tooling.
type MemoryStorage struct {
	mu          sync.RWMutex
	records     map[string][]*Record
	checkpoints map[string][]*Checkpoint
}

// NewMemoryStorage creates an empty in-memory audit storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records:     make(map[string][]*Record),
		checkpoints: make(map[string][]*Checkpoint),
	}
}

// Append stores a record at the next index of the chain.
func (s *MemoryStorage) Append(ctx context.Context, chain string, rec *Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[chain] = append(s.records[chain], &cp)
	return int64(len(s.records[chain]) - 1), nil
}

// Head returns the latest record of the chain.
func (s *MemoryStorage) Head(ctx context.Context, chain string) (int64, *Record, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[chain]
	if len(recs) == 0 {
		return 0, nil, ErrRecordNotFound
	}
	idx := int64(len(recs) - 1)
	cp := *recs[idx]
	return idx, &cp, nil
}

// Get returns the record at index.
func (s *MemoryStorage) Get(ctx context.Context, chain string, index int64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[chain]
	if index < 0 || index >= int64(len(recs)) {
		return nil, ErrRecordNotFound
	}
	cp := *recs[index]
	return &cp, nil
}

// Scan iterates records from index from upward.
func (s *MemoryStorage) Scan(ctx context.Context, chain string, from int64, fn func(int64, *Record) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	recs := make([]*Record, 0)
	for i := from; i < int64(len(s.records[chain])); i++ {
		cp := *s.records[chain][i]
		recs = append(recs, &cp)
	}
	s.mu.RUnlock()

	for i, rec := range recs {
		if err := fn(from+int64(i), rec); err != nil {
			return err
		}
	}
	return nil
}

// SaveCheckpoint persists a checkpoint.
func (s *MemoryStorage) SaveCheckpoint(ctx context.Context, chain string, cp *Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cp
	s.checkpoints[chain] = append(s.checkpoints[chain], &c)
	return nil
}

// LatestCheckpoint returns the most recent checkpoint of the chain.
func (s *MemoryStorage) LatestCheckpoint(ctx context.Context, chain string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cps := s.checkpoints[chain]
	if len(cps) == 0 {
		return nil, ErrNoCheckpoint
	}
	c := *cps[len(cps)-1]
	return &c, nil
}

// Close is a no-op for the memory storage.
func (s *MemoryStorage) Close() error { return nil }

// Tamper overwrites a stored record in place. It exists so integrity
// tests can corrupt the chain; production code never mutates records.
func (s *MemoryStorage) Tamper(chain string, index int64, mutate func(*Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[chain]
	if index >= 0 && index < int64(len(recs)) {
		mutate(recs[index])
	}
}
