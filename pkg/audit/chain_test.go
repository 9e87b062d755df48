package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestChain(t *testing.T, storage Storage, cfg ChainConfig) *Chain {
	t.Helper()
	signer, err := NewSigner()
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	c, err := NewChain(storage, signer, cfg)
	if err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func appendN(t *testing.T, c *Chain, n int) []string {
	t.Helper()
	ctx := context.Background()
	hashes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		rec := NewRecord(EventConfigWrite, "alice", fmt.Sprintf("app/key%d@production", i), "write", "success", "")
		hash, err := c.Append(ctx, rec)
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		hashes = append(hashes, hash)
	}
	return hashes
}

func TestChainLinksRecords(t *testing.T) {
	storage := NewMemoryStorage()
	c := newTestChain(t, storage, ChainConfig{Name: "test"})

	hashes := appendN(t, c, 5)

	ctx := context.Background()
	for i := 1; i < 5; i++ {
		rec, err := storage.Get(ctx, "test", int64(i))
		if err != nil {
			t.Fatalf("Get %d failed: %v", i, err)
		}
		if rec.PreviousHash != hashes[i-1] {
			t.Errorf("record %d previous_hash = %q, want %q", i, rec.PreviousHash, hashes[i-1])
		}
	}

	genesis, _ := storage.Get(ctx, "test", 0)
	if genesis.PreviousHash != "" {
		t.Errorf("genesis previous_hash = %q, want empty", genesis.PreviousHash)
	}
}

func TestVerifyValidChain(t *testing.T) {
	c := newTestChain(t, NewMemoryStorage(), ChainConfig{Name: "test"})
	appendN(t, c, 20)

	res, err := c.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !res.Valid {
		t.Errorf("Verify reported corruption at %d on a clean chain", res.CorruptedAt)
	}
	if res.Checked != 20 {
		t.Errorf("checked = %d, want 20", res.Checked)
	}
}

func TestVerifyReportsMutatedIndex(t *testing.T) {
	storage := NewMemoryStorage()
	c := newTestChain(t, storage, ChainConfig{Name: "test"})
	appendN(t, c, 10)

	storage.Tamper("test", 4, func(rec *Record) {
		rec.Actor = "mallory"
	})

	res, err := c.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if res.Valid {
		t.Fatal("Verify reported valid on a tampered chain")
	}
	if res.CorruptedAt != 4 {
		t.Errorf("corrupted_at = %d, want 4", res.CorruptedAt)
	}
}

func TestVerifyDetectsSplicedRecord(t *testing.T) {
	storage := NewMemoryStorage()
	c := newTestChain(t, storage, ChainConfig{Name: "test"})
	appendN(t, c, 10)

	// Rewrite a record and recompute its own hash: the successor's
	// previous_hash no longer matches, so the break surfaces there.
	storage.Tamper("test", 6, func(rec *Record) {
		rec.Result = "denied"
		rec.Hash = rec.ComputeHash()
	})

	res, err := c.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if res.Valid {
		t.Fatal("Verify reported valid after record splice")
	}
	if res.CorruptedAt != 6 && res.CorruptedAt != 7 {
		t.Errorf("corrupted_at = %d, want 6 or 7", res.CorruptedAt)
	}
}

func TestCheckpointSealedEveryN(t *testing.T) {
	storage := NewMemoryStorage()
	c := newTestChain(t, storage, ChainConfig{Name: "test", CheckpointEvery: 5})
	appendN(t, c, 12)

	cp, err := storage.LatestCheckpoint(context.Background(), "test")
	if err != nil {
		t.Fatalf("LatestCheckpoint failed: %v", err)
	}
	if cp.Index != 9 {
		t.Errorf("checkpoint index = %d, want 9", cp.Index)
	}
	if !c.signer.VerifySignature(cp) {
		t.Error("checkpoint signature does not verify")
	}

	// Verification should resume from the sealed root.
	res, err := c.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !res.Valid {
		t.Errorf("Verify reported corruption at %d", res.CorruptedAt)
	}
	if res.FromCheckpoint != 9 {
		t.Errorf("from_checkpoint = %d, want 9", res.FromCheckpoint)
	}
}

func TestVerifyFallsBackOnForgedCheckpoint(t *testing.T) {
	storage := NewMemoryStorage()
	c := newTestChain(t, storage, ChainConfig{Name: "test", CheckpointEvery: 5})
	appendN(t, c, 7)

	// A forged checkpoint (bad signature) must not shadow earlier
	// corruption.
	storage.SaveCheckpoint(context.Background(), "test", &Checkpoint{
		Index:     6,
		HeadHash:  "forged",
		Signature: []byte("junk"),
		CreatedAt: time.Now(),
	})
	storage.Tamper("test", 2, func(rec *Record) { rec.Actor = "mallory" })

	res, err := c.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if res.Valid || res.CorruptedAt != 2 {
		t.Errorf("corrupted_at = %d (valid=%v), want 2", res.CorruptedAt, res.Valid)
	}
}

func TestChainResumesAcrossRestart(t *testing.T) {
	storage := NewMemoryStorage()
	signer, _ := NewSigner()

	c1, err := NewChain(storage, signer, ChainConfig{Name: "test"})
	if err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}
	ctx := context.Background()
	var lastHash string
	for i := 0; i < 3; i++ {
		rec := NewRecord(EventConfigWrite, "alice", "app/k@base", "write", "success", "")
		lastHash, err = c1.Append(ctx, rec)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	c1.Close()

	// A new chain over the same storage must link its first record to
	// the previous head.
	c2, err := NewChain(storage, signer, ChainConfig{Name: "test"})
	if err != nil {
		t.Fatalf("NewChain (restart) failed: %v", err)
	}
	defer c2.Close()

	rec := NewRecord(EventConfigWrite, "alice", "app/k@base", "write", "success", "")
	if _, err := c2.Append(ctx, rec); err != nil {
		t.Fatalf("Append after restart failed: %v", err)
	}

	stored, _ := storage.Get(ctx, "test", 3)
	if stored.PreviousHash != lastHash {
		t.Errorf("post-restart record previous_hash = %q, want %q", stored.PreviousHash, lastHash)
	}

	res, _ := c2.Verify(ctx)
	if !res.Valid {
		t.Errorf("Verify reported corruption at %d after restart", res.CorruptedAt)
	}
}

func TestAppendAsyncIsDurableEventually(t *testing.T) {
	storage := NewMemoryStorage()
	c := newTestChain(t, storage, ChainConfig{Name: "test"})

	for i := 0; i < 50; i++ {
		c.AppendAsync(NewRecord(EventConfigRead, "bob", "app/k@base", "resolve", "success", ""))
	}
	c.Close()

	idx, _, err := storage.Head(context.Background(), "test")
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if idx != 49 {
		t.Errorf("head index = %d, want 49", idx)
	}
}

// flakyStorage fails the first failures appends, then recovers.
type flakyStorage struct {
	*MemoryStorage
	mu       sync.Mutex
	failures int
}

func (f *flakyStorage) Append(ctx context.Context, chain string, rec *Record) (int64, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return 0, fmt.Errorf("storage unavailable")
	}
	f.mu.Unlock()
	return f.MemoryStorage.Append(ctx, chain, rec)
}

func TestAppendRetriesTransientFailure(t *testing.T) {
	storage := &flakyStorage{MemoryStorage: NewMemoryStorage(), failures: 2}
	c := newTestChain(t, storage, ChainConfig{
		Name:         "test",
		RetryBackoff: time.Millisecond,
		RetryWindow:  time.Second,
	})

	rec := NewRecord(EventConfigWrite, "alice", "app/k@base", "write", "success", "")
	if _, err := c.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append failed despite retries: %v", err)
	}
}

func TestAppendEscalatesAfterRetryWindow(t *testing.T) {
	storage := &flakyStorage{MemoryStorage: NewMemoryStorage(), failures: 1 << 30}
	c := newTestChain(t, storage, ChainConfig{
		Name:         "test",
		RetryBackoff: time.Millisecond,
		RetryWindow:  10 * time.Millisecond,
	})

	rec := NewRecord(EventConfigWrite, "alice", "app/k@base", "write", "success", "")
	_, err := c.Append(context.Background(), rec)

	var ae *AppendError
	if !errors.As(err, &ae) {
		t.Fatalf("error = %v, want *AppendError", err)
	}
}

func TestSubscriberReceivesRecords(t *testing.T) {
	sub := make(chan *Record, 10)
	c := newTestChain(t, NewMemoryStorage(), ChainConfig{Name: "test", Subscriber: sub})

	appendN(t, c, 3)

	received := 0
	timeout := time.After(time.Second)
	for received < 3 {
		select {
		case <-sub:
			received++
		case <-timeout:
			t.Fatalf("received %d records, want 3", received)
		}
	}
}

func TestExportJSONLines(t *testing.T) {
	c := newTestChain(t, NewMemoryStorage(), ChainConfig{Name: "test"})
	appendN(t, c, 4)

	var buf bytes.Buffer
	if err := c.Export(context.Background(), &buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	lines := 0
	scanner := bufio.NewScanner(strings.NewReader(buf.String()))
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("export line %d is not valid JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 4 {
		t.Errorf("exported %d lines, want 4", lines)
	}
}

func TestSQLiteStorageChain(t *testing.T) {
	path := t.TempDir() + "/audit.db"
	storage, err := NewSQLiteStorage(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	c := newTestChain(t, storage, ChainConfig{Name: "tenant-a", CheckpointEvery: 3})
	appendN(t, c, 7)

	res, err := c.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !res.Valid {
		t.Errorf("Verify reported corruption at %d", res.CorruptedAt)
	}
	if res.FromCheckpoint != 5 {
		t.Errorf("from_checkpoint = %d, want 5", res.FromCheckpoint)
	}

	// Chains are independent: a second chain in the same database
	// starts at index zero.
	c2 := newTestChain(t, storage, ChainConfig{Name: "tenant-b"})
	rec := NewRecord(EventConfigWrite, "carol", "other/k@base", "write", "success", "")
	if _, err := c2.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append to second chain failed: %v", err)
	}
	idx, _, err := storage.Head(context.Background(), "tenant-b")
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if idx != 0 {
		t.Errorf("tenant-b head index = %d, want 0", idx)
	}
}

func BenchmarkChainAppend(b *testing.B) {
	signer, err := NewSigner()
	if err != nil {
		b.Fatalf("NewSigner failed: %v", err)
	}
	chain, err := NewChain(NewMemoryStorage(), signer, ChainConfig{Name: "bench"})
	if err != nil {
		b.Fatalf("NewChain failed: %v", err)
	}
	defer chain.Close()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := NewRecord(EventConfigWrite, "bench", "app/web/timeout@production", "write", "success", "")
		if _, err := chain.Append(ctx, rec); err != nil {
			b.Fatalf("Append failed: %v", err)
		}
	}
}
