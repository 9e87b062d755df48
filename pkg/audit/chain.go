package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ChainConfig configures an audit chain.
type ChainConfig struct {
	// Name identifies the logical chain. Different chains (for
	// example, different namespace roots) append independently.
	Name string

	// CheckpointEvery seals a checkpoint after this many records.
	// Default: 100.
	CheckpointEvery int

	// CheckpointInterval seals a checkpoint after this much time even
	// if fewer than CheckpointEvery records arrived. Default: 1 hour.
	CheckpointInterval time.Duration

	// RetryBackoff is the initial backoff between append retries; it
	// doubles per attempt up to 10x. Default: 100 ms.
	RetryBackoff time.Duration

	// RetryWindow bounds how long a synchronous append retries before
	// being escalated as an AppendError. Default: 10 seconds.
	RetryWindow time.Duration

	// QueueSize is the async append buffer size. Default: 1024.
	QueueSize int

	// Subscriber optionally receives every appended record. Sends are
	// non-blocking; a slow subscriber misses records but never stalls
	// the chain.
	Subscriber chan<- *Record
}

func (c *ChainConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 100
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = time.Hour
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.RetryWindow <= 0 {
		c.RetryWindow = 10 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
}

type appendResult struct {
	hash string
	err  error
}

type appendRequest struct {
	rec *Record
	// done is nil for fire-and-forget appends.
	done chan appendResult
}

// Chain is a tamper-evident, hash-linked audit log with a single
// writer goroutine enforcing append order: record i+1 always
// references record i's hash.
type Chain struct {
	config  ChainConfig
	storage Storage
	signer  *Signer

	requests chan appendRequest
	done     chan struct{}
	wg       sync.WaitGroup
	closing  sync.Once

	logger *slog.Logger
}

// NewChain opens a chain over the given storage, resuming from the
// stored head if the chain already has records.
func NewChain(storage Storage, signer *Signer, config ChainConfig) (*Chain, error) {
	config.applyDefaults()

	c := &Chain{
		config:   config,
		storage:  storage,
		signer:   signer,
		requests: make(chan appendRequest, config.QueueSize),
		done:     make(chan struct{}),
		logger:   slog.Default().With("component", "audit.chain", "chain", config.Name),
	}

	// Resume the head hash so the chain links across restarts.
	headHash := ""
	headIndex := int64(-1)
	idx, head, err := storage.Head(context.Background(), config.Name)
	switch {
	case err == nil:
		headHash = head.Hash
		headIndex = idx
	case err == ErrRecordNotFound:
		// empty chain
	default:
		return nil, fmt.Errorf("audit: load chain head: %w", err)
	}

	c.wg.Add(1)
	go c.writer(headHash, headIndex)

	c.logger.Info("audit chain opened", "head_index", headIndex,
		"checkpoint_every", config.CheckpointEvery)
	return c, nil
}

// Append durably stores the record and returns its hash. It blocks
// until the record is written or the retry window elapses, in which
// case it returns an AppendError: callers performing sensitive
// mutations must fail their operation rather than proceed unaudited.
func (c *Chain) Append(ctx context.Context, rec *Record) (string, error) {
	req := appendRequest{rec: rec, done: make(chan appendResult, 1)}

	select {
	case c.requests <- req:
	case <-c.done:
		return "", ErrChainClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-req.done:
		return res.hash, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// AppendAsync enqueues the record without waiting for durability. The
// record is never dropped: if the queue is full the enqueue shifts to
// a background goroutine so the caller's read path is not stalled.
func (c *Chain) AppendAsync(rec *Record) {
	req := appendRequest{rec: rec}
	select {
	case c.requests <- req:
	case <-c.done:
	default:
		go func() {
			select {
			case c.requests <- req:
			case <-c.done:
			}
		}()
	}
}

// Close stops the writer after draining queued records.
func (c *Chain) Close() error {
	c.closing.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
	return nil
}

// writer is the single goroutine that assigns hashes and persists
// records in order.
func (c *Chain) writer(headHash string, headIndex int64) {
	defer c.wg.Done()

	sinceCheckpoint := 0
	lastCheckpoint := time.Now()
	ticker := time.NewTicker(c.config.CheckpointInterval)
	defer ticker.Stop()

	handle := func(req appendRequest) {
		hash, index, err := c.persist(req)
		if err != nil {
			if req.done != nil {
				req.done <- appendResult{err: err}
			}
			return
		}

		headHash = hash
		headIndex = index
		sinceCheckpoint++

		if req.done != nil {
			req.done <- appendResult{hash: hash}
		}
		c.publish(req.rec)

		if sinceCheckpoint >= c.config.CheckpointEvery {
			c.seal(headIndex, headHash)
			sinceCheckpoint = 0
			lastCheckpoint = time.Now()
		}
	}

	for {
		select {
		case req := <-c.requests:
			req.rec.PreviousHash = headHash
			req.rec.Hash = req.rec.ComputeHash()
			handle(req)

		case <-ticker.C:
			if sinceCheckpoint > 0 && time.Since(lastCheckpoint) >= c.config.CheckpointInterval {
				c.seal(headIndex, headHash)
				sinceCheckpoint = 0
				lastCheckpoint = time.Now()
			}

		case <-c.done:
			// Drain whatever is already queued, then stop.
			for {
				select {
				case req := <-c.requests:
					req.rec.PreviousHash = headHash
					req.rec.Hash = req.rec.ComputeHash()
					handle(req)
				default:
					if sinceCheckpoint > 0 {
						c.seal(headIndex, headHash)
					}
					return
				}
			}
		}
	}
}

// persist writes one record, retrying with exponential backoff. Sync
// requests are bounded by RetryWindow and escalate to an AppendError;
// async requests retry until the chain closes, because audit coverage
// for reads must not be silently lost.
func (c *Chain) persist(req appendRequest) (string, int64, error) {
	backoff := c.config.RetryBackoff
	deadline := time.Now().Add(c.config.RetryWindow)

	for attempt := 1; ; attempt++ {
		index, err := c.storage.Append(context.Background(), c.config.Name, req.rec)
		if err == nil {
			return req.rec.Hash, index, nil
		}

		c.logger.Warn("audit append failed, retrying",
			"record_id", req.rec.ID, "attempt", attempt, "error", err)

		if req.done != nil && time.Now().After(deadline) {
			return "", 0, &AppendError{RecordID: req.rec.ID, Cause: err}
		}

		select {
		case <-time.After(backoff):
		case <-c.done:
			if req.done != nil {
				return "", 0, &AppendError{RecordID: req.rec.ID, Cause: ErrChainClosed}
			}
			c.logger.Error("audit record lost at shutdown", "record_id", req.rec.ID, "error", err)
			return "", 0, err
		}

		if backoff < 10*c.config.RetryBackoff {
			backoff *= 2
		}
	}
}

// publish forwards a record to the streaming subscriber, if any.
func (c *Chain) publish(rec *Record) {
	if c.config.Subscriber == nil {
		return
	}
	cp := *rec
	select {
	case c.config.Subscriber <- &cp:
	default:
	}
}

// seal signs the current head and persists it as a checkpoint.
func (c *Chain) seal(index int64, headHash string) {
	if index < 0 || c.signer == nil {
		return
	}

	cp := &Checkpoint{
		Index:     index,
		HeadHash:  headHash,
		CreatedAt: time.Now().UTC(),
	}
	c.signer.Sign(cp)

	if err := c.storage.SaveCheckpoint(context.Background(), c.config.Name, cp); err != nil {
		c.logger.Error("failed to persist checkpoint", "index", index, "error", err)
		return
	}
	c.logger.Debug("checkpoint sealed", "index", index)
}

// Export writes every record of the chain to w as JSON lines.
func (c *Chain) Export(ctx context.Context, w io.Writer) error {
	enc := json.NewEncoder(w)
	return c.storage.Scan(ctx, c.config.Name, 0, func(_ int64, rec *Record) error {
		return enc.Encode(rec)
	})
}
