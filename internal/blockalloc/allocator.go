package blockalloc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/garethgeorge/goaccession/internal/checkpoint"
	"github.com/garethgeorge/goaccession/internal/counter"
	"github.com/garethgeorge/goaccession/internal/monorange"
	"github.com/garethgeorge/goaccession/internal/reusepool"
	"github.com/google/btree"
)

// Allocator leases blocks of identifiers, preferring reclaimed ranges from its
// reuse pool over fresh values from the counter. It is safe for concurrent use.
type Allocator struct {
	cfg     *Config
	counter counter.Counter

	mu   sync.Mutex
	pool *reusepool.Pool
	// open tracks leased blocks that have not been reclaimed, ordered by lease start.
	open *btree.BTreeG[*Block]
	// inflight maps pending values of reclaimed blocks to their block.
	inflight map[int64]*Block
	// current is the block Generate dispenses from.
	current *Block
}

func New(c counter.Counter, opts ...Option) (*Allocator, error) {
	cfg := applyOptions(defaultOptions(), opts...)
	if cfg.pool == nil {
		cfg.pool = reusepool.New()
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid allocator config: %w", err)
	}
	return &Allocator{
		cfg:     cfg,
		counter: c,
		pool:    cfg.pool,
		open: btree.NewG(32, func(a, b *Block) bool {
			return a.lease.Start < b.lease.Start
		}),
		inflight: make(map[int64]*Block),
	}, nil
}

// NewFromCheckpoint restores an allocator whose reuse pool and in-memory
// counter pick up where the checkpointed allocator left off.
func NewFromCheckpoint(state checkpoint.State, opts ...Option) (*Allocator, error) {
	if n := len(state.Free); n > 0 && state.Free[n-1].End >= state.HighWater {
		return nil, fmt.Errorf("free range %v reaches high water %d: %w", state.Free[n-1], state.HighWater, checkpoint.ErrCorrupt)
	}
	pool := reusepool.New()
	if err := pool.Release(state.Free...); err != nil {
		return nil, fmt.Errorf("restore reuse pool: %w", err)
	}
	opts = append(opts, WithPool(pool))
	return New(counter.NewMemory(state.HighWater), opts...)
}

// Lease reserves a new block, taking reclaimed values from the reuse pool first.
// A block taken from the pool may be smaller than the configured block size.
func (a *Allocator) Lease(ctx context.Context) (*Block, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.leaseLocked(ctx)
}

func (a *Allocator) leaseLocked(ctx context.Context) (*Block, error) {
	if a.pool.Available() > 0 {
		lease, err := a.pool.Take(a.cfg.blockSize)
		if err != nil {
			return nil, fmt.Errorf("take from reuse pool: %w", err)
		}
		a.cfg.logger.InfofCtx(ctx, "leased %v from reuse pool (%d values left in pool)", lease, a.pool.Available())
		return a.register(lease), nil
	}

	lease, err := a.counter.Advance(ctx, a.cfg.blockSize)
	if err != nil {
		a.cfg.logger.ErrorfCtx(ctx, "failed to advance lease counter: %v", err)
		return nil, fmt.Errorf("advance counter: %w", err)
	}
	a.cfg.logger.InfofCtx(ctx, "leased %v from counter", lease)
	return a.register(lease), nil
}

func (a *Allocator) register(lease monorange.Range) *Block {
	b := newBlock(lease)
	a.open.ReplaceOrInsert(b)
	return b
}

// Generate dispenses n values, leasing new blocks as needed. The values stay
// pending until passed to Commit or Abandon; reclaiming their block never
// returns a pending value to the reuse pool.
func (a *Allocator) Generate(ctx context.Context, n int) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	values := make([]int64, 0, n)
	for len(values) < n {
		if a.current == nil {
			b, err := a.leaseLocked(ctx)
			if err != nil {
				return values, err
			}
			a.current = b
		}
		v, err := a.current.nextPending()
		if errors.Is(err, ErrBlockExhausted) || errors.Is(err, ErrReclaimed) {
			a.current = nil
			continue
		} else if err != nil {
			return values, err
		}
		values = append(values, v)
	}
	return values, nil
}

// blockFor returns the block v was dispensed from: a reclaimed block still
// holding v as pending, or the open block whose lease contains v.
func (a *Allocator) blockFor(v int64) (*Block, bool) {
	if b, ok := a.inflight[v]; ok {
		return b, true
	}
	var found *Block
	a.open.DescendLessOrEqual(&Block{lease: monorange.Single(v)}, func(b *Block) bool {
		if b.lease.Contains(v) {
			found = b
		}
		return false
	})
	return found, found != nil
}

// openOverlapping returns an open block sharing values with r.
func (a *Allocator) openOverlapping(r monorange.Range) (*Block, bool) {
	var found *Block
	a.open.DescendLessOrEqual(&Block{lease: monorange.Single(r.End)}, func(b *Block) bool {
		if b.lease.End < r.Start {
			return false
		}
		if b.lease.Overlaps(r) {
			found = b
			return false
		}
		return true
	})
	return found, found != nil
}

// Commit records values dispensed by Generate or by any open block as permanently assigned.
func (a *Allocator) Commit(values ...int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	byBlock := make(map[*Block][]int64)
	for _, v := range values {
		b, ok := a.blockFor(v)
		if !ok {
			return fmt.Errorf("commit %d: %w", v, ErrNotIssued)
		}
		if !b.Issued(v) {
			return fmt.Errorf("commit %d in block %v: %w", v, b.lease, ErrNotIssued)
		}
		byBlock[b] = append(byBlock[b], v)
	}
	for b, vs := range byBlock {
		if err := b.Commit(vs...); err != nil {
			return err
		}
		for _, v := range vs {
			delete(a.inflight, v)
		}
	}
	return nil
}

// Abandon gives up pending values from Generate, e.g. after a failed save.
// Values of an open block return to the reuse pool when it is reclaimed;
// values of an already reclaimed block are released right away. Values that
// are not pending are left as they are.
func (a *Allocator) Abandon(ctx context.Context, values ...int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, v := range values {
		b, ok := a.blockFor(v)
		if !ok {
			return fmt.Errorf("abandon %d: %w", v, ErrNotIssued)
		}
		if len(b.abandon(v)) == 0 || !b.isReclaimed() {
			continue
		}
		delete(a.inflight, v)
		if err := a.release(ctx, b.lease, []monorange.Range{monorange.Single(v)}); err != nil {
			return err
		}
	}
	return nil
}

// Reclaim closes a block and returns its uncommitted values to the reuse pool.
// The returned ranges are the values made available again.
func (a *Allocator) Reclaim(ctx context.Context, b *Block) ([]monorange.Range, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reclaimLocked(ctx, b)
}

func (a *Allocator) reclaimLocked(ctx context.Context, b *Block) ([]monorange.Range, error) {
	if b.isReclaimed() {
		return nil, fmt.Errorf("block %v: %w", b.lease, ErrReclaimed)
	}
	if found, ok := a.open.Get(b); !ok || found != b {
		return nil, fmt.Errorf("block %v is not held by this allocator: %w", b.lease, ErrNotIssued)
	}
	leftover, pending, err := b.reclaim()
	if err != nil {
		return nil, err
	}
	a.open.Delete(b)
	for _, v := range pending {
		a.inflight[v] = b
	}
	if a.current == b {
		a.current = nil
	}
	if err := a.release(ctx, b.lease, leftover); err != nil {
		return nil, err
	}
	return leftover, nil
}

// ReclaimLease reconciles a lease whose block is gone, e.g. after a crash,
// given the values found committed in storage. The uncommitted remainder of
// the lease is returned to the reuse pool.
func (a *Allocator) ReclaimLease(ctx context.Context, lease monorange.Range, committed []int64) ([]monorange.Range, error) {
	if _, err := monorange.New(lease.Start, lease.End); err != nil {
		return nil, fmt.Errorf("reclaim lease: %w", err)
	}
	for _, v := range committed {
		if !lease.Contains(v) {
			return nil, fmt.Errorf("value %d, lease %v: %w", v, lease, ErrCommittedOutsideLease)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	next, err := a.counter.Peek(ctx)
	if err != nil && !errors.Is(err, counter.ErrExhausted) {
		return nil, fmt.Errorf("peek counter: %w", err)
	}
	if err == nil && lease.End >= next {
		return nil, fmt.Errorf("lease %v, next counter value %d: %w", lease, next, ErrLeaseNotIssued)
	}
	if b, ok := a.openOverlapping(lease); ok {
		return nil, fmt.Errorf("lease %v overlaps block %v: %w", lease, b.lease, ErrLeaseOpen)
	}
	for v, b := range a.inflight {
		if lease.Contains(v) {
			return nil, fmt.Errorf("lease %v holds pending value %d of block %v: %w", lease, v, b.lease, ErrLeaseOpen)
		}
	}

	leftover := monorange.SubtractAll(lease, monorange.Merge(committed))
	if err := a.release(ctx, lease, leftover); err != nil {
		return nil, err
	}
	return leftover, nil
}

// ReclaimAll reclaims every open block, e.g. on shutdown.
func (a *Allocator) ReclaimAll(ctx context.Context) ([]monorange.Range, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var blocks []*Block
	a.open.Ascend(func(b *Block) bool {
		blocks = append(blocks, b)
		return true
	})

	var all []monorange.Range
	for _, b := range blocks {
		leftover, err := a.reclaimLocked(ctx, b)
		if err != nil {
			return all, err
		}
		all = append(all, leftover...)
	}
	return all, nil
}

func (a *Allocator) release(ctx context.Context, lease monorange.Range, leftover []monorange.Range) error {
	if err := a.pool.Release(leftover...); err != nil {
		a.cfg.logger.ErrorfCtx(ctx, "failed to release %v of lease %v: %v", leftover, lease, err)
		return fmt.Errorf("release leftover of %v: %w", lease, err)
	}
	a.cfg.logger.InfofCtx(ctx, "reclaimed lease %v: %d of %d values returned to reuse pool",
		lease, monorange.TotalSize(leftover), lease.Size())
	return nil
}

// Available reports how many reclaimed values wait in the reuse pool.
func (a *Allocator) Available() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pool.Available()
}

// OpenBlocks reports the leases that have not been reclaimed.
func (a *Allocator) OpenBlocks() []monorange.Range {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]monorange.Range, 0, a.open.Len())
	a.open.Ascend(func(b *Block) bool {
		out = append(out, b.lease)
		return true
	})
	return out
}

// Checkpoint captures the reuse pool and the counter position. Values in open
// blocks are not included; reclaim them first to keep them reusable.
func (a *Allocator) Checkpoint(ctx context.Context) (checkpoint.State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next, err := a.counter.Peek(ctx)
	if err != nil {
		return checkpoint.State{}, fmt.Errorf("peek counter: %w", err)
	}
	return checkpoint.State{
		Version:   checkpoint.Version,
		HighWater: next,
		Free:      a.pool.Ranges(),
	}, nil
}
