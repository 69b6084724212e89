package blockalloc

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/garethgeorge/goaccession/internal/monorange"
)

// Block is a leased range of identifiers. Values are dispensed in ascending
// order; those committed by the caller are kept when the block is reclaimed,
// the rest go back to the reuse pool.
//
// Values handed out by Allocator.Generate are pending until committed or
// abandoned. Reclaiming the block keeps pending values out of the reuse pool,
// and they may still be committed afterwards.
type Block struct {
	mu        sync.Mutex
	lease     monorange.Range
	issued    int64
	committed []int64
	pending   map[int64]struct{}
	reclaimed bool
}

func newBlock(lease monorange.Range) *Block {
	return &Block{lease: lease, pending: make(map[int64]struct{})}
}

// Range returns the leased range.
func (b *Block) Range() monorange.Range {
	return b.lease
}

// Remaining reports how many values have not been dispensed yet.
func (b *Block) Remaining() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lease.Size() - b.issued
}

// Next dispenses the next value of the block.
func (b *Block) Next() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextLocked()
}

func (b *Block) nextLocked() (int64, error) {
	if b.reclaimed {
		return 0, fmt.Errorf("block %v: %w", b.lease, ErrReclaimed)
	}
	if b.issued >= b.lease.Size() {
		return 0, fmt.Errorf("block %v: %w", b.lease, ErrBlockExhausted)
	}
	v := b.lease.Start + b.issued
	b.issued++
	return v, nil
}

// nextPending dispenses the next value and holds it as pending.
func (b *Block) nextPending() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, err := b.nextLocked()
	if err != nil {
		return 0, err
	}
	b.pending[v] = struct{}{}
	return v, nil
}

// Commit records values as permanently assigned. Only values already
// dispensed by this block may be committed. Once the block is reclaimed only
// pending values can still be committed.
func (b *Block) Commit(values ...int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, v := range values {
		if !b.issuedLocked(v) {
			return fmt.Errorf("commit %d in block %v: %w", v, b.lease, ErrNotIssued)
		}
		if _, ok := b.pending[v]; b.reclaimed && !ok {
			return fmt.Errorf("commit %d in block %v: %w", v, b.lease, ErrReclaimed)
		}
	}
	for _, v := range values {
		delete(b.pending, v)
	}
	b.committed = append(b.committed, values...)
	return nil
}

// abandon drops values from the pending set and returns those that were pending.
func (b *Block) abandon(values ...int64) []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var dropped []int64
	for _, v := range values {
		if _, ok := b.pending[v]; ok {
			delete(b.pending, v)
			dropped = append(dropped, v)
		}
	}
	return dropped
}

// Issued reports whether v has been dispensed by this block.
func (b *Block) Issued(v int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issuedLocked(v)
}

func (b *Block) issuedLocked(v int64) bool {
	return b.lease.Contains(v) && v-b.lease.Start < b.issued
}

// Committed returns the committed values as disjoint ranges.
func (b *Block) Committed() []monorange.Range {
	b.mu.Lock()
	defer b.mu.Unlock()
	return monorange.Merge(b.committed)
}

// Pending returns the values dispensed by Generate that are neither committed
// nor abandoned, as disjoint ranges.
func (b *Block) Pending() []monorange.Range {
	b.mu.Lock()
	defer b.mu.Unlock()
	return monorange.Merge(slices.Sorted(maps.Keys(b.pending)))
}

func (b *Block) isReclaimed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reclaimed
}

// reclaim marks the block as reclaimed. It returns the values that are
// neither committed nor pending, and the values still pending.
func (b *Block) reclaim() (leftover []monorange.Range, pending []int64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reclaimed {
		return nil, nil, fmt.Errorf("block %v: %w", b.lease, ErrReclaimed)
	}
	b.reclaimed = true
	pending = slices.Sorted(maps.Keys(b.pending))
	held := append(slices.Clone(b.committed), pending...)
	return monorange.SubtractAll(b.lease, monorange.Merge(held)), pending, nil
}
