package reusepool

import (
	"fmt"
	"math"
	"slices"

	"github.com/garethgeorge/goaccession/internal/monorange"
	"github.com/google/btree"
)

type Range = monorange.Range

type freeRangeBySize struct {
	size  int64
	start int64
}

// Pool holds reclaimed identifier ranges that may be leased again.
// It is not thread-safe.
type Pool struct {
	available int64

	// byStart tracks free ranges, ordered by start.
	byStart *btree.BTreeG[Range]
	// bySize tracks free ranges, ordered by size, then start.
	bySize *btree.BTreeG[freeRangeBySize]
}

func New() *Pool {
	return &Pool{
		byStart: btree.NewG(32, func(a, b Range) bool { return a.Start < b.Start }),
		bySize: btree.NewG(32, func(a, b freeRangeBySize) bool {
			if a.size != b.size {
				return a.size < b.size
			}
			return a.start < b.start
		}),
	}
}

func (p *Pool) addFreeRange(r Range) {
	p.byStart.ReplaceOrInsert(r)
	p.bySize.ReplaceOrInsert(freeRangeBySize{size: r.Size(), start: r.Start})
}

func (p *Pool) removeFreeRange(r Range) {
	p.byStart.Delete(r)
	p.bySize.Delete(freeRangeBySize{size: r.Size(), start: r.Start})
}

// overlapsFree reports whether any value of r is already in the pool.
func (p *Pool) overlapsFree(r Range) bool {
	var found bool
	p.byStart.DescendLessOrEqual(Range{Start: r.End}, func(item Range) bool {
		if item.End < r.Start {
			return false
		}
		found = item.Overlaps(r)
		return !found
	})
	return found
}

// Release adds ranges to the pool, merging with adjacent free ranges.
// Releasing a value that is already free is an error, since it would be
// handed out twice.
func (p *Pool) Release(ranges ...Range) error {
	for _, r := range ranges {
		if r.Start > r.End {
			return fmt.Errorf("release %v: %w", r, monorange.ErrInvalidRange)
		}
		if p.overlapsFree(r) {
			return fmt.Errorf("release %v: %w", r, ErrAlreadyFree)
		}
	}
	sorted := slices.SortedFunc(slices.Values(ranges), monorange.Compare)
	if !monorange.IsDisjointSorted(sorted) {
		return fmt.Errorf("release %v: ranges overlap each other: %w", ranges, ErrAlreadyFree)
	}

	for _, r := range sorted {
		p.insert(r)
	}
	return nil
}

// insert adds a range known not to overlap the pool.
func (p *Pool) insert(r Range) {
	merged := r

	// Merge with range before
	var before Range
	var foundBefore bool
	p.byStart.DescendLessOrEqual(Range{Start: r.Start}, func(item Range) bool {
		if item.Adjacent(r) {
			before = item
			foundBefore = true
		}
		return false
	})
	if foundBefore {
		p.removeFreeRange(before)
		merged.Start = before.Start
	}

	// Merge with range after
	if r.End < math.MaxInt64 {
		if after, ok := p.byStart.Get(Range{Start: r.End + 1}); ok {
			p.removeFreeRange(after)
			merged.End = after.End
		}
	}

	p.addFreeRange(merged)
	p.available += r.Size()
}

// Take removes up to n values from the pool. The smallest free range holding at
// least n values is used; if none is large enough the largest free range is
// returned whole.
func (p *Pool) Take(n int64) (Range, error) {
	if n <= 0 {
		return Range{}, ErrInvalidSize
	}

	var found freeRangeBySize
	var ok bool
	p.bySize.AscendGreaterOrEqual(freeRangeBySize{size: n, start: math.MinInt64}, func(item freeRangeBySize) bool {
		found = item
		ok = true
		return false
	})
	if !ok {
		found, ok = p.bySize.Max()
		if !ok {
			return Range{}, ErrEmpty
		}
	}

	free := Range{Start: found.start, End: found.start + found.size - 1}
	taken := free
	if found.size > n {
		taken.End = free.Start + n - 1
	}

	p.removeFreeRange(free)
	if taken.End < free.End {
		p.addFreeRange(Range{Start: taken.End + 1, End: free.End})
	}
	p.available -= taken.Size()
	return taken, nil
}

// Contains reports whether v is free in the pool.
func (p *Pool) Contains(v int64) bool {
	var found bool
	p.byStart.DescendLessOrEqual(Range{Start: v}, func(item Range) bool {
		found = item.Contains(v)
		return false
	})
	return found
}

// Available reports the number of free values in the pool.
func (p *Pool) Available() int64 {
	return p.available
}

// Len reports the number of disjoint free ranges.
func (p *Pool) Len() int {
	return p.byStart.Len()
}

// Ranges returns the free ranges in ascending order.
func (p *Pool) Ranges() []Range {
	out := make([]Range, 0, p.byStart.Len())
	p.byStart.Ascend(func(item Range) bool {
		out = append(out, item)
		return true
	})
	return out
}
