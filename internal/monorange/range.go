package monorange

import "fmt"

// Range is a closed interval of integers, both bounds inclusive.
// A valid Range always holds at least one value.
type Range struct {
	// The start of the range (inclusive)
	Start int64
	// The end of the range (inclusive)
	End int64
}

// New returns the range [start, end], or an error matching ErrInvalidRange if start > end.
func New(start, end int64) (Range, error) {
	if start > end {
		return Range{}, &RangeError{Msg: ErrInvalidRange.Msg, Start: start, End: end}
	}
	return Range{Start: start, End: end}, nil
}

// MustNew is like New but panics on an invalid range.
func MustNew(start, end int64) Range {
	r, err := New(start, end)
	if err != nil {
		panic(err)
	}
	return r
}

// Single returns the range holding only v.
func Single(v int64) Range {
	return Range{Start: v, End: v}
}

func (r Range) Size() int64 {
	return r.End - r.Start + 1
}

func (r Range) Contains(v int64) bool {
	return r.Start <= v && v <= r.End
}

func (r Range) ContainsRange(other Range) bool {
	return r.Start <= other.Start && other.End <= r.End
}

// Less orders ranges by start, then by end.
func (r Range) Less(other Range) bool {
	if r.Start != other.Start {
		return r.Start < other.Start
	}
	return r.End < other.End
}

// Overlaps reports whether r and other share at least one value. Ranges that
// touch at a single boundary value overlap.
func (r Range) Overlaps(other Range) bool {
	return !(other.End < r.Start || other.Start > r.End)
}

// Adjacent reports whether the ranges are disjoint but leave no gap between them.
func (r Range) Adjacent(other Range) bool {
	return (r.End < other.Start && r.End+1 == other.Start) ||
		(other.End < r.Start && other.End+1 == r.Start)
}

func (r Range) Intersection(other Range) (Range, bool) {
	start := max(r.Start, other.Start)
	end := min(r.End, other.End)
	if start > end {
		return Range{}, false
	}
	return Range{Start: start, End: end}, true
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.Start, r.End)
}

// Overlapping is the function form of Range.Overlaps.
func Overlapping(a, b Range) bool {
	return a.Overlaps(b)
}

// TotalSize sums the sizes of ranges. Ranges are assumed to be disjoint.
func TotalSize(ranges []Range) int64 {
	var total int64
	for _, r := range ranges {
		total += r.Size()
	}
	return total
}

// IsDisjointSorted reports whether ranges are valid, ascending and share no values.
func IsDisjointSorted(ranges []Range) bool {
	for i, r := range ranges {
		if r.Start > r.End {
			return false
		}
		if i > 0 && ranges[i-1].End >= r.Start {
			return false
		}
	}
	return true
}

// Compare orders ranges like Less, for use with slices.SortFunc.
func Compare(a, b Range) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}
