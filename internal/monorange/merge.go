package monorange

import "slices"

// Merge reduces values to the minimal ascending list of disjoint ranges covering
// exactly those values. Runs of consecutive integers become a single range and
// duplicates collapse. Values are expected in ascending order; unsorted input is
// sorted on a private copy, the caller's slice is never modified.
func Merge(values []int64) []Range {
	if len(values) == 0 {
		return nil
	}
	if !slices.IsSorted(values) {
		values = slices.Clone(values)
		slices.Sort(values)
	}

	var ranges []Range
	cur := Single(values[0])
	for _, v := range values[1:] {
		switch {
		case v == cur.End:
			// duplicate
		case v == cur.End+1:
			cur.End = v
		default:
			ranges = append(ranges, cur)
			cur = Single(v)
		}
	}
	return append(ranges, cur)
}
