package monorange

// Subtract returns the values of r not covered by cut, as zero, one or two
// ranges in ascending order.
func (r Range) Subtract(cut Range) []Range {
	start := max(r.Start, cut.Start)
	end := min(r.End, cut.End)
	if start > end {
		return []Range{r}
	}

	var out []Range
	if start > r.Start {
		out = append(out, Range{Start: r.Start, End: start - 1})
	}
	if end < r.End {
		out = append(out, Range{Start: end + 1, End: r.End})
	}
	return out
}

// SubtractAll returns the parts of base not covered by any of cuts, ascending
// and disjoint. Cuts may be unordered, overlap each other or extend past base.
// The result is the same for any ordering of cuts.
func SubtractAll(base Range, cuts []Range) []Range {
	surviving := []Range{base}
	for _, cut := range cuts {
		if len(surviving) == 0 {
			break
		}
		next := make([]Range, 0, len(surviving)+1)
		for _, piece := range surviving {
			if !piece.Overlaps(cut) {
				next = append(next, piece)
				continue
			}
			next = append(next, piece.Subtract(cut)...)
		}
		surviving = next
	}

	if len(surviving) == 0 {
		return nil
	}
	return surviving
}
