package counters

import (
	"fmt"
	"sort"
)

// splitDefinition expands d along boundaries strictly inside its
// (toTimeMs, fromTimeMs) window into a series of sub-counters whose
// windows partition the original, named with a "#<i>" suffix. A counter
// with an unbounded or pathological window (fromTimeMs <= toTimeMs)
// passes through unchanged, as does one with no boundary strictly
// inside its window.
func splitDefinition(d Definition, boundaries []int64) []Definition {
	if d.FromTimeMs == nil || d.ToTimeMs == nil {
		return []Definition{d}
	}
	from, to := *d.FromTimeMs, *d.ToTimeMs
	if from <= to {
		return []Definition{d}
	}

	var cuts []int64
	for _, b := range boundaries {
		if b > to && b < from {
			cuts = append(cuts, b)
		}
	}
	if len(cuts) == 0 {
		return []Definition{d}
	}
	sort.Slice(cuts, func(i, j int) bool { return cuts[i] < cuts[j] })

	bounds := make([]int64, 0, len(cuts)+2)
	bounds = append(bounds, to)
	bounds = append(bounds, cuts...)
	bounds = append(bounds, from)

	out := make([]Definition, 0, len(bounds)-1)
	for i := 0; i < len(bounds)-1; i++ {
		sub := d
		subTo := bounds[i]
		subFrom := bounds[i+1]
		sub.ToTimeMs = &subTo
		sub.FromTimeMs = &subFrom
		sub.Name = fmt.Sprintf("%s#%d", d.Name, i)
		out = append(out, sub)
	}
	return out
}

// splitCatalogue applies splitDefinition across every entry, in place of
// the catalogue order, preserving order between and within entries.
func splitCatalogue(defs []Definition, boundaries []int64) []Definition {
	if len(boundaries) == 0 {
		return defs
	}
	out := make([]Definition, 0, len(defs))
	for _, d := range defs {
		out = append(out, splitDefinition(d, boundaries)...)
	}
	return out
}
