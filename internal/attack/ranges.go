package attack

import (
	"sort"

	"github.com/kamusis/cc-attack/internal/enum"
)

// takeRound removes up to budget candidates from the front of rs and returns
// them as round, leaving the rest.
func takeRound(rs []enum.Range, budget uint64) (round, rest []enum.Range) {
	for i, r := range rs {
		if budget == 0 {
			return round, append(rest, rs[i:]...)
		}
		if r.Len() == 0 {
			continue
		}
		if r.Len() <= budget {
			round = append(round, r)
			budget -= r.Len()
			continue
		}
		cut := r.Lo + budget
		round = append(round, enum.Range{Lo: r.Lo, Hi: cut})
		rest = append(rest, enum.Range{Lo: cut, Hi: r.Hi})
		return round, append(rest, rs[i+1:]...)
	}
	return round, rest
}

// splitRanges cuts rs into at most parts pieces of roughly equal candidate
// count, preserving order.
func splitRanges(rs []enum.Range, parts int) []enum.Range {
	total := countRanges(rs)
	if total == 0 || parts <= 0 {
		return nil
	}
	if uint64(parts) > total {
		parts = int(total)
	}
	target := (total + uint64(parts) - 1) / uint64(parts)
	var out []enum.Range
	for _, r := range rs {
		for lo := r.Lo; lo < r.Hi; {
			hi := lo + target
			if hi > r.Hi || hi < lo {
				hi = r.Hi
			}
			out = append(out, enum.Range{Lo: lo, Hi: hi})
			lo = hi
		}
	}
	return out
}

func countRanges(rs []enum.Range) uint64 {
	var n uint64
	for _, r := range rs {
		n += r.Len()
	}
	return n
}

// normalize sorts rs, drops empty ranges and merges adjacent or overlapping ones.
func normalize(rs []enum.Range) []enum.Range {
	var out []enum.Range
	for _, r := range rs {
		if r.Len() > 0 {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lo < out[j].Lo })
	merged := out[:0]
	for _, r := range out {
		if n := len(merged); n > 0 && r.Lo <= merged[n-1].Hi {
			if r.Hi > merged[n-1].Hi {
				merged[n-1].Hi = r.Hi
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// lowWater returns the smallest index not yet known to be processed.
func lowWater(total uint64, groups ...[]enum.Range) uint64 {
	low := total
	for _, rs := range groups {
		for _, r := range rs {
			if r.Len() > 0 && r.Lo < low {
				low = r.Lo
			}
		}
	}
	return low
}
