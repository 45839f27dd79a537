package usage

import (
	"math"
	"sort"
)

// Normalization rules mapping heterogeneous quota reports onto
// RateWindow. All outputs are clamped to [0,100]; a zero limit yields
// zero usage rather than a division error.

// Clamp bounds a percentage to [0,100] and rounds to two decimals so
// binary fractions reported by upstreams don't leak float dust.
func Clamp(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return math.Round(pct*100) / 100
}

// FromRemaining converts a "remaining" report to used percent.
// Values at or below 1 are treated as a 0-1 fraction, anything larger
// as a percentage.
func FromRemaining(remaining float64) float64 {
	if remaining < 0 {
		remaining = 0
	}
	if remaining <= 1 {
		remaining *= 100
	}
	return Clamp(100 - remaining)
}

// FromUsedLimit converts a used/limit pair to used percent.
func FromUsedLimit(used, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return Clamp(used / limit * 100)
}

// FromPercent passes a directly reported percentage through the clamp.
func FromPercent(pct float64) float64 {
	return Clamp(pct)
}

// SelectWindows picks up to three candidate windows and assigns them
// in priority order. Windows whose label matches one of the preferred
// categories rank first (in the order the categories are given); the
// rest rank by least remaining allowance. Raw Remaining counts win
// over percentages: a pool with 2 calls left is more urgent than one
// with 100 left even when the larger pool is a higher fraction used.
// Windows that carry no Remaining fall back to highest used percent.
func SelectWindows(candidates []RateWindow, preferred ...string) (primary, secondary, tertiary *RateWindow) {
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	rank := func(w RateWindow) int {
		for i, label := range preferred {
			if w.Label == label {
				return i
			}
		}
		return len(preferred)
	}

	sorted := make([]RateWindow, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := rank(sorted[i]), rank(sorted[j])
		if ri != rj {
			return ri < rj
		}
		a, b := sorted[i], sorted[j]
		if (a.Remaining > 0 || b.Remaining > 0) && a.Remaining != b.Remaining {
			return a.Remaining < b.Remaining
		}
		return a.UsedPercent > b.UsedPercent
	})

	out := make([]*RateWindow, 0, 3)
	for i := range sorted {
		if i == 3 {
			break
		}
		w := sorted[i]
		out = append(out, &w)
	}
	for len(out) < 3 {
		out = append(out, nil)
	}
	return out[0], out[1], out[2]
}
