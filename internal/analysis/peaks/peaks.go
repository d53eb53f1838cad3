// Package peaks finds local maxima in a price series using the usual
// height / distance / prominence filter chain.
package peaks

import (
	"sort"
)

// Params 峰值检测参数。
type Params struct {
	Height     float64 // minimum absolute value of a peak
	Prominence float64 // minimum prominence
	Distance   int     // minimum index distance between retained peaks
}

// DefaultParams mirrors the production tuning: height 100, prominence 5, distance 40.
func DefaultParams() Params {
	return Params{Height: 100, Prominence: 5, Distance: 40}
}

// Detect returns the sorted indices of peaks in x. It always works on the
// whole series; prominence and distance compare across any boundary, so a
// caller extending x must re-run Detect over the full data.
func Detect(x []float64, p Params) []int {
	candidates := localMaxima(x)
	candidates = filterHeight(x, candidates, p.Height)
	if p.Distance > 1 {
		candidates = filterDistance(x, candidates, p.Distance)
	}
	if p.Prominence > 0 {
		candidates = filterProminence(x, candidates, p.Prominence)
	}
	if len(candidates) == 0 {
		return []int{}
	}
	return candidates
}

// localMaxima finds strict local maxima; a flat top yields its middle index
// (rounded down).
func localMaxima(x []float64) []int {
	var out []int
	n := len(x)
	i := 1
	for i < n-1 {
		if x[i-1] < x[i] {
			ahead := i + 1
			for ahead < n-1 && x[ahead] == x[i] {
				ahead++
			}
			if x[ahead] < x[i] {
				left := i
				right := ahead - 1
				out = append(out, (left+right)/2)
				i = ahead
				continue
			}
		}
		i++
	}
	return out
}

func filterHeight(x []float64, idx []int, minHeight float64) []int {
	out := idx[:0:0]
	for _, i := range idx {
		if x[i] >= minHeight {
			out = append(out, i)
		}
	}
	return out
}

// filterDistance keeps the tallest peaks first and drops any neighbour closer
// than distance. Ties keep the later index, matching the reference ordering.
func filterDistance(x []float64, idx []int, distance int) []int {
	if len(idx) < 2 {
		return idx
	}
	order := make([]int, len(idx))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return x[idx[order[a]]] < x[idx[order[b]]]
	})
	keep := make([]bool, len(idx))
	for i := range keep {
		keep[i] = true
	}
	for k := len(order) - 1; k >= 0; k-- {
		j := order[k]
		if !keep[j] {
			continue
		}
		for l := j - 1; l >= 0 && idx[j]-idx[l] < distance; l-- {
			keep[l] = false
		}
		for l := j + 1; l < len(idx) && idx[l]-idx[j] < distance; l++ {
			keep[l] = false
		}
	}
	out := make([]int, 0, len(idx))
	for i, ok := range keep {
		if ok {
			out = append(out, idx[i])
		}
	}
	return out
}

func filterProminence(x []float64, idx []int, minProminence float64) []int {
	out := make([]int, 0, len(idx))
	for _, i := range idx {
		if Prominence(x, i) >= minProminence {
			out = append(out, i)
		}
	}
	return out
}

// Prominence of the peak at i: its height above the higher of the two
// minima found walking outward until a strictly higher sample (or the edge).
func Prominence(x []float64, i int) float64 {
	if i < 0 || i >= len(x) {
		return 0
	}
	peak := x[i]
	leftMin := peak
	for l := i; l >= 0; l-- {
		if x[l] > peak {
			break
		}
		if x[l] < leftMin {
			leftMin = x[l]
		}
	}
	rightMin := peak
	for r := i; r < len(x); r++ {
		if x[r] > peak {
			break
		}
		if x[r] < rightMin {
			rightMin = x[r]
		}
	}
	base := leftMin
	if rightMin > base {
		base = rightMin
	}
	return peak - base
}

// NextAfter returns the smallest peak index strictly greater than i.
func NextAfter(sorted []int, i int) (int, bool) {
	k := sort.SearchInts(sorted, i+1)
	if k >= len(sorted) {
		return 0, false
	}
	return sorted[k], true
}

// LastBefore returns the largest peak index strictly less than i.
func LastBefore(sorted []int, i int) (int, bool) {
	k := sort.SearchInts(sorted, i)
	if k == 0 {
		return 0, false
	}
	return sorted[k-1], true
}
