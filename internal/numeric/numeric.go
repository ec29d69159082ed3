// Package numeric holds small order-statistic helpers shared by the exposure,
// gap and diagnostic code.
package numeric

import (
	"math"
	"sort"
)

// Percentile returns the p-th percentile (0..100) of x using linear
// interpolation between closest ranks: position (n-1)*p/100 in the sorted
// sample. gonum's stat.Quantile offers only the empirical and
// piecewise-linear (Hyndman-Fan type 4) estimators, which disagree with
// this definition on small samples. Returns NaN for an empty sample.
func Percentile(x []float64, p float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	s := make([]float64, len(x))
	copy(s, x)
	sort.Float64s(s)
	return PercentileSorted(s, p)
}

// PercentileSorted is Percentile for an already ascending sample.
func PercentileSorted(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return s[0]
	}
	p = math.Max(0, math.Min(100, p))
	pos := float64(n-1) * p / 100
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return s[lo]
	}
	frac := pos - float64(lo)
	return s[lo] + (s[hi]-s[lo])*frac
}

// Median is the 50th percentile.
func Median(x []float64) float64 {
	return Percentile(x, 50)
}

// Finite drops NaN and infinite values.
func Finite(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}
