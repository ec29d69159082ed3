package binning

// MergeOptions holds the two optional merge thresholds. Zero disables a pass.
type MergeOptions struct {
	MinExposure float64
	MinEvents   int64
	Alpha       float64
}

// Merge applies the exposure pass and then the event-count pass.
func Merge(bins []Bin, opts MergeOptions) []Bin {
	if opts.MinExposure > 0 {
		bins = MergeByExposure(bins, opts.MinExposure, opts.Alpha)
	}
	if opts.MinEvents > 0 {
		bins = MergeByEvents(bins, opts.MinEvents, opts.Alpha)
	}
	return bins
}

// MergeByExposure merges bins left to right until each holds at least
// minT exposure.
func MergeByExposure(bins []Bin, minT, alpha float64) []Bin {
	return mergeUntil(bins, alpha, func(b Bin) bool { return b.T >= minT })
}

// MergeByEvents merges bins left to right until each holds at least minN
// events.
func MergeByEvents(bins []Bin, minN int64, alpha float64) []Bin {
	return mergeUntil(bins, alpha, func(b Bin) bool { return b.N >= minN })
}

// mergeUntil is a single greedy pass: an under-threshold accumulator absorbs
// the next bin; a trailing under-threshold accumulator is folded back into
// its predecessor once. Merged bins sum N and T and recompute the interval.
func mergeUntil(bins []Bin, alpha float64, satisfied func(Bin) bool) []Bin {
	if len(bins) == 0 {
		return bins
	}
	merged := make([]Bin, 0, len(bins))
	acc := bins[0]
	for _, b := range bins[1:] {
		if satisfied(acc) {
			merged = append(merged, acc)
			acc = b
			continue
		}
		acc = combine(acc, b, alpha)
	}
	if !satisfied(acc) && len(merged) > 0 {
		prev := merged[len(merged)-1]
		merged = merged[:len(merged)-1]
		acc = combine(prev, acc, alpha)
	}
	return append(merged, acc)
}

func combine(a, b Bin, alpha float64) Bin {
	return newBin(a.Start, b.End, a.N+b.N, a.T+b.T, alpha)
}
