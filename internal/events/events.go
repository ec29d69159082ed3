// Package events turns a reset-prone cumulative failure counter into
// individual event instants and reset boundaries.
package events

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// CounterSample is one reading of the cumulative failure counter. Flags holds
// the auxiliary reset indicators (for example an LFSR toggle bit) in the order
// configured by the caller; NaN marks a missing value.
type CounterSample struct {
	Time  time.Time
	Count int64
	Flags []float64
}

var ErrInvalidOption = errors.New("events: invalid option")

// Extract expands positive counter increments into event instants. The first
// sample's increment is its own count. Decreases are resets and contribute no
// events; events lost across a reset are not inferred. Samples must be in time
// order. Simultaneous events share a timestamp.
func Extract(samples []CounterSample) []time.Time {
	var out []time.Time
	var prev int64
	for i, s := range samples {
		k := s.Count
		if i > 0 {
			k = s.Count - prev
		}
		prev = s.Count
		for ; k > 0; k-- {
			out = append(out, s.Time)
		}
	}
	return out
}

// ResetOptions configures DetectResets.
type ResetOptions struct {
	// MinGapSeconds collapses candidates closer than this to the earliest one.
	MinGapSeconds float64
	// ChatterRateHz sets the second, finer declustering threshold 1/ChatterRateHz.
	ChatterRateHz float64
}

// DefaultResetOptions returns the 30 s / 50 Hz defaults.
func DefaultResetOptions() ResetOptions {
	return ResetOptions{MinGapSeconds: 30, ChatterRateHz: 50}
}

// Validate reports configuration errors.
func (o ResetOptions) Validate() error {
	if o.MinGapSeconds < 0 || math.IsNaN(o.MinGapSeconds) {
		return fmt.Errorf("%w: min_gap_s must be non-negative, got %v", ErrInvalidOption, o.MinGapSeconds)
	}
	if !(o.ChatterRateHz > 0) {
		return fmt.Errorf("%w: chatter_rate_hz must be positive, got %v", ErrInvalidOption, o.ChatterRateHz)
	}
	return nil
}

// Candidates returns every sample time that looks like a reset: the counter
// drops, the counter reads exactly zero right after a positive value, or any
// auxiliary flag changes from its predecessor. Missing flag values carry the
// last seen value forward (0 before the first). The first sample is never a
// candidate, even when its flags are nonzero; reset-locked binning starts its
// first bin at the observation window start instead. The result is sorted and
// may contain duplicates.
func Candidates(samples []CounterSample) []time.Time {
	var cand []time.Time
	nflags := 0
	for _, s := range samples {
		if len(s.Flags) > nflags {
			nflags = len(s.Flags)
		}
	}
	last := make([]float64, nflags)

	for i, s := range samples {
		if i > 0 {
			p := samples[i-1].Count
			if s.Count < p || (s.Count == 0 && p > 0) {
				cand = append(cand, s.Time)
			}
		}
		for j := 0; j < nflags; j++ {
			v := last[j]
			if j < len(s.Flags) && !math.IsNaN(s.Flags[j]) {
				v = s.Flags[j]
			}
			if i > 0 && v != last[j] {
				cand = append(cand, s.Time)
			}
			last[j] = v
		}
	}
	sort.Slice(cand, func(a, b int) bool { return cand[a].Before(cand[b]) })
	return cand
}

// Cluster keeps a candidate only if it lies at least gap seconds after the
// last kept one. Input must be sorted.
func Cluster(cand []time.Time, gap float64) []time.Time {
	if len(cand) == 0 {
		return nil
	}
	kept := []time.Time{cand[0]}
	for _, ts := range cand[1:] {
		if ts.Sub(kept[len(kept)-1]).Seconds() >= gap {
			kept = append(kept, ts)
		}
	}
	return kept
}

// DetectResets returns sorted, unique reset boundaries. Candidates are first
// declustered at MinGapSeconds and then at 1/ChatterRateHz.
func DetectResets(samples []CounterSample, opts ResetOptions) ([]time.Time, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	cand := Candidates(samples)
	if len(cand) == 0 {
		return nil, nil
	}
	coarse := Cluster(cand, opts.MinGapSeconds)
	fine := Cluster(coarse, 1/opts.ChatterRateHz)
	return dedupe(fine), nil
}

func dedupe(ts []time.Time) []time.Time {
	out := ts[:0:0]
	for i, t := range ts {
		if i > 0 && t.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, t)
	}
	return out
}
