package binning

import (
	"fmt"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chrissnell/radbin/internal/exposure"
	"github.com/chrissnell/radbin/internal/poisson"
)

// SummaryOptions configures Summarize.
type SummaryOptions struct {
	Source ExposureSource
	// UseScaled sums dt_eq instead of wall dt for beam-sourced exposure.
	UseScaled bool
	Alpha     float64
	// Workers bounds the per-bin fan-out; 0 means GOMAXPROCS.
	Workers int
}

func (o SummaryOptions) validate() error {
	if _, err := ParseSource(string(o.Source)); err != nil {
		return err
	}
	if err := poisson.ValidateAlpha(o.Alpha); err != nil {
		return fmt.Errorf("binning: %w", err)
	}
	if o.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative, got %d", ErrInvalidOption, o.Workers)
	}
	return nil
}

// timebase holds prefix sums over the exposure samples for O(log n) interval
// queries.
type timebase struct {
	times  []time.Time
	cumDT  []float64
	cumEq  []float64
	scaled bool
}

func newTimebase(samples []exposure.EquivalentSample, scaled bool) *timebase {
	if len(samples) == 0 {
		return nil
	}
	s := make([]exposure.EquivalentSample, len(samples))
	copy(s, samples)
	sort.SliceStable(s, func(i, j int) bool { return s[i].Time.Before(s[j].Time) })

	tb := &timebase{
		times:  make([]time.Time, len(s)),
		cumDT:  make([]float64, len(s)+1),
		cumEq:  make([]float64, len(s)+1),
		scaled: scaled,
	}
	for i, es := range s {
		tb.times[i] = es.Time
		tb.cumDT[i+1] = tb.cumDT[i] + es.DT
		tb.cumEq[i+1] = tb.cumEq[i] + es.DTEq
	}
	return tb
}

// sum returns the exposure of samples with a <= t < b and whether any
// sample covered the interval.
func (tb *timebase) sum(a, b time.Time) (float64, bool) {
	lo := sort.Search(len(tb.times), func(i int) bool { return !tb.times[i].Before(a) })
	hi := sort.Search(len(tb.times), func(i int) bool { return !tb.times[i].Before(b) })
	if hi <= lo {
		return 0, false
	}
	if tb.scaled {
		return tb.cumEq[hi] - tb.cumEq[lo], true
	}
	return tb.cumDT[hi] - tb.cumDT[lo], true
}

// Summarize counts events and measures exposure in every bin of the
// partition defined by edges, after extending the edges to cover all events.
// Beam-sourced bins without any covering sample fall back to their wall width.
// Bins are independent and are computed concurrently.
func Summarize(events, edges []time.Time, samples []exposure.EquivalentSample, opts SummaryOptions) ([]Bin, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	et := events
	if !sort.SliceIsSorted(et, func(i, j int) bool { return et[i].Before(et[j]) }) {
		et = sortedCopy(events)
	}
	edges = ExtendEdges(edges, et)
	if len(edges) < 2 {
		return nil, nil
	}

	var tb *timebase
	if opts.Source == SourceBeam {
		tb = newTimebase(samples, opts.UseScaled)
	}

	bins := make([]Bin, len(edges)-1)
	workers := opts.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range bins {
		g.Go(func() error {
			a, b := edges[i], edges[i+1]
			lo := sort.Search(len(et), func(j int) bool { return !et[j].Before(a) })
			hi := sort.Search(len(et), func(j int) bool { return !et[j].Before(b) })

			t := b.Sub(a).Seconds()
			if tb != nil {
				if covered, ok := tb.sum(a, b); ok {
					t = covered
				}
			}
			bins[i] = newBin(a, b, int64(hi-lo), t, opts.Alpha)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bins, nil
}

// TotalEvents returns the sum of N over bins.
func TotalEvents(bins []Bin) int64 {
	var n int64
	for _, b := range bins {
		n += b.N
	}
	return n
}
