// Package gaps measures the equivalent exposure elapsed between consecutive
// failures, clipped to bin boundaries.
package gaps

import (
	"database/sql"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/chrissnell/radbin/internal/exposure"
	"github.com/chrissnell/radbin/internal/numeric"
)

// Stats describes the inter-event exposure gaps inside one bin. With no
// gaps N and Sum are zero and the rest are undefined.
type Stats struct {
	N      int
	Sum    float64
	Mean   sql.NullFloat64
	Median sql.NullFloat64
	P10    sql.NullFloat64
	P90    sql.NullFloat64
	P99    sql.NullFloat64
	Min    sql.NullFloat64
	Max    sql.NullFloat64
}

// Interpolant is a piecewise-linear, non-decreasing map from time to
// cumulative equivalent exposure. It is flat outside the sampled range.
type Interpolant struct {
	origin time.Time
	x      []float64
	y      []float64
}

// NewInterpolant builds the exposure interpolant from scaled samples. A
// running maximum keeps it monotone.
func NewInterpolant(samples []exposure.EquivalentSample) *Interpolant {
	s := make([]exposure.EquivalentSample, len(samples))
	copy(s, samples)
	sort.SliceStable(s, func(i, j int) bool { return s[i].Time.Before(s[j].Time) })

	p := &Interpolant{x: make([]float64, len(s)), y: make([]float64, len(s))}
	if len(s) == 0 {
		return p
	}
	p.origin = s[0].Time
	run := s[0].TEq
	for i, es := range s {
		if es.TEq > run {
			run = es.TEq
		}
		p.x[i] = es.Time.Sub(p.origin).Seconds()
		p.y[i] = run
	}
	return p
}

// At returns the cumulative exposure at t.
func (p *Interpolant) At(t time.Time) float64 {
	n := len(p.x)
	if n == 0 {
		return 0
	}
	x := t.Sub(p.origin).Seconds()
	j := sort.Search(n, func(i int) bool { return p.x[i] > x })
	switch {
	case j == 0:
		return p.y[0]
	case j == n:
		return p.y[n-1]
	}
	x0, x1 := p.x[j-1], p.x[j]
	y0, y1 := p.y[j-1], p.y[j]
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

type segment struct{ start, end time.Time }

// Analyze computes gap statistics for every bin [edges[i], edges[i+1]).
// events must be sorted. A segment between two consecutive distinct event
// times that spans an edge contributes its clipped part to each side.
// Bins are computed concurrently, bounded by workers (0 means GOMAXPROCS).
func Analyze(events []time.Time, samples []exposure.EquivalentSample, edges []time.Time, workers int) ([]Stats, error) {
	if len(edges) < 2 {
		return nil, nil
	}
	phi := NewInterpolant(samples)

	var segs []segment
	for i := 0; i+1 < len(events); i++ {
		if events[i+1].After(events[i]) {
			segs = append(segs, segment{events[i], events[i+1]})
		}
	}

	out := make([]Stats, len(edges)-1)
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range out {
		g.Go(func() error {
			out[i] = binStats(phi, segs, edges[i], edges[i+1])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func binStats(phi *Interpolant, segs []segment, a, b time.Time) Stats {
	first := sort.Search(len(segs), func(i int) bool { return segs[i].end.After(a) })

	var g []float64
	for _, s := range segs[first:] {
		if !s.start.Before(b) {
			break
		}
		start, end := s.start, s.end
		if start.Before(a) {
			start = a
		}
		if end.After(b) {
			end = b
		}
		if !end.After(start) {
			continue
		}
		d := phi.At(end) - phi.At(start)
		if d < 0 {
			d = 0
		}
		g = append(g, d)
	}
	return Summarize(g)
}

// Summarize computes Stats over a set of gap values.
func Summarize(g []float64) Stats {
	if len(g) == 0 {
		return Stats{}
	}
	sorted := make([]float64, len(g))
	copy(sorted, g)
	sort.Float64s(sorted)

	valid := func(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }
	return Stats{
		N:      len(g),
		Sum:    floats.Sum(g),
		Mean:   valid(stat.Mean(g, nil)),
		Median: valid(numeric.PercentileSorted(sorted, 50)),
		P10:    valid(numeric.PercentileSorted(sorted, 10)),
		P90:    valid(numeric.PercentileSorted(sorted, 90)),
		P99:    valid(numeric.PercentileSorted(sorted, 99)),
		Min:    valid(sorted[0]),
		Max:    valid(sorted[len(sorted)-1]),
	}
}
