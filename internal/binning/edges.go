// Package binning partitions an irradiation run into bins and summarizes
// the events and exposure that fall into each.
package binning

import (
	"fmt"
	"sort"
	"time"

	"github.com/chrissnell/radbin/internal/exposure"
)

// ResetLocked aligns edges to every KMultiple-th reset boundary, always
// keeping the first and last reset. Window bounds are added when they lie
// outside the resets, so a single reset splits the window in two.
type ResetLocked struct {
	Resets    []time.Time
	KMultiple int
	Window    Window
}

func (r ResetLocked) Edges() ([]time.Time, error) {
	if r.KMultiple <= 0 {
		return nil, fmt.Errorf("%w: k_multiple must be positive, got %d", ErrInvalidOption, r.KMultiple)
	}
	resets := sortedUnique(r.Resets)
	if len(resets) == 0 {
		return r.Window.Edges(), nil
	}

	edges := []time.Time{resets[0]}
	for i := r.KMultiple; i < len(resets); i += r.KMultiple {
		edges = append(edges, resets[i])
	}
	if last := resets[len(resets)-1]; !edges[len(edges)-1].Equal(last) {
		edges = append(edges, last)
	}

	if !r.Window.Start.IsZero() && r.Window.Start.Before(edges[0]) {
		edges = append([]time.Time{r.Window.Start}, edges...)
	}
	if !r.Window.End.IsZero() && r.Window.End.After(edges[len(edges)-1]) {
		edges = append(edges, r.Window.End)
	}
	return edges, nil
}

// EqualFluence splits the accumulated equivalent exposure into NBins
// equal segments and maps each boundary to the earliest sample whose t_eq
// reaches it. Samples must be in time order, as Scale returns them.
type EqualFluence struct {
	Samples []exposure.EquivalentSample
	NBins   int
}

func (f EqualFluence) Edges() ([]time.Time, error) {
	if f.NBins <= 0 {
		return nil, fmt.Errorf("%w: n_bins must be positive, got %d", ErrInvalidOption, f.NBins)
	}
	s := f.Samples
	switch len(s) {
	case 0:
		return nil, nil
	case 1:
		return []time.Time{s[0].Time}, nil
	}
	first, last := s[0].Time, s[len(s)-1].Time

	total := s[len(s)-1].TEq
	if !(total > 0) {
		return []time.Time{first, last}, nil
	}

	var edges []time.Time
	j := 0
	for i := 0; i <= f.NBins; i++ {
		q := total * float64(i) / float64(f.NBins)
		for j < len(s)-1 && s[j].TEq < q {
			j++
		}
		if len(edges) == 0 || !edges[len(edges)-1].Equal(s[j].Time) {
			edges = append(edges, s[j].Time)
		}
	}
	if len(edges) < 2 {
		return []time.Time{first, last}, nil
	}
	return edges, nil
}

// EqualCount cuts a new edge every TargetN events. The trailing partial
// group is absorbed into the last bin, which closes just after the last
// event.
type EqualCount struct {
	Events  []time.Time
	TargetN int
}

func (c EqualCount) Edges() ([]time.Time, error) {
	if c.TargetN <= 0 {
		return nil, fmt.Errorf("%w: target_N must be positive, got %d", ErrInvalidOption, c.TargetN)
	}
	et := sortedCopy(c.Events)
	n := len(et)
	if n == 0 {
		return nil, nil
	}
	groups := n / c.TargetN
	edges := []time.Time{et[0]}
	for g := 1; g < groups; g++ {
		e := et[g*c.TargetN]
		if e.After(edges[len(edges)-1]) {
			edges = append(edges, e)
		}
	}
	// Closing edge is exclusive, so step past the last event.
	return append(edges, et[n-1].Add(time.Nanosecond)), nil
}

// ExtendEdges sorts and deduplicates edges and widens the partition so every
// event falls inside it: the first edge moves back to the first event and the
// last edge forward to one nanosecond past the last event. Events must be
// sorted.
func ExtendEdges(edges, events []time.Time) []time.Time {
	out := sortedUnique(edges)
	if len(out) == 0 {
		return nil
	}
	if len(events) == 0 {
		return out
	}
	if first := events[0]; first.Before(out[0]) {
		out = append([]time.Time{first}, out...)
	}
	if end := events[len(events)-1].Add(time.Nanosecond); end.After(out[len(out)-1]) {
		out = append(out, end)
	}
	return out
}

func sortedCopy(ts []time.Time) []time.Time {
	out := make([]time.Time, len(ts))
	copy(out, ts)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func sortedUnique(ts []time.Time) []time.Time {
	s := sortedCopy(ts)
	out := s[:0]
	for _, t := range s {
		if t.IsZero() {
			continue
		}
		if len(out) > 0 && t.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, t)
	}
	return out
}
