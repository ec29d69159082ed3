package binning

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chrissnell/radbin/internal/poisson"
)

// Mode identifies the edge strategy
type Mode string

const (
	// ModeFluence splits accumulated equivalent exposure into equal segments
	ModeFluence Mode = "fluence"

	// ModeReset aligns edges to every k-th counter reset
	ModeReset Mode = "reset"

	// ModeCount cuts a new bin every target_N events
	ModeCount Mode = "count"
)

// ExposureSource selects how a bin's exposure T is measured.
type ExposureSource string

const (
	SourceBeam ExposureSource = "beam"
	SourceWall ExposureSource = "wall"
)

var (
	ErrUnknownMode   = errors.New("binning: unknown bin mode")
	ErrUnknownSource = errors.New("binning: unknown exposure source")
	ErrInvalidOption = errors.New("binning: invalid option")
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeFluence, ModeReset, ModeCount:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// ParseSource converts a configuration string into an ExposureSource.
func ParseSource(s string) (ExposureSource, error) {
	switch src := ExposureSource(strings.ToLower(strings.TrimSpace(s))); src {
	case SourceBeam, SourceWall:
		return src, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSource, s)
}

// Window is the observation span of a run.
type Window struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the window has a positive width.
func (w Window) Valid() bool {
	return !w.Start.IsZero() && w.End.After(w.Start)
}

// Edges returns the window as a single-bin partition.
func (w Window) Edges() []time.Time {
	if !w.Valid() {
		return nil
	}
	return []time.Time{w.Start, w.End}
}

// Bin is one interval [Start, End) of a partition.
type Bin struct {
	Start time.Time
	End   time.Time
	N     int64
	T     float64

	// Rate, Lo and Hi are undefined when T <= 0.
	Rate sql.NullFloat64
	Lo   sql.NullFloat64
	Hi   sql.NullFloat64
}

// Mid returns the bin midpoint.
func (b Bin) Mid() time.Time {
	return b.Start.Add(b.End.Sub(b.Start) / 2)
}

// WidthSeconds returns End-Start in seconds.
func (b Bin) WidthSeconds() float64 {
	return b.End.Sub(b.Start).Seconds()
}

// Estimate returns the bin's rate and interval.
func (b Bin) Estimate() poisson.Estimate {
	return poisson.Estimate{Rate: b.Rate, Lo: b.Lo, Hi: b.Hi}
}

func newBin(a, b time.Time, n int64, t, alpha float64) Bin {
	e := poisson.Interval(n, t, alpha)
	return Bin{Start: a, End: b, N: n, T: t, Rate: e.Rate, Lo: e.Lo, Hi: e.Hi}
}

// EdgeBuilder defines the interface for the partitioning strategies.
// Every implementation returns ordered edges; N+1 edges define N bins.
// Implementations may return fewer than two edges when the input cannot
// support a partition.
type EdgeBuilder interface {
	Edges() ([]time.Time, error)
}
