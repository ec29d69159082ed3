package exposure

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Sample is one beam-monitor reading. DT is the wall-clock gap to the previous
// sample in seconds and is derived from timestamps when the column is absent.
type Sample struct {
	Time   time.Time
	DT     sql.NullFloat64
	Flux   sql.NullFloat64
	BeamOn bool
}

// EquivalentSample is a Sample with its exposure increment resolved.
type EquivalentSample struct {
	Time   time.Time
	BeamOn bool
	Flux   sql.NullFloat64

	DT   float64 // wall seconds, invalid input counted as 0
	DTEq float64 // scaled seconds (ref_time) or fluence increment (fluence)
	TEq  float64 // running sum of DTEq

	// ScaleRatio is DTEq/DT, undefined where DT <= 0.
	ScaleRatio sql.NullFloat64
}

// Reference selects the aggregator used for the reference flux.
type Reference string

const (
	RefMedian Reference = "median"
	RefMean   Reference = "mean"
	RefMax    Reference = "max"
)

// FloorStrategy selects how the flux floor is derived.
type FloorStrategy string

const (
	FloorAdaptive FloorStrategy = "adaptive"
	FloorFixed    FloorStrategy = "fixed"
)

// Mode selects what an equivalent-exposure unit means.
type Mode string

const (
	// ModeRefTime expresses exposure as wall seconds at the reference flux.
	ModeRefTime Mode = "ref_time"
	// ModeFluence expresses exposure as accumulated fluence.
	ModeFluence Mode = "fluence"
)

// floorEpsilon is the smallest flux floor ever applied.
const floorEpsilon = 1e-12

var (
	ErrUnknownReference     = errors.New("exposure: unknown reference aggregator")
	ErrUnknownFloorStrategy = errors.New("exposure: unknown floor strategy")
	ErrUnknownMode          = errors.New("exposure: unknown mode")
	ErrInvalidOption        = errors.New("exposure: invalid option")
)

// Options configures Scale.
type Options struct {
	Ref            Reference
	Floor          FloorStrategy
	MinFrac        float64
	RMax           float64
	FreezeOff      bool
	StartAtFirstOn bool
	Mode           Mode
}

// DefaultOptions returns the settings used for fluence-normalized analysis.
func DefaultOptions() Options {
	return Options{
		Ref:            RefMedian,
		Floor:          FloorAdaptive,
		MinFrac:        0.05,
		RMax:           1e4,
		FreezeOff:      true,
		StartAtFirstOn: true,
		Mode:           ModeFluence,
	}
}

// Validate reports configuration errors.
func (o Options) Validate() error {
	switch o.Ref {
	case RefMedian, RefMean, RefMax:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownReference, o.Ref)
	}
	switch o.Floor {
	case FloorAdaptive, FloorFixed:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFloorStrategy, o.Floor)
	}
	switch o.Mode {
	case ModeRefTime, ModeFluence:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, o.Mode)
	}
	if o.MinFrac < 0 {
		return fmt.Errorf("%w: min_frac must be non-negative, got %v", ErrInvalidOption, o.MinFrac)
	}
	if !(o.RMax > 0) {
		return fmt.Errorf("%w: rmax must be positive, got %v", ErrInvalidOption, o.RMax)
	}
	return nil
}

// Result is the output of Scale.
type Result struct {
	Samples []EquivalentSample
	// PhiRef is undefined when no beam-on sample carries a valid flux.
	PhiRef sql.NullFloat64
	Floor  float64
	Mode   Mode
}

// Total returns the accumulated equivalent exposure.
func (r *Result) Total() float64 {
	if r == nil || len(r.Samples) == 0 {
		return 0
	}
	return r.Samples[len(r.Samples)-1].TEq
}

// Times returns the sample timestamps.
func (r *Result) Times() []time.Time {
	ts := make([]time.Time, len(r.Samples))
	for i, s := range r.Samples {
		ts[i] = s.Time
	}
	return ts
}

// ScaleRatios returns the defined scale ratios.
func (r *Result) ScaleRatios() []float64 {
	var out []float64
	for _, s := range r.Samples {
		if s.ScaleRatio.Valid {
			out = append(out, s.ScaleRatio.Float64)
		}
	}
	return out
}
