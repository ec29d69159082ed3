// Package exposure converts beam-flux samples into a monotone equivalent
// exposure accumulator so that bins collected under different flux levels are
// comparable.
package exposure

import (
	"database/sql"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/chrissnell/radbin/internal/numeric"
)

// Scale computes dt, dt_eq, t_eq and scale_ratio for every sample. Samples are
// processed in time order; the input slice is left untouched.
func Scale(samples []Sample, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := make([]Sample, len(samples))
	copy(s, samples)
	sort.SliceStable(s, func(i, j int) bool { return s[i].Time.Before(s[j].Time) })

	n := len(s)
	res := &Result{Mode: opts.Mode, Samples: make([]EquivalentSample, n)}
	if n == 0 {
		res.Floor = math.Max(opts.MinFrac, floorEpsilon)
		return res, nil
	}

	dt := resolveDT(s)

	res.PhiRef = referenceFlux(s, opts.Ref)
	if opts.Floor == FloorAdaptive && res.PhiRef.Valid {
		res.Floor = math.Max(opts.MinFrac*res.PhiRef.Float64, floorEpsilon)
	} else {
		res.Floor = math.Max(opts.MinFrac, floorEpsilon)
	}

	firstOn := -1
	for i := range s {
		if s[i].BeamOn {
			firstOn = i
			break
		}
	}
	masked := func(i int) bool {
		if opts.FreezeOff && !s[i].BeamOn {
			return true
		}
		return opts.StartAtFirstOn && firstOn >= 0 && i < firstOn
	}

	dtEq := make([]float64, n)
	for i := range s {
		floored := math.Max(fluxOrZero(s[i].Flux), res.Floor)
		if masked(i) {
			continue
		}
		switch opts.Mode {
		case ModeRefTime:
			ratio := 1.0
			if res.PhiRef.Valid {
				if floored > 0 {
					ratio = res.PhiRef.Float64 / floored
				} else {
					ratio = opts.RMax
				}
			}
			ratio = math.Max(0, math.Min(ratio, opts.RMax))
			dtEq[i] = dt[i] * ratio
		case ModeFluence:
			dtEq[i] = dt[i] * floored
		}
	}

	tEq := make([]float64, n)
	floats.CumSum(tEq, dtEq)

	for i := range s {
		es := EquivalentSample{
			Time:   s[i].Time,
			BeamOn: s[i].BeamOn,
			Flux:   s[i].Flux,
			DT:     dt[i],
			DTEq:   dtEq[i],
			TEq:    tEq[i],
		}
		if dt[i] > 0 {
			es.ScaleRatio = sql.NullFloat64{Float64: dtEq[i] / dt[i], Valid: true}
		}
		res.Samples[i] = es
	}
	return res, nil
}

// resolveDT returns per-sample wall seconds. When no sample carries a usable
// dt the gaps are derived from consecutive timestamps; otherwise invalid
// entries count as zero.
func resolveDT(s []Sample) []float64 {
	dt := make([]float64, len(s))
	have := false
	for i := range s {
		if v, ok := finite(s[i].DT); ok {
			dt[i] = v
			have = true
		}
	}
	if have {
		return dt
	}
	for i := 1; i < len(s); i++ {
		dt[i] = s[i].Time.Sub(s[i-1].Time).Seconds()
	}
	return dt
}

func referenceFlux(s []Sample, ref Reference) sql.NullFloat64 {
	var on []float64
	for i := range s {
		if !s[i].BeamOn {
			continue
		}
		if v, ok := finite(s[i].Flux); ok {
			on = append(on, v)
		}
	}
	if len(on) == 0 {
		return sql.NullFloat64{}
	}
	var v float64
	switch ref {
	case RefMean:
		v = stat.Mean(on, nil)
	case RefMax:
		v = floats.Max(on)
	default:
		v = numeric.Median(on)
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fluxOrZero(f sql.NullFloat64) float64 {
	v, ok := finite(f)
	if !ok {
		return 0
	}
	return v
}

func finite(f sql.NullFloat64) (float64, bool) {
	if !f.Valid || math.IsNaN(f.Float64) || math.IsInf(f.Float64, 0) {
		return 0, false
	}
	return f.Float64, true
}
