package analysis

import (
	"database/sql"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/chrissnell/radbin/internal/binning"
	"github.com/chrissnell/radbin/internal/exposure"
	"github.com/chrissnell/radbin/internal/numeric"
)

// ScaleInspection summarizes the distribution of dt_eq/dt.
type ScaleInspection struct {
	Median sql.NullFloat64
	P99    sql.NullFloat64
	Max    sql.NullFloat64
	// ClipWarning is set when Max exceeds the configured clip ratio.
	ClipWarning bool
}

// OutputCheck records the post-hoc consistency checks on the bin table.
type OutputCheck struct {
	Rows         int
	CIViolations int
	// WallChecked is false for runs that summed equivalent exposure.
	WallChecked bool
	WallRelDiff float64
	WallOK      bool
}

// Conservation compares the extracted event count with the sum over bins.
type Conservation struct {
	Total  int64
	Binned int64
	OK     bool
}

// Diagnostics groups every check of a run.
type Diagnostics struct {
	Scale        ScaleInspection
	Output       OutputCheck
	Conservation Conservation
}

// InspectScaledTime reports median, 99th percentile and maximum scale ratio.
func InspectScaledTime(res *exposure.Result, clipWarnRatio float64) ScaleInspection {
	var out ScaleInspection
	if res == nil {
		return out
	}
	r := numeric.Finite(res.ScaleRatios())
	if len(r) == 0 {
		return out
	}
	sort.Float64s(r)
	mx := floats.Max(r)
	out.Median = sql.NullFloat64{Float64: numeric.PercentileSorted(r, 50), Valid: true}
	out.P99 = sql.NullFloat64{Float64: numeric.PercentileSorted(r, 99), Valid: true}
	out.Max = sql.NullFloat64{Float64: mx, Valid: true}
	out.ClipWarning = clipWarnRatio > 0 && mx > clipWarnRatio
	return out
}

// CheckOutput counts bins whose rate falls outside its interval and, for
// unscaled runs, compares summed T with summed width.
func CheckOutput(rows []Row, useScaled bool, tolerance float64) OutputCheck {
	out := OutputCheck{Rows: len(rows)}
	var sumT, sumW float64
	for _, r := range rows {
		if r.T > 0 && !r.Estimate().Contains() {
			out.CIViolations++
		}
		sumT += r.T
		sumW += r.WidthSeconds
	}
	if !useScaled && len(rows) > 0 {
		out.WallChecked = true
		out.WallRelDiff = math.Abs(sumT-sumW) / math.Max(sumW, 1e-9)
		out.WallOK = out.WallRelDiff <= tolerance
	}
	return out
}

// ConservationCheck verifies that every event lands in exactly one bin.
// evts must be sorted.
func ConservationCheck(evts []time.Time, bins []binning.Bin) Conservation {
	c := Conservation{Total: int64(len(evts))}
	for _, b := range bins {
		lo := sort.Search(len(evts), func(i int) bool { return !evts[i].Before(b.Start) })
		hi := sort.Search(len(evts), func(i int) bool { return !evts[i].Before(b.End) })
		c.Binned += int64(hi - lo)
	}
	c.OK = c.Total == c.Binned
	return c
}

// Log emits the diagnostics, warning on every failed check.
func (d Diagnostics) Log(logger *zap.SugaredLogger) {
	if d.Scale.Max.Valid {
		logger.Debugw("scale ratio",
			"median", d.Scale.Median.Float64,
			"p99", d.Scale.P99.Float64,
			"max", d.Scale.Max.Float64,
		)
	}
	if d.Scale.ClipWarning {
		logger.Warnw("scale ratio exceeds clip warning threshold, check floors and rmax",
			"max", d.Scale.Max.Float64)
	}
	if d.Output.Rows == 0 {
		logger.Warn("analysis produced no bins")
	}
	if d.Output.CIViolations > 0 {
		logger.Warnw("rows with rate outside confidence interval", "count", d.Output.CIViolations)
	}
	if d.Output.WallChecked && !d.Output.WallOK {
		logger.Warnw("wall-time sum inconsistent with bin widths", "rel_diff", d.Output.WallRelDiff)
	}
	if !d.Conservation.OK {
		logger.Warnw("event conservation violated",
			"total", d.Conservation.Total,
			"binned", d.Conservation.Binned,
		)
	}
}
