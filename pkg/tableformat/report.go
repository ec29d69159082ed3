package tableformat

import (
	"database/sql"
	"math"
	"time"

	"github.com/chrissnell/radbin/internal/analysis"
	"github.com/chrissnell/radbin/internal/trend"
)

// BinRow is one bin in output form. Undefined values are nil.
type BinRow struct {
	Start     time.Time `json:"t_start"`
	End       time.Time `json:"t_end"`
	Mid       time.Time `json:"t_mid"`
	WidthS    float64   `json:"width_s"`
	N         int64     `json:"N"`
	T         float64   `json:"T"`
	Rate      *float64  `json:"rate"`
	Lo        *float64  `json:"lo"`
	Hi        *float64  `json:"hi"`
	GapN      int       `json:"gap_N"`
	GapSum    float64   `json:"gap_sum"`
	GapMean   *float64  `json:"gap_mean"`
	GapMedian *float64  `json:"gap_median"`
	GapP10    *float64  `json:"gap_p10"`
	GapP90    *float64  `json:"gap_p90"`
	GapP99    *float64  `json:"gap_p99"`
	GapMin    *float64  `json:"gap_min"`
	GapMax    *float64  `json:"gap_max"`
}

// TrendRow is the trend fit in output form.
type TrendRow struct {
	Status                string   `json:"status"`
	SEMethod              string   `json:"se_method"`
	NBins                 int      `json:"n_bins"`
	Converged             bool     `json:"converged"`
	Alpha                 float64  `json:"alpha"`
	Beta0                 *float64 `json:"beta0"`
	Beta1                 *float64 `json:"beta1"`
	SEBeta1               *float64 `json:"se_beta1"`
	Z                     *float64 `json:"z"`
	PValue                *float64 `json:"p_value"`
	Beta1Lo               *float64 `json:"beta1_lo"`
	Beta1Hi               *float64 `json:"beta1_hi"`
	RateRatioPerHour      *float64 `json:"rr_per_hour"`
	RateRatioLo           *float64 `json:"rr_lo"`
	RateRatioHi           *float64 `json:"rr_hi"`
	SlopePerSD            *float64 `json:"slope_per_sd"`
	LRTPValue             *float64 `json:"lrt_p_value"`
	AIC                   *float64 `json:"aic"`
	Deviance              *float64 `json:"deviance"`
	Dispersion            *float64 `json:"dispersion"`
	SuggestOverdispersion bool     `json:"suggest_overdispersion"`
	EquivalenceRR         float64  `json:"equivalence_rr,omitempty"`
	TOSTPValue            *float64 `json:"tost_p_value"`
	Equivalent            bool     `json:"equivalent"`
	Summary               string   `json:"summary"`
}

// Report is the complete output of one run.
type Report struct {
	RunID         string      `json:"run_id"`
	CreatedAt     time.Time   `json:"created_at"`
	Mode          string      `json:"mode"`
	Source        string      `json:"source"`
	UseScaled     bool        `json:"use_scaled"`
	Alpha         float64     `json:"alpha"`
	Events        int         `json:"events"`
	Resets        []time.Time `json:"resets"`
	RecommendedK  int         `json:"recommended_k"`
	ExposureTotal float64     `json:"exposure_total"`
	Bins          []BinRow    `json:"bins"`
	Trend         TrendRow    `json:"trend"`
}

// NewReport converts an analysis result.
func NewReport(res *analysis.Result) Report {
	rep := Report{
		RunID:         res.RunID.String(),
		CreatedAt:     res.CreatedAt,
		Mode:          string(res.Config.Mode),
		Source:        string(res.Config.Source),
		UseScaled:     res.UseScaled,
		Alpha:         res.Config.Alpha,
		Events:        res.Events,
		Resets:        res.Resets,
		RecommendedK:  res.RecommendedK,
		ExposureTotal: res.ExposureTotal,
		Bins:          BinRows(res.Rows),
		Trend:         NewTrendRow(res.Trend),
	}
	if rep.Resets == nil {
		rep.Resets = []time.Time{}
	}
	return rep
}

// BinRows converts analysis rows.
func BinRows(rows []analysis.Row) []BinRow {
	out := make([]BinRow, len(rows))
	for i, r := range rows {
		g := r.Gap
		out[i] = BinRow{
			Start:     r.Start,
			End:       r.End,
			Mid:       r.TMid,
			WidthS:    r.WidthSeconds,
			N:         r.N,
			T:         r.T,
			Rate:      ptr(r.Rate),
			Lo:        ptr(r.Lo),
			Hi:        ptr(r.Hi),
			GapN:      g.N,
			GapSum:    g.Sum,
			GapMean:   ptr(g.Mean),
			GapMedian: ptr(g.Median),
			GapP10:    ptr(g.P10),
			GapP90:    ptr(g.P90),
			GapP99:    ptr(g.P99),
			GapMin:    ptr(g.Min),
			GapMax:    ptr(g.Max),
		}
	}
	return out
}

func NewTrendRow(f trend.Fit) TrendRow {
	return TrendRow{
		Status:                string(f.Status),
		SEMethod:              string(f.SEMethod),
		NBins:                 f.NBins,
		Converged:             f.Converged,
		Alpha:                 f.Alpha,
		Beta0:                 ptr(f.Beta0),
		Beta1:                 ptr(f.Beta1),
		SEBeta1:               ptr(f.SEBeta1),
		Z:                     ptr(f.Z),
		PValue:                ptr(f.PValue),
		Beta1Lo:               ptr(f.Beta1Lo),
		Beta1Hi:               ptr(f.Beta1Hi),
		RateRatioPerHour:      ptr(f.RateRatioPerHour),
		RateRatioLo:           ptr(f.RateRatioLo),
		RateRatioHi:           ptr(f.RateRatioHi),
		SlopePerSD:            ptr(f.SlopePerSD),
		LRTPValue:             ptr(f.LRTPValue),
		AIC:                   ptr(f.AIC),
		Deviance:              ptr(f.Deviance),
		Dispersion:            ptr(f.Dispersion),
		SuggestOverdispersion: f.SuggestOverdispersion,
		EquivalenceRR:         f.EquivalenceRR,
		TOSTPValue:            ptr(f.TOSTPValue),
		Equivalent:            f.Equivalent,
		Summary:               f.String(),
	}
}

// ptr maps undefined and non-finite values to nil.
func ptr(v sql.NullFloat64) *float64 {
	if !v.Valid || math.IsNaN(v.Float64) || math.IsInf(v.Float64, 0) {
		return nil
	}
	f := v.Float64
	return &f
}
