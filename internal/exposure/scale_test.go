package exposure

import (
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func flux(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }

func series(fluxes []float64, on []bool, step float64) []Sample {
	out := make([]Sample, len(fluxes))
	for i := range fluxes {
		out[i] = Sample{
			Time:   t0.Add(time.Duration(float64(i) * step * float64(time.Second))),
			Flux:   flux(fluxes[i]),
			BeamOn: on[i],
		}
	}
	return out
}

func TestScaleFluence(t *testing.T) {
	s := series([]float64{1, 2, 0, 4}, []bool{true, true, true, false}, 5)

	res, err := Scale(s, DefaultOptions())
	if err != nil {
		t.Fatalf("Scale: %v", err)
	}

	// phi_ref = median(1,2,0) = 1, floor = 0.05
	if !res.PhiRef.Valid || res.PhiRef.Float64 != 1 {
		t.Fatalf("PhiRef = %v, want 1", res.PhiRef)
	}
	if math.Abs(res.Floor-0.05) > 1e-12 {
		t.Fatalf("Floor = %v, want 0.05", res.Floor)
	}

	wantDTEq := []float64{0, 10, 0.25, 0}
	wantTEq := []float64{0, 10, 10.25, 10.25}
	for i, es := range res.Samples {
		if math.Abs(es.DTEq-wantDTEq[i]) > 1e-9 {
			t.Errorf("[%d] DTEq = %v, want %v", i, es.DTEq, wantDTEq[i])
		}
		if math.Abs(es.TEq-wantTEq[i]) > 1e-9 {
			t.Errorf("[%d] TEq = %v, want %v", i, es.TEq, wantTEq[i])
		}
	}
	if res.Samples[0].ScaleRatio.Valid {
		t.Errorf("first sample has dt=0, ScaleRatio should be undefined")
	}
	if got := res.Samples[1].ScaleRatio; !got.Valid || got.Float64 != 2 {
		t.Errorf("ScaleRatio[1] = %v, want 2", got)
	}
}

func TestScaleRefTimeRatioBound(t *testing.T) {
	fluxes := []float64{1e-9, 0.5, 1, 1, 2, 1e6, -3, math.NaN()}
	on := []bool{true, true, true, true, true, true, true, true}
	s := series(fluxes, on, 1)

	opts := DefaultOptions()
	opts.Mode = ModeRefTime
	opts.MinFrac = 0
	opts.RMax = 50

	res, err := Scale(s, opts)
	if err != nil {
		t.Fatalf("Scale: %v", err)
	}
	for i, es := range res.Samples {
		if es.DT <= 0 {
			continue
		}
		if !es.ScaleRatio.Valid {
			t.Fatalf("[%d] ScaleRatio undefined with dt=%v", i, es.DT)
		}
		r := es.ScaleRatio.Float64
		if r < 0 || r > opts.RMax {
			t.Errorf("[%d] ScaleRatio = %v, outside [0, %v]", i, r, opts.RMax)
		}
	}
	// flux 2 vs reference 1 is worth half the wall time
	if got := res.Samples[4].ScaleRatio.Float64; math.Abs(got-0.5) > 1e-12 {
		t.Errorf("ScaleRatio[4] = %v, want 0.5", got)
	}
}

func TestScaleMasks(t *testing.T) {
	s := series([]float64{1, 1, 1, 1, 1}, []bool{false, true, false, true, true}, 10)

	tests := []struct {
		name      string
		freezeOff bool
		startOn   bool
		wantTotal float64
	}{
		{"freeze and start", true, true, 30},
		{"start only", false, true, 40},
		{"freeze only", true, false, 30},
		{"neither", false, false, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.FreezeOff = tt.freezeOff
			opts.StartAtFirstOn = tt.startOn
			res, err := Scale(s, opts)
			if err != nil {
				t.Fatalf("Scale: %v", err)
			}
			if math.Abs(res.Total()-tt.wantTotal) > 1e-9 {
				t.Errorf("Total = %v, want %v", res.Total(), tt.wantTotal)
			}
		})
	}
}

func TestScaleNoBeamOn(t *testing.T) {
	s := series([]float64{1, 1, 1}, []bool{false, false, false}, 1)

	opts := DefaultOptions()
	opts.Mode = ModeRefTime
	opts.FreezeOff = false
	res, err := Scale(s, opts)
	if err != nil {
		t.Fatalf("Scale: %v", err)
	}
	if res.PhiRef.Valid {
		t.Errorf("PhiRef should be undefined, got %v", res.PhiRef)
	}
	if res.Floor != 0.05 {
		t.Errorf("Floor = %v, want fixed fallback 0.05", res.Floor)
	}
	// ratio falls back to 1: equivalent time equals wall time
	if math.Abs(res.Total()-2) > 1e-12 {
		t.Errorf("Total = %v, want 2", res.Total())
	}
}

func TestScaleExplicitDT(t *testing.T) {
	s := series([]float64{2, 2, 2}, []bool{true, true, true}, 1)
	s[0].DT = flux(3)
	s[1].DT = sql.NullFloat64{}
	s[2].DT = flux(4)

	res, err := Scale(s, DefaultOptions())
	if err != nil {
		t.Fatalf("Scale: %v", err)
	}
	want := []float64{3, 0, 4}
	for i, es := range res.Samples {
		if es.DT != want[i] {
			t.Errorf("[%d] DT = %v, want %v", i, es.DT, want[i])
		}
	}
	if math.Abs(res.Total()-14) > 1e-12 {
		t.Errorf("Total = %v, want 14", res.Total())
	}
}

func TestScaleSortsByTime(t *testing.T) {
	s := series([]float64{1, 1, 1}, []bool{true, true, true}, 5)
	s[0], s[2] = s[2], s[0]

	res, err := Scale(s, DefaultOptions())
	if err != nil {
		t.Fatalf("Scale: %v", err)
	}
	for i := 1; i < len(res.Samples); i++ {
		if res.Samples[i].Time.Before(res.Samples[i-1].Time) {
			t.Fatalf("samples not sorted at %d", i)
		}
		if res.Samples[i].TEq < res.Samples[i-1].TEq {
			t.Fatalf("t_eq decreased at %d", i)
		}
	}
	if !s[0].Time.After(s[2].Time) {
		t.Errorf("input was reordered")
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		want   error
	}{
		{"defaults", func(*Options) {}, nil},
		{"bad ref", func(o *Options) { o.Ref = "mode" }, ErrUnknownReference},
		{"bad floor", func(o *Options) { o.Floor = "dynamic" }, ErrUnknownFloorStrategy},
		{"bad mode", func(o *Options) { o.Mode = "dose" }, ErrUnknownMode},
		{"zero rmax", func(o *Options) { o.RMax = 0 }, ErrInvalidOption},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			err := o.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
			if tt.want != nil {
				if _, err := Scale(nil, o); !errors.Is(err, tt.want) {
					t.Errorf("Scale() = %v, want %v", err, tt.want)
				}
			}
		})
	}
}
