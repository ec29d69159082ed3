package gaps

import (
	"math"
	"testing"
	"time"

	"github.com/chrissnell/radbin/internal/exposure"
)

var t0 = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

func times(secs ...float64) []time.Time {
	out := make([]time.Time, len(secs))
	for i, s := range secs {
		out[i] = at(s)
	}
	return out
}

// linear returns samples at 0..end with t_eq = rate*t.
func linear(end, step, rate float64) []exposure.EquivalentSample {
	var out []exposure.EquivalentSample
	for s := 0.0; s <= end; s += step {
		out = append(out, exposure.EquivalentSample{Time: at(s), TEq: rate * s})
	}
	return out
}

func TestInterpolant(t *testing.T) {
	samples := []exposure.EquivalentSample{
		{Time: at(0), TEq: 0},
		{Time: at(10), TEq: 10},
		{Time: at(20), TEq: 5}, // dips are flattened by the running max
		{Time: at(30), TEq: 40},
	}
	p := NewInterpolant(samples)

	tests := []struct {
		name    string
		at      float64
		want    float64
		epsilon float64
	}{
		{"before range", -5, 0, 0},
		{"on sample", 10, 10, 1e-12},
		{"interpolated", 5, 5, 1e-12},
		{"flattened dip", 15, 10, 1e-12},
		{"after dip", 25, 25, 1e-12},
		{"after range", 99, 40, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.At(at(tt.at)); math.Abs(got-tt.want) > tt.epsilon {
				t.Errorf("At(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestAnalyze(t *testing.T) {
	samples := linear(100, 1, 2)
	events := times(5, 15, 15, 35, 60)
	edges := times(0, 20, 50, 100)

	stats, err := Analyze(events, samples, edges, 0)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(stats) != 3 {
		t.Fatalf("got %d bins, want 3", len(stats))
	}

	// Segments 5-15, 15-35, 35-60 (the duplicate 15 adds nothing).
	// Bin 0: 5-15 and 15-20 -> 20, 10
	// Bin 1: 20-35 and 35-50 -> 30, 30
	// Bin 2: 50-60            -> 20
	tests := []struct {
		n      int
		sum    float64
		min    float64
		max    float64
		median float64
	}{
		{2, 30, 10, 20, 15},
		{2, 60, 30, 30, 30},
		{1, 20, 20, 20, 20},
	}
	for i, tt := range tests {
		s := stats[i]
		if s.N != tt.n {
			t.Errorf("bin %d N = %d, want %d", i, s.N, tt.n)
		}
		if math.Abs(s.Sum-tt.sum) > 1e-9 {
			t.Errorf("bin %d Sum = %v, want %v", i, s.Sum, tt.sum)
		}
		if !s.Min.Valid || math.Abs(s.Min.Float64-tt.min) > 1e-9 {
			t.Errorf("bin %d Min = %v, want %v", i, s.Min, tt.min)
		}
		if !s.Max.Valid || math.Abs(s.Max.Float64-tt.max) > 1e-9 {
			t.Errorf("bin %d Max = %v, want %v", i, s.Max, tt.max)
		}
		if !s.Median.Valid || math.Abs(s.Median.Float64-tt.median) > 1e-9 {
			t.Errorf("bin %d Median = %v, want %v", i, s.Median, tt.median)
		}
	}
}

func TestAnalyzeEmptyBin(t *testing.T) {
	stats, err := Analyze(times(1, 2), linear(100, 1, 1), times(0, 10, 100), 2)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	s := stats[1]
	if s.N != 0 || s.Sum != 0 {
		t.Errorf("empty bin N=%d Sum=%v, want 0/0", s.N, s.Sum)
	}
	if s.Mean.Valid || s.Median.Valid || s.P10.Valid || s.P90.Valid || s.P99.Valid || s.Min.Valid || s.Max.Valid {
		t.Errorf("empty bin has defined statistics: %+v", s)
	}
}

func TestAnalyzeGapSumMatchesExposureBetweenEvents(t *testing.T) {
	samples := linear(1000, 5, 0.5)
	events := times(12, 80, 80, 333, 512, 700, 901)
	edges := times(0, 100, 250, 600, 1000)

	stats, err := Analyze(events, samples, edges, 0)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	var total float64
	for _, s := range stats {
		total += s.Sum
	}
	want := 0.5 * (901 - 12)
	if math.Abs(total-want) > 1e-9 {
		t.Errorf("sum of clipped gaps = %v, want %v", total, want)
	}
}

func TestSummarizePercentiles(t *testing.T) {
	s := Summarize([]float64{4, 1, 3, 2, 5, 6, 7, 8, 9, 10})
	checks := map[string]struct {
		got  float64
		want float64
	}{
		"mean": {s.Mean.Float64, 5.5},
		"p10":  {s.P10.Float64, 1.9},
		"p90":  {s.P90.Float64, 9.1},
		"p99":  {s.P99.Float64, 9.91},
	}
	for name, c := range checks {
		if math.Abs(c.got-c.want) > 1e-9 {
			t.Errorf("%s = %v, want %v", name, c.got, c.want)
		}
	}
}
