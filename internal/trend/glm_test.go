package trend

import (
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/chrissnell/radbin/internal/binning"
	"github.com/chrissnell/radbin/internal/synth"
)

var t0 = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func hourly(counts []int64, exposure float64) []Observation {
	out := make([]Observation, len(counts))
	for i, k := range counts {
		out[i] = Observation{Count: k, Exposure: exposure, Mid: t0.Add(time.Duration(i) * time.Hour)}
	}
	return out
}

func TestConstantRateHasNoTrend(t *testing.T) {
	obs := hourly([]int64{20, 20, 20, 20, 20, 20, 20, 20, 20, 20}, 100)

	fit, err := Test(obs, DefaultOptions())
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if fit.Status != StatusOK || !fit.Converged {
		t.Fatalf("status = %s converged = %v", fit.Status, fit.Converged)
	}
	if math.Abs(fit.Beta1.Float64) > 1e-12 {
		t.Errorf("Beta1 = %v, want 0", fit.Beta1.Float64)
	}
	if math.Abs(fit.PValue.Float64-1) > 1e-9 {
		t.Errorf("PValue = %v, want 1", fit.PValue.Float64)
	}
	if math.Abs(fit.RateRatioPerHour.Float64-1) > 1e-9 {
		t.Errorf("RateRatioPerHour = %v, want 1", fit.RateRatioPerHour.Float64)
	}
	if math.Abs(fit.Beta0.Float64-math.Log(0.2)) > 1e-9 {
		t.Errorf("Beta0 = %v, want log(0.2)", fit.Beta0.Float64)
	}
	if fit.Deviance.Float64 > 1e-9 {
		t.Errorf("Deviance = %v, want 0", fit.Deviance.Float64)
	}
}

func TestTenfoldGrowthIsDetected(t *testing.T) {
	var counts []int64
	for i := 0; i < 10; i++ {
		counts = append(counts, int64(math.Round(10*math.Pow(10, float64(i)/9))))
	}
	obs := hourly(counts, 100)

	for _, method := range []SEMethod{SEMLE, SERobust, SEPearson} {
		t.Run(string(method), func(t *testing.T) {
			opts := DefaultOptions()
			opts.SEMethod = method
			fit, err := Test(obs, opts)
			if err != nil {
				t.Fatalf("Test: %v", err)
			}
			if fit.Status != StatusOK {
				t.Fatalf("status = %s", fit.Status)
			}
			if !fit.PValue.Valid || fit.PValue.Float64 > 0.05 {
				t.Errorf("PValue = %v, want <= 0.05", fit.PValue)
			}
			if !(fit.Beta1.Float64 > 0) {
				t.Errorf("Beta1 = %v, want positive", fit.Beta1.Float64)
			}
			if !fit.LRTPValue.Valid || fit.LRTPValue.Float64 > 0.05 {
				t.Errorf("LRTPValue = %v, want <= 0.05", fit.LRTPValue)
			}
			// 10x over 9 hours
			want := math.Pow(10, 1.0/9)
			if math.Abs(fit.RateRatioPerHour.Float64-want) > 0.02 {
				t.Errorf("RateRatioPerHour = %v, want about %v", fit.RateRatioPerHour.Float64, want)
			}
			if fit.RateRatioLo.Float64 > fit.RateRatioPerHour.Float64 || fit.RateRatioHi.Float64 < fit.RateRatioPerHour.Float64 {
				t.Errorf("rate ratio CI (%v, %v) excludes %v", fit.RateRatioLo.Float64, fit.RateRatioHi.Float64, fit.RateRatioPerHour.Float64)
			}
		})
	}
}

func TestRecoversKnownSlope(t *testing.T) {
	const beta = 1e-4 // per second
	var counts []int64
	for i := 0; i < 10; i++ {
		mu := 1e6 * 1e-3 * math.Exp(beta*float64(i)*3600)
		counts = append(counts, int64(math.Round(mu)))
	}
	fit, err := Test(hourly(counts, 1e6), DefaultOptions())
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if math.Abs(fit.Beta1.Float64-beta) > 2e-6 {
		t.Errorf("Beta1 = %v, want %v", fit.Beta1.Float64, beta)
	}
	if fit.SlopePerSD.Float64 <= 0 {
		t.Errorf("SlopePerSD = %v, want positive", fit.SlopePerSD.Float64)
	}
}

func TestConstantRateRandomDraws(t *testing.T) {
	r := rand.New(rand.NewPCG(11, 7))
	spurious := 0
	const draws = 20
	for d := 0; d < draws; d++ {
		counts := make([]int64, 12)
		for i := range counts {
			counts[i] = synth.PoissonDraw(r, 50)
		}
		fit, err := Test(hourly(counts, 500), DefaultOptions())
		if err != nil {
			t.Fatalf("Test: %v", err)
		}
		if fit.Status != StatusOK {
			t.Fatalf("draw %d: status = %s", d, fit.Status)
		}
		if fit.PValue.Float64 < 0.01 {
			spurious++
		}
	}
	if spurious > 2 {
		t.Errorf("%d of %d constant-rate draws reported p < 0.01", spurious, draws)
	}
}

func TestDegenerateInput(t *testing.T) {
	tests := []struct {
		name   string
		obs    []Observation
		status Status
		nBins  int
	}{
		{"empty", nil, StatusInsufficientData, 0},
		{"single bin", hourly([]int64{5}, 10), StatusInsufficientData, 1},
		{
			name: "non-positive exposure discarded",
			obs: []Observation{
				{Count: 3, Exposure: 10, Mid: t0},
				{Count: 3, Exposure: 0, Mid: t0.Add(time.Hour)},
				{Count: 3, Exposure: math.Inf(1), Mid: t0.Add(2 * time.Hour)},
				{Count: 3, Exposure: math.NaN(), Mid: t0.Add(3 * time.Hour)},
			},
			status: StatusInsufficientData,
			nBins:  1,
		},
		{"no events", hourly([]int64{0, 0, 0}, 10), StatusNoEvents, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fit, err := Test(tt.obs, DefaultOptions())
			if err != nil {
				t.Fatalf("Test returned error for data problem: %v", err)
			}
			if fit.Status != tt.status || fit.NBins != tt.nBins {
				t.Errorf("status=%s nBins=%d, want %s/%d", fit.Status, fit.NBins, tt.status, tt.nBins)
			}
			if fit.Converged || fit.Beta1.Valid || fit.SEBeta1.Valid || fit.Z.Valid || fit.PValue.Valid {
				t.Errorf("sentinel carries statistics: %+v", fit)
			}
			if !strings.Contains(fit.String(), string(tt.status)) {
				t.Errorf("String() = %q, want status", fit.String())
			}
		})
	}
}

func TestTwoBinsLeaveDispersionUndefined(t *testing.T) {
	fit, err := Test(hourly([]int64{10, 30}, 100), DefaultOptions())
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if fit.Status != StatusOK {
		t.Fatalf("status = %s", fit.Status)
	}
	if fit.Dispersion.Valid {
		t.Errorf("Dispersion = %v, want undefined with zero residual df", fit.Dispersion)
	}
	if !fit.PValue.Valid {
		t.Errorf("MLE p-value should be defined for two bins")
	}

	opts := DefaultOptions()
	opts.SEMethod = SEPearson
	fit, err = Test(hourly([]int64{10, 30}, 100), opts)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if fit.SEBeta1.Valid {
		t.Errorf("Pearson SE = %v, want undefined with zero residual df", fit.SEBeta1)
	}
}

func TestEquivalence(t *testing.T) {
	counts := []int64{1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000}
	opts := DefaultOptions()
	opts.EquivalenceRR = 1.05

	fit, err := Test(hourly(counts, 1e4), opts)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if !fit.TOSTPValue.Valid || !fit.Equivalent {
		t.Errorf("TOST p=%v equivalent=%v, want equivalent", fit.TOSTPValue, fit.Equivalent)
	}
	if !strings.Contains(fit.String(), "TOST") {
		t.Errorf("String() = %q, want TOST section", fit.String())
	}
}

func TestOverdispersionFlag(t *testing.T) {
	obs := hourly([]int64{5, 60, 3, 70, 4, 65, 2, 80}, 100)
	fit, err := Test(obs, DefaultOptions())
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if !fit.SuggestOverdispersion {
		t.Errorf("dispersion %v not flagged", fit.Dispersion)
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		want   error
	}{
		{"unknown method", func(o *Options) { o.SEMethod = "bootstrap" }, ErrUnknownSEMethod},
		{"alpha zero", func(o *Options) { o.Alpha = 0 }, ErrInvalidOption},
		{"alpha one", func(o *Options) { o.Alpha = 1 }, ErrInvalidOption},
		{"no iterations", func(o *Options) { o.MaxIter = 0 }, ErrInvalidOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			if _, err := Test(hourly([]int64{1, 2}, 1), o); !errors.Is(err, tt.want) {
				t.Errorf("Test() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFromBins(t *testing.T) {
	bins := []binning.Bin{
		{Start: t0, End: t0.Add(2 * time.Hour), N: 4, T: 7},
	}
	obs := FromBins(bins)
	if len(obs) != 1 || obs[0].Count != 4 || obs[0].Exposure != 7 || !obs[0].Mid.Equal(t0.Add(time.Hour)) {
		t.Errorf("FromBins = %+v", obs)
	}
}
