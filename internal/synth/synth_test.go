package synth

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/stat"

	"github.com/chrissnell/radbin/internal/events"
)

func TestBeam(t *testing.T) {
	p := DefaultBeamParams()
	beam, err := Beam(p)
	if err != nil {
		t.Fatalf("Beam: %v", err)
	}
	if want := int(p.Hours * 3600 / p.StepSec); len(beam) != want {
		t.Fatalf("got %d samples, want %d", len(beam), want)
	}
	on := 0
	for i, s := range beam {
		if s.Flux.Float64 < 1e-6 {
			t.Fatalf("[%d] flux %v below clip", i, s.Flux.Float64)
		}
		if i > 0 && !s.Time.After(beam[i-1].Time) {
			t.Fatalf("[%d] time not increasing", i)
		}
		if s.BeamOn {
			on++
		}
	}
	// six of eight hours are on-beam
	if got := float64(on) / float64(len(beam)); math.Abs(got-0.75) > 1e-9 {
		t.Errorf("on fraction = %v, want 0.75", got)
	}

	again, _ := Beam(p)
	for i := range beam {
		if beam[i] != again[i] {
			t.Fatalf("same seed produced different sample at %d", i)
		}
	}
}

func TestFailuresFromHazard(t *testing.T) {
	beam, err := Beam(DefaultBeamParams())
	if err != nil {
		t.Fatalf("Beam: %v", err)
	}
	hp := DefaultHazardParams()
	hp.ResetEverySeconds = 600

	counter, err := FailuresFromHazard(beam, hp)
	if err != nil {
		t.Fatalf("FailuresFromHazard: %v", err)
	}
	if len(counter) == 0 {
		t.Fatal("no failures generated")
	}
	for i, c := range counter {
		if c.Count != int64(i+1) {
			t.Fatalf("[%d] count %d, want %d", i, c.Count, i+1)
		}
		if len(c.Flags) != 1 {
			t.Fatalf("[%d] missing reset flag", i)
		}
	}
	if got := len(events.Extract(counter)); got != len(counter) {
		t.Errorf("extracted %d events from %d rows", got, len(counter))
	}

	resets, err := events.DetectResets(counter, events.DefaultResetOptions())
	if err != nil {
		t.Fatalf("DetectResets: %v", err)
	}
	if len(resets) == 0 {
		t.Errorf("flag toggles produced no resets")
	}
}

func TestFailuresRejectUnknownHazard(t *testing.T) {
	hp := DefaultHazardParams()
	hp.Mode = "sawtooth"
	if _, err := FailuresFromHazard(nil, hp); err == nil {
		t.Error("expected error for unknown hazard mode")
	}
}

func TestPoissonDrawMoments(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for _, lambda := range []float64{0.3, 4, 250} {
		x := make([]float64, 4000)
		for i := range x {
			x[i] = float64(PoissonDraw(r, lambda))
		}
		mean, variance := stat.MeanVariance(x, nil)
		if math.Abs(mean-lambda) > 5*math.Sqrt(lambda/float64(len(x))) {
			t.Errorf("lambda=%v: mean %v", lambda, mean)
		}
		if math.Abs(variance-lambda)/lambda > 0.15 {
			t.Errorf("lambda=%v: variance %v", lambda, variance)
		}
	}
	if PoissonDraw(r, 0) != 0 {
		t.Error("lambda=0 must draw 0")
	}
}
