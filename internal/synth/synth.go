// Package synth generates synthetic beam and failure-counter tables for
// exercising the analysis end to end.
package synth

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/chrissnell/radbin/internal/events"
	"github.com/chrissnell/radbin/internal/exposure"
)

var ErrInvalidParams = errors.New("synth: invalid parameters")

// Pulse is a Gaussian flux excursion centred at CenterHours after start.
type Pulse struct {
	CenterHours float64 `yaml:"center-hours"`
	Amplitude   float64 `yaml:"amplitude"`
}

// Block is a beam-on interval in hours after start.
type Block struct {
	FromHours float64 `yaml:"from-hours"`
	ToHours   float64 `yaml:"to-hours"`
}

// BeamParams configures Beam.
type BeamParams struct {
	Start      time.Time `yaml:"start"`
	Hours      float64   `yaml:"hours"`
	StepSec    float64   `yaml:"step-sec"`
	OnBlocks   []Block   `yaml:"on-blocks"`
	FluxBase   float64   `yaml:"flux-base"`
	Pulses     []Pulse   `yaml:"pulses"`
	PulseWidth float64   `yaml:"pulse-width"` // hours
	FluxNoise  float64   `yaml:"flux-noise"`
	Seed       uint64    `yaml:"seed"`
}

// DefaultBeamParams describes an eight-hour shift with three beam blocks.
func DefaultBeamParams() BeamParams {
	return BeamParams{
		Start:      time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		Hours:      8,
		StepSec:    5,
		OnBlocks:   []Block{{0, 2}, {3, 5}, {6, 8}},
		FluxBase:   1,
		Pulses:     []Pulse{{1, 1.5}, {3.2, 0.4}, {6.5, 2}},
		PulseWidth: 0.15,
		FluxNoise:  0.1,
		Seed:       7,
	}
}

// Beam returns flux samples every StepSec seconds with dt filled in.
func Beam(p BeamParams) ([]exposure.Sample, error) {
	if !(p.Hours > 0) || !(p.StepSec > 0) {
		return nil, fmt.Errorf("%w: hours and step must be positive", ErrInvalidParams)
	}
	r := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	n := int(p.Hours * 3600 / p.StepSec)
	width := p.PulseWidth
	if !(width > 0) {
		width = 0.15
	}

	out := make([]exposure.Sample, n)
	for i := range out {
		h := float64(i) * p.StepSec / 3600
		f := p.FluxBase
		for _, pulse := range p.Pulses {
			z := (h - pulse.CenterHours) / width
			f += pulse.Amplitude * math.Exp(-0.5*z*z)
		}
		f += r.NormFloat64() * p.FluxNoise
		f = math.Max(f, 1e-6)

		on := false
		for _, b := range p.OnBlocks {
			i0 := int(b.FromHours * 3600 / p.StepSec)
			i1 := int(b.ToHours * 3600 / p.StepSec)
			if i >= i0 && i < i1 {
				on = true
				break
			}
		}
		out[i] = exposure.Sample{
			Time:   p.Start.Add(time.Duration(float64(i) * p.StepSec * float64(time.Second))),
			DT:     sql.NullFloat64{Float64: p.StepSec, Valid: true},
			Flux:   sql.NullFloat64{Float64: f, Valid: true},
			BeamOn: on,
		}
	}
	return out, nil
}

// HazardMode selects the failure hazard shape over equivalent exposure.
type HazardMode string

const (
	HazardBathtub HazardMode = "bathtub"
	HazardPlateau HazardMode = "plateau"
)

// HazardParams configures FailuresFromHazard.
type HazardParams struct {
	Mode         HazardMode `yaml:"mode"`
	RateScale    float64    `yaml:"rate-scale"`
	EarlyDecay   float64    `yaml:"early-decay"`
	WearGrowth   float64    `yaml:"wear-growth"`
	PlateauLevel float64    `yaml:"plateau-level"`
	// ResetEverySeconds > 0 adds an auxiliary flag that toggles on the first
	// event at least this long after the previous toggle.
	ResetEverySeconds float64 `yaml:"reset-every-sec"`
	Seed              uint64  `yaml:"seed"`
}

// DefaultHazardParams returns a bathtub hazard without resets.
func DefaultHazardParams() HazardParams {
	return HazardParams{
		Mode:         HazardBathtub,
		RateScale:    0.2,
		EarlyDecay:   1.2,
		WearGrowth:   1.2,
		PlateauLevel: 0.03,
		Seed:         11,
	}
}

// FailuresFromHazard draws failures sample by sample with mean
// hazard(t_eq)·dt_eq·RateScale and returns one cumulative counter row per
// event.
func FailuresFromHazard(beam []exposure.Sample, p HazardParams) ([]events.CounterSample, error) {
	switch p.Mode {
	case HazardBathtub, HazardPlateau:
	default:
		return nil, fmt.Errorf("%w: unknown hazard mode %q", ErrInvalidParams, p.Mode)
	}
	scaled, err := exposure.Scale(beam, exposure.DefaultOptions())
	if err != nil {
		return nil, err
	}
	s := scaled.Samples
	teq := make([]float64, len(s))
	for i := range s {
		teq[i] = s[i].TEq
	}
	teqMax := 0.0
	if len(teq) > 0 {
		teqMax = floats.Max(teq)
	}

	r := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	var evts []time.Time
	for i := range s {
		lam := p.PlateauLevel
		if p.Mode == HazardBathtub {
			early := p.EarlyDecay / math.Pow(teq[i]+1, 0.7)
			wear := 0.0
			if teqMax > 0 {
				wear = p.WearGrowth * math.Pow(teq[i]/teqMax, 2)
			}
			lam += early + wear
		}
		k := PoissonDraw(r, lam*s[i].DTEq*p.RateScale)
		if k <= 0 || s[i].DT <= 0 {
			continue
		}
		for ; k > 0; k-- {
			u := r.Float64() * s[i].DT
			evts = append(evts, s[i].Time.Add(time.Duration(u*float64(time.Second))))
		}
	}
	sort.Slice(evts, func(a, b int) bool { return evts[a].Before(evts[b]) })

	out := make([]events.CounterSample, len(evts))
	flag, lastToggle := 0.0, time.Time{}
	for i, et := range evts {
		out[i] = events.CounterSample{Time: et, Count: int64(i + 1)}
		if p.ResetEverySeconds > 0 {
			if i == 0 {
				lastToggle = et
			}
			if et.Sub(lastToggle).Seconds() >= p.ResetEverySeconds {
				flag = 1 - flag
				lastToggle = et
			}
			out[i].Flags = []float64{flag}
		}
	}
	return out, nil
}

// PoissonDraw samples a Poisson variate with mean lambda by inverting the
// CDF, starting the search at the mode.
func PoissonDraw(r *rand.Rand, lambda float64) int64 {
	if !(lambda > 0) || math.IsInf(lambda, 0) {
		return 0
	}
	d := distuv.Poisson{Lambda: lambda}
	u := r.Float64()
	k := math.Floor(lambda)
	if d.CDF(k) >= u {
		for k > 0 && d.CDF(k-1) >= u {
			k--
		}
		return int64(k)
	}
	for d.CDF(k) < u {
		k++
	}
	return int64(k)
}
