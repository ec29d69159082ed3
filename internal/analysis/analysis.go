// Package analysis runs the full pipeline: exposure scaling, event
// extraction, reset detection, binning, summarization, merging, gap
// statistics and the trend test.
package analysis

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chrissnell/radbin/internal/binning"
	"github.com/chrissnell/radbin/internal/events"
	"github.com/chrissnell/radbin/internal/exposure"
	"github.com/chrissnell/radbin/internal/gaps"
	"github.com/chrissnell/radbin/internal/log"
	"github.com/chrissnell/radbin/internal/trend"
)

// Row is one output bin: the summary (rates already area-normalized), its
// geometry and the gap statistics.
type Row struct {
	binning.Bin
	TMid         time.Time
	WidthSeconds float64
	Gap          gaps.Stats
}

// Result is everything one run produces.
type Result struct {
	RunID     uuid.UUID
	CreatedAt time.Time
	Config    Config

	// UseScaled reports whether T was summed from equivalent exposure.
	UseScaled bool
	Window    binning.Window
	Rows      []Row
	Trend     trend.Fit

	Events        int
	Resets        []time.Time
	RecommendedK  int
	ExposureTotal float64

	Diagnostics Diagnostics
}

// Bins returns the rows as plain bins.
func (r *Result) Bins() []binning.Bin {
	out := make([]binning.Bin, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row.Bin
	}
	return out
}

// Analyzer runs the pipeline with a fixed configuration.
type Analyzer struct {
	cfg    Config
	logger *zap.SugaredLogger
}

// New validates cfg and returns an Analyzer. A nil logger discards output.
func New(cfg Config, logger *zap.SugaredLogger) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Mode, _ = binning.ParseMode(string(cfg.Mode))
	cfg.Source, _ = binning.ParseSource(string(cfg.Source))
	cfg.Trend.SEMethod, _ = trend.ParseSEMethod(string(cfg.Trend.SEMethod))
	return &Analyzer{cfg: cfg, logger: log.OrNop(logger)}, nil
}

// Run analyzes one beam table and one counter table.
func (a *Analyzer) Run(beam []exposure.Sample, counter []events.CounterSample) (*Result, error) {
	cfg := a.cfg

	scaled, err := exposure.Scale(beam, cfg.Exposure)
	if err != nil {
		return nil, err
	}

	cs := make([]events.CounterSample, len(counter))
	copy(cs, counter)
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Time.Before(cs[j].Time) })

	evts := events.Extract(cs)
	resets, err := events.DetectResets(cs, cfg.Resets)
	if err != nil {
		return nil, err
	}
	window := observationWindow(scaled.Samples, cs)

	a.logger.Debugw("inputs prepared",
		"beam_samples", len(scaled.Samples),
		"counter_samples", len(cs),
		"events", len(evts),
		"resets", len(resets),
		"exposure_total", scaled.Total(),
	)

	var builder binning.EdgeBuilder
	useScaled := cfg.Source == binning.SourceBeam
	switch cfg.Mode {
	case binning.ModeFluence:
		builder = binning.EqualFluence{Samples: scaled.Samples, NBins: cfg.NBins}
		useScaled = true
	case binning.ModeReset:
		builder = binning.ResetLocked{Resets: resets, KMultiple: cfg.KMultiple, Window: window}
	case binning.ModeCount:
		builder = binning.EqualCount{Events: evts, TargetN: cfg.TargetN}
	default:
		return nil, fmt.Errorf("%w: %q", binning.ErrUnknownMode, cfg.Mode)
	}
	edges, err := builder.Edges()
	if err != nil {
		return nil, err
	}
	if len(edges) < 2 {
		a.logger.Debugw("edge strategy produced no partition, using observation window", "mode", cfg.Mode)
		edges = window.Edges()
	}

	bins, err := binning.Summarize(evts, edges, scaled.Samples, binning.SummaryOptions{
		Source:    cfg.Source,
		UseScaled: useScaled,
		Alpha:     cfg.Alpha,
		Workers:   cfg.Workers,
	})
	if err != nil {
		return nil, err
	}
	before := len(bins)
	bins = binning.Merge(bins, binning.MergeOptions{
		MinExposure: cfg.MinExposurePerBin,
		MinEvents:   cfg.MinEventsPerBin,
		Alpha:       cfg.Alpha,
	})
	if len(bins) != before {
		a.logger.Debugw("bins merged", "before", before, "after", len(bins))
	}

	gapStats, err := gaps.Analyze(evts, scaled.Samples, binEdges(bins), cfg.Workers)
	if err != nil {
		return nil, err
	}

	fit, err := trend.Test(trend.FromBins(bins), cfg.Trend)
	if err != nil {
		return nil, err
	}

	factor := cfg.AreaNorm.Factor()
	rows := make([]Row, len(bins))
	for i, b := range bins {
		if factor != 1 {
			b.Rate.Float64 *= factor
			b.Lo.Float64 *= factor
			b.Hi.Float64 *= factor
		}
		rows[i] = Row{Bin: b, TMid: b.Mid(), WidthSeconds: b.WidthSeconds()}
		if i < len(gapStats) {
			rows[i].Gap = gapStats[i]
		}
	}

	res := &Result{
		RunID:         uuid.New(),
		CreatedAt:     time.Now().UTC(),
		Config:        cfg,
		UseScaled:     useScaled,
		Window:        window,
		Rows:          rows,
		Trend:         fit,
		Events:        len(evts),
		Resets:        resets,
		RecommendedK:  1,
		ExposureTotal: scaled.Total(),
	}
	if cfg.TargetEventsPerBin > 0 {
		res.RecommendedK = events.RecommendKMultiple(evts, resets, cfg.TargetEventsPerBin)
	}

	res.Diagnostics = Diagnostics{
		Scale:        InspectScaledTime(scaled, cfg.ClipWarnRatio),
		Output:       CheckOutput(rows, useScaled, cfg.WallTolerance),
		Conservation: ConservationCheck(evts, bins),
	}
	res.Diagnostics.Log(a.logger)

	a.logger.Infow("analysis complete",
		"run_id", res.RunID,
		"mode", cfg.Mode,
		"bins", len(rows),
		"events", len(evts),
		"trend_status", fit.Status,
	)
	return res, nil
}

// Run is a convenience wrapper around New and Analyzer.Run.
func Run(cfg Config, beam []exposure.Sample, counter []events.CounterSample, logger *zap.SugaredLogger) (*Result, error) {
	a, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return a.Run(beam, counter)
}

func observationWindow(beam []exposure.EquivalentSample, counter []events.CounterSample) binning.Window {
	var w binning.Window
	extend := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if w.Start.IsZero() || t.Before(w.Start) {
			w.Start = t
		}
		if w.End.IsZero() || t.After(w.End) {
			w.End = t
		}
	}
	for _, s := range beam {
		extend(s.Time)
	}
	for _, c := range counter {
		extend(c.Time)
	}
	return w
}

func binEdges(bins []binning.Bin) []time.Time {
	if len(bins) == 0 {
		return nil
	}
	edges := make([]time.Time, 0, len(bins)+1)
	for _, b := range bins {
		edges = append(edges, b.Start)
	}
	return append(edges, bins[len(bins)-1].End)
}
