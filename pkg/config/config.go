// Package config loads the YAML configuration of an analysis run.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chrissnell/radbin/internal/analysis"
	"github.com/chrissnell/radbin/internal/binning"
	"github.com/chrissnell/radbin/internal/events"
	"github.com/chrissnell/radbin/internal/exposure"
	"github.com/chrissnell/radbin/internal/source"
	"github.com/chrissnell/radbin/internal/trend"
	"github.com/chrissnell/radbin/pkg/tableformat"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// ConfigData is the complete configuration file.
type ConfigData struct {
	Columns     source.Columns  `yaml:"columns"`
	Exposure    ExposureData    `yaml:"exposure"`
	Resets      ResetsData      `yaml:"resets"`
	Binning     BinningData     `yaml:"binning"`
	Trend       TrendData       `yaml:"trend"`
	Diagnostics DiagnosticsData `yaml:"diagnostics"`
	Input       InputData       `yaml:"input"`
	Output      OutputData      `yaml:"output"`
	Store       *StoreData      `yaml:"store,omitempty"`
	Debug       bool            `yaml:"debug,omitempty"`
}

// ExposureData configures equivalent-exposure scaling.
type ExposureData struct {
	Ref            string   `yaml:"ref"`
	Floor          string   `yaml:"floor"`
	MinFrac        *float64 `yaml:"min_frac"`
	RMax           float64  `yaml:"rmax"`
	FreezeOff      *bool    `yaml:"freeze_off"`
	StartAtFirstOn *bool    `yaml:"start_at_first_on"`
	Mode           string   `yaml:"mode"`
}

// ResetsData configures reset detection.
type ResetsData struct {
	MinGapSeconds *float64 `yaml:"min_gap_s"`
	ChatterRateHz float64  `yaml:"chatter_rate_hz"`
}

// AreaNormData rescales rates by ref_area/run_area.
type AreaNormData struct {
	RunArea float64 `yaml:"run_area"`
	RefArea float64 `yaml:"ref_area"`
}

// BinningData configures edges, summaries and merging.
type BinningData struct {
	Mode               string        `yaml:"mode"`
	KMultiple          int           `yaml:"k_multiple"`
	NBins              int           `yaml:"n_bins"`
	TargetN            int           `yaml:"target_N"`
	Alpha              float64       `yaml:"alpha"`
	Source             string        `yaml:"source"`
	MinEventsPerBin    int64         `yaml:"min_events_per_bin,omitempty"`
	MinExposurePerBin  float64       `yaml:"min_exposure_per_bin,omitempty"`
	TargetEventsPerBin int           `yaml:"target_events_per_bin,omitempty"`
	AreaNorm           *AreaNormData `yaml:"area_norm,omitempty"`
	Workers            int           `yaml:"workers,omitempty"`
}

// TrendData configures the trend test. A zero alpha inherits the binning
// alpha.
type TrendData struct {
	SEMethod                string  `yaml:"se_method"`
	Alpha                   float64 `yaml:"alpha,omitempty"`
	LRT                     *bool   `yaml:"lrt"`
	EquivalenceRR           float64 `yaml:"equivalence_rr,omitempty"`
	OverdispersionThreshold float64 `yaml:"overdispersion_threshold"`
	MaxIter                 int     `yaml:"max_iter"`
	Tolerance               float64 `yaml:"tolerance"`
}

// DiagnosticsData sets the warning thresholds of the post-run checks.
type DiagnosticsData struct {
	ClipWarnRatio float64 `yaml:"clip_warn_ratio"`
	WallTolerance float64 `yaml:"wall_tolerance"`
}

// InputData selects where the beam and counter tables come from. Type is
// csv or sql.
type InputData struct {
	Type         string `yaml:"type"`
	BeamCSV      string `yaml:"beam_csv,omitempty"`
	CounterCSV   string `yaml:"counter_csv,omitempty"`
	Driver       string `yaml:"driver,omitempty"`
	DSN          string `yaml:"dsn,omitempty"`
	BeamQuery    string `yaml:"beam_query,omitempty"`
	CounterQuery string `yaml:"counter_query,omitempty"`
}

// OutputData selects the report encoding and destination. An empty path
// writes to stdout.
type OutputData struct {
	Format string `yaml:"format"`
	Path   string `yaml:"path,omitempty"`
}

// StoreData enables persisting runs.
type StoreData struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Label  string `yaml:"label,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() ConfigData {
	var c ConfigData
	c.applyDefaults()
	return c
}

func (c *ConfigData) applyDefaults() {
	def := analysis.DefaultConfig()
	c.normalize()

	if c.Columns.Beam == (source.BeamColumns{}) {
		c.Columns.Beam = source.DefaultColumns().Beam
	}
	if c.Columns.Counter.Time == "" {
		c.Columns.Counter.Time = source.DefaultColumns().Counter.Time
	}
	if c.Columns.Counter.Count == "" {
		c.Columns.Counter.Count = source.DefaultColumns().Counter.Count
	}

	e := &c.Exposure
	if e.Ref == "" {
		e.Ref = string(def.Exposure.Ref)
	}
	if e.Floor == "" {
		e.Floor = string(def.Exposure.Floor)
	}
	if e.MinFrac == nil {
		e.MinFrac = floatPtr(def.Exposure.MinFrac)
	}
	if e.RMax == 0 {
		e.RMax = def.Exposure.RMax
	}
	if e.FreezeOff == nil {
		e.FreezeOff = boolPtr(def.Exposure.FreezeOff)
	}
	if e.StartAtFirstOn == nil {
		e.StartAtFirstOn = boolPtr(def.Exposure.StartAtFirstOn)
	}
	if e.Mode == "" {
		e.Mode = string(def.Exposure.Mode)
	}

	if c.Resets.MinGapSeconds == nil {
		c.Resets.MinGapSeconds = floatPtr(def.Resets.MinGapSeconds)
	}
	if c.Resets.ChatterRateHz == 0 {
		c.Resets.ChatterRateHz = def.Resets.ChatterRateHz
	}

	b := &c.Binning
	if b.Mode == "" {
		b.Mode = string(def.Mode)
	}
	if b.KMultiple == 0 {
		b.KMultiple = def.KMultiple
	}
	if b.NBins == 0 {
		b.NBins = def.NBins
	}
	if b.TargetN == 0 {
		b.TargetN = def.TargetN
	}
	if b.Alpha == 0 {
		b.Alpha = def.Alpha
	}
	if b.Source == "" {
		b.Source = string(def.Source)
	}

	t := &c.Trend
	if t.SEMethod == "" {
		t.SEMethod = string(def.Trend.SEMethod)
	}
	if t.LRT == nil {
		t.LRT = boolPtr(def.Trend.LRT)
	}
	if t.OverdispersionThreshold == 0 {
		t.OverdispersionThreshold = def.Trend.OverdispersionThreshold
	}
	if t.MaxIter == 0 {
		t.MaxIter = def.Trend.MaxIter
	}
	if t.Tolerance == 0 {
		t.Tolerance = def.Trend.Tolerance
	}

	if c.Diagnostics.ClipWarnRatio == 0 {
		c.Diagnostics.ClipWarnRatio = def.ClipWarnRatio
	}
	if c.Diagnostics.WallTolerance == 0 {
		c.Diagnostics.WallTolerance = def.WallTolerance
	}

	if c.Input.Type == "" {
		c.Input.Type = "csv"
	}
	if c.Output.Format == "" {
		c.Output.Format = string(tableformat.FormatJSON)
	}
}

// normalize lowercases the enumerated string options.
func (c *ConfigData) normalize() {
	for _, p := range []*string{
		&c.Exposure.Ref, &c.Exposure.Floor, &c.Exposure.Mode,
		&c.Binning.Mode, &c.Binning.Source, &c.Trend.SEMethod,
		&c.Input.Type, &c.Output.Format,
	} {
		*p = strings.ToLower(strings.TrimSpace(*p))
	}
}

// Validate normalizes the enumerated options, then checks the file-level
// settings and the derived analysis configuration.
func (c *ConfigData) Validate() error {
	c.normalize()
	switch c.Input.Type {
	case "csv":
	case "sql":
		if _, err := source.DriverName(c.Input.Driver); err != nil {
			return fmt.Errorf("%w: input: %w", ErrInvalidConfig, err)
		}
		if c.Input.BeamQuery == "" || c.Input.CounterQuery == "" {
			return fmt.Errorf("%w: input: sql input needs beam_query and counter_query", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: input: unknown type %q", ErrInvalidConfig, c.Input.Type)
	}
	if _, err := tableformat.ParseFormat(c.Output.Format); err != nil {
		return fmt.Errorf("%w: output: %w", ErrInvalidConfig, err)
	}
	if c.Store != nil {
		if _, err := source.DriverName(c.Store.Driver); err != nil {
			return fmt.Errorf("%w: store: %w", ErrInvalidConfig, err)
		}
	}
	if c.Columns.Beam.Time == "" || c.Columns.Beam.Flux == "" || c.Columns.Beam.BeamOn == "" {
		return fmt.Errorf("%w: columns: beam time, flux and beam_on are required", ErrInvalidConfig)
	}

	acfg := c.ToAnalysis()
	if err := acfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ToAnalysis converts the file settings into an analysis configuration.
func (c *ConfigData) ToAnalysis() analysis.Config {
	cfg := analysis.DefaultConfig()

	cfg.Exposure = exposure.Options{
		Ref:            exposure.Reference(c.Exposure.Ref),
		Floor:          exposure.FloorStrategy(c.Exposure.Floor),
		MinFrac:        derefFloat(c.Exposure.MinFrac, cfg.Exposure.MinFrac),
		RMax:           c.Exposure.RMax,
		FreezeOff:      derefBool(c.Exposure.FreezeOff, cfg.Exposure.FreezeOff),
		StartAtFirstOn: derefBool(c.Exposure.StartAtFirstOn, cfg.Exposure.StartAtFirstOn),
		Mode:           exposure.Mode(c.Exposure.Mode),
	}
	cfg.Resets = events.ResetOptions{
		MinGapSeconds: derefFloat(c.Resets.MinGapSeconds, cfg.Resets.MinGapSeconds),
		ChatterRateHz: c.Resets.ChatterRateHz,
	}

	b := c.Binning
	cfg.Mode = binning.Mode(b.Mode)
	cfg.KMultiple = b.KMultiple
	cfg.NBins = b.NBins
	cfg.TargetN = b.TargetN
	cfg.Alpha = b.Alpha
	cfg.Source = binning.ExposureSource(b.Source)
	cfg.MinEventsPerBin = b.MinEventsPerBin
	cfg.MinExposurePerBin = b.MinExposurePerBin
	cfg.TargetEventsPerBin = b.TargetEventsPerBin
	cfg.Workers = b.Workers
	if b.AreaNorm != nil {
		cfg.AreaNorm = &analysis.AreaNorm{RunArea: b.AreaNorm.RunArea, RefArea: b.AreaNorm.RefArea}
	}

	t := c.Trend
	cfg.Trend = trend.Options{
		Alpha:                   t.Alpha,
		SEMethod:                trend.SEMethod(t.SEMethod),
		LRT:                     derefBool(t.LRT, cfg.Trend.LRT),
		EquivalenceRR:           t.EquivalenceRR,
		OverdispersionThreshold: t.OverdispersionThreshold,
		MaxIter:                 t.MaxIter,
		Tolerance:               t.Tolerance,
	}
	if cfg.Trend.Alpha == 0 {
		cfg.Trend.Alpha = b.Alpha
	}

	cfg.ClipWarnRatio = c.Diagnostics.ClipWarnRatio
	cfg.WallTolerance = c.Diagnostics.WallTolerance
	return cfg
}

// OutputFormat returns the configured report encoding.
func (c *ConfigData) OutputFormat() tableformat.Format {
	f, err := tableformat.ParseFormat(c.Output.Format)
	if err != nil {
		return tableformat.FormatJSON
	}
	return f
}

// InputSource opens the configured input. The returned close function
// releases any database handle and is never nil.
func (c *ConfigData) InputSource(ctx context.Context) (source.Source, func() error, error) {
	noop := func() error { return nil }
	switch c.Input.Type {
	case "sql":
		db, err := source.OpenDB(ctx, c.Input.Driver, c.Input.DSN)
		if err != nil {
			return nil, noop, err
		}
		src := source.SQLSource{DB: db, BeamQuery: c.Input.BeamQuery, CounterQuery: c.Input.CounterQuery}
		return src, db.Close, nil
	case "csv":
		if c.Input.BeamCSV == "" || c.Input.CounterCSV == "" {
			return nil, noop, fmt.Errorf("%w: input: beam_csv and counter_csv are required", ErrInvalidConfig)
		}
		return source.CSVSource{BeamPath: c.Input.BeamCSV, CounterPath: c.Input.CounterCSV}, noop, nil
	}
	return nil, noop, fmt.Errorf("%w: input: unknown type %q", ErrInvalidConfig, c.Input.Type)
}

func boolPtr(b bool) *bool {
	return &b
}

func derefBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func floatPtr(f float64) *float64 {
	return &f
}

func derefFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
