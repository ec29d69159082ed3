package analysis

import (
	"errors"
	"fmt"

	"github.com/chrissnell/radbin/internal/binning"
	"github.com/chrissnell/radbin/internal/events"
	"github.com/chrissnell/radbin/internal/exposure"
	"github.com/chrissnell/radbin/internal/poisson"
	"github.com/chrissnell/radbin/internal/trend"
)

var ErrInvalidConfig = errors.New("analysis: invalid configuration")

// AreaNorm rescales rates by RefArea/RunArea to compare detectors of
// different sensitive area.
type AreaNorm struct {
	RunArea float64
	RefArea float64
}

// Factor returns RefArea/RunArea, or 1 when the normalization is unusable.
func (a *AreaNorm) Factor() float64 {
	if a == nil || !(a.RunArea > 0) || !(a.RefArea > 0) {
		return 1
	}
	return a.RefArea / a.RunArea
}

// Config is the complete, immutable set of options for one analysis run.
type Config struct {
	Exposure exposure.Options
	Resets   events.ResetOptions

	Mode      binning.Mode
	KMultiple int
	NBins     int
	TargetN   int
	Alpha     float64
	Source    binning.ExposureSource

	MinEventsPerBin   int64
	MinExposurePerBin float64

	AreaNorm *AreaNorm
	Trend    trend.Options

	// TargetEventsPerBin > 0 reports a recommended k_multiple for reset mode.
	TargetEventsPerBin int
	// ClipWarnRatio flags scale ratios above it.
	ClipWarnRatio float64
	// WallTolerance is the allowed relative mismatch between summed T and
	// summed bin width for unscaled runs.
	WallTolerance float64

	// Workers bounds per-bin concurrency; 0 means GOMAXPROCS.
	Workers int
}

// DefaultConfig returns equal-fluence binning with 30 bins at 95%.
func DefaultConfig() Config {
	return Config{
		Exposure:      exposure.DefaultOptions(),
		Resets:        events.DefaultResetOptions(),
		Mode:          binning.ModeFluence,
		KMultiple:     1,
		NBins:         30,
		TargetN:       100,
		Alpha:         poisson.DefaultAlpha,
		Source:        binning.SourceBeam,
		Trend:         trend.DefaultOptions(),
		ClipWarnRatio: 100,
		WallTolerance: 0.2,
	}
}

// Validate reports configuration errors. Errors wrap the owning package's
// sentinel where one exists.
func (c Config) Validate() error {
	if err := c.Exposure.Validate(); err != nil {
		return err
	}
	if err := c.Resets.Validate(); err != nil {
		return err
	}
	mode, err := binning.ParseMode(string(c.Mode))
	if err != nil {
		return err
	}
	if _, err := binning.ParseSource(string(c.Source)); err != nil {
		return err
	}
	if err := poisson.ValidateAlpha(c.Alpha); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch mode {
	case binning.ModeReset:
		if c.KMultiple <= 0 {
			return fmt.Errorf("%w: k_multiple must be positive, got %d", binning.ErrInvalidOption, c.KMultiple)
		}
	case binning.ModeFluence:
		if c.NBins <= 0 {
			return fmt.Errorf("%w: n_bins must be positive, got %d", binning.ErrInvalidOption, c.NBins)
		}
	case binning.ModeCount:
		if c.TargetN <= 0 {
			return fmt.Errorf("%w: target_N must be positive, got %d", binning.ErrInvalidOption, c.TargetN)
		}
	}
	if c.MinEventsPerBin < 0 || c.MinExposurePerBin < 0 {
		return fmt.Errorf("%w: merge thresholds must be non-negative", ErrInvalidConfig)
	}
	if c.AreaNorm != nil && (!(c.AreaNorm.RunArea > 0) || !(c.AreaNorm.RefArea > 0)) {
		return fmt.Errorf("%w: area_norm areas must be positive", ErrInvalidConfig)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative", ErrInvalidConfig)
	}
	return c.Trend.Validate()
}
