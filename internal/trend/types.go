package trend

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/chrissnell/radbin/internal/binning"
)

// SEMethod selects the covariance estimator used for inference on the slope.
type SEMethod string

const (
	// SEMLE uses the inverse observed information of the Poisson likelihood.
	SEMLE SEMethod = "mle"
	// SERobust uses the HC3 sandwich estimator.
	SERobust SEMethod = "robust"
	// SEPearson scales the MLE covariance by Pearson χ²/df.
	SEPearson SEMethod = "pearson"
)

// Status summarizes whether a fit produced usable statistics.
type Status string

const (
	StatusOK               Status = "ok"
	StatusInsufficientData Status = "insufficient_data"
	StatusNoEvents         Status = "no_events"
	StatusNotConverged     Status = "not_converged"
)

var (
	ErrUnknownSEMethod = errors.New("trend: unknown standard error method")
	ErrInvalidOption   = errors.New("trend: invalid option")
)

// ParseSEMethod converts a configuration string into an SEMethod.
func ParseSEMethod(s string) (SEMethod, error) {
	switch m := SEMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case SEMLE, SERobust, SEPearson:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSEMethod, s)
}

// Options configures Test.
type Options struct {
	Alpha    float64
	SEMethod SEMethod
	// LRT adds a likelihood-ratio test against the intercept-only model.
	LRT bool
	// EquivalenceRR > 1 enables a TOST equivalence test that the hourly rate
	// ratio lies within [1/EquivalenceRR, EquivalenceRR].
	EquivalenceRR float64
	// OverdispersionThreshold flags fits whose Pearson dispersion exceeds it.
	OverdispersionThreshold float64
	MaxIter                 int
	Tolerance               float64
}

// DefaultOptions returns the defaults used by the CLI.
func DefaultOptions() Options {
	return Options{
		Alpha:                   0.05,
		SEMethod:                SEMLE,
		LRT:                     true,
		OverdispersionThreshold: 1.5,
		MaxIter:                 100,
		Tolerance:               1e-10,
	}
}

// Validate reports configuration errors.
func (o Options) Validate() error {
	if _, err := ParseSEMethod(string(o.SEMethod)); err != nil {
		return err
	}
	if !(o.Alpha > 0 && o.Alpha < 1) {
		return fmt.Errorf("%w: alpha must lie in (0, 1), got %v", ErrInvalidOption, o.Alpha)
	}
	if o.EquivalenceRR < 0 || math.IsNaN(o.EquivalenceRR) {
		return fmt.Errorf("%w: equivalence_rr must be non-negative, got %v", ErrInvalidOption, o.EquivalenceRR)
	}
	if o.MaxIter <= 0 {
		return fmt.Errorf("%w: max_iter must be positive, got %d", ErrInvalidOption, o.MaxIter)
	}
	if !(o.Tolerance > 0) {
		return fmt.Errorf("%w: tolerance must be positive, got %v", ErrInvalidOption, o.Tolerance)
	}
	return nil
}

// Observation is one bin as seen by the regression.
type Observation struct {
	Count    int64
	Exposure float64
	Mid      time.Time
}

// FromBins converts summarized bins into observations using T as exposure.
func FromBins(bins []binning.Bin) []Observation {
	out := make([]Observation, len(bins))
	for i, b := range bins {
		out[i] = Observation{Count: b.N, Exposure: b.T, Mid: b.Mid()}
	}
	return out
}

// Fit is the outcome of the offset Poisson trend regression. Slopes are per
// second of wall time; the rate ratio is per hour. Every statistic is
// undefined unless Status is StatusOK, and some stay undefined even then
// (for example Dispersion with only two bins).
type Fit struct {
	Status    Status
	SEMethod  SEMethod
	NBins     int
	Converged bool
	// Iterations is the number of Newton steps taken.
	Iterations int
	Alpha      float64

	Beta0   sql.NullFloat64 // intercept on the standardized time axis
	Beta1   sql.NullFloat64 // log-rate change per second
	SEBeta1 sql.NullFloat64
	Z       sql.NullFloat64
	PValue  sql.NullFloat64

	Beta1Lo sql.NullFloat64
	Beta1Hi sql.NullFloat64

	RateRatioPerHour sql.NullFloat64
	RateRatioLo      sql.NullFloat64
	RateRatioHi      sql.NullFloat64

	// SlopePerSD is the log-rate change per standard deviation of bin time.
	SlopePerSD sql.NullFloat64

	LRTPValue             sql.NullFloat64
	AIC                   sql.NullFloat64
	Deviance              sql.NullFloat64
	Dispersion            sql.NullFloat64
	SuggestOverdispersion bool

	EquivalenceRR float64
	TOSTPValue    sql.NullFloat64
	Equivalent    bool
}

// String renders a one-line report.
func (f Fit) String() string {
	if f.Status != StatusOK {
		return fmt.Sprintf("[trend] status=%s n_bins=%d", f.Status, f.NBins)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] RR per hour=%s CI%d%%=(%s,%s); Wald p=%s; LRT p=%s; phi=%s",
		f.SEMethod,
		fmtNull(f.RateRatioPerHour, "%.5f"),
		int(math.Round((1-f.Alpha)*100)),
		fmtNull(f.RateRatioLo, "%.5f"),
		fmtNull(f.RateRatioHi, "%.5f"),
		fmtNull(f.PValue, "%.3g"),
		fmtNull(f.LRTPValue, "%.3g"),
		fmtNull(f.Dispersion, "%.2f"),
	)
	if f.TOSTPValue.Valid {
		fmt.Fprintf(&b, " | TOST(rr±%g): p=%.3g, equivalent at alpha=%g: %t",
			f.EquivalenceRR, f.TOSTPValue.Float64, f.Alpha, f.Equivalent)
	}
	if f.SuggestOverdispersion && f.SEMethod == SEMLE {
		b.WriteString(" | overdispersion detected, consider robust or pearson")
	}
	return b.String()
}

func fmtNull(v sql.NullFloat64, format string) string {
	if !v.Valid {
		return "nan"
	}
	return fmt.Sprintf(format, v.Float64)
}
