// Package poisson provides exact confidence intervals for Poisson rates.
package poisson

import (
	"database/sql"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultAlpha gives the 95% two-sided interval.
const DefaultAlpha = 0.05

var ErrInvalidAlpha = errors.New("poisson: alpha must lie in (0, 1)")

// ValidateAlpha reports whether alpha is usable as a two-sided significance.
func ValidateAlpha(alpha float64) error {
	if !(alpha > 0 && alpha < 1) {
		return fmt.Errorf("%w, got %v", ErrInvalidAlpha, alpha)
	}
	return nil
}

// Estimate is a rate with its Garwood interval. All three values are
// undefined when the exposure is not positive.
type Estimate struct {
	Rate sql.NullFloat64
	Lo   sql.NullFloat64
	Hi   sql.NullFloat64
}

// Rate returns n/t, undefined when t is not positive.
func Rate(n int64, t float64) sql.NullFloat64 {
	if !(t > 0) || math.IsInf(t, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: float64(n) / t, Valid: true}
}

// Garwood returns the exact two-sided interval on the rate of a Poisson
// process that produced n events over exposure t:
//
//	lo = χ²(α/2; 2n) / 2t   (0 when n = 0)
//	hi = χ²(1-α/2; 2n+2) / 2t
func Garwood(n int64, t, alpha float64) (lo, hi sql.NullFloat64) {
	if !(t > 0) || math.IsInf(t, 0) {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	if n < 0 {
		n = 0
	}
	var loMu float64
	if n > 0 {
		loMu = 0.5 * distuv.ChiSquared{K: float64(2 * n)}.Quantile(alpha/2)
	}
	hiMu := 0.5 * distuv.ChiSquared{K: float64(2 * (n + 1))}.Quantile(1-alpha/2)
	return sql.NullFloat64{Float64: loMu / t, Valid: true},
		sql.NullFloat64{Float64: hiMu / t, Valid: true}
}

// Interval computes Rate and Garwood together.
func Interval(n int64, t, alpha float64) Estimate {
	lo, hi := Garwood(n, t, alpha)
	return Estimate{Rate: Rate(n, t), Lo: lo, Hi: hi}
}

// Contains reports whether Lo <= Rate <= Hi. Undefined estimates contain
// nothing.
func (e Estimate) Contains() bool {
	if !e.Rate.Valid || !e.Lo.Valid || !e.Hi.Valid {
		return false
	}
	return e.Lo.Float64 <= e.Rate.Float64 && e.Rate.Float64 <= e.Hi.Float64
}
