// Package timeaxis turns heterogeneous timestamp columns into canonical UTC
// instants. Instruments log time as ISO strings, epoch numbers in any of four
// units, or already-typed values; a column is normalized as a whole so the
// epoch unit is inferred once from the column's largest magnitude.
package timeaxis

import (
	"database/sql"
	"math"
	"strconv"
	"strings"
	"time"
)

// Unit is the inferred resolution of a numeric epoch column.
type Unit string

const (
	Seconds      Unit = "s"
	Milliseconds Unit = "ms"
	Microseconds Unit = "us"
	Nanoseconds  Unit = "ns"
)

// layouts accepted for string timestamps. Values without a zone are UTC.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// InferUnit picks the epoch unit from the largest finite magnitude in the column.
func InferUnit(values []float64) Unit {
	m := 0.0
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	switch {
	case m > 1e18:
		return Nanoseconds
	case m > 1e15:
		return Microseconds
	case m > 1e12:
		return Milliseconds
	default:
		return Seconds
	}
}

// FromEpoch converts an epoch value in the given unit to a UTC time.
func FromEpoch(v float64, unit Unit) (time.Time, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, false
	}
	var ns float64
	switch unit {
	case Nanoseconds:
		ns = v
	case Microseconds:
		ns = v * 1e3
	case Milliseconds:
		ns = v * 1e6
	default:
		ns = v * 1e9
	}
	if ns > math.MaxInt64 || ns < math.MinInt64 {
		return time.Time{}, false
	}
	if unit == Seconds {
		// Split to keep sub-second precision on large second epochs.
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), true
	}
	return time.Unix(0, int64(ns)).UTC(), true
}

// ParseString parses an ISO-8601 style timestamp.
func ParseString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Normalize converts one column of raw values into instants. Entries that
// cannot be interpreted come back invalid. Supported element types are
// time.Time, *time.Time, sql.NullTime, string, []byte, signed and unsigned
// integers, float32/float64, sql.NullFloat64, sql.NullInt64 and nil.
// The input slice is not modified.
func Normalize(values []any) []sql.NullTime {
	out := make([]sql.NullTime, len(values))

	type num struct {
		f     float64
		i     int64
		exact bool
	}
	nums := make(map[int]num)
	strs := make(map[int]string)
	allStringsNumeric := true

	for i, v := range values {
		switch x := v.(type) {
		case nil:
		case time.Time:
			out[i] = fromTime(x)
		case *time.Time:
			if x != nil {
				out[i] = fromTime(*x)
			}
		case sql.NullTime:
			if x.Valid {
				out[i] = fromTime(x.Time)
			}
		case string:
			strs[i] = x
		case []byte:
			strs[i] = string(x)
		case int64:
			nums[i] = num{f: float64(x), i: x, exact: true}
		case int:
			nums[i] = num{f: float64(x), i: int64(x), exact: true}
		default:
			if f, ok := toFloat(x); ok {
				nums[i] = num{f: f}
			}
		}
	}

	parsed := make(map[int]float64, len(strs))
	for i, s := range strs {
		if strings.TrimSpace(s) == "" {
			parsed[i] = math.NaN()
			continue
		}
		f, ok := parseNumber(s)
		if !ok {
			allStringsNumeric = false
			break
		}
		parsed[i] = f
	}
	if allStringsNumeric {
		for i, f := range parsed {
			nums[i] = num{f: f}
		}
	} else {
		for i, s := range strs {
			if t, ok := ParseString(s); ok {
				out[i] = sql.NullTime{Time: t, Valid: true}
			}
		}
	}

	if len(nums) == 0 {
		return out
	}
	fs := make([]float64, 0, len(nums))
	for _, n := range nums {
		fs = append(fs, n.f)
	}
	unit := InferUnit(fs)
	for i, n := range nums {
		if n.exact && unit == Nanoseconds {
			out[i] = sql.NullTime{Time: time.Unix(0, n.i).UTC(), Valid: true}
			continue
		}
		if t, ok := FromEpoch(n.f, unit); ok {
			out[i] = sql.NullTime{Time: t, Valid: true}
		}
	}
	return out
}

func fromTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// NormalizeTimes is Normalize for an already-typed column.
func NormalizeTimes(ts []time.Time) []sql.NullTime {
	vals := make([]any, len(ts))
	for i, t := range ts {
		vals[i] = t
	}
	return Normalize(vals)
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case sql.NullFloat64:
		if x.Valid {
			return x.Float64, true
		}
		return math.NaN(), true
	case sql.NullInt64:
		if x.Valid {
			return float64(x.Int64), true
		}
		return math.NaN(), true
	}
	return 0, false
}

// SecondsBetween returns b-a in seconds.
func SecondsBetween(a, b time.Time) float64 {
	return b.Sub(a).Seconds()
}
