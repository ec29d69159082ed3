// Package source reads raw beam and counter tables from CSV files or SQL
// databases and converts them into typed samples.
package source

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrMissingColumn  = errors.New("source: missing column")
	ErrLengthMismatch = errors.New("source: column length mismatch")
	ErrUnknownDriver  = errors.New("source: unknown database driver")
)

// Table is a set of equally long, named raw columns.
type Table struct {
	Columns map[string][]any
	// Order preserves the column order of the underlying file or query.
	Order []string
	Len   int
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{Columns: make(map[string][]any)}
}

// Add appends a column. The first column fixes the table length.
func (t *Table) Add(name string, values []any) error {
	if len(t.Order) == 0 {
		t.Len = len(values)
	} else if len(values) != t.Len {
		return fmt.Errorf("%w: column %q has %d rows, table has %d", ErrLengthMismatch, name, len(values), t.Len)
	}
	if _, ok := t.Columns[name]; !ok {
		t.Order = append(t.Order, name)
	}
	t.Columns[name] = values
	return nil
}

// Column returns the named column.
func (t *Table) Column(name string) ([]any, bool) {
	if t == nil || name == "" {
		return nil, false
	}
	c, ok := t.Columns[name]
	return c, ok
}

func (t *Table) require(name, role string) ([]any, error) {
	c, ok := t.Column(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s column %q", ErrMissingColumn, role, name)
	}
	return c, nil
}

// floatValue interprets a raw cell as a number. Empty strings and nil are
// missing; unparsable strings are missing too.
func floatValue(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return math.NaN(), false
	case float64:
		return x, !math.IsNaN(x)
	case float32:
		return float64(x), !math.IsNaN(float64(x))
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case []byte:
		return floatValue(string(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return math.NaN(), false
		}
		if b, ok := boolWord(s); ok {
			return floatValue(b)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return math.NaN(), false
		}
		return f, true
	}
	return math.NaN(), false
}

// boolValue interprets a raw cell as a beam-on flag: true only when the
// value equals 1. Bool words map to 1 and 0; missing cells are off.
func boolValue(v any) bool {
	f, ok := floatValue(v)
	return ok && f == 1
}

func boolWord(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "t", "yes", "y", "on":
		return true, true
	case "false", "f", "no", "n", "off":
		return false, true
	}
	return false, false
}
