package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/chrissnell/radbin/internal/events"
	"github.com/chrissnell/radbin/internal/exposure"
)

// ReadCSV reads a CSV file with a header row. Every cell is kept as a
// string; empty cells become nil.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return NewTable(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	names := make([]string, len(header))
	copy(names, header)

	cols := make([][]any, len(names))
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}
		for j := range names {
			var v any
			if j < len(rec) && rec[j] != "" {
				v = rec[j]
			}
			cols[j] = append(cols[j], v)
		}
	}

	t := NewTable()
	for j, name := range names {
		if cols[j] == nil {
			cols[j] = []any{}
		}
		if err := t.Add(name, cols[j]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ReadCSVFile opens path and reads it with ReadCSV.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	t, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// CSVSource reads the beam and counter tables from two CSV files.
type CSVSource struct {
	BeamPath    string
	CounterPath string
}

func (s CSVSource) Beam(ctx context.Context) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ReadCSVFile(s.BeamPath)
}

func (s CSVSource) Counter(ctx context.Context) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ReadCSVFile(s.CounterPath)
}

// WriteBeamCSV writes beam samples with columns time, dt, flux, beam_on.
func WriteBeamCSV(w io.Writer, samples []exposure.Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "dt", "flux", "beam_on"}); err != nil {
		return err
	}
	for _, s := range samples {
		on := "0"
		if s.BeamOn {
			on = "1"
		}
		rec := []string{
			s.Time.UTC().Format(time.RFC3339Nano),
			nullFloat(s.DT.Float64, s.DT.Valid),
			nullFloat(s.Flux.Float64, s.Flux.Valid),
			on,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCounterCSV writes counter samples with columns time, count and one
// column per flag name.
func WriteCounterCSV(w io.Writer, samples []events.CounterSample, flagNames []string) error {
	cw := csv.NewWriter(w)
	header := append([]string{"time", "count"}, flagNames...)
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(header))
	for _, s := range samples {
		rec[0] = s.Time.UTC().Format(time.RFC3339Nano)
		rec[1] = strconv.FormatInt(s.Count, 10)
		for j := range flagNames {
			rec[2+j] = ""
			if j < len(s.Flags) {
				rec[2+j] = nullFloat(s.Flags[j], !math.IsNaN(s.Flags[j]))
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func nullFloat(f float64, valid bool) string {
	if !valid {
		return ""
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
