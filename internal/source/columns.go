package source

import (
	"database/sql"
	"math"
	"sort"

	"github.com/chrissnell/radbin/internal/events"
	"github.com/chrissnell/radbin/internal/exposure"
	"github.com/chrissnell/radbin/internal/timeaxis"
)

// BeamColumns names the beam table columns. DT is optional.
type BeamColumns struct {
	Time   string `yaml:"time"`
	DT     string `yaml:"dt,omitempty"`
	Flux   string `yaml:"flux"`
	BeamOn string `yaml:"beam_on"`
}

// CounterColumns names the counter table columns. Flags are the auxiliary
// columns whose changes mark resets.
type CounterColumns struct {
	Time  string   `yaml:"time"`
	Count string   `yaml:"count"`
	Flags []string `yaml:"flags,omitempty"`
}

// Columns is the complete column mapping for one run.
type Columns struct {
	Beam    BeamColumns    `yaml:"beam"`
	Counter CounterColumns `yaml:"counter"`
}

func DefaultColumns() Columns {
	return Columns{
		Beam:    BeamColumns{Time: "time", DT: "dt", Flux: "flux", BeamOn: "beam_on"},
		Counter: CounterColumns{Time: "time", Count: "count"},
	}
}

// BeamSamples converts a raw beam table. Rows whose time cannot be
// interpreted are dropped and the rest are returned in time order. A
// missing flux value is kept as undefined. The beam is on only where the
// beam_on cell equals 1; blank cells count as off.
func BeamSamples(t *Table, cols BeamColumns) ([]exposure.Sample, error) {
	tc, err := t.require(cols.Time, "beam time")
	if err != nil {
		return nil, err
	}
	fc, err := t.require(cols.Flux, "flux")
	if err != nil {
		return nil, err
	}
	oc, err := t.require(cols.BeamOn, "beam_on")
	if err != nil {
		return nil, err
	}
	dc, _ := t.Column(cols.DT)

	times := timeaxis.Normalize(tc)
	out := make([]exposure.Sample, 0, len(times))
	for i, nt := range times {
		if !nt.Valid {
			continue
		}
		s := exposure.Sample{Time: nt.Time, BeamOn: boolValue(oc[i])}
		if f, ok := floatValue(fc[i]); ok {
			s.Flux = sql.NullFloat64{Float64: f, Valid: true}
		}
		if dc != nil {
			if f, ok := floatValue(dc[i]); ok {
				s.DT = sql.NullFloat64{Float64: f, Valid: true}
			}
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// CounterSamples converts a raw counter table. Rows whose time cannot be
// interpreted are dropped and the rest are returned in time order. Missing
// counts are forward-filled, with leading gaps filled by zero. Missing flag
// values stay NaN.
func CounterSamples(t *Table, cols CounterColumns) ([]events.CounterSample, error) {
	tc, err := t.require(cols.Time, "counter time")
	if err != nil {
		return nil, err
	}
	cc, err := t.require(cols.Count, "count")
	if err != nil {
		return nil, err
	}
	flags := make([][]any, len(cols.Flags))
	for j, name := range cols.Flags {
		if flags[j], err = t.require(name, "flag"); err != nil {
			return nil, err
		}
	}

	type row struct {
		s   events.CounterSample
		cnt float64
		ok  bool
	}
	times := timeaxis.Normalize(tc)
	rows := make([]row, 0, len(times))
	for i, nt := range times {
		if !nt.Valid {
			continue
		}
		r := row{s: events.CounterSample{Time: nt.Time}}
		r.cnt, r.ok = floatValue(cc[i])
		if len(flags) > 0 {
			r.s.Flags = make([]float64, len(flags))
			for j, fcol := range flags {
				f, ok := floatValue(fcol[i])
				if !ok {
					f = math.NaN()
				}
				r.s.Flags[j] = f
			}
		}
		rows = append(rows, r)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].s.Time.Before(rows[j].s.Time) })

	out := make([]events.CounterSample, len(rows))
	var last float64
	for i, r := range rows {
		if r.ok {
			last = r.cnt
		}
		r.s.Count = int64(math.Round(last))
		out[i] = r.s
	}
	return out, nil
}
