// Package tableformat writes analysis reports as JSON, MessagePack, CSV or
// XLSX.
package tableformat

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/xuri/excelize/v2"
)

// Format names an output encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgPack Format = "msgpack"
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
)

var ErrUnknownFormat = errors.New("tableformat: unknown format")

// ParseFormat accepts a format name or a file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "json", "":
		return FormatJSON, nil
	case "msgpack", "mpk":
		return FormatMsgPack, nil
	case "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Formatter encodes reports.
type Formatter struct{}

// NewFormatter creates a new report formatter
func NewFormatter() *Formatter {
	return &Formatter{}
}

// Write encodes rep in format f.
func (f *Formatter) Write(w io.Writer, format Format, rep Report) error {
	switch format {
	case FormatJSON:
		return f.writeJSON(w, rep)
	case FormatMsgPack:
		return f.writeMsgPack(w, rep)
	case FormatCSV:
		return f.writeCSV(w, rep.Bins)
	case FormatXLSX:
		return f.writeXLSX(w, rep)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Write encodes rep with a default Formatter.
func Write(w io.Writer, format Format, rep Report) error {
	return NewFormatter().Write(w, format, rep)
}

func (f *Formatter) writeJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (f *Formatter) writeMsgPack(w io.Writer, data any) error {
	encoder := msgpack.NewEncoder(w)
	encoder.SetCustomStructTag("json") // Use json tags for MessagePack
	return encoder.Encode(data)
}

// BinColumns is the column order of the CSV and XLSX bin tables.
var BinColumns = []string{
	"t_start", "t_end", "t_mid", "width_s", "N", "T", "rate", "lo", "hi",
	"gap_N", "gap_sum", "gap_mean", "gap_median", "gap_p10", "gap_p90", "gap_p99", "gap_min", "gap_max",
}

// cells returns a row in BinColumns order; nil marks an undefined value.
func (b BinRow) cells() []any {
	return []any{
		b.Start.UTC().Format(time.RFC3339Nano),
		b.End.UTC().Format(time.RFC3339Nano),
		b.Mid.UTC().Format(time.RFC3339Nano),
		b.WidthS, b.N, b.T,
		deref(b.Rate), deref(b.Lo), deref(b.Hi),
		b.GapN, b.GapSum,
		deref(b.GapMean), deref(b.GapMedian), deref(b.GapP10), deref(b.GapP90),
		deref(b.GapP99), deref(b.GapMin), deref(b.GapMax),
	}
}

func (f *Formatter) writeCSV(w io.Writer, bins []BinRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(BinColumns); err != nil {
		return err
	}
	rec := make([]string, len(BinColumns))
	for _, b := range bins {
		for j, v := range b.cells() {
			rec[j] = csvCell(v)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	}
	return fmt.Sprint(v)
}

const (
	binsSheet  = "bins"
	trendSheet = "trend"
	runSheet   = "run"
)

func (f *Formatter) writeXLSX(w io.Writer, rep Report) error {
	x := excelize.NewFile()
	defer x.Close()

	x.SetSheetName("Sheet1", binsSheet)
	if _, err := x.NewSheet(trendSheet); err != nil {
		return err
	}
	if _, err := x.NewSheet(runSheet); err != nil {
		return err
	}

	for j, name := range BinColumns {
		if err := setCell(x, binsSheet, j+1, 1, name); err != nil {
			return err
		}
	}
	for i, b := range rep.Bins {
		for j, v := range b.cells() {
			if err := setCell(x, binsSheet, j+1, i+2, v); err != nil {
				return err
			}
		}
	}

	t := rep.Trend
	trendRows := [][2]any{
		{"status", t.Status},
		{"se_method", t.SEMethod},
		{"n_bins", t.NBins},
		{"converged", t.Converged},
		{"alpha", t.Alpha},
		{"beta0", deref(t.Beta0)},
		{"beta1", deref(t.Beta1)},
		{"se_beta1", deref(t.SEBeta1)},
		{"z", deref(t.Z)},
		{"p_value", deref(t.PValue)},
		{"beta1_lo", deref(t.Beta1Lo)},
		{"beta1_hi", deref(t.Beta1Hi)},
		{"rr_per_hour", deref(t.RateRatioPerHour)},
		{"rr_lo", deref(t.RateRatioLo)},
		{"rr_hi", deref(t.RateRatioHi)},
		{"slope_per_sd", deref(t.SlopePerSD)},
		{"lrt_p_value", deref(t.LRTPValue)},
		{"aic", deref(t.AIC)},
		{"deviance", deref(t.Deviance)},
		{"dispersion", deref(t.Dispersion)},
		{"suggest_overdispersion", t.SuggestOverdispersion},
		{"equivalence_rr", t.EquivalenceRR},
		{"tost_p_value", deref(t.TOSTPValue)},
		{"equivalent", t.Equivalent},
		{"summary", t.Summary},
	}
	if err := setPairs(x, trendSheet, trendRows); err != nil {
		return err
	}

	runRows := [][2]any{
		{"run_id", rep.RunID},
		{"created_at", rep.CreatedAt.UTC().Format(time.RFC3339)},
		{"mode", rep.Mode},
		{"source", rep.Source},
		{"use_scaled", rep.UseScaled},
		{"alpha", rep.Alpha},
		{"events", rep.Events},
		{"resets", len(rep.Resets)},
		{"recommended_k", rep.RecommendedK},
		{"exposure_total", rep.ExposureTotal},
	}
	if err := setPairs(x, runSheet, runRows); err != nil {
		return err
	}

	return x.Write(w)
}

func setPairs(x *excelize.File, sheet string, rows [][2]any) error {
	for i, kv := range rows {
		if err := setCell(x, sheet, 1, i+1, kv[0]); err != nil {
			return err
		}
		if err := setCell(x, sheet, 2, i+1, kv[1]); err != nil {
			return err
		}
	}
	return nil
}

// setCell leaves undefined values as blank cells.
func setCell(x *excelize.File, sheet string, col, row int, v any) error {
	if v == nil {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return x.SetCellValue(sheet, cell, v)
}

func deref(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
