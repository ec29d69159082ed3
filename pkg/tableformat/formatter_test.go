package tableformat

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/xuri/excelize/v2"
)

func testReport() Report {
	t0 := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	rate, lo, hi := 0.1, 0.074, 0.132
	gm := 12.5
	b0 := -2.3
	return Report{
		RunID:     "7d3c7c2e-7d0f-4b51-9d0a-2b5e8b1f6c11",
		CreatedAt: t0,
		Mode:      "reset",
		Source:    "beam",
		UseScaled: true,
		Alpha:     0.05,
		Events:    50,
		Resets:    []time.Time{t0.Add(500 * time.Second)},
		Bins: []BinRow{
			{
				Start: t0, End: t0.Add(500 * time.Second), Mid: t0.Add(250 * time.Second),
				WidthS: 500, N: 50, T: 500, Rate: &rate, Lo: &lo, Hi: &hi,
				GapN: 49, GapSum: 490, GapMean: &gm,
			},
			{
				Start: t0.Add(500 * time.Second), End: t0.Add(600 * time.Second), Mid: t0.Add(550 * time.Second),
				WidthS: 100,
			},
		},
		Trend: TrendRow{Status: "insufficient_data", SEMethod: "mle", NBins: 2, Beta0: &b0},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"json", FormatJSON},
		{"", FormatJSON},
		{".csv", FormatCSV},
		{"XLSX", FormatXLSX},
		{"mpk", FormatMsgPack},
		{"msgpack", FormatMsgPack},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseFormat("parquet"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("ParseFormat(parquet) error = %v", err)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatJSON, testReport()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	bins := got["bins"].([]any)
	if len(bins) != 2 {
		t.Fatalf("got %d bins, want 2", len(bins))
	}
	first, second := bins[0].(map[string]any), bins[1].(map[string]any)
	if first["rate"] != 0.1 || first["N"] != 50.0 {
		t.Errorf("first bin = %v", first)
	}
	if v, ok := second["rate"]; !ok || v != nil {
		t.Errorf("undefined rate encoded as %v (present %v), want null", v, ok)
	}
	if first["gap_N"] != 49.0 {
		t.Errorf("gap_N = %v, want 49", first["gap_N"])
	}
	tr := got["trend"].(map[string]any)
	if tr["status"] != "insufficient_data" || tr["beta0"] != -2.3 {
		t.Errorf("trend = %v", tr)
	}
	if v, ok := tr["beta1"]; !ok || v != nil {
		t.Errorf("undefined beta1 encoded as %v (present %v), want null", v, ok)
	}
}

func TestWriteMsgPack(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatMsgPack, testReport()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var got map[string]any
	if err := msgpack.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["run_id"] != testReport().RunID {
		t.Errorf("run_id = %v", got["run_id"])
	}
	bins, ok := got["bins"].([]any)
	if !ok || len(bins) != 2 {
		t.Fatalf("bins = %v", got["bins"])
	}
	if r := bins[1].(map[string]any)["rate"]; r != nil {
		t.Errorf("undefined rate encoded as %v", r)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatCSV, testReport()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	recs, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want header + 2", len(recs))
	}
	if recs[0][6] != "rate" || recs[1][6] != "0.1" || recs[2][6] != "" {
		t.Errorf("rate column = %q %q %q", recs[0][6], recs[1][6], recs[2][6])
	}
	if recs[0][9] != "gap_N" || recs[1][9] != "49" {
		t.Errorf("gap_N column = %q %q", recs[0][9], recs[1][9])
	}
	if recs[1][0] != "2025-02-01T08:00:00Z" || recs[1][4] != "50" {
		t.Errorf("first row = %v", recs[1])
	}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatXLSX, testReport()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(binsSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "t_start" {
		t.Fatalf("bins sheet = %v", rows)
	}
	if rows[1][4] != "50" {
		t.Errorf("N cell = %q", rows[1][4])
	}
	if rows[0][9] != "gap_N" {
		t.Errorf("gap column header = %q", rows[0][9])
	}
	status, err := f.GetCellValue(trendSheet, "B1")
	if err != nil || status != "insufficient_data" {
		t.Errorf("trend status cell = %q, %v", status, err)
	}
	name, _ := f.GetCellValue(trendSheet, "A6")
	b0, _ := f.GetCellValue(trendSheet, "B6")
	if name != "beta0" || b0 != "-2.3" {
		t.Errorf("trend row 6 = %q %q, want beta0 -2.3", name, b0)
	}
	id, _ := f.GetCellValue(runSheet, "B1")
	if id != testReport().RunID {
		t.Errorf("run id cell = %q", id)
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, "yaml", testReport()); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Write error = %v", err)
	}
}
