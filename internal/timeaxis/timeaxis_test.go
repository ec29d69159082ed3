package timeaxis

import (
	"database/sql"
	"testing"
	"time"
)

func TestInferUnit(t *testing.T) {
	tests := []struct {
		name  string
		input []float64
		want  Unit
	}{
		{"seconds", []float64{1.7e9, 1.7e9 + 5}, Seconds},
		{"float seconds above 1e10", []float64{2e10}, Seconds},
		{"milliseconds", []float64{1.7e12}, Milliseconds},
		{"microseconds", []float64{1.7e15}, Microseconds},
		{"nanoseconds", []float64{1.7e18}, Nanoseconds},
		{"small relative seconds", []float64{0, 5, 10}, Seconds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferUnit(tt.input); got != tt.want {
				t.Errorf("InferUnit(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	ref := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	sec := float64(ref.Unix())

	tests := []struct {
		name  string
		input []any
		want  []sql.NullTime
	}{
		{
			name:  "epoch seconds",
			input: []any{sec, sec + 5},
			want:  []sql.NullTime{valid(ref), valid(ref.Add(5 * time.Second))},
		},
		{
			name:  "epoch milliseconds",
			input: []any{int64(ref.UnixMilli()), int64(ref.UnixMilli() + 500)},
			want:  []sql.NullTime{valid(ref), valid(ref.Add(500 * time.Millisecond))},
		},
		{
			name:  "epoch nanoseconds exact",
			input: []any{ref.UnixNano() + 1},
			want:  []sql.NullTime{valid(ref.Add(time.Nanosecond))},
		},
		{
			name:  "numeric strings coerced",
			input: []any{"1735722000", "1735722005"},
			want:  []sql.NullTime{valid(ref), valid(ref.Add(5 * time.Second))},
		},
		{
			name:  "iso strings",
			input: []any{"2025-01-01T09:00:00Z", "2025-01-01 09:00:05", "garbage"},
			want:  []sql.NullTime{valid(ref), valid(ref.Add(5 * time.Second)), {}},
		},
		{
			name:  "typed passthrough and nil",
			input: []any{ref, nil, time.Time{}},
			want:  []sql.NullTime{valid(ref), {}, {}},
		},
		{
			name:  "non-finite numbers invalid",
			input: []any{sec, "NaN"},
			want:  []sql.NullTime{valid(ref), {}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Valid != tt.want[i].Valid || !got[i].Time.Equal(tt.want[i].Time) {
					t.Errorf("[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := []any{"2025-01-01T09:00:00.25Z", "2025-01-01T09:00:05Z", "2025-01-01T10:00:00+01:00"}
	first := Normalize(raw)

	again := make([]any, len(first))
	for i, nt := range first {
		again[i] = nt
	}
	second := Normalize(again)

	for i := range first {
		if first[i].Valid != second[i].Valid || !first[i].Time.Equal(second[i].Time) {
			t.Errorf("[%d] renormalized %v, want %v", i, second[i], first[i])
		}
	}
}

func valid(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}
