package binning

import (
	"math"
	"testing"
)

func mkBins(ns []int64, ts []float64) []Bin {
	out := make([]Bin, len(ns))
	for i := range ns {
		out[i] = newBin(at(float64(i*10)), at(float64(i*10+10)), ns[i], ts[i], 0.05)
	}
	return out
}

func TestMergeByEvents(t *testing.T) {
	tests := []struct {
		name  string
		ns    []int64
		ts    []float64
		minN  int64
		wantN []int64
		wantT []float64
	}{
		{"nothing to merge", []int64{5, 6, 7}, []float64{1, 1, 1}, 5, []int64{5, 6, 7}, []float64{1, 1, 1}},
		{"forward merge", []int64{1, 2, 5, 6}, []float64{1, 2, 3, 4}, 3, []int64{3, 5, 6}, []float64{3, 3, 4}},
		{"trailing merged backward", []int64{5, 1}, []float64{1, 2}, 3, []int64{6}, []float64{3}},
		{"trailing accumulator merged backward", []int64{4, 1, 1}, []float64{1, 1, 1}, 3, []int64{6}, []float64{3}},
		{"sole bin under threshold kept", []int64{1}, []float64{1}, 3, []int64{1}, []float64{1}},
		{"all under threshold", []int64{1, 1}, []float64{1, 1}, 5, []int64{2}, []float64{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := mkBins(tt.ns, tt.ts)
			got := MergeByEvents(in, tt.minN, 0.05)
			if len(got) != len(tt.wantN) {
				t.Fatalf("got %d bins, want %d", len(got), len(tt.wantN))
			}
			for i, b := range got {
				if b.N != tt.wantN[i] || math.Abs(b.T-tt.wantT[i]) > 1e-12 {
					t.Errorf("bin %d = (N=%d, T=%v), want (N=%d, T=%v)", i, b.N, b.T, tt.wantN[i], tt.wantT[i])
				}
				if len(got) > 1 && b.N < tt.minN {
					t.Errorf("bin %d retains N=%d below threshold %d", i, b.N, tt.minN)
				}
				if !b.Estimate().Contains() {
					t.Errorf("bin %d interval does not contain rate", i)
				}
			}
			if !got[0].Start.Equal(in[0].Start) || !got[len(got)-1].End.Equal(in[len(in)-1].End) {
				t.Errorf("merged partition does not span the input")
			}
		})
	}
}

func TestMergeByExposure(t *testing.T) {
	in := mkBins([]int64{1, 2, 3, 4, 5}, []float64{0.5, 0.4, 2, 0.1, 0.3})
	got := MergeByExposure(in, 1, 0.05)

	// 0.5+0.4+2 closes the first bin; the trailing 0.1+0.3 stays short
	// and folds back into it.
	wantN := []int64{15}
	wantT := []float64{3.3}
	if len(got) != len(wantN) {
		t.Fatalf("got %d bins, want %d", len(got), len(wantN))
	}
	for i := range got {
		if got[i].N != wantN[i] || math.Abs(got[i].T-wantT[i]) > 1e-12 {
			t.Errorf("bin %d = (N=%d, T=%v), want (N=%d, T=%v)", i, got[i].N, got[i].T, wantN[i], wantT[i])
		}
	}
}

func TestMergeRecomputesFromSums(t *testing.T) {
	in := mkBins([]int64{2, 8}, []float64{1, 9})
	got := MergeByEvents(in, 5, 0.05)
	if len(got) != 1 {
		t.Fatalf("got %d bins, want 1", len(got))
	}
	// pooled rate 10/10, not the mean of 2/1 and 8/9
	if math.Abs(got[0].Rate.Float64-1) > 1e-12 {
		t.Errorf("rate = %v, want 1", got[0].Rate.Float64)
	}
}

func TestMergeOrder(t *testing.T) {
	in := mkBins([]int64{0, 10, 1, 10}, []float64{5, 0.2, 5, 5})
	got := Merge(in, MergeOptions{MinExposure: 1, MinEvents: 2, Alpha: 0.05})
	// The exposure pass folds the 0.2 s bin into its successor; the event
	// pass then folds the empty first bin forward.
	if len(got) != 2 {
		t.Fatalf("got %d bins, want 2", len(got))
	}
	if got[0].N != 11 || got[1].N != 10 {
		t.Errorf("N = (%d, %d), want (11, 10)", got[0].N, got[1].N)
	}
	if TotalEvents(got) != 21 {
		t.Errorf("merge lost events: %d", TotalEvents(got))
	}
}
