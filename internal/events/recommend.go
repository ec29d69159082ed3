package events

import (
	"math"
	"sort"
	"time"

	"github.com/chrissnell/radbin/internal/numeric"
)

// RecommendKMultiple suggests how many reset intervals to group per bin so a
// bin holds about targetPerBin events. It counts events between consecutive
// resets, takes the median and returns ceil(target/median), at least 1.
// With no resets or no events it returns 1.
func RecommendKMultiple(evts, resets []time.Time, targetPerBin int) int {
	if targetPerBin <= 0 || len(resets) < 2 || len(evts) == 0 {
		return 1
	}
	counts := make([]float64, 0, len(resets)-1)
	for i := 0; i+1 < len(resets); i++ {
		a, b := resets[i], resets[i+1]
		lo := sort.Search(len(evts), func(j int) bool { return !evts[j].Before(a) })
		hi := sort.Search(len(evts), func(j int) bool { return !evts[j].Before(b) })
		counts = append(counts, float64(hi-lo))
	}
	med := numeric.Median(counts)
	if !(med > 0) {
		return 1
	}
	k := int(math.Ceil(float64(targetPerBin) / med))
	if k < 1 {
		k = 1
	}
	return k
}
