package batch

import (
	"math"
	"sort"
)

// Summary describes the distribution of a metric across batch runs.
type Summary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stdDev"`
}

// Summarize computes distribution statistics for a sample. The standard
// deviation uses the sample (n-1) denominator and is zero for fewer than two
// points.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	var sumSquares float64
	for _, v := range sorted {
		diff := v - mean
		sumSquares += diff * diff
	}
	stdDev := 0.0
	if len(sorted) > 1 {
		stdDev = math.Sqrt(sumSquares / float64(len(sorted)-1))
	}

	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}

	return Summary{
		Count:  len(sorted),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   mean,
		Median: median,
		StdDev: stdDev,
	}
}
