// Package batch_test provides tests for batch execution and statistics.
package batch_test

import (
	"math"
	"testing"

	"github.com/quantlab/portfolio-backend/internal/batch"
)

func TestSummarizeEmpty(t *testing.T) {
	got := batch.Summarize(nil)
	if got.Count != 0 {
		t.Errorf("Expected count 0, got %d", got.Count)
	}
}

func TestSummarizeSinglePoint(t *testing.T) {
	got := batch.Summarize([]float64{0.07})
	if got.Count != 1 || got.Min != 0.07 || got.Max != 0.07 || got.Median != 0.07 {
		t.Errorf("Unexpected single-point summary: %+v", got)
	}
	if got.StdDev != 0 {
		t.Errorf("Expected zero stddev for single point, got %v", got.StdDev)
	}
}

func TestSummarizeOddCount(t *testing.T) {
	got := batch.Summarize([]float64{0.3, 0.1, 0.2})
	if got.Count != 3 {
		t.Fatalf("Expected count 3, got %d", got.Count)
	}
	if got.Min != 0.1 || got.Max != 0.3 {
		t.Errorf("Expected min 0.1 max 0.3, got %v / %v", got.Min, got.Max)
	}
	if math.Abs(got.Median-0.2) > 1e-12 {
		t.Errorf("Expected median 0.2, got %v", got.Median)
	}
	if math.Abs(got.Mean-0.2) > 1e-12 {
		t.Errorf("Expected mean 0.2, got %v", got.Mean)
	}
	if math.Abs(got.StdDev-0.1) > 1e-12 {
		t.Errorf("Expected sample stddev 0.1, got %v", got.StdDev)
	}
}

func TestSummarizeEvenCountMedian(t *testing.T) {
	got := batch.Summarize([]float64{4, 1, 3, 2})
	if math.Abs(got.Median-2.5) > 1e-12 {
		t.Errorf("Expected median 2.5, got %v", got.Median)
	}
}
