package backtest_test

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quantlab/portfolio-backend/internal/backtest"
	"github.com/quantlab/portfolio-backend/pkg/types"
)

func driftConfig(threshold float64) *types.BacktestConfig {
	return &types.BacktestConfig{
		TargetPercentage:  map[string]float64{"AAA": 0.5, "BBB": 0.5},
		RebalanceStrategy: types.DriftRebalance,
		DriftThreshold:    threshold,
	}
}

func mustPolicy(t *testing.T, config *types.BacktestConfig) backtest.RebalancePolicy {
	t.Helper()
	policy, err := backtest.NewPolicy(zap.NewNop(), config)
	if err != nil {
		t.Fatalf("Failed to build policy: %v", err)
	}
	return policy
}

func TestNewPolicyUnknownStrategy(t *testing.T) {
	config := &types.BacktestConfig{RebalanceStrategy: "QUARTERLY"}
	if _, err := backtest.NewPolicy(zap.NewNop(), config); err == nil {
		t.Error("Expected error for unknown strategy, got nil")
	}
}

func TestNoRebalancePolicyNeverTriggers(t *testing.T) {
	policy := mustPolicy(t, &types.BacktestConfig{RebalanceStrategy: types.NoRebalance})

	prev := date(t, "2023-12-29")
	cur := date(t, "2024-01-02")
	got, err := policy.ShouldRebalance(cur, prev, types.DayState{})
	if err != nil {
		t.Fatalf("ShouldRebalance failed: %v", err)
	}
	if got {
		t.Error("NO_REBALANCE policy triggered a rebalance")
	}
}

func TestAnnualPolicyYearBoundary(t *testing.T) {
	policy := mustPolicy(t, &types.BacktestConfig{RebalanceStrategy: types.AnnualRebalance})

	cases := []struct {
		name     string
		previous string
		current  string
		want     bool
	}{
		{"december to january", "2023-12-29", "2024-01-02", true},
		{"long holiday gap", "2023-12-22", "2024-01-03", true},
		{"within december", "2023-12-27", "2023-12-28", false},
		{"within january", "2024-01-02", "2024-01-03", false},
		{"mid year", "2024-06-14", "2024-06-17", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := policy.ShouldRebalance(date(t, tc.current), date(t, tc.previous), types.DayState{})
			if err != nil {
				t.Fatalf("ShouldRebalance failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("Expected %v for %s -> %s, got %v", tc.want, tc.previous, tc.current, got)
			}
		})
	}
}

func TestDriftPolicyThreshold(t *testing.T) {
	policy := mustPolicy(t, driftConfig(0.2))
	day := date(t, "2024-03-15")

	cases := []struct {
		name   string
		values map[string]float64
		total  float64
		want   bool
	}{
		{"on target", map[string]float64{"AAA": 500, "BBB": 500}, 1000, false},
		{"within band", map[string]float64{"AAA": 590, "BBB": 410}, 1000, false},
		{"at threshold", map[string]float64{"AAA": 600, "BBB": 400}, 1000, false},
		{"beyond threshold", map[string]float64{"AAA": 625, "BBB": 375}, 1000, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prev := types.DayState{Values: tc.values, TotalValue: tc.total}
			got, err := policy.ShouldRebalance(day, day, prev)
			if err != nil {
				t.Fatalf("ShouldRebalance failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("Expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestDriftPolicyZeroTarget(t *testing.T) {
	policy := mustPolicy(t, driftConfig(0.2))

	prev := types.DayState{Values: map[string]float64{"AAA": 0, "BBB": 0}, TotalValue: 0}
	_, err := policy.ShouldRebalance(date(t, "2024-03-15"), time.Time{}, prev)
	if err == nil {
		t.Fatal("Expected computation error for zero target, got nil")
	}
	var compErr *backtest.ComputationError
	if !errors.As(err, &compErr) {
		t.Errorf("Expected ComputationError, got %T: %v", err, err)
	}
}
