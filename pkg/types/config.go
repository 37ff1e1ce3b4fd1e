// Package types provides configuration types for the portfolio backend.
package types

import (
	"sort"
	"time"
)

// RebalanceStrategy selects how the engine trades back to target weights
type RebalanceStrategy string

const (
	NoRebalance     RebalanceStrategy = "NO_REBALANCE"
	AnnualRebalance RebalanceStrategy = "ANNUAL_REBALANCE"
	DriftRebalance  RebalanceStrategy = "DRIFT_REBALANCE"
)

// BacktestConfig represents the configuration for a single backtest run.
// TargetPercentage values should sum to 1.0; this is the caller's
// responsibility and is not enforced.
type BacktestConfig struct {
	ID                string             `json:"id,omitempty"`
	TargetPercentage  map[string]float64 `json:"targetPercentage"`
	StartDate         time.Time          `json:"startDate"`
	EndDate           time.Time          `json:"endDate"`
	InitialTotalValue float64            `json:"initialTotalValue"`
	RebalanceStrategy RebalanceStrategy  `json:"rebalanceStrategy"`
	// DriftThreshold is the fractional deviation that triggers a rebalance.
	// Required when RebalanceStrategy is DriftRebalance, ignored otherwise.
	DriftThreshold float64 `json:"driftThreshold,omitempty"`
}

// Symbols returns the configured instrument symbols in sorted order so that
// iteration order is deterministic across runs.
func (c *BacktestConfig) Symbols() []string {
	syms := make([]string, 0, len(c.TargetPercentage))
	for sym := range c.TargetPercentage {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

// RollingWindowConfig drives a rolling-window study: the base backtest is
// re-run from successive start dates to measure strategy stability.
type RollingWindowConfig struct {
	Base          BacktestConfig `json:"base"`
	FirstStart    time.Time      `json:"firstStart"`
	LastStart     time.Time      `json:"lastStart"`
	StepMonths    int            `json:"stepMonths"`
	WindowYears   int            `json:"windowYears"`
	DrawdownTopN  int            `json:"drawdownTopN,omitempty"`
	MaxConcurrent int            `json:"maxConcurrent,omitempty"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	WebSocketPath string        `json:"websocketPath"`
	ReadTimeout   time.Duration `json:"readTimeout"`
	WriteTimeout  time.Duration `json:"writeTimeout"`
	EnableMetrics bool          `json:"enableMetrics"`
}

// BatchConfig tunes parallel batch execution
type BatchConfig struct {
	// MaxWorkers caps concurrent backtest runs; 0 means one per CPU.
	MaxWorkers int `json:"maxWorkers"`
	// DrawdownTopN is the episode count used when a request omits one.
	DrawdownTopN int `json:"drawdownTopN"`
}

// DataConfig represents price storage configuration
type DataConfig struct {
	SQLitePath string `json:"sqlitePath"`
}
