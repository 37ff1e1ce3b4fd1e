// Package types provides shared type definitions for the portfolio backend.
package types

import (
	"math"
	"time"
)

// Market identifies the exchange region an instrument trades in
type Market string

const (
	MarketUS Market = "US"
	MarketCN Market = "CN"
)

// Category classifies an instrument
type Category string

const (
	CategoryStock     Category = "stock"
	CategoryETF       Category = "ETF"
	CategoryIndex     Category = "index"
	CategoryBondFund  Category = "bond_fund"
	CategoryStockFund Category = "stock_fund"
	CategoryMoneyFund Category = "money_fund"
)

// Instrument is immutable reference data describing a tradeable product
type Instrument struct {
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name"`
	Market       Market    `json:"market"`
	Category     Category  `json:"category"`
	EarliestDate time.Time `json:"earliestDate"`
}

// PriceMatrix is a date-indexed table of closing prices, one column per
// instrument. Dates are strictly increasing with no duplicates. Missing
// cells are represented as NaN until filled.
type PriceMatrix struct {
	Dates   []time.Time          `json:"dates"`
	Columns map[string][]float64 `json:"columns"`
}

// NewPriceMatrix creates an empty matrix pre-sized for the given dates and
// symbols, with every cell marked missing.
func NewPriceMatrix(dates []time.Time, symbols []string) *PriceMatrix {
	m := &PriceMatrix{
		Dates:   dates,
		Columns: make(map[string][]float64, len(symbols)),
	}
	for _, sym := range symbols {
		col := make([]float64, len(dates))
		for i := range col {
			col[i] = math.NaN()
		}
		m.Columns[sym] = col
	}
	return m
}

// Len returns the number of trading days in the matrix.
func (m *PriceMatrix) Len() int {
	return len(m.Dates)
}

// HasMissing reports whether any cell in the named column is NaN. A column
// that does not exist counts as missing.
func (m *PriceMatrix) HasMissing(symbol string) bool {
	col, ok := m.Columns[symbol]
	if !ok {
		return true
	}
	for _, v := range col {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// DayState is one row of the simulation table: per-instrument closing
// prices, share counts, and market values for a single trading day, plus the
// portfolio total.
type DayState struct {
	Date       time.Time          `json:"date"`
	Closes     map[string]float64 `json:"closes"`
	Shares     map[string]float64 `json:"shares"`
	Values     map[string]float64 `json:"values"`
	TotalValue float64            `json:"totalValue"`
}

// ResultTable is the full day-by-day simulation artifact. Rows are appended
// by successive engine steps and never rewritten afterwards.
type ResultTable struct {
	Symbols []string   `json:"symbols"`
	Days    []DayState `json:"days"`
}

// Len returns the number of simulated days.
func (t *ResultTable) Len() int {
	return len(t.Days)
}

// First returns the first day row. Callers must check Len first.
func (t *ResultTable) First() DayState {
	return t.Days[0]
}

// Last returns the final day row. Callers must check Len first.
func (t *ResultTable) Last() DayState {
	return t.Days[len(t.Days)-1]
}

// TotalValues returns the total-value series in day order.
func (t *ResultTable) TotalValues() []float64 {
	out := make([]float64, len(t.Days))
	for i, d := range t.Days {
		out[i] = d.TotalValue
	}
	return out
}

// DrawdownEpisode describes one peak-to-trough-to-recovery interval of the
// portfolio value series.
type DrawdownEpisode struct {
	MaxDrawdown    float64    `json:"maxDrawdown"` // percentage, <= 0
	PeakDate       time.Time  `json:"peakDate"`
	TroughDate     time.Time  `json:"troughDate"`
	RecoveryDate   *time.Time `json:"recoveryDate,omitempty"` // nil if never recovered
	DrawdownLength int        `json:"drawdownLength"`         // trading days, peak..trough inclusive
	RecoveryLength *int       `json:"recoveryLength,omitempty"`
}

// PortfolioReturns holds portfolio-level return statistics.
type PortfolioReturns struct {
	TotalReturn      float64         `json:"totalReturn"`
	AnnualizedReturn float64         `json:"annualizedReturn"`
	AnnualReturns    map[int]float64 `json:"annualReturns"`
}

// AssetReturns holds per-instrument return statistics computed from each
// instrument's own closing-price series.
type AssetReturns struct {
	Returns           map[string]float64 `json:"returns"`
	AnnualizedReturns map[string]float64 `json:"annualizedReturns"`
}

// BacktestResult bundles the simulation table with its derived statistics.
type BacktestResult struct {
	ID               string            `json:"id"`
	Config           *BacktestConfig   `json:"config"`
	Table            *ResultTable      `json:"table"`
	Returns          *PortfolioReturns `json:"returns"`
	PerAsset         *AssetReturns     `json:"perAsset"`
	DrawdownEpisodes []DrawdownEpisode `json:"drawdownEpisodes"`
	StartedAt        time.Time         `json:"startedAt"`
	CompletedAt      time.Time         `json:"completedAt"`
	Duration         time.Duration     `json:"duration"`
}

// BacktestProgress reports the state of a running backtest
type BacktestProgress struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "running", "completed", "failed"
	DaysProcessed int       `json:"daysProcessed"`
	TotalDays     int       `json:"totalDays"`
	CurrentDate   time.Time `json:"currentDate"`
	CurrentValue  float64   `json:"currentValue"`
	Error         string    `json:"error,omitempty"`
}
