// Package analyzer computes performance statistics from a completed backtest
// table: total, annualized, and annual returns, per-asset returns, and
// ranked non-overlapping drawdown episodes. All operations are read-only on
// the table.
package analyzer

import (
	"math"

	"github.com/quantlab/portfolio-backend/internal/backtest"
	"github.com/quantlab/portfolio-backend/pkg/types"
	"github.com/quantlab/portfolio-backend/pkg/utils"
)

// Analyzer derives statistics from one finished result table.
type Analyzer struct {
	table *types.ResultTable
}

// New creates an analyzer over a completed table.
func New(table *types.ResultTable) *Analyzer {
	return &Analyzer{table: table}
}

// TotalReturn is the whole-window return of the portfolio value.
func (a *Analyzer) TotalReturn() float64 {
	return a.table.Last().TotalValue/a.table.First().TotalValue - 1
}

// AnnualizedReturn extrapolates the total return geometrically to a 365-day
// basis over the actual calendar span. It fails when the span is zero days.
func (a *Analyzer) AnnualizedReturn() (float64, error) {
	total := a.TotalReturn()
	days := utils.CalendarDays(a.table.First().Date, a.table.Last().Date)
	if days == 0 {
		return 0, &backtest.ComputationError{
			Op:     "annualized return",
			Detail: "elapsed calendar days is zero",
		}
	}
	return annualize(total, days), nil
}

// AnnualReturns computes the return of each calendar year touched by the
// series, measured from the year's first to its last trading day. A year
// with a single trading day in range trivially returns zero.
func (a *Analyzer) AnnualReturns() map[int]float64 {
	out := make(map[int]float64)

	firstIdx := make(map[int]int)
	lastIdx := make(map[int]int)
	for i, day := range a.table.Days {
		year := day.Date.Year()
		if _, ok := firstIdx[year]; !ok {
			firstIdx[year] = i
		}
		lastIdx[year] = i
	}

	for year, fi := range firstIdx {
		first := a.table.Days[fi].TotalValue
		last := a.table.Days[lastIdx[year]].TotalValue
		out[year] = last/first - 1
	}
	return out
}

// PortfolioReturns bundles the portfolio-level return statistics.
func (a *Analyzer) PortfolioReturns() (*types.PortfolioReturns, error) {
	annualized, err := a.AnnualizedReturn()
	if err != nil {
		return nil, err
	}
	return &types.PortfolioReturns{
		TotalReturn:      a.TotalReturn(),
		AnnualizedReturn: annualized,
		AnnualReturns:    a.AnnualReturns(),
	}, nil
}

// PerAssetReturns applies the total and annualized return formulas to each
// instrument's own closing-price series, for attribution against the
// weighted portfolio.
func (a *Analyzer) PerAssetReturns() (*types.AssetReturns, error) {
	days := utils.CalendarDays(a.table.First().Date, a.table.Last().Date)
	if days == 0 {
		return nil, &backtest.ComputationError{
			Op:     "per-asset returns",
			Detail: "elapsed calendar days is zero",
		}
	}

	out := &types.AssetReturns{
		Returns:           make(map[string]float64, len(a.table.Symbols)),
		AnnualizedReturns: make(map[string]float64, len(a.table.Symbols)),
	}
	for _, sym := range a.table.Symbols {
		first := a.table.First().Closes[sym]
		last := a.table.Last().Closes[sym]
		ret := last/first - 1
		out.Returns[sym] = ret
		out.AnnualizedReturns[sym] = annualize(ret, days)
	}
	return out, nil
}

func annualize(totalReturn float64, calendarDays int) float64 {
	return math.Pow(1+totalReturn, 365/float64(calendarDays)) - 1
}
