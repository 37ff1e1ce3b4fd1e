// Package backtest implements the portfolio backtest engine: it simulates
// day-by-day holdings evolution under a rebalancing policy and retains the
// full simulation table for analysis.
package backtest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/quantlab/portfolio-backend/internal/pricedata"
	"github.com/quantlab/portfolio-backend/internal/registry"
	"github.com/quantlab/portfolio-backend/pkg/types"
	"github.com/quantlab/portfolio-backend/pkg/utils"
)

// ProgressFunc receives periodic progress updates during Run. It is called
// synchronously on the simulation goroutine and must be fast.
type ProgressFunc func(daysProcessed, totalDays int, state types.DayState)

// Engine owns the simulation state machine. A single Engine runs one
// backtest; independent runs use independent engines and may execute in
// parallel, since each owns its own table and reads the provider through an
// immutable query.
type Engine struct {
	logger   *zap.Logger
	provider pricedata.Provider
	registry *registry.Registry
	config   *types.BacktestConfig
	policy   RebalancePolicy

	symbols []string
	matrix  *types.PriceMatrix
	table   *types.ResultTable

	progress      ProgressFunc
	progressEvery int
}

// NewEngine creates an engine for one backtest configuration.
func NewEngine(logger *zap.Logger, provider pricedata.Provider, reg *registry.Registry, config *types.BacktestConfig) *Engine {
	return &Engine{
		logger:        logger,
		provider:      provider,
		registry:      reg,
		config:        config,
		symbols:       config.Symbols(),
		progressEvery: 250,
	}
}

// SetProgressFunc installs a progress callback, invoked roughly once per
// simulated year and on the final day.
func (e *Engine) SetProgressFunc(fn ProgressFunc) {
	e.progress = fn
}

// Initialize validates the configuration, pulls the price matrix from the
// provider once, eliminates gaps, and seeds day 0. It fails fast: no
// simulation work happens on invalid configuration or partial data.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.validate(); err != nil {
		return err
	}

	policy, err := NewPolicy(e.logger, e.config)
	if err != nil {
		return &ConfigurationError{Violations: []string{err.Error()}}
	}
	e.policy = policy

	matrix, err := e.provider.GetPrices(ctx, e.symbols, e.config.StartDate, e.config.EndDate)
	if err != nil {
		return fmt.Errorf("failed to load prices: %w", err)
	}
	if matrix.Len() == 0 {
		return &DataUnavailableError{Start: e.config.StartDate, End: e.config.EndDate}
	}

	fillGaps(matrix)

	// A column still missing after the fill pass had no data at all.
	for _, sym := range e.symbols {
		if matrix.HasMissing(sym) {
			return &DataUnavailableError{Symbol: sym, Start: e.config.StartDate, End: e.config.EndDate}
		}
	}
	e.matrix = matrix

	// Seed day 0. The total is set to exactly the initial capital rather
	// than recomputed from share values, so no floating-point drift enters
	// at the seed.
	day0 := types.DayState{
		Date:   matrix.Dates[0],
		Closes: make(map[string]float64, len(e.symbols)),
		Shares: make(map[string]float64, len(e.symbols)),
		Values: make(map[string]float64, len(e.symbols)),
	}
	for _, sym := range e.symbols {
		price := matrix.Columns[sym][0]
		shares := e.config.InitialTotalValue * e.config.TargetPercentage[sym] / price
		day0.Closes[sym] = price
		day0.Shares[sym] = shares
		day0.Values[sym] = shares * price
	}
	day0.TotalValue = e.config.InitialTotalValue

	e.table = &types.ResultTable{
		Symbols: e.symbols,
		Days:    make([]types.DayState, 0, matrix.Len()),
	}
	e.table.Days = append(e.table.Days, day0)

	e.logger.Info("Backtest initialized",
		zap.String("id", e.config.ID),
		zap.Strings("symbols", e.symbols),
		zap.Int("tradingDays", matrix.Len()),
		zap.String("strategy", string(e.config.RebalanceStrategy)),
	)
	return nil
}

// validate collects every configuration violation before any simulation work.
func (e *Engine) validate() error {
	var violations []string

	if len(e.config.TargetPercentage) == 0 {
		violations = append(violations, "target percentages are empty")
	}
	if e.config.InitialTotalValue <= 0 {
		violations = append(violations, fmt.Sprintf("initial total value must be positive, got %v", e.config.InitialTotalValue))
	}
	if e.config.EndDate.Before(e.config.StartDate) {
		violations = append(violations, fmt.Sprintf("end date %s precedes start date %s",
			utils.FormatDate(e.config.EndDate), utils.FormatDate(e.config.StartDate)))
	}

	for _, sym := range e.symbols {
		inst, ok := e.registry.Get(sym)
		if !ok {
			violations = append(violations, fmt.Sprintf("%s is not a supported instrument", sym))
			continue
		}
		if inst.EarliestDate.After(e.config.StartDate) {
			violations = append(violations, fmt.Sprintf("%s (%s) data starts %s, after backtest start %s",
				sym, inst.Name, utils.FormatDate(inst.EarliestDate), utils.FormatDate(e.config.StartDate)))
		}
	}

	switch e.config.RebalanceStrategy {
	case types.NoRebalance, types.AnnualRebalance:
	case types.DriftRebalance:
		if e.config.DriftThreshold <= 0 {
			violations = append(violations, "drift threshold is required for DRIFT_REBALANCE")
		}
	default:
		violations = append(violations, fmt.Sprintf("unknown rebalance strategy %q", e.config.RebalanceStrategy))
	}

	if len(violations) > 0 {
		return &ConfigurationError{Violations: violations}
	}
	return nil
}

// Step derives one day's state from the previous day's. On a rebalance day
// the new share counts are sized against the previous day's total value but
// priced at the current day's close: the trade executes today with
// yesterday's closing valuation as the budget. The day's total is always
// recomputed bottom-up from shares and prices, never carried forward.
func (e *Engine) Step(prev types.DayState, dayIndex int, rebalance bool) types.DayState {
	cur := types.DayState{
		Date:   e.matrix.Dates[dayIndex],
		Closes: make(map[string]float64, len(e.symbols)),
		Shares: make(map[string]float64, len(e.symbols)),
		Values: make(map[string]float64, len(e.symbols)),
	}

	var total float64
	for _, sym := range e.symbols {
		price := e.matrix.Columns[sym][dayIndex]

		var shares float64
		if rebalance {
			shares = prev.TotalValue * e.config.TargetPercentage[sym] / price
		} else {
			shares = prev.Shares[sym]
		}

		value := shares * price
		cur.Closes[sym] = price
		cur.Shares[sym] = shares
		cur.Values[sym] = value
		total += value
	}
	cur.TotalValue = total
	return cur
}

// Run executes the simulation as a strict sequential fold over trading days:
// day i depends on day i-1, so no day is computed out of order. A policy
// error on any day aborts the remainder; skipping a day would corrupt the
// share carry-forward chain for every subsequent day.
func (e *Engine) Run(ctx context.Context) (*types.ResultTable, error) {
	if e.table == nil {
		if err := e.Initialize(ctx); err != nil {
			return nil, err
		}
	}

	total := e.matrix.Len()
	for i := 1; i < total; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		prev := e.table.Days[i-1]
		rebalance, err := e.policy.ShouldRebalance(e.matrix.Dates[i], e.matrix.Dates[i-1], prev)
		if err != nil {
			return nil, fmt.Errorf("simulation aborted at day %d: %w", i, err)
		}

		cur := e.Step(prev, i, rebalance)
		e.table.Days = append(e.table.Days, cur)

		if e.progress != nil && (i%e.progressEvery == 0 || i == total-1) {
			e.progress(i+1, total, cur)
		}
	}

	e.logger.Info("Backtest completed",
		zap.String("id", e.config.ID),
		zap.Int("days", e.table.Len()),
		zap.Float64("finalValue", e.table.Last().TotalValue),
	)
	return e.table, nil
}

// Results returns the retained simulation table. It is nil before Initialize.
func (e *Engine) Results() *types.ResultTable {
	return e.table
}
