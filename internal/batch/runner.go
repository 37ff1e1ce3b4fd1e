// Package batch runs groups of independent backtests in parallel: strategy
// comparisons over one portfolio, and rolling-window studies over many start
// dates. Runs never share mutable state, so run-level parallelism is safe.
package batch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quantlab/portfolio-backend/internal/analyzer"
	"github.com/quantlab/portfolio-backend/internal/backtest"
	"github.com/quantlab/portfolio-backend/internal/pricedata"
	"github.com/quantlab/portfolio-backend/internal/registry"
	"github.com/quantlab/portfolio-backend/pkg/types"
	"github.com/quantlab/portfolio-backend/pkg/utils"
)

// Runner executes backtest configurations against a shared read-only price
// provider and instrument registry.
type Runner struct {
	logger     *zap.Logger
	provider   pricedata.Provider
	registry   *registry.Registry
	maxWorkers int
}

// NewRunner creates a batch runner.
func NewRunner(logger *zap.Logger, provider pricedata.Provider, reg *registry.Registry) *Runner {
	return &Runner{logger: logger, provider: provider, registry: reg}
}

// SetMaxWorkers caps the number of concurrent runs in RunAll. Zero or
// negative restores the default of one worker per CPU.
func (r *Runner) SetMaxWorkers(n int) {
	r.maxWorkers = n
}

// RunOne executes a single backtest end to end and assembles the full result
// with derived statistics. A missing config ID is assigned.
func (r *Runner) RunOne(ctx context.Context, config *types.BacktestConfig, drawdownTopN int) (*types.BacktestResult, error) {
	engine := backtest.NewEngine(r.logger, r.provider, r.registry, config)
	return r.RunEngine(ctx, engine, config, drawdownTopN)
}

// RunEngine drives a pre-built engine to completion and assembles the full
// result. Callers that need progress hooks build the engine themselves.
func (r *Runner) RunEngine(ctx context.Context, engine *backtest.Engine, config *types.BacktestConfig, drawdownTopN int) (*types.BacktestResult, error) {
	if config.ID == "" {
		config.ID = utils.GenerateRunID()
	}

	started := time.Now()
	table, err := engine.Run(ctx)
	if err != nil {
		return nil, err
	}

	a := analyzer.New(table)
	returns, err := a.PortfolioReturns()
	if err != nil {
		return nil, fmt.Errorf("failed to analyze run %s: %w", config.ID, err)
	}
	perAsset, err := a.PerAssetReturns()
	if err != nil {
		return nil, fmt.Errorf("failed to analyze run %s: %w", config.ID, err)
	}

	completed := time.Now()
	return &types.BacktestResult{
		ID:               config.ID,
		Config:           config,
		Table:            table,
		Returns:          returns,
		PerAsset:         perAsset,
		DrawdownEpisodes: a.MaxDrawdownEpisodes(drawdownTopN),
		StartedAt:        started,
		CompletedAt:      completed,
		Duration:         completed.Sub(started),
	}, nil
}

// Outcome pairs one configuration with its result or error.
type Outcome struct {
	Config *types.BacktestConfig
	Result *types.BacktestResult
	Err    error
}

// RunAll executes the given configurations in parallel and returns outcomes
// in input order. Individual failures do not stop the rest of the batch.
func (r *Runner) RunAll(ctx context.Context, configs []*types.BacktestConfig, drawdownTopN int) []Outcome {
	return r.runAll(ctx, configs, drawdownTopN, r.maxWorkers)
}

func (r *Runner) runAll(ctx context.Context, configs []*types.BacktestConfig, drawdownTopN, workers int) []Outcome {
	outcomes := make([]Outcome, len(configs))

	poolConfig := DefaultPoolConfig("backtest-batch")
	if workers > 0 {
		poolConfig.NumWorkers = workers
	}
	pool := NewPool(r.logger, poolConfig)
	pool.Start()
	for i, config := range configs {
		i, config := i, config
		pool.Submit(TaskFunc(func(_ context.Context) error {
			result, err := r.RunOne(ctx, config, drawdownTopN)
			outcomes[i] = Outcome{Config: config, Result: result, Err: err}
			return err
		}))
	}
	pool.Stop()

	return outcomes
}

// WindowResult is the digest of one rolling-window run.
type WindowResult struct {
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	AnnualizedReturn float64   `json:"annualizedReturn"`
	MaxDrawdown      float64   `json:"maxDrawdown"` // percentage, <= 0; 0 when no episode
	Err              string    `json:"error,omitempty"`
}

// RollingWindowReport aggregates a rolling-window study.
type RollingWindowReport struct {
	Windows           []WindowResult `json:"windows"`
	AnnualizedReturns Summary        `json:"annualizedReturns"`
	MaxDrawdowns      Summary        `json:"maxDrawdowns"`
}

// RunRollingWindow re-runs the base configuration from successive monthly
// start dates with a fixed window length, then summarizes the distributions
// of annualized return and deepest drawdown across windows.
func (r *Runner) RunRollingWindow(ctx context.Context, study *types.RollingWindowConfig) (*RollingWindowReport, error) {
	if study.StepMonths <= 0 || study.WindowYears <= 0 {
		return nil, &backtest.ConfigurationError{
			Violations: []string{"rolling window study requires positive step months and window years"},
		}
	}
	if study.LastStart.Before(study.FirstStart) {
		return nil, &backtest.ConfigurationError{
			Violations: []string{"rolling window last start precedes first start"},
		}
	}

	var configs []*types.BacktestConfig
	for start := study.FirstStart; !start.After(study.LastStart); start = utils.AddMonths(start, study.StepMonths) {
		config := study.Base
		config.ID = ""
		config.StartDate = start
		config.EndDate = start.AddDate(study.WindowYears, 0, 0)
		configs = append(configs, &config)
	}

	r.logger.Info("Running rolling-window study",
		zap.Int("windows", len(configs)),
		zap.Int("windowYears", study.WindowYears),
		zap.Int("stepMonths", study.StepMonths),
	)

	workers := r.maxWorkers
	if study.MaxConcurrent > 0 {
		workers = study.MaxConcurrent
	}
	outcomes := r.runAll(ctx, configs, study.DrawdownTopN, workers)

	report := &RollingWindowReport{Windows: make([]WindowResult, 0, len(outcomes))}
	var annualized, drawdowns []float64
	for _, o := range outcomes {
		window := WindowResult{Start: o.Config.StartDate, End: o.Config.EndDate}
		if o.Err != nil {
			window.Err = o.Err.Error()
			report.Windows = append(report.Windows, window)
			continue
		}
		window.AnnualizedReturn = o.Result.Returns.AnnualizedReturn
		if len(o.Result.DrawdownEpisodes) > 0 {
			window.MaxDrawdown = o.Result.DrawdownEpisodes[0].MaxDrawdown
		}
		annualized = append(annualized, window.AnnualizedReturn)
		drawdowns = append(drawdowns, window.MaxDrawdown)
		report.Windows = append(report.Windows, window)
	}
	report.AnnualizedReturns = Summarize(annualized)
	report.MaxDrawdowns = Summarize(drawdowns)
	return report, nil
}
