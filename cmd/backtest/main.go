// Package main provides a one-shot command line runner: it executes a single
// backtest, a rebalance-strategy comparison, or a rolling-window study
// against the local price database and writes the results as JSON to stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/quantlab/portfolio-backend/internal/batch"
	"github.com/quantlab/portfolio-backend/internal/pricedata"
	"github.com/quantlab/portfolio-backend/internal/registry"
	"github.com/quantlab/portfolio-backend/pkg/types"
	"github.com/quantlab/portfolio-backend/pkg/utils"
)

func main() {
	dbPath := flag.String("db", "trade_data.db", "Path to the price database")
	weightsArg := flag.String("weights", "", "Target weights, e.g. SPY=0.2,518880=0.2,070009=0.6")
	startArg := flag.String("start", "", "Start date (YYYY-MM-DD)")
	endArg := flag.String("end", "", "End date (YYYY-MM-DD)")
	capital := flag.Float64("capital", 100000, "Initial total value")
	strategy := flag.String("strategy", "NO_REBALANCE", "Rebalance strategy (NO_REBALANCE, ANNUAL_REBALANCE, DRIFT_REBALANCE)")
	threshold := flag.Float64("drift-threshold", 0.2, "Drift threshold fraction (DRIFT_REBALANCE only)")
	topN := flag.Int("drawdowns", 3, "Number of drawdown episodes to report")
	compare := flag.Bool("compare", false, "Compare all rebalance strategies on the same portfolio")
	rolling := flag.Bool("rolling", false, "Run a rolling-window study")
	lastStart := flag.String("last-start", "", "Rolling mode: last window start date (YYYY-MM-DD)")
	stepMonths := flag.Int("step-months", 1, "Rolling mode: months between window starts")
	windowYears := flag.Int("window-years", 5, "Rolling mode: window length in years")
	fullTable := flag.Bool("table", false, "Include the full day-by-day table in the output")
	logLevel := flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := buildLogger(*logLevel)
	defer logger.Sync()

	weights, err := parseWeights(*weightsArg)
	if err != nil {
		fatal(err)
	}
	start, err := utils.ParseDate(*startArg)
	if err != nil {
		fatal(fmt.Errorf("invalid -start: %w", err))
	}
	end, err := utils.ParseDate(*endArg)
	if err != nil {
		fatal(fmt.Errorf("invalid -end: %w", err))
	}

	store, err := pricedata.NewSQLiteStore(logger, *dbPath)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	runner := batch.NewRunner(logger, store, registry.New())
	base := types.BacktestConfig{
		TargetPercentage:  weights,
		StartDate:         start,
		EndDate:           end,
		InitialTotalValue: *capital,
		RebalanceStrategy: types.RebalanceStrategy(*strategy),
		DriftThreshold:    *threshold,
	}

	ctx := context.Background()
	var out any

	switch {
	case *rolling:
		last, err := utils.ParseDate(*lastStart)
		if err != nil {
			fatal(fmt.Errorf("invalid -last-start: %w", err))
		}
		report, err := runner.RunRollingWindow(ctx, &types.RollingWindowConfig{
			Base:         base,
			FirstStart:   start,
			LastStart:    last,
			StepMonths:   *stepMonths,
			WindowYears:  *windowYears,
			DrawdownTopN: *topN,
		})
		if err != nil {
			fatal(err)
		}
		out = report

	case *compare:
		configs := []*types.BacktestConfig{}
		for _, variant := range compareVariants(base, *threshold) {
			variant := variant
			configs = append(configs, &variant)
		}
		outcomes := runner.RunAll(ctx, configs, *topN)
		out = digestOutcomes(outcomes, *fullTable)

	default:
		result, err := runner.RunOne(ctx, &base, *topN)
		if err != nil {
			fatal(err)
		}
		if !*fullTable {
			result.Table = nil
		}
		out = result
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatal(err)
	}
}

// compareVariants mirrors the standard strategy study: no rebalance, annual,
// and drift at the configured threshold and at 0.3.
func compareVariants(base types.BacktestConfig, threshold float64) []types.BacktestConfig {
	noReb := base
	noReb.RebalanceStrategy = types.NoRebalance
	annual := base
	annual.RebalanceStrategy = types.AnnualRebalance
	drift := base
	drift.RebalanceStrategy = types.DriftRebalance
	drift.DriftThreshold = threshold
	driftWide := base
	driftWide.RebalanceStrategy = types.DriftRebalance
	driftWide.DriftThreshold = 0.3
	return []types.BacktestConfig{noReb, annual, drift, driftWide}
}

type compareDigest struct {
	Strategy       string                `json:"strategy"`
	DriftThreshold float64               `json:"driftThreshold,omitempty"`
	Result         *types.BacktestResult `json:"result,omitempty"`
	Error          string                `json:"error,omitempty"`
}

func digestOutcomes(outcomes []batch.Outcome, fullTable bool) []compareDigest {
	digests := make([]compareDigest, 0, len(outcomes))
	for _, o := range outcomes {
		d := compareDigest{Strategy: string(o.Config.RebalanceStrategy)}
		if o.Config.RebalanceStrategy == types.DriftRebalance {
			d.DriftThreshold = o.Config.DriftThreshold
		}
		if o.Err != nil {
			d.Error = o.Err.Error()
		} else {
			d.Result = o.Result
			if !fullTable {
				d.Result.Table = nil
			}
		}
		digests = append(digests, d)
	}
	return digests
}

func parseWeights(arg string) (map[string]float64, error) {
	if arg == "" {
		return nil, fmt.Errorf("-weights is required, e.g. SPY=0.2,518880=0.2,070009=0.6")
	}
	weights := make(map[string]float64)
	for _, pair := range strings.Split(arg, ",") {
		sym, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("invalid weight %q, expected SYMBOL=FRACTION", pair)
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight for %s: %w", sym, err)
		}
		weights[sym] = f
	}
	return weights, nil
}

func buildLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
