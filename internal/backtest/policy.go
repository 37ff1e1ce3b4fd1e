package backtest

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/quantlab/portfolio-backend/pkg/types"
)

// RebalancePolicy decides, for each simulated day, whether holdings should be
// reset to target weights. Implementations are pure: they never mutate the
// previous day's state, and any output beyond the boolean is diagnostics.
type RebalancePolicy interface {
	Name() types.RebalanceStrategy
	ShouldRebalance(current, previous time.Time, prev types.DayState) (bool, error)
}

// NewPolicy builds the policy selected by the configuration.
func NewPolicy(logger *zap.Logger, config *types.BacktestConfig) (RebalancePolicy, error) {
	switch config.RebalanceStrategy {
	case types.NoRebalance:
		return noRebalancePolicy{}, nil
	case types.AnnualRebalance:
		return annualPolicy{logger: logger}, nil
	case types.DriftRebalance:
		return &driftPolicy{
			logger:    logger,
			symbols:   config.Symbols(),
			targets:   config.TargetPercentage,
			threshold: config.DriftThreshold,
		}, nil
	default:
		return nil, fmt.Errorf("unknown rebalance strategy %q", config.RebalanceStrategy)
	}
}

type noRebalancePolicy struct{}

func (noRebalancePolicy) Name() types.RebalanceStrategy { return types.NoRebalance }

func (noRebalancePolicy) ShouldRebalance(_, _ time.Time, _ types.DayState) (bool, error) {
	return false, nil
}

// annualPolicy rebalances on the first trading day of each calendar year.
// January 1st itself is rarely a trading day, so the test is a transition on
// consecutive trading days: the previous day in December, the current one in
// January.
type annualPolicy struct {
	logger *zap.Logger
}

func (annualPolicy) Name() types.RebalanceStrategy { return types.AnnualRebalance }

func (p annualPolicy) ShouldRebalance(current, previous time.Time, _ types.DayState) (bool, error) {
	if previous.Month() == time.December && current.Month() == time.January {
		p.logger.Debug("Annual rebalance day", zap.Time("date", current))
		return true, nil
	}
	return false, nil
}

// driftPolicy rebalances when any instrument's value drifts from its target
// share of the portfolio by more than the threshold fraction.
type driftPolicy struct {
	logger    *zap.Logger
	symbols   []string
	targets   map[string]float64
	threshold float64
}

func (*driftPolicy) Name() types.RebalanceStrategy { return types.DriftRebalance }

// ShouldRebalance checks each instrument in configured order and
// short-circuits on the first breach; the order only affects which breach is
// logged, not the outcome.
func (p *driftPolicy) ShouldRebalance(current, _ time.Time, prev types.DayState) (bool, error) {
	for _, sym := range p.symbols {
		target := p.targets[sym] * prev.TotalValue
		if target == 0 {
			return false, &ComputationError{
				Date:   current,
				Op:     "drift check",
				Detail: fmt.Sprintf("target value for %s is zero", sym),
			}
		}
		ratio := math.Abs(prev.Values[sym]-target) / target
		if ratio > p.threshold {
			p.logger.Debug("Drift rebalance triggered",
				zap.Time("date", current),
				zap.String("symbol", sym),
				zap.Float64("deviation", ratio),
				zap.Float64("threshold", p.threshold),
			)
			return true, nil
		}
	}
	return false, nil
}
