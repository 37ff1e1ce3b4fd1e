package backtest

import (
	"fmt"
	"strings"
	"time"

	"github.com/quantlab/portfolio-backend/pkg/utils"
)

// ConfigurationError aggregates every validation violation found before a
// simulation starts, so the caller sees the complete list in one pass.
type ConfigurationError struct {
	Violations []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid backtest configuration: %s", strings.Join(e.Violations, "; "))
}

// DataUnavailableError reports that the price provider returned empty or
// partial data for the requested window. The engine never simulates on
// partial data.
type DataUnavailableError struct {
	Symbol string
	Start  time.Time
	End    time.Time
}

func (e *DataUnavailableError) Error() string {
	window := fmt.Sprintf("%s..%s", utils.FormatDate(e.Start), utils.FormatDate(e.End))
	if e.Symbol == "" {
		return fmt.Sprintf("no price data available for window %s", window)
	}
	return fmt.Sprintf("no price data available for %s in window %s", e.Symbol, window)
}

// ComputationError reports a numeric failure during simulation or analysis,
// such as a division by a zero target value. A per-day computation error
// aborts the remaining simulation; already-computed days stay valid.
type ComputationError struct {
	Date   time.Time
	Op     string
	Detail string
}

func (e *ComputationError) Error() string {
	if e.Date.IsZero() {
		return fmt.Sprintf("%s: %s", e.Op, e.Detail)
	}
	return fmt.Sprintf("%s on %s: %s", e.Op, utils.FormatDate(e.Date), e.Detail)
}
