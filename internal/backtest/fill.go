package backtest

import (
	"math"

	"github.com/quantlab/portfolio-backend/pkg/types"
)

// fillGaps eliminates missing cells column by column: forward-fill first,
// then backward-fill. A leading gap therefore takes the first subsequent
// known price. For instruments that list after the portfolio's nominal start
// this fabricates an entry price equal to their first real one; the behavior
// is deliberate and callers rely on it.
func fillGaps(m *types.PriceMatrix) {
	for _, col := range m.Columns {
		forwardFill(col)
		backwardFill(col)
	}
}

func forwardFill(col []float64) {
	last := math.NaN()
	for i, v := range col {
		if math.IsNaN(v) {
			col[i] = last
		} else {
			last = v
		}
	}
}

func backwardFill(col []float64) {
	next := math.NaN()
	for i := len(col) - 1; i >= 0; i-- {
		if math.IsNaN(col[i]) {
			col[i] = next
		} else {
			next = col[i]
		}
	}
}
