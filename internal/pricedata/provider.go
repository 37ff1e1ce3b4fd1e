// Package pricedata provides access to historical closing prices for the
// backtest engine. The engine consumes the data only through the Provider
// interface; the SQLite store and the in-memory provider are the two
// implementations.
package pricedata

import (
	"context"
	"sort"
	"time"

	"github.com/quantlab/portfolio-backend/pkg/types"
)

// Provider supplies a date-indexed table of closing prices for the requested
// instruments and range. Implementations must return dates in ascending
// order, include only dates with at least one known price among the requested
// symbols, and never fabricate values: gap filling is the caller's job.
type Provider interface {
	GetPrices(ctx context.Context, symbols []string, start, end time.Time) (*types.PriceMatrix, error)
}

// PricePoint is a single (date, close) observation for one instrument.
type PricePoint struct {
	Date  time.Time
	Close float64
}

// MemoryProvider is an in-memory Provider, used by tests and by callers that
// already hold the series they want to simulate on.
type MemoryProvider struct {
	series map[string][]PricePoint
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{series: make(map[string][]PricePoint)}
}

// Add appends observations for a symbol. Points may be added in any order;
// they are sorted on read.
func (p *MemoryProvider) Add(symbol string, points ...PricePoint) {
	p.series[symbol] = append(p.series[symbol], points...)
}

// GetPrices implements Provider.
func (p *MemoryProvider) GetPrices(_ context.Context, symbols []string, start, end time.Time) (*types.PriceMatrix, error) {
	type obs struct {
		symbol string
		point  PricePoint
	}

	var all []obs
	dateSet := make(map[time.Time]bool)
	for _, sym := range symbols {
		for _, pt := range p.series[sym] {
			if pt.Date.Before(start) || pt.Date.After(end) {
				continue
			}
			all = append(all, obs{symbol: sym, point: pt})
			dateSet[pt.Date] = true
		}
	}

	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	index := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		index[d] = i
	}

	matrix := types.NewPriceMatrix(dates, symbols)
	for _, o := range all {
		matrix.Columns[o.symbol][index[o.point.Date]] = o.point.Close
	}
	return matrix, nil
}

var _ Provider = (*MemoryProvider)(nil)
