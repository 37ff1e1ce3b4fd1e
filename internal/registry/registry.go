// Package registry holds the static instrument reference data: the fixed set
// of tradeable products the research toolkit knows about, with market,
// category, and earliest-available-date metadata.
package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/quantlab/portfolio-backend/pkg/types"
)

// Registry is a read-only lookup of supported instruments.
type Registry struct {
	instruments map[string]types.Instrument
}

// New creates a registry populated with the built-in product set.
func New() *Registry {
	return &Registry{instruments: builtins()}
}

// NewWith creates a registry from an explicit instrument list, for tests and
// for callers that load the product set from configuration.
func NewWith(instruments []types.Instrument) *Registry {
	m := make(map[string]types.Instrument, len(instruments))
	for _, inst := range instruments {
		m[inst.Symbol] = inst
	}
	return &Registry{instruments: m}
}

// Get returns the instrument for a symbol. The second return value reports
// whether the symbol is registered.
func (r *Registry) Get(symbol string) (types.Instrument, bool) {
	inst, ok := r.instruments[symbol]
	return inst, ok
}

// Symbols returns all registered symbols in sorted order.
func (r *Registry) Symbols() []string {
	syms := make([]string, 0, len(r.instruments))
	for sym := range r.instruments {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

// All returns every registered instrument, sorted by symbol.
func (r *Registry) All() []types.Instrument {
	out := make([]types.Instrument, 0, len(r.instruments))
	for _, sym := range r.Symbols() {
		out = append(out, r.instruments[sym])
	}
	return out
}

func mustDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(fmt.Sprintf("registry: bad date %q: %v", s, err))
	}
	return t
}

// builtins returns the supported product set. Earliest dates reflect the
// first trading day with vendor data available, not the listing date.
func builtins() map[string]types.Instrument {
	list := []types.Instrument{
		// US
		{Symbol: "SPY", Name: "SPDR S&P 500 ETF", Market: types.MarketUS, Category: types.CategoryETF, EarliestDate: mustDate("2001-01-02")},
		{Symbol: "QQQ", Name: "Invesco Nasdaq-100 ETF", Market: types.MarketUS, Category: types.CategoryETF, EarliestDate: mustDate("2001-01-02")},
		{Symbol: "TLT", Name: "iShares 20+ Year Treasury ETF", Market: types.MarketUS, Category: types.CategoryETF, EarliestDate: mustDate("2016-02-02")},
		{Symbol: "GLD", Name: "SPDR Gold Shares", Market: types.MarketUS, Category: types.CategoryETF, EarliestDate: mustDate("2004-11-18")},
		{Symbol: "BIL", Name: "SPDR 1-3 Month T-Bill ETF", Market: types.MarketUS, Category: types.CategoryETF, EarliestDate: mustDate("2007-05-30")},
		{Symbol: "NVDA", Name: "NVIDIA Corp", Market: types.MarketUS, Category: types.CategoryStock, EarliestDate: mustDate("2001-01-02")},

		// CN index
		{Symbol: "000001", Name: "SSE Composite Index", Market: types.MarketCN, Category: types.CategoryIndex, EarliestDate: mustDate("1990-12-19")},

		// CN ETFs
		{Symbol: "510300", Name: "Huatai-PB CSI 300 ETF", Market: types.MarketCN, Category: types.CategoryETF, EarliestDate: mustDate("2012-05-28")},
		{Symbol: "515100", Name: "Invesco Great Wall CSI Dividend Low Volatility ETF", Market: types.MarketCN, Category: types.CategoryETF, EarliestDate: mustDate("2020-07-03")},
		{Symbol: "518880", Name: "Huaan Gold ETF", Market: types.MarketCN, Category: types.CategoryETF, EarliestDate: mustDate("2013-07-29")},

		// CN funds
		{Symbol: "090010", Name: "Dacheng CSI Dividend Fund", Market: types.MarketCN, Category: types.CategoryStockFund, EarliestDate: mustDate("2010-02-02")},
		{Symbol: "008114", Name: "Tianhong CSI Dividend Low Volatility 100 Feeder A", Market: types.MarketCN, Category: types.CategoryStockFund, EarliestDate: mustDate("2019-12-10")},
		{Symbol: "070009", Name: "Harvest Ultra-Short Bond Fund", Market: types.MarketCN, Category: types.CategoryBondFund, EarliestDate: mustDate("2006-04-26")},
		{Symbol: "003358", Name: "E Fund ChinaBond 7-10Y CDB Index Fund", Market: types.MarketCN, Category: types.CategoryBondFund, EarliestDate: mustDate("2016-09-27")},
	}

	m := make(map[string]types.Instrument, len(list))
	for _, inst := range list {
		m[inst.Symbol] = inst
	}
	return m
}
