package pricedata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantlab/portfolio-backend/pkg/types"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

var _ Provider = (*SQLiteStore)(nil)

// SQLiteStore is the relational price store. Daily-traded products live in
// stock_price, periodically-published fund net-asset-values in fund_nav, and
// unified_price_view presents both as one (symbol, date, close) relation.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS stock_price (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol VARCHAR(20) NOT NULL,
	name VARCHAR(100) NOT NULL,
	trade_date DATE NOT NULL,
	open DECIMAL(10,2),
	close DECIMAL(10,2),
	high DECIMAL(10,2),
	low DECIMAL(10,2),
	volume BIGINT,
	UNIQUE (symbol, trade_date)
);

CREATE TABLE IF NOT EXISTS fund_nav (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fund_code VARCHAR(20) NOT NULL,
	name VARCHAR(100) NOT NULL,
	nav_date DATE NOT NULL,
	nav DECIMAL(10,4) NOT NULL,
	UNIQUE (fund_code, nav_date)
);

CREATE INDEX IF NOT EXISTS idx_stock_price_symbol ON stock_price(symbol);
CREATE INDEX IF NOT EXISTS idx_fund_nav_code ON fund_nav(fund_code);

CREATE VIEW IF NOT EXISTS unified_price_view AS
	SELECT symbol, trade_date AS date, close FROM stock_price
	UNION ALL
	SELECT fund_code AS symbol, nav_date AS date, nav AS close FROM fund_nav;
`

// NewSQLiteStore opens (or creates) the price database at dbPath and ensures
// the schema exists.
func NewSQLiteStore(logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open price database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create price schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StockBar is one daily OHLCV record for an exchange-traded product. Prices
// are decimals so vendor strings round-trip exactly into storage.
type StockBar struct {
	Date   time.Time
	Open   decimal.Decimal
	Close  decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Volume int64
}

// NavPoint is one published net-asset-value observation for a fund.
type NavPoint struct {
	Date time.Time
	NAV  decimal.Decimal
}

// ParseNavPoint parses vendor date and NAV strings into a NavPoint.
func ParseNavPoint(dateStr, navStr string) (NavPoint, error) {
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return NavPoint{}, fmt.Errorf("invalid nav date %q: %w", dateStr, err)
	}
	nav, err := decimal.NewFromString(navStr)
	if err != nil {
		return NavPoint{}, fmt.Errorf("invalid nav value %q: %w", navStr, err)
	}
	return NavPoint{Date: date, NAV: nav}, nil
}

// UpsertStockBars inserts or replaces daily bars for a symbol.
func (s *SQLiteStore) UpsertStockBars(ctx context.Context, symbol, name string, bars []StockBar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stock_price (symbol, name, trade_date, open, close, high, low, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, trade_date) DO UPDATE SET
			open = excluded.open, close = excluded.close,
			high = excluded.high, low = excluded.low, volume = excluded.volume`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		_, err := stmt.ExecContext(ctx, symbol, name, bar.Date.Format("2006-01-02"),
			bar.Open.String(), bar.Close.String(), bar.High.String(), bar.Low.String(), bar.Volume)
		if err != nil {
			return fmt.Errorf("failed to upsert bar %s %s: %w", symbol, bar.Date.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bars: %w", err)
	}

	s.logger.Debug("Upserted stock bars", zap.String("symbol", symbol), zap.Int("count", len(bars)))
	return nil
}

// UpsertFundNavs inserts or replaces NAV observations for a fund.
func (s *SQLiteStore) UpsertFundNavs(ctx context.Context, fundCode, name string, navs []NavPoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fund_nav (fund_code, name, nav_date, nav)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (fund_code, nav_date) DO UPDATE SET nav = excluded.nav`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, point := range navs {
		_, err := stmt.ExecContext(ctx, fundCode, name, point.Date.Format("2006-01-02"), point.NAV.String())
		if err != nil {
			return fmt.Errorf("failed to upsert nav %s %s: %w", fundCode, point.Date.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit navs: %w", err)
	}

	s.logger.Debug("Upserted fund navs", zap.String("fundCode", fundCode), zap.Int("count", len(navs)))
	return nil
}

// LatestDate returns the most recent stored date for a symbol, or the zero
// time when no data exists. Ingestion jobs use it to resume incrementally.
func (s *SQLiteStore) LatestDate(ctx context.Context, symbol string) (time.Time, error) {
	var dateStr sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM unified_price_view WHERE symbol = ?`, symbol).Scan(&dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest date for %s: %w", symbol, err)
	}
	if !dateStr.Valid || dateStr.String == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", dateStr.String)
}

// GetPrices implements Provider. It returns one row per date on which at
// least one of the requested symbols has a stored price, in ascending date
// order; cells without an observation stay NaN.
func (s *SQLiteStore) GetPrices(ctx context.Context, symbols []string, start, end time.Time) (*types.PriceMatrix, error) {
	if len(symbols) == 0 {
		return types.NewPriceMatrix(nil, nil), nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	query := fmt.Sprintf(`
		SELECT symbol, date, close
		FROM unified_price_view
		WHERE symbol IN (%s) AND date BETWEEN ? AND ?
		ORDER BY date`, placeholders)

	args := make([]any, 0, len(symbols)+2)
	for _, sym := range symbols {
		args = append(args, sym)
	}
	args = append(args, start.Format("2006-01-02"), end.Format("2006-01-02"))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	type obs struct {
		symbol string
		date   time.Time
		close  float64
	}

	var all []obs
	var dates []time.Time
	seen := make(map[string]bool)
	for rows.Next() {
		var symbol, dateStr string
		var close float64
		if err := rows.Scan(&symbol, &dateStr, &close); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("invalid stored date %q: %w", dateStr, err)
		}
		if !seen[dateStr] {
			seen[dateStr] = true
			dates = append(dates, date)
		}
		all = append(all, obs{symbol: symbol, date: date, close: close})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read price rows: %w", err)
	}

	index := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		index[d] = i
	}

	matrix := types.NewPriceMatrix(dates, symbols)
	for _, o := range all {
		matrix.Columns[o.symbol][index[o.date]] = o.close
	}
	return matrix, nil
}
