package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/glebarez/sqlite"

	"github.com/daveintdbn/futures-ingest/internal/market"
)

// EmbeddedDriver is the single-file SQL-compatible storage variant, backed
// by the pure-Go modernc sqlite driver so the binary stays CGo-free.
type EmbeddedDriver struct {
	path string
	db   *sql.DB
}

// NewEmbeddedDriver returns a driver for the sqlite file at path; Init opens
// it, creating it if absent. Pass
// ":memory:" for an ephemeral in-process store, used by the conformance
// test battery.
func NewEmbeddedDriver(path string) *EmbeddedDriver {
	return &EmbeddedDriver{path: path}
}

func (d *EmbeddedDriver) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", d.path)
	if err != nil {
		return fmt.Errorf("open embedded store %s: %w", d.path, err)
	}
	d.db = db

	schema := `
	CREATE TABLE IF NOT EXISTS candles (
		symbol TEXT NOT NULL, timeframe TEXT NOT NULL, time_ms INTEGER NOT NULL,
		open REAL, high REAL, low REAL, close REAL, volume REAL, quote_volume REAL,
		trades INTEGER, taker_buy_base REAL, taker_buy_quote REAL, closed INTEGER,
		PRIMARY KEY (symbol, timeframe, time_ms)
	);
	CREATE TABLE IF NOT EXISTS open_interest (
		symbol TEXT NOT NULL, period TEXT NOT NULL, time_ms INTEGER NOT NULL,
		open_interest REAL, open_interest_value REAL,
		PRIMARY KEY (symbol, period, time_ms)
	);
	CREATE TABLE IF NOT EXISTS funding_rate (
		symbol TEXT NOT NULL, time_ms INTEGER NOT NULL,
		funding_rate REAL, mark_price REAL,
		PRIMARY KEY (symbol, time_ms)
	);
	CREATE TABLE IF NOT EXISTS liquidations (
		order_id TEXT PRIMARY KEY, symbol TEXT NOT NULL, time_ms INTEGER NOT NULL,
		side TEXT, price REAL, quantity REAL
	);
	CREATE INDEX IF NOT EXISTS idx_liquidations_symbol_time ON liquidations(symbol, time_ms);
	CREATE TABLE IF NOT EXISTS long_short_ratio (
		symbol TEXT NOT NULL, period TEXT NOT NULL, time_ms INTEGER NOT NULL,
		ratio REAL, long_account REAL, short_account REAL,
		PRIMARY KEY (symbol, period, time_ms)
	);
	CREATE TABLE IF NOT EXISTS order_book_levels (
		symbol TEXT NOT NULL, time_ms INTEGER NOT NULL, side TEXT NOT NULL, level INTEGER NOT NULL,
		price REAL, quantity REAL,
		PRIMARY KEY (symbol, time_ms, side, level)
	);
	CREATE TABLE IF NOT EXISTS data_versions (
		id TEXT PRIMARY KEY, table_name TEXT, window_start INTEGER, window_end INTEGER,
		record_count INTEGER, checksum TEXT, created_at INTEGER
	);
	`
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init embedded schema: %w", err)
	}
	return nil
}

func (d *EmbeddedDriver) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *EmbeddedDriver) SaveCandlesBatch(ctx context.Context, symbol, timeframe string, candles []market.Candle) error {
	return withTx(ctx, d.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO candles (symbol, timeframe, time_ms, open, high, low, close, volume, quote_volume, trades, taker_buy_base, taker_buy_quote, closed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, timeframe, time_ms) DO UPDATE SET
				open=excluded.open, high=excluded.high, low=excluded.low, close=excluded.close,
				volume=excluded.volume, quote_volume=excluded.quote_volume, trades=excluded.trades,
				taker_buy_base=excluded.taker_buy_base, taker_buy_quote=excluded.taker_buy_quote, closed=excluded.closed
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range candles {
			if _, err := stmt.ExecContext(ctx, symbol, timeframe, c.Time.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume, c.QuoteVolume, c.Trades, c.TakerBuyBase, c.TakerBuyQuote, boolToInt(c.Closed)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *EmbeddedDriver) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]market.Candle, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT time_ms, open, high, low, close, volume, quote_volume, trades, taker_buy_base, taker_buy_quote, closed
		FROM candles WHERE symbol=? AND timeframe=? AND time_ms BETWEEN ? AND ? ORDER BY time_ms ASC
	`, symbol, timeframe, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.Candle
	for rows.Next() {
		var timeMs int64
		var closedInt int
		c := market.Candle{Symbol: symbol, Timeframe: timeframe}
		if err := rows.Scan(&timeMs, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.QuoteVolume, &c.Trades, &c.TakerBuyBase, &c.TakerBuyQuote, &closedInt); err != nil {
			return nil, err
		}
		c.Time = time.UnixMilli(timeMs).UTC()
		c.Closed = closedInt != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *EmbeddedDriver) GetLatestCandles(ctx context.Context, symbol, timeframe string, n int) ([]market.Candle, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT time_ms, open, high, low, close, volume, quote_volume, trades, taker_buy_base, taker_buy_quote, closed
		FROM candles WHERE symbol=? AND timeframe=? ORDER BY time_ms DESC LIMIT ?
	`, symbol, timeframe, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.Candle
	for rows.Next() {
		var timeMs int64
		var closedInt int
		c := market.Candle{Symbol: symbol, Timeframe: timeframe}
		if err := rows.Scan(&timeMs, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.QuoteVolume, &c.Trades, &c.TakerBuyBase, &c.TakerBuyQuote, &closedInt); err != nil {
			return nil, err
		}
		c.Time = time.UnixMilli(timeMs).UTC()
		c.Closed = closedInt != 0
		out = append(out, c)
	}
	reverse(out)
	return out, rows.Err()
}

func (d *EmbeddedDriver) SaveOpenInterestBatch(ctx context.Context, symbol string, rows []market.OpenInterest) error {
	return withTx(ctx, d.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO open_interest (symbol, period, time_ms, open_interest, open_interest_value)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(symbol, period, time_ms) DO UPDATE SET
				open_interest=excluded.open_interest, open_interest_value=excluded.open_interest_value
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, symbol, r.Period, r.Time.UnixMilli(), r.OpenInterest, r.OpenInterestValue); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *EmbeddedDriver) GetOpenInterest(ctx context.Context, symbol, period string, start, end time.Time) ([]market.OpenInterest, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT time_ms, open_interest, open_interest_value FROM open_interest
		WHERE symbol=? AND period=? AND time_ms BETWEEN ? AND ? ORDER BY time_ms ASC
	`, symbol, period, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.OpenInterest
	for rows.Next() {
		var timeMs int64
		r := market.OpenInterest{Symbol: symbol, Period: period}
		if err := rows.Scan(&timeMs, &r.OpenInterest, &r.OpenInterestValue); err != nil {
			return nil, err
		}
		r.Time = time.UnixMilli(timeMs).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *EmbeddedDriver) GetLatestOpenInterest(ctx context.Context, symbol, period string, n int) ([]market.OpenInterest, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT time_ms, open_interest, open_interest_value FROM open_interest
		WHERE symbol=? AND period=? ORDER BY time_ms DESC LIMIT ?
	`, symbol, period, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.OpenInterest
	for rows.Next() {
		var timeMs int64
		r := market.OpenInterest{Symbol: symbol, Period: period}
		if err := rows.Scan(&timeMs, &r.OpenInterest, &r.OpenInterestValue); err != nil {
			return nil, err
		}
		r.Time = time.UnixMilli(timeMs).UTC()
		out = append(out, r)
	}
	reverse(out)
	return out, rows.Err()
}

func (d *EmbeddedDriver) SaveFundingRateBatch(ctx context.Context, symbol string, rows []market.FundingRate) error {
	return withTx(ctx, d.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO funding_rate (symbol, time_ms, funding_rate, mark_price) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, symbol, r.FundingTime.UnixMilli(), r.FundingRate, r.MarkPrice); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *EmbeddedDriver) GetFundingRate(ctx context.Context, symbol string, start, end time.Time) ([]market.FundingRate, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT time_ms, funding_rate, mark_price FROM funding_rate
		WHERE symbol=? AND time_ms BETWEEN ? AND ? ORDER BY time_ms ASC
	`, symbol, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.FundingRate
	for rows.Next() {
		var timeMs int64
		r := market.FundingRate{Symbol: symbol}
		if err := rows.Scan(&timeMs, &r.FundingRate, &r.MarkPrice); err != nil {
			return nil, err
		}
		r.FundingTime = time.UnixMilli(timeMs).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *EmbeddedDriver) GetLatestFundingRate(ctx context.Context, symbol string, n int) ([]market.FundingRate, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT time_ms, funding_rate, mark_price FROM funding_rate WHERE symbol=? ORDER BY time_ms DESC LIMIT ?
	`, symbol, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.FundingRate
	for rows.Next() {
		var timeMs int64
		r := market.FundingRate{Symbol: symbol}
		if err := rows.Scan(&timeMs, &r.FundingRate, &r.MarkPrice); err != nil {
			return nil, err
		}
		r.FundingTime = time.UnixMilli(timeMs).UTC()
		out = append(out, r)
	}
	reverse(out)
	return out, rows.Err()
}

func (d *EmbeddedDriver) SaveLiquidationsBatch(ctx context.Context, symbol string, rows []market.Liquidation) error {
	return withTx(ctx, d.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO liquidations (order_id, symbol, time_ms, side, price, quantity) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.OrderID, symbol, r.Time.UnixMilli(), string(r.Side), r.Price, r.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *EmbeddedDriver) GetLiquidations(ctx context.Context, symbol string, start, end time.Time) ([]market.Liquidation, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT order_id, time_ms, side, price, quantity FROM liquidations
		WHERE symbol=? AND time_ms BETWEEN ? AND ? ORDER BY time_ms ASC
	`, symbol, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Liquidation
	for rows.Next() {
		var timeMs int64
		var side string
		r := market.Liquidation{Symbol: symbol}
		if err := rows.Scan(&r.OrderID, &timeMs, &side, &r.Price, &r.Quantity); err != nil {
			return nil, err
		}
		r.Time = time.UnixMilli(timeMs).UTC()
		r.Side = market.Side(side)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *EmbeddedDriver) GetLatestLiquidations(ctx context.Context, symbol string, n int) ([]market.Liquidation, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT order_id, time_ms, side, price, quantity FROM liquidations WHERE symbol=? ORDER BY time_ms DESC LIMIT ?
	`, symbol, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Liquidation
	for rows.Next() {
		var timeMs int64
		var side string
		r := market.Liquidation{Symbol: symbol}
		if err := rows.Scan(&r.OrderID, &timeMs, &side, &r.Price, &r.Quantity); err != nil {
			return nil, err
		}
		r.Time = time.UnixMilli(timeMs).UTC()
		r.Side = market.Side(side)
		out = append(out, r)
	}
	reverse(out)
	return out, rows.Err()
}

func (d *EmbeddedDriver) SaveLongShortRatioBatch(ctx context.Context, symbol string, rows []market.LongShortRatio) error {
	return withTx(ctx, d.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO long_short_ratio (symbol, period, time_ms, ratio, long_account, short_account)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, period, time_ms) DO UPDATE SET
				ratio=excluded.ratio, long_account=excluded.long_account, short_account=excluded.short_account
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, symbol, r.Period, r.Time.UnixMilli(), r.Ratio, r.LongAccount, r.ShortAccount); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *EmbeddedDriver) GetLongShortRatio(ctx context.Context, symbol, period string, start, end time.Time) ([]market.LongShortRatio, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT time_ms, ratio, long_account, short_account FROM long_short_ratio
		WHERE symbol=? AND period=? AND time_ms BETWEEN ? AND ? ORDER BY time_ms ASC
	`, symbol, period, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.LongShortRatio
	for rows.Next() {
		var timeMs int64
		r := market.LongShortRatio{Symbol: symbol, Period: period}
		if err := rows.Scan(&timeMs, &r.Ratio, &r.LongAccount, &r.ShortAccount); err != nil {
			return nil, err
		}
		r.Time = time.UnixMilli(timeMs).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *EmbeddedDriver) GetLatestLongShortRatio(ctx context.Context, symbol, period string, n int) ([]market.LongShortRatio, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT time_ms, ratio, long_account, short_account FROM long_short_ratio
		WHERE symbol=? AND period=? ORDER BY time_ms DESC LIMIT ?
	`, symbol, period, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.LongShortRatio
	for rows.Next() {
		var timeMs int64
		r := market.LongShortRatio{Symbol: symbol, Period: period}
		if err := rows.Scan(&timeMs, &r.Ratio, &r.LongAccount, &r.ShortAccount); err != nil {
			return nil, err
		}
		r.Time = time.UnixMilli(timeMs).UTC()
		out = append(out, r)
	}
	reverse(out)
	return out, rows.Err()
}

// SaveOrderBookSnapshot is a full-replace per timestamp: all prior levels for
// (symbol, time) are deleted before the new ones are inserted, inside one transaction.
func (d *EmbeddedDriver) SaveOrderBookSnapshot(ctx context.Context, snap market.OrderBookSnapshot) error {
	return withTx(ctx, d.db, func(tx *sql.Tx) error {
		timeMs := snap.Time.UnixMilli()
		if _, err := tx.ExecContext(ctx, `DELETE FROM order_book_levels WHERE symbol=? AND time_ms=?`, snap.Symbol, timeMs); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO order_book_levels (symbol, time_ms, side, level, price, quantity) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, lvl := range append(append([]market.OrderBookLevel{}, snap.Bids...), snap.Asks...) {
			if _, err := stmt.ExecContext(ctx, snap.Symbol, timeMs, string(lvl.Side), lvl.Level, lvl.Price, lvl.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *EmbeddedDriver) GetLatestOrderBook(ctx context.Context, symbol string) (market.OrderBookSnapshot, error) {
	var timeMs int64
	err := d.db.QueryRowContext(ctx, `SELECT MAX(time_ms) FROM order_book_levels WHERE symbol=?`, symbol).Scan(&timeMs)
	if err != nil {
		if err == sql.ErrNoRows {
			return market.OrderBookSnapshot{}, nil
		}
		return market.OrderBookSnapshot{}, err
	}
	if timeMs == 0 {
		return market.OrderBookSnapshot{}, nil
	}

	rows, err := d.db.QueryContext(ctx, `SELECT side, level, price, quantity FROM order_book_levels WHERE symbol=? AND time_ms=? ORDER BY side, level ASC`, symbol, timeMs)
	if err != nil {
		return market.OrderBookSnapshot{}, err
	}
	defer rows.Close()

	snap := market.OrderBookSnapshot{Time: time.UnixMilli(timeMs).UTC(), Symbol: symbol}
	for rows.Next() {
		var side string
		lvl := market.OrderBookLevel{Time: snap.Time, Symbol: symbol}
		if err := rows.Scan(&side, &lvl.Level, &lvl.Price, &lvl.Quantity); err != nil {
			return market.OrderBookSnapshot{}, err
		}
		lvl.Side = market.Side(side)
		if lvl.Side == market.SideBid {
			snap.Bids = append(snap.Bids, lvl)
		} else {
			snap.Asks = append(snap.Asks, lvl)
		}
	}
	snap.ComputeAggregates()
	return snap, rows.Err()
}

func (d *EmbeddedDriver) SaveDataVersion(ctx context.Context, dv market.DataVersion) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO data_versions (id, table_name, window_start, window_end, record_count, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, dv.ID, dv.Table, dv.WindowStart.UnixMilli(), dv.WindowEnd.UnixMilli(), dv.RecordCount, dv.Checksum, dv.CreatedAt.UnixMilli())
	return err
}

func (d *EmbeddedDriver) Vacuum(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `VACUUM`)
	return err
}

func (d *EmbeddedDriver) Info(ctx context.Context) (Info, error) {
	info := Info{Type: "embedded_file", Initialized: d.db != nil}
	if d.path != ":memory:" {
		if fi, err := os.Stat(d.path); err == nil {
			info.SizeEstimate = fi.Size()
		}
	}
	return info, nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
