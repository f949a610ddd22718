package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/daveintdbn/futures-ingest/internal/market"
)

// RelationalConfig holds the connection parameters for the relational
// variant's canonical config keys (database.{host,port,database,user,password}).
type RelationalConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

func (c RelationalConfig) dsn() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		c.Host, c.Port, c.Database, c.User, c.Password)
}

// RelationalDriver is the time-series-hypertable variant: tables partitioned
// on their time column, with server-side upserts via ON CONFLICT.
type RelationalDriver struct {
	cfg RelationalConfig
	db  *sql.DB
}

// NewRelationalDriver constructs a RelationalDriver from its connection config.
func NewRelationalDriver(cfg RelationalConfig) *RelationalDriver {
	return &RelationalDriver{cfg: cfg}
}

func (d *RelationalDriver) Init(ctx context.Context) error {
	db, err := sql.Open("postgres", d.cfg.dsn())
	if err != nil {
		return fmt.Errorf("open relational store: %w", err)
	}
	db.SetMaxOpenConns(60) // 20 base + 40 overflow, per the concurrency model
	db.SetMaxIdleConns(20)
	db.SetConnMaxLifetime(time.Hour)
	d.db = db

	schema := `
	CREATE TABLE IF NOT EXISTS candles (
		symbol TEXT NOT NULL, timeframe TEXT NOT NULL, time TIMESTAMPTZ NOT NULL,
		open NUMERIC(20,8), high NUMERIC(20,8), low NUMERIC(20,8), close NUMERIC(20,8),
		volume NUMERIC(20,8), quote_volume NUMERIC(20,8), trades BIGINT,
		taker_buy_base NUMERIC(20,8), taker_buy_quote NUMERIC(20,8), closed BOOLEAN,
		PRIMARY KEY (symbol, timeframe, time)
	);
	CREATE TABLE IF NOT EXISTS open_interest (
		symbol TEXT NOT NULL, period TEXT NOT NULL, time TIMESTAMPTZ NOT NULL,
		open_interest NUMERIC(20,8), open_interest_value NUMERIC(20,8),
		PRIMARY KEY (symbol, period, time)
	);
	CREATE TABLE IF NOT EXISTS funding_rate (
		symbol TEXT NOT NULL, time TIMESTAMPTZ NOT NULL,
		funding_rate NUMERIC(20,8), mark_price NUMERIC(20,8),
		PRIMARY KEY (symbol, time)
	);
	CREATE TABLE IF NOT EXISTS liquidations (
		order_id TEXT PRIMARY KEY, symbol TEXT NOT NULL, time TIMESTAMPTZ NOT NULL,
		side TEXT, price NUMERIC(20,8), quantity NUMERIC(20,8)
	);
	CREATE INDEX IF NOT EXISTS idx_liquidations_symbol_time ON liquidations(symbol, time);
	CREATE TABLE IF NOT EXISTS long_short_ratio (
		symbol TEXT NOT NULL, period TEXT NOT NULL, time TIMESTAMPTZ NOT NULL,
		ratio NUMERIC(20,8), long_account NUMERIC(20,8), short_account NUMERIC(20,8),
		PRIMARY KEY (symbol, period, time)
	);
	CREATE TABLE IF NOT EXISTS order_book_levels (
		symbol TEXT NOT NULL, time TIMESTAMPTZ NOT NULL, side TEXT NOT NULL, level INT NOT NULL,
		price NUMERIC(20,8), quantity NUMERIC(20,8),
		PRIMARY KEY (symbol, time, side, level)
	);
	CREATE TABLE IF NOT EXISTS data_versions (
		id TEXT PRIMARY KEY, table_name TEXT, window_start TIMESTAMPTZ, window_end TIMESTAMPTZ,
		record_count BIGINT, checksum TEXT, created_at TIMESTAMPTZ
	);
	CREATE MATERIALIZED VIEW IF NOT EXISTS oi_price_hourly AS
		SELECT date_trunc('hour', oi.time) AS bucket, oi.symbol,
		       avg(oi.open_interest_value) AS avg_oi_value, avg(c.close) AS avg_close
		FROM open_interest oi
		JOIN candles c ON c.symbol = oi.symbol AND date_trunc('hour', c.time) = date_trunc('hour', oi.time)
		GROUP BY bucket, oi.symbol;
	`
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init relational schema: %w", err)
	}

	// Hypertable conversion requires the timescaledb extension; this is a
	// best-effort call that is a no-op (error swallowed, logged) when the
	// extension isn't installed, matching "structural equivalents; idempotent".
	for _, table := range []string{"candles", "open_interest", "funding_rate", "long_short_ratio", "order_book_levels"} {
		if _, err := d.db.ExecContext(ctx, fmt.Sprintf(`SELECT create_hypertable('%s', 'time', if_not_exists => TRUE)`, table)); err != nil {
			log.Printf("[STORAGE] create_hypertable(%s) skipped: %v", table, err)
		}
	}
	return nil
}

func (d *RelationalDriver) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *RelationalDriver) SaveCandlesBatch(ctx context.Context, symbol, timeframe string, candles []market.Candle) error {
	return withTx(ctx, d.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO candles (symbol, timeframe, time, open, high, low, close, volume, quote_volume, trades, taker_buy_base, taker_buy_quote, closed)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (symbol, timeframe, time) DO UPDATE SET
				open=excluded.open, high=excluded.high, low=excluded.low, close=excluded.close,
				volume=excluded.volume, quote_volume=excluded.quote_volume, trades=excluded.trades,
				taker_buy_base=excluded.taker_buy_base, taker_buy_quote=excluded.taker_buy_quote, closed=excluded.closed
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range candles {
			if _, err := stmt.ExecContext(ctx, symbol, timeframe, c.Time, c.Open, c.High, c.Low, c.Close, c.Volume, c.QuoteVolume, c.Trades, c.TakerBuyBase, c.TakerBuyQuote, c.Closed); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *RelationalDriver) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]market.Candle, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT time, open, high, low, close, volume, quote_volume, trades, taker_buy_base, taker_buy_quote, closed
		FROM candles WHERE symbol=$1 AND timeframe=$2 AND time BETWEEN $3 AND $4 ORDER BY time ASC
	`, symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Candle
	for rows.Next() {
		c := market.Candle{Symbol: symbol, Timeframe: timeframe}
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.QuoteVolume, &c.Trades, &c.TakerBuyBase, &c.TakerBuyQuote, &c.Closed); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *RelationalDriver) GetLatestCandles(ctx context.Context, symbol, timeframe string, n int) ([]market.Candle, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT time, open, high, low, close, volume, quote_volume, trades, taker_buy_base, taker_buy_quote, closed
		FROM candles WHERE symbol=$1 AND timeframe=$2 ORDER BY time DESC LIMIT $3
	`, symbol, timeframe, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Candle
	for rows.Next() {
		c := market.Candle{Symbol: symbol, Timeframe: timeframe}
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.QuoteVolume, &c.Trades, &c.TakerBuyBase, &c.TakerBuyQuote, &c.Closed); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	reverse(out)
	return out, rows.Err()
}

func (d *RelationalDriver) SaveOpenInterestBatch(ctx context.Context, symbol string, rows []market.OpenInterest) error {
	return withTx(ctx, d.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO open_interest (symbol, period, time, open_interest, open_interest_value)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (symbol, period, time) DO UPDATE SET
				open_interest=excluded.open_interest, open_interest_value=excluded.open_interest_value
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, symbol, r.Period, r.Time, r.OpenInterest, r.OpenInterestValue); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *RelationalDriver) GetOpenInterest(ctx context.Context, symbol, period string, start, end time.Time) ([]market.OpenInterest, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT time, open_interest, open_interest_value FROM open_interest
		WHERE symbol=$1 AND period=$2 AND time BETWEEN $3 AND $4 ORDER BY time ASC
	`, symbol, period, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.OpenInterest
	for rows.Next() {
		r := market.OpenInterest{Symbol: symbol, Period: period}
		if err := rows.Scan(&r.Time, &r.OpenInterest, &r.OpenInterestValue); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *RelationalDriver) GetLatestOpenInterest(ctx context.Context, symbol, period string, n int) ([]market.OpenInterest, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT time, open_interest, open_interest_value FROM open_interest
		WHERE symbol=$1 AND period=$2 ORDER BY time DESC LIMIT $3
	`, symbol, period, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.OpenInterest
	for rows.Next() {
		r := market.OpenInterest{Symbol: symbol, Period: period}
		if err := rows.Scan(&r.Time, &r.OpenInterest, &r.OpenInterestValue); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	reverse(out)
	return out, rows.Err()
}

func (d *RelationalDriver) SaveFundingRateBatch(ctx context.Context, symbol string, rows []market.FundingRate) error {
	return withTx(ctx, d.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO funding_rate (symbol, time, funding_rate, mark_price) VALUES ($1,$2,$3,$4) ON CONFLICT (symbol, time) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, symbol, r.FundingTime, r.FundingRate, r.MarkPrice); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *RelationalDriver) GetFundingRate(ctx context.Context, symbol string, start, end time.Time) ([]market.FundingRate, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT time, funding_rate, mark_price FROM funding_rate WHERE symbol=$1 AND time BETWEEN $2 AND $3 ORDER BY time ASC`, symbol, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.FundingRate
	for rows.Next() {
		r := market.FundingRate{Symbol: symbol}
		if err := rows.Scan(&r.FundingTime, &r.FundingRate, &r.MarkPrice); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *RelationalDriver) GetLatestFundingRate(ctx context.Context, symbol string, n int) ([]market.FundingRate, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT time, funding_rate, mark_price FROM funding_rate WHERE symbol=$1 ORDER BY time DESC LIMIT $2`, symbol, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.FundingRate
	for rows.Next() {
		r := market.FundingRate{Symbol: symbol}
		if err := rows.Scan(&r.FundingTime, &r.FundingRate, &r.MarkPrice); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	reverse(out)
	return out, rows.Err()
}

func (d *RelationalDriver) SaveLiquidationsBatch(ctx context.Context, symbol string, rows []market.Liquidation) error {
	return withTx(ctx, d.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO liquidations (order_id, symbol, time, side, price, quantity) VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (order_id) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.OrderID, symbol, r.Time, string(r.Side), r.Price, r.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *RelationalDriver) GetLiquidations(ctx context.Context, symbol string, start, end time.Time) ([]market.Liquidation, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT order_id, time, side, price, quantity FROM liquidations WHERE symbol=$1 AND time BETWEEN $2 AND $3 ORDER BY time ASC`, symbol, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Liquidation
	for rows.Next() {
		var side string
		r := market.Liquidation{Symbol: symbol}
		if err := rows.Scan(&r.OrderID, &r.Time, &side, &r.Price, &r.Quantity); err != nil {
			return nil, err
		}
		r.Side = market.Side(side)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *RelationalDriver) GetLatestLiquidations(ctx context.Context, symbol string, n int) ([]market.Liquidation, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT order_id, time, side, price, quantity FROM liquidations WHERE symbol=$1 ORDER BY time DESC LIMIT $2`, symbol, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Liquidation
	for rows.Next() {
		var side string
		r := market.Liquidation{Symbol: symbol}
		if err := rows.Scan(&r.OrderID, &r.Time, &side, &r.Price, &r.Quantity); err != nil {
			return nil, err
		}
		r.Side = market.Side(side)
		out = append(out, r)
	}
	reverse(out)
	return out, rows.Err()
}

func (d *RelationalDriver) SaveLongShortRatioBatch(ctx context.Context, symbol string, rows []market.LongShortRatio) error {
	return withTx(ctx, d.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO long_short_ratio (symbol, period, time, ratio, long_account, short_account)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (symbol, period, time) DO UPDATE SET
				ratio=excluded.ratio, long_account=excluded.long_account, short_account=excluded.short_account
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, symbol, r.Period, r.Time, r.Ratio, r.LongAccount, r.ShortAccount); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *RelationalDriver) GetLongShortRatio(ctx context.Context, symbol, period string, start, end time.Time) ([]market.LongShortRatio, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT time, ratio, long_account, short_account FROM long_short_ratio WHERE symbol=$1 AND period=$2 AND time BETWEEN $3 AND $4 ORDER BY time ASC`, symbol, period, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.LongShortRatio
	for rows.Next() {
		r := market.LongShortRatio{Symbol: symbol, Period: period}
		if err := rows.Scan(&r.Time, &r.Ratio, &r.LongAccount, &r.ShortAccount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *RelationalDriver) GetLatestLongShortRatio(ctx context.Context, symbol, period string, n int) ([]market.LongShortRatio, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT time, ratio, long_account, short_account FROM long_short_ratio WHERE symbol=$1 AND period=$2 ORDER BY time DESC LIMIT $3`, symbol, period, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.LongShortRatio
	for rows.Next() {
		r := market.LongShortRatio{Symbol: symbol, Period: period}
		if err := rows.Scan(&r.Time, &r.Ratio, &r.LongAccount, &r.ShortAccount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	reverse(out)
	return out, rows.Err()
}

func (d *RelationalDriver) SaveOrderBookSnapshot(ctx context.Context, snap market.OrderBookSnapshot) error {
	return withTx(ctx, d.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM order_book_levels WHERE symbol=$1 AND time=$2`, snap.Symbol, snap.Time); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO order_book_levels (symbol, time, side, level, price, quantity) VALUES ($1,$2,$3,$4,$5,$6)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, lvl := range append(append([]market.OrderBookLevel{}, snap.Bids...), snap.Asks...) {
			if _, err := stmt.ExecContext(ctx, snap.Symbol, snap.Time, string(lvl.Side), lvl.Level, lvl.Price, lvl.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *RelationalDriver) GetLatestOrderBook(ctx context.Context, symbol string) (market.OrderBookSnapshot, error) {
	var ts time.Time
	err := d.db.QueryRowContext(ctx, `SELECT max(time) FROM order_book_levels WHERE symbol=$1`, symbol).Scan(&ts)
	if err != nil {
		if err == sql.ErrNoRows {
			return market.OrderBookSnapshot{}, nil
		}
		return market.OrderBookSnapshot{}, err
	}
	if ts.IsZero() {
		return market.OrderBookSnapshot{}, nil
	}

	rows, err := d.db.QueryContext(ctx, `SELECT side, level, price, quantity FROM order_book_levels WHERE symbol=$1 AND time=$2 ORDER BY side, level ASC`, symbol, ts)
	if err != nil {
		return market.OrderBookSnapshot{}, err
	}
	defer rows.Close()

	snap := market.OrderBookSnapshot{Time: ts, Symbol: symbol}
	for rows.Next() {
		var side string
		lvl := market.OrderBookLevel{Time: ts, Symbol: symbol}
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

func (d *RelationalDriver) SaveDataVersion(ctx context.Context, dv market.DataVersion) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO data_versions (id, table_name, window_start, window_end, record_count, checksum, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, dv.ID, dv.Table, dv.WindowStart, dv.WindowEnd, dv.RecordCount, dv.Checksum, dv.CreatedAt)
	return err
}

func (d *RelationalDriver) Vacuum(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `VACUUM ANALYZE`)
	return err
}

func (d *RelationalDriver) Info(ctx context.Context) (Info, error) {
	info := Info{Type: "relational", Initialized: d.db != nil}
	err := d.db.QueryRowContext(ctx, `SELECT pg_database_size(current_database())`).Scan(&info.SizeEstimate)
	if err != nil {
		return info, nil // size estimate is best-effort
	}
	return info, nil
}
