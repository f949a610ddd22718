// Package storage provides the pluggable persistence abstraction over three
// backends (relational time-series, embedded single-file, cloud document
// store) sharing one interface and one conformance test battery.
package storage

import (
	"context"
	"time"

	"github.com/daveintdbn/futures-ingest/internal/market"
)

// Info describes a driver's runtime identity for the health checker and the
// init command.
type Info struct {
	Type        string
	Initialized bool
	SizeEstimate int64 // backend-specific; bytes for file/relational, item count for cloud-doc
}

// Driver is the storage abstraction every collector writes through. All
// batch saves are idempotent: resubmitting the same batch must not
// duplicate rows nor raise. Range reads return rows ascending by the
// entity's time column, inclusive of both bounds.
type Driver interface {
	Init(ctx context.Context) error

	SaveCandlesBatch(ctx context.Context, symbol, timeframe string, candles []market.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]market.Candle, error)
	GetLatestCandles(ctx context.Context, symbol, timeframe string, n int) ([]market.Candle, error)

	SaveOpenInterestBatch(ctx context.Context, symbol string, rows []market.OpenInterest) error
	GetOpenInterest(ctx context.Context, symbol, period string, start, end time.Time) ([]market.OpenInterest, error)
	GetLatestOpenInterest(ctx context.Context, symbol, period string, n int) ([]market.OpenInterest, error)

	SaveFundingRateBatch(ctx context.Context, symbol string, rows []market.FundingRate) error
	GetFundingRate(ctx context.Context, symbol string, start, end time.Time) ([]market.FundingRate, error)
	GetLatestFundingRate(ctx context.Context, symbol string, n int) ([]market.FundingRate, error)

	SaveLiquidationsBatch(ctx context.Context, symbol string, rows []market.Liquidation) error
	GetLiquidations(ctx context.Context, symbol string, start, end time.Time) ([]market.Liquidation, error)
	GetLatestLiquidations(ctx context.Context, symbol string, n int) ([]market.Liquidation, error)

	SaveLongShortRatioBatch(ctx context.Context, symbol string, rows []market.LongShortRatio) error
	GetLongShortRatio(ctx context.Context, symbol, period string, start, end time.Time) ([]market.LongShortRatio, error)
	GetLatestLongShortRatio(ctx context.Context, symbol, period string, n int) ([]market.LongShortRatio, error)

	SaveOrderBookSnapshot(ctx context.Context, snap market.OrderBookSnapshot) error
	GetLatestOrderBook(ctx context.Context, symbol string) (market.OrderBookSnapshot, error)

	SaveDataVersion(ctx context.Context, dv market.DataVersion) error

	Vacuum(ctx context.Context) error
	Info(ctx context.Context) (Info, error)
	Close() error
}

// BatchSize is a suggested chunk size for callers grouping records. No
// driver reads it: the SQL drivers do not sub-chunk, and the cloud-doc
// driver chunks at DynamoDB's 25-item BatchWriteItem limit.
const BatchSize = 1000
