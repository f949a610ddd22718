// Package exchange implements the typed REST/WebSocket client the
// collectors pull market data through. Every REST call is wrapped in
// Retry(Breaker(call)) and reports failures to an injected error Tracker.
// The WebSocket subscription is not wrapped in Retry or Breaker: it
// reconnects with its own doubling backoff and reports failures to the
// Tracker.
package exchange

import (
	"context"

	"github.com/daveintdbn/futures-ingest/internal/market"
)

// Depth is a supported order-book depth level.
type Depth int

const (
	Depth5    Depth = 5
	Depth10   Depth = 10
	Depth20   Depth = 20
	Depth50   Depth = 50
	Depth100  Depth = 100
	Depth500  Depth = 500
	Depth1000 Depth = 1000
)

// Client is the typed surface the collectors depend on. Implementations
// normalize symbols (e.g. "SOL/USDT" <-> "SOLUSDT") internally and return
// ordered sequences of already-decoded records; empty results are empty
// slices, never errors.
type Client interface {
	FetchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]market.Candle, error)
	FetchOpenInterestHist(ctx context.Context, symbol, period string, limit int) ([]market.OpenInterest, error)
	FetchFundingRate(ctx context.Context, symbol string, startTime *int64, limit int) ([]market.FundingRate, error)
	FetchLiquidations(ctx context.Context, symbol string, limit int) ([]market.Liquidation, error)
	FetchTopTraderRatio(ctx context.Context, symbol, period string, limit int) ([]market.LongShortRatio, error)
	FetchOrderBook(ctx context.Context, symbol string, depth Depth) (market.OrderBookSnapshot, error)
	SubscribeStreams(ctx context.Context, symbols []string, kinds []market.StreamKind) (<-chan market.StreamEvent, func(), error)
}

// PagePeriod is the natural page size per resource, used by the Historical
// Collector to compute its per-call limit.
var PagePeriod = map[string]int{
	"ohlcv":          1500,
	"open_interest":  500,
	"funding_rate":   1000,
	"liquidations":   1000,
	"long_short_ratio": 500,
}
