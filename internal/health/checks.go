package health

import (
	"context"
	"fmt"
	"time"

	"github.com/daveintdbn/futures-ingest/internal/cache"
	"github.com/daveintdbn/futures-ingest/internal/exchange"
	"github.com/daveintdbn/futures-ingest/internal/storage"
)

// NewStorageCheck reports the Storage Driver as healthy when Info succeeds.
func NewStorageCheck(driver storage.Driver) CheckFunc {
	return func(ctx context.Context) (Status, string) {
		if _, err := driver.Info(ctx); err != nil {
			return StatusUnhealthy, fmt.Sprintf("storage unreachable: %v", err)
		}
		return StatusHealthy, ""
	}
}

// NewCacheCheck reports the cache as degraded (not unhealthy) when
// unreachable: collectors still function against storage alone.
func NewCacheCheck(c cache.Cache) CheckFunc {
	return func(ctx context.Context) (Status, string) {
		if err := c.Ping(ctx); err != nil {
			return StatusDegraded, fmt.Sprintf("cache unreachable: %v", err)
		}
		return StatusHealthy, ""
	}
}

// NewExchangeCheck reports the exchange client as healthy when a cheap
// read (latest order book at the smallest depth, Depth5) succeeds for a representative symbol.
func NewExchangeCheck(client exchange.Client, probeSymbol string) CheckFunc {
	return func(ctx context.Context) (Status, string) {
		if _, err := client.FetchOrderBook(ctx, probeSymbol, exchange.Depth5); err != nil {
			return StatusUnhealthy, fmt.Sprintf("exchange unreachable: %v", err)
		}
		return StatusHealthy, ""
	}
}

// NewFreshnessCheck reports the collector pipeline as degraded when the
// most recent closed candle for symbol/timeframe is older than maxAge.
func NewFreshnessCheck(driver storage.Driver, symbol, timeframe string, maxAge time.Duration) CheckFunc {
	return func(ctx context.Context) (Status, string) {
		candles, err := driver.GetLatestCandles(ctx, symbol, timeframe, 1)
		if err != nil {
			return StatusUnhealthy, fmt.Sprintf("freshness check failed: %v", err)
		}
		if len(candles) == 0 {
			return StatusDegraded, "no candles collected yet"
		}
		age := time.Since(candles[0].Time)
		if age > maxAge {
			return StatusDegraded, fmt.Sprintf("latest candle is %s old (max %s)", age.Round(time.Second), maxAge)
		}
		return StatusHealthy, ""
	}
}
