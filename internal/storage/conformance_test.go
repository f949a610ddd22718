package storage

import (
	"context"
	"testing"
	"time"

	"github.com/daveintdbn/futures-ingest/internal/market"
)

// conformanceDrivers returns one instance per backend that the test process
// can exercise without live infrastructure. RelationalDriver needs a running
// Postgres and CloudDocDriver needs a reachable DynamoDB endpoint, so both
// are skipped here rather than faked; wiring them in requires an
// integration-tagged run against docker-compose or a local DynamoDB, not a
// unit-test double, since the whole point of this battery is exercising the
// real upsert/overwrite semantics each backend actually provides.
func conformanceDrivers(t *testing.T) map[string]Driver {
	t.Helper()
	embedded := NewEmbeddedDriver(":memory:")
	if err := embedded.Init(context.Background()); err != nil {
		t.Fatalf("init embedded: %v", err)
	}
	t.Cleanup(func() { embedded.Close() })
	return map[string]Driver{"embedded_file": embedded}
}

// TestConformanceCandleBatchIdempotent exercises invariant I-2 ("resubmitting
// a batch must not duplicate rows") identically across every backend this
// process can reach.
func TestConformanceCandleBatchIdempotent(t *testing.T) {
	for name, d := range conformanceDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
			candles := []market.Candle{
				{Time: base, Symbol: "ETHUSDT", Timeframe: "1h", Open: 1, High: 2, Low: 0.5, Close: 1.5, Closed: true},
				{Time: base.Add(time.Hour), Symbol: "ETHUSDT", Timeframe: "1h", Open: 1.5, High: 2.5, Low: 1, Close: 2, Closed: true},
			}
			if err := d.SaveCandlesBatch(ctx, "ETHUSDT", "1h", candles); err != nil {
				t.Fatalf("save: %v", err)
			}
			if err := d.SaveCandlesBatch(ctx, "ETHUSDT", "1h", candles); err != nil {
				t.Fatalf("resave: %v", err)
			}
			got, err := d.GetCandles(ctx, "ETHUSDT", "1h", base, base.Add(time.Hour))
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 rows after duplicate submission, got %d", len(got))
			}
		})
	}
}

// TestConformanceRangeQueryInclusiveAscending exercises the universal
// range-read contract: inclusive of both bounds, ascending by time.
func TestConformanceRangeQueryInclusiveAscending(t *testing.T) {
	for name, d := range conformanceDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
			rows := []market.OpenInterest{
				{Time: base, Symbol: "ETHUSDT", Period: "5m", OpenInterest: 100, OpenInterestValue: 1000},
				{Time: base.Add(5 * time.Minute), Symbol: "ETHUSDT", Period: "5m", OpenInterest: 110, OpenInterestValue: 1100},
				{Time: base.Add(10 * time.Minute), Symbol: "ETHUSDT", Period: "5m", OpenInterest: 120, OpenInterestValue: 1200},
			}
			if err := d.SaveOpenInterestBatch(ctx, "ETHUSDT", rows); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := d.GetOpenInterest(ctx, "ETHUSDT", "5m", base, base.Add(5*time.Minute))
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected both boundary rows included, got %d", len(got))
			}
			if !got[0].Time.Before(got[1].Time) {
				t.Errorf("expected ascending order")
			}
		})
	}
}

// TestConformanceLiquidationDuplicateOrderIDNoOp exercises the resolved
// Open Question: reissuing an order_id is a silently-ignored duplicate on
// every backend in this battery (the cloud-doc driver, which is not in it,
// overwrites instead).
func TestConformanceLiquidationDuplicateOrderIDNoOp(t *testing.T) {
	for name, d := range conformanceDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
			first := market.Liquidation{OrderID: "dup-1", Time: now, Symbol: "ETHUSDT", Side: market.SideSell, Price: 2000, Quantity: 1}
			if err := d.SaveLiquidationsBatch(ctx, "ETHUSDT", []market.Liquidation{first}); err != nil {
				t.Fatalf("save: %v", err)
			}
			reissued := first
			reissued.Price = 2100
			if err := d.SaveLiquidationsBatch(ctx, "ETHUSDT", []market.Liquidation{reissued}); err != nil {
				t.Fatalf("resave: %v", err)
			}
			got, err := d.GetLiquidations(ctx, "ETHUSDT", now.Add(-time.Minute), now.Add(time.Minute))
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if len(got) != 1 || got[0].Price != 2000 {
				t.Fatalf("expected first-seen row to win, got %+v", got)
			}
		})
	}
}

// TestConformanceOrderBookFullReplace exercises the resolved Open Question:
// a later snapshot for the same timestamp replaces, never appends to, the
// prior level set.
func TestConformanceOrderBookFullReplace(t *testing.T) {
	for name, d := range conformanceDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ts := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
			first := market.OrderBookSnapshot{
				Time: ts, Symbol: "ETHUSDT",
				Bids: []market.OrderBookLevel{{Time: ts, Symbol: "ETHUSDT", Side: market.SideBid, Level: 0, Price: 2000, Quantity: 5}},
				Asks: []market.OrderBookLevel{{Time: ts, Symbol: "ETHUSDT", Side: market.SideAsk, Level: 0, Price: 2001, Quantity: 4}},
			}
			if err := d.SaveOrderBookSnapshot(ctx, first); err != nil {
				t.Fatalf("save: %v", err)
			}
			replacement := first
			replacement.Bids = []market.OrderBookLevel{{Time: ts, Symbol: "ETHUSDT", Side: market.SideBid, Level: 0, Price: 1999, Quantity: 10}}
			if err := d.SaveOrderBookSnapshot(ctx, replacement); err != nil {
				t.Fatalf("replace: %v", err)
			}
			got, err := d.GetLatestOrderBook(ctx, "ETHUSDT")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if len(got.Bids) != 1 || got.BestBid != 1999 {
				t.Fatalf("expected full replace, got %+v", got)
			}
		})
	}
}
