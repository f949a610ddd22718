package storage

import (
	"context"
	"testing"
	"time"

	"github.com/daveintdbn/futures-ingest/internal/market"
)

func openTestDriver(t *testing.T) *EmbeddedDriver {
	t.Helper()
	d := NewEmbeddedDriver(":memory:")
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func sampleCandles() []market.Candle {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return []market.Candle{
		{Time: base, Symbol: "SOLUSDT", Timeframe: "5m", Open: 10, High: 12, Low: 9, Close: 11, Volume: 100, Closed: true},
		{Time: base.Add(5 * time.Minute), Symbol: "SOLUSDT", Timeframe: "5m", Open: 11, High: 13, Low: 10, Close: 12, Volume: 120, Closed: true},
	}
}

// TestSaveCandlesBatchIsIdempotent mirrors scenario S1: submitting the same
// batch twice leaves exactly 2 rows, not 4.
func TestSaveCandlesBatchIsIdempotent(t *testing.T) {
	d := openTestDriver(t)
	ctx := context.Background()
	candles := sampleCandles()

	if err := d.SaveCandlesBatch(ctx, "SOLUSDT", "5m", candles); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := d.SaveCandlesBatch(ctx, "SOLUSDT", "5m", candles); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := d.GetCandles(ctx, "SOLUSDT", "5m", candles[0].Time, candles[1].Time)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows after duplicate submission, got %d", len(got))
	}
}

func TestSaveCandlesBatchUpsertsLastWriterWins(t *testing.T) {
	d := openTestDriver(t)
	ctx := context.Background()
	candles := sampleCandles()
	if err := d.SaveCandlesBatch(ctx, "SOLUSDT", "5m", candles); err != nil {
		t.Fatalf("save: %v", err)
	}

	revised := candles
	revised[0].Close = 999
	if err := d.SaveCandlesBatch(ctx, "SOLUSDT", "5m", revised[:1]); err != nil {
		t.Fatalf("revise: %v", err)
	}

	got, err := d.GetCandles(ctx, "SOLUSDT", "5m", candles[0].Time, candles[0].Time)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 || got[0].Close != 999 {
		t.Fatalf("expected last-writer-wins close=999, got %+v", got)
	}
}

func TestGetLatestCandlesReturnsAscendingOrder(t *testing.T) {
	d := openTestDriver(t)
	ctx := context.Background()
	if err := d.SaveCandlesBatch(ctx, "SOLUSDT", "5m", sampleCandles()); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := d.GetLatestCandles(ctx, "SOLUSDT", "5m", 2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if !got[0].Time.Before(got[1].Time) {
		t.Errorf("expected ascending order, got %v then %v", got[0].Time, got[1].Time)
	}
}

func TestSaveLiquidationsBatchIgnoresDuplicateOrderID(t *testing.T) {
	d := openTestDriver(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	liq := []market.Liquidation{{OrderID: "abc123", Time: now, Symbol: "BTCUSDT", Side: market.SideSell, Price: 50000, Quantity: 0.1}}

	if err := d.SaveLiquidationsBatch(ctx, "BTCUSDT", liq); err != nil {
		t.Fatalf("first save: %v", err)
	}
	// Reissue with a different price for the same order_id; duplicate must no-op.
	liq[0].Price = 51000
	if err := d.SaveLiquidationsBatch(ctx, "BTCUSDT", liq); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := d.GetLiquidations(ctx, "BTCUSDT", now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row (duplicate order_id ignored), got %d", len(got))
	}
	if got[0].Price != 50000 {
		t.Errorf("expected original price preserved at 50000, got %v", got[0].Price)
	}
}

// TestSaveOrderBookSnapshotFullReplace exercises the delete-then-insert
// transaction: a later snapshot for the same timestamp replaces all levels.
func TestSaveOrderBookSnapshotFullReplace(t *testing.T) {
	d := openTestDriver(t)
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Millisecond)

	snap := market.OrderBookSnapshot{
		Time: ts, Symbol: "BTCUSDT",
		Bids: []market.OrderBookLevel{{Time: ts, Symbol: "BTCUSDT", Side: market.SideBid, Level: 0, Price: 100, Quantity: 1000}},
		Asks: []market.OrderBookLevel{{Time: ts, Symbol: "BTCUSDT", Side: market.SideAsk, Level: 0, Price: 100.05, Quantity: 800}},
	}
	if err := d.SaveOrderBookSnapshot(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	replacement := snap
	replacement.Bids = []market.OrderBookLevel{
		{Time: ts, Symbol: "BTCUSDT", Side: market.SideBid, Level: 0, Price: 101, Quantity: 500},
		{Time: ts, Symbol: "BTCUSDT", Side: market.SideBid, Level: 1, Price: 100.5, Quantity: 300},
	}
	if err := d.SaveOrderBookSnapshot(ctx, replacement); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := d.GetLatestOrderBook(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Bids) != 2 {
		t.Fatalf("expected full replace to leave exactly 2 bid levels, got %d", len(got.Bids))
	}
	if got.BestBid != 101 {
		t.Errorf("expected best bid 101 after replace, got %v", got.BestBid)
	}
}

func TestSaveDataVersionRecordsCompletion(t *testing.T) {
	d := openTestDriver(t)
	ctx := context.Background()
	dv := market.DataVersion{
		ID: "dv-1", Table: "candles",
		WindowStart: time.Now().Add(-time.Hour), WindowEnd: time.Now(),
		RecordCount: 2, Checksum: "deadbeef", CreatedAt: time.Now(),
	}
	if err := d.SaveDataVersion(ctx, dv); err != nil {
		t.Fatalf("save data version: %v", err)
	}
}

func TestInfoReportsInitialized(t *testing.T) {
	d := openTestDriver(t)
	info, err := d.Info(context.Background())
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !info.Initialized || info.Type != "embedded_file" {
		t.Errorf("unexpected info: %+v", info)
	}
}
