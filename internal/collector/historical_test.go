package collector

import (
	"context"
	"testing"
	"time"

	"github.com/daveintdbn/futures-ingest/internal/exchange"
	"github.com/daveintdbn/futures-ingest/internal/market"
	"github.com/daveintdbn/futures-ingest/internal/resilience"
	"github.com/daveintdbn/futures-ingest/internal/storage"
)

// fakeClient serves the next entry of pages on each OHLCV call, regardless of
// since, then an empty page.
type fakeClient struct {
	pages      [][]market.Candle
	call       int
	orderBook  market.OrderBookSnapshot
}

func (f *fakeClient) FetchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]market.Candle, error) {
	if f.call >= len(f.pages) {
		return nil, nil
	}
	page := f.pages[f.call]
	f.call++
	return page, nil
}
func (f *fakeClient) FetchOpenInterestHist(ctx context.Context, symbol, period string, limit int) ([]market.OpenInterest, error) {
	return nil, nil
}
func (f *fakeClient) FetchFundingRate(ctx context.Context, symbol string, startTime *int64, limit int) ([]market.FundingRate, error) {
	return nil, nil
}
func (f *fakeClient) FetchLiquidations(ctx context.Context, symbol string, limit int) ([]market.Liquidation, error) {
	return nil, nil
}
func (f *fakeClient) FetchTopTraderRatio(ctx context.Context, symbol, period string, limit int) ([]market.LongShortRatio, error) {
	return nil, nil
}
func (f *fakeClient) FetchOrderBook(ctx context.Context, symbol string, depth exchange.Depth) (market.OrderBookSnapshot, error) {
	return f.orderBook, nil
}
func (f *fakeClient) SubscribeStreams(ctx context.Context, symbols []string, kinds []market.StreamKind) (<-chan market.StreamEvent, func(), error) {
	ch := make(chan market.StreamEvent)
	return ch, func() { close(ch) }, nil
}

var _ exchange.Client = (*fakeClient)(nil)

func newTestStorage(t *testing.T) storage.Driver {
	t.Helper()
	d := storage.NewEmbeddedDriver(":memory:")
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("init storage: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// TestCollectStreamPersistsUniqueRowsAcrossWindow exercises testable
// property #5: the number of unique rows persisted equals the number of
// unique timestamps in [start, end] for that stream.
func TestCollectStreamPersistsUniqueRowsAcrossWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	page1 := []market.Candle{
		{Time: start, Symbol: "ETHUSDT", Timeframe: "5m", Open: 1, High: 2, Low: 1, Close: 1.5, Closed: true},
		{Time: start.Add(5 * time.Minute), Symbol: "ETHUSDT", Timeframe: "5m", Open: 1.5, High: 2, Low: 1, Close: 1.8, Closed: true},
	}
	page2 := []market.Candle{
		{Time: start.Add(10 * time.Minute), Symbol: "ETHUSDT", Timeframe: "5m", Open: 1.8, High: 2, Low: 1.5, Close: 1.9, Closed: true},
	}
	client := &fakeClient{pages: [][]market.Candle{page1, page2}}
	driver := newTestStorage(t)
	collector := NewHistoricalCollector(client, driver, market.NewValidator(), resilience.NewTracker(nil), 1)

	end := start.Add(10 * time.Minute)
	result := collector.CollectStream(context.Background(), StreamSpec{Resource: ResourceOHLCV, Symbol: "ETHUSDT", Timeframe: "5m"}, start, end)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.RecordsWritten != 3 {
		t.Fatalf("expected 3 unique rows written, got %d", result.RecordsWritten)
	}

	got, err := driver.GetCandles(context.Background(), "ETHUSDT", "5m", start, end)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 persisted rows, got %d", len(got))
	}
}

func TestCollectAllConcurrentAggregatesEveryStream(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	client := &fakeClient{
		pages: [][]market.Candle{{
			{Time: start, Symbol: "ETHUSDT", Timeframe: "5m", Open: 1, High: 2, Low: 1, Close: 1.5, Closed: true},
		}},
		orderBook: market.OrderBookSnapshot{
			Time: start, Symbol: "ETHUSDT",
			Bids: []market.OrderBookLevel{{Symbol: "ETHUSDT", Side: market.SideBid, Level: 0, Price: 100, Quantity: 1}},
			Asks: []market.OrderBookLevel{{Symbol: "ETHUSDT", Side: market.SideAsk, Level: 0, Price: 101, Quantity: 1}},
		},
	}
	driver := newTestStorage(t)
	collector := NewHistoricalCollector(client, driver, market.NewValidator(), resilience.NewTracker(nil), 0)

	streams := []StreamSpec{
		{Resource: ResourceOHLCV, Symbol: "ETHUSDT", Timeframe: "5m"},
		{Resource: ResourceOrderBook, Symbol: "ETHUSDT"},
	}
	agg := collector.CollectAllConcurrent(context.Background(), streams, start, start.Add(time.Hour))
	if len(agg.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(agg.Results))
	}
	for _, r := range agg.Results {
		if r.Err != nil {
			t.Errorf("stream %s failed: %v", r.Spec.key(), r.Err)
		}
	}
}

// TestCollectStreamMarksPartialOnCircuitOpen exercises the CircuitOpen
// skip-and-mark-partial behavior without consuming the retry budget.
func TestCollectStreamMarksPartialOnCircuitOpen(t *testing.T) {
	client := &failingClient{err: &resilience.ErrCircuitOpen{Breaker: "ohlcv"}}
	driver := newTestStorage(t)
	collector := NewHistoricalCollector(client, driver, market.NewValidator(), resilience.NewTracker(nil), 1)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	result := collector.CollectStream(context.Background(), StreamSpec{Resource: ResourceOHLCV, Symbol: "ETHUSDT", Timeframe: "5m"}, start, start.Add(time.Hour))
	if !result.Partial {
		t.Fatalf("expected Partial=true on circuit_open, got %+v", result)
	}
}

type failingClient struct {
	fakeClient
	err error
}

func (f *failingClient) FetchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]market.Candle, error) {
	return nil, f.err
}
