package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchOHLCVParsesCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/klines" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		resp := []rawCandle{
			{OpenTime: 1700000000000, Open: "10", High: "12", Low: "9", Close: "11", Volume: "100", CloseTime: 1700000299999, QuoteVolume: "1100", Trades: 5, Closed: true},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewRESTClient(RESTClientConfig{BaseURL: srv.URL})
	candles, err := c.FetchOHLCV(context.Background(), "SOL/USDT", "5m", 1700000000000, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	c0 := candles[0]
	if c0.Symbol != "SOLUSDT" {
		t.Errorf("expected normalized symbol SOLUSDT, got %s", c0.Symbol)
	}
	if c0.Open != 10 || c0.High != 12 || c0.Low != 9 || c0.Close != 11 {
		t.Errorf("unexpected OHLC parse: %+v", c0)
	}
	if !c0.Closed {
		t.Errorf("expected Closed=true")
	}
}

func TestFetchOHLCVPropagatesClientErrorWithoutRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"msg":"bad symbol"}`))
	}))
	defer srv.Close()

	c := NewRESTClient(RESTClientConfig{BaseURL: srv.URL})
	_, err := c.FetchOHLCV(context.Background(), "BAD", "5m", 0, 10)
	if err == nil {
		t.Fatalf("expected an error for a 400 response")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a non-retryable 4xx, got %d", attempts)
	}
}

func TestFetchOrderBookComputesAggregates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := rawDepth{
			Bids: [][2]string{{"100.00", "1000"}, {"99.95", "500"}},
			Asks: [][2]string{{"100.05", "800"}, {"100.10", "600"}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewRESTClient(RESTClientConfig{BaseURL: srv.URL})
	snap, err := c.FetchOrderBook(context.Background(), "BTC/USDT", Depth5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.BestBid != 100.00 || snap.BestAsk != 100.05 {
		t.Fatalf("unexpected best bid/ask: %+v", snap)
	}
	if diff := snap.Spread - 0.05; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected spread 0.05, got %v", snap.Spread)
	}
	if diff := snap.MidPrice - 100.025; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected mid_price 100.025, got %v", snap.MidPrice)
	}
	if diff := snap.SpreadBps - 4.9987503; diff > 1e-3 || diff < -1e-3 {
		t.Errorf("expected spread_bps ~4.9987, got %v", snap.SpreadBps)
	}
}
