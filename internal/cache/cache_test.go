package cache

import (
	"testing"
	"time"

	"github.com/daveintdbn/futures-ingest/internal/market"
)

func TestGobRoundTripPreservesValue(t *testing.T) {
	in := market.Candle{
		Symbol: "BTC/USDT", Timeframe: "5m",
		Time: time.UnixMilli(1700000000000).UTC(),
		Open: 100, High: 110, Low: 90, Close: 105,
	}
	data, err := encodeGob(in)
	if err != nil {
		t.Fatalf("encodeGob: %v", err)
	}
	var out market.Candle
	if err := decodeGob(data, &out); err != nil {
		t.Fatalf("decodeGob: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestKeyFormattingSanitizesSymbol(t *testing.T) {
	if got := candleKey("BTC/USDT", "5m"); got != "candle:BTC_USDT:5m" {
		t.Errorf("unexpected candle key: %s", got)
	}
	if got := bookKey("BTC/USDT"); got != "book:BTC_USDT" {
		t.Errorf("unexpected book key: %s", got)
	}
	if got := fundingKey("BTC/USDT"); got != "funding:BTC_USDT" {
		t.Errorf("unexpected funding key: %s", got)
	}
}

// Exercising SetCandle/GetCandle/Ping against RedisCache requires a reachable
// Redis instance; that integration coverage belongs in a docker-compose-gated
// run, not this unit package, so only the pure key-derivation logic above is
// covered here.
