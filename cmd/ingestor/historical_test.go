package main

import (
	"testing"

	"github.com/daveintdbn/futures-ingest/internal/collector"
)

func TestStreamLabel(t *testing.T) {
	cases := []struct {
		spec collector.StreamSpec
		want string
	}{
		{collector.StreamSpec{Resource: collector.ResourceOHLCV, Symbol: "BTCUSDT", Timeframe: "1m"}, "ohlcv/BTCUSDT@1m"},
		{collector.StreamSpec{Resource: collector.ResourceOpenInterest, Symbol: "BTCUSDT", Period: "5m"}, "open_interest/BTCUSDT@5m"},
		{collector.StreamSpec{Resource: collector.ResourceFundingRate, Symbol: "BTCUSDT"}, "funding_rate/BTCUSDT"},
	}
	for _, tc := range cases {
		if got := streamLabel(tc.spec); got != tc.want {
			t.Errorf("streamLabel(%+v) = %q, want %q", tc.spec, got, tc.want)
		}
	}
}
