// Package market defines the typed records the ingestion core moves between
// the exchange client, the collectors and the storage driver.
package market

import "time"

// Side is a liquidation or order-book side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideBid  Side = "BID"
	SideAsk  Side = "ASK"
)

// Candle is one OHLCV bar for (time, symbol, timeframe).
type Candle struct {
	Time           time.Time
	Symbol         string
	Timeframe      string
	Open           float64
	High           float64
	Low            float64
	Close          float64
	Volume         float64
	QuoteVolume    float64
	Trades         int64
	TakerBuyBase   float64
	TakerBuyQuote  float64
	Closed         bool // false for an in-progress candle; may be rewritten
}

// OpenInterest is one sample for (time, symbol, period).
type OpenInterest struct {
	Time             time.Time
	Symbol           string
	Period           string
	OpenInterest     float64
	OpenInterestValue float64
}

// FundingRate is one funding event for (funding_time, symbol). Append-only.
type FundingRate struct {
	FundingTime time.Time
	Symbol      string
	FundingRate float64
	MarkPrice   float64
}

// Liquidation is one forced-order event keyed by OrderID.
type Liquidation struct {
	OrderID  string
	Time     time.Time
	Symbol   string
	Side     Side
	Price    float64
	Quantity float64
}

// LongShortRatio is one sample for (time, symbol, period).
type LongShortRatio struct {
	Time          time.Time
	Symbol        string
	Period        string
	Ratio         float64
	LongAccount   float64
	ShortAccount  float64
}

// OrderBookLevel is one priced level of a snapshot, keyed by (time, symbol, side, level).
type OrderBookLevel struct {
	Time     time.Time
	Symbol   string
	Side     Side
	Level    int
	Price    float64
	Quantity float64
}

// OrderBookSnapshot is the aggregate view of a depth fetch, derived from its levels.
type OrderBookSnapshot struct {
	Time      time.Time
	Symbol    string
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
	BestBid   float64
	BestAsk   float64
	Spread    float64
	SpreadBps float64
	MidPrice  float64
}

// ComputeAggregates fills in BestBid/BestAsk/Spread/SpreadBps/MidPrice from Bids/Asks.
// Bids and Asks must already be sorted so Bids[0] and Asks[0] are the best levels.
func (s *OrderBookSnapshot) ComputeAggregates() {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return
	}
	s.BestBid = s.Bids[0].Price
	s.BestAsk = s.Asks[0].Price
	s.Spread = s.BestAsk - s.BestBid
	s.MidPrice = (s.BestBid + s.BestAsk) / 2
	if s.MidPrice != 0 {
		s.SpreadBps = (s.Spread / s.MidPrice) * 10000
	}
}

// DataVersion is an append-only log entry written at the end of a completed backfill.
type DataVersion struct {
	ID              string
	Table           string
	WindowStart     time.Time
	WindowEnd       time.Time
	RecordCount     int
	Checksum        string
	CreatedAt       time.Time
}

// StreamKind identifies a WebSocket stream variant consumed by the streaming collector.
type StreamKind string

const (
	StreamKline       StreamKind = "kline"
	StreamMarkPrice   StreamKind = "markPrice"
	StreamForceOrder  StreamKind = "forceOrder"
)

// StreamEvent is a typed, already-decoded message arriving from a subscribed stream.
type StreamEvent struct {
	Kind      StreamKind
	Symbol    string
	Candle    *Candle
	Funding   *FundingRate
	Liquidation *Liquidation
	ReceivedAt time.Time
}
