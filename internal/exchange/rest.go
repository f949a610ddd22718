package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/daveintdbn/futures-ingest/internal/market"
	"github.com/daveintdbn/futures-ingest/internal/resilience"
)

// RESTClient is the REST half of Client, talking to a Binance-style USD-M
// futures REST surface. Every public method wraps its HTTP call in
// Retry(Breaker(call)) and reports the final outcome to a Tracker.
type RESTClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	limiter  *resilience.Limiter
	spacer   *resilience.Spacer
	breakers *resilience.Registry
	retry    *resilience.Retry
	tracker  *resilience.Tracker
}

// RESTClientConfig bundles the shared resilience dependencies and transport.
type RESTClientConfig struct {
	BaseURL    string
	APIKey     string // static credential passed through on every request; no other auth
	HTTPClient *http.Client // defaults to a client with a 30s timeout
	Limiter    *resilience.Limiter
	Spacer     *resilience.Spacer
	Breakers   *resilience.Registry
	Retry      *resilience.Retry
	Tracker    *resilience.Tracker
}

// NewRESTClient constructs a RESTClient. Nil dependencies fall back to spec defaults.
func NewRESTClient(cfg RESTClientConfig) *RESTClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Limiter == nil {
		cfg.Limiter = resilience.NewLimiter(1200)
	}
	if cfg.Spacer == nil {
		cfg.Spacer = resilience.NewSpacer()
		cfg.Spacer.SetGap("ohlcv", 200*time.Millisecond)
		cfg.Spacer.SetGap("open_interest", 300*time.Millisecond)
	}
	if cfg.Breakers == nil {
		cfg.Breakers = resilience.NewRegistry(resilience.EndpointBreakerConfig())
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.NewRetry(resilience.DefaultRetryConfig())
	}
	if cfg.Tracker == nil {
		cfg.Tracker = resilience.NewTracker(nil)
	}
	return &RESTClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: cfg.HTTPClient,
		limiter:    cfg.Limiter,
		spacer:     cfg.Spacer,
		breakers:   cfg.Breakers,
		retry:      cfg.Retry,
		tracker:    cfg.Tracker,
	}
}

// call runs the protected request: global rate limit, per-endpoint spacing,
// then Retry(Breaker(do)). On final failure it records "api_<resource>_error"
// into the tracker and returns the error unchanged.
func (c *RESTClient) call(ctx context.Context, resource string, do func() error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := c.spacer.Wait(ctx, resource); err != nil {
		return err
	}

	breaker := c.breakers.Get(resource)
	err := c.retry.Do(ctx, func() error {
		return breaker.Call(do)
	})
	if err != nil {
		severity := resilience.SeverityError
		if errors.As(err, new(*resilience.ErrCircuitOpen)) {
			severity = resilience.SeverityWarning
		}
		c.tracker.Record(resilience.Kind(fmt.Sprintf("api_%s_error", resource)), err, resource, severity)
	}
	return err
}

// get issues a GET to path with query params, classifying the outcome into
// the generic resilience taxonomy (network/timeout/rate_limit/exchange_server/
// exchange_client) and decoding a successful JSON body into out.
func (c *RESTClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return resilience.Classify(resilience.KindNetwork, err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return resilience.Classify(resilience.KindTimeout, err)
		}
		return resilience.Classify(resilience.KindNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.Classify(resilience.KindNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return resilience.Classify(resilience.KindRateLimit, fmt.Errorf("429: %s", body))
	case resp.StatusCode >= 500:
		return resilience.Classify(resilience.KindExchangeServer, fmt.Errorf("%d: %s", resp.StatusCode, body))
	case resp.StatusCode >= 400:
		return resilience.Classify(resilience.KindExchangeClient, fmt.Errorf("%d: %s", resp.StatusCode, body))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resilience.Classify(resilience.KindExchangeClient, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

type rawCandle struct {
	OpenTime        int64  `json:"openTime"`
	Open            string `json:"open"`
	High            string `json:"high"`
	Low             string `json:"low"`
	Close           string `json:"close"`
	Volume          string `json:"volume"`
	CloseTime       int64  `json:"closeTime"`
	QuoteVolume     string `json:"quoteVolume"`
	Trades          int64  `json:"trades"`
	TakerBuyBase    string `json:"takerBuyBase"`
	TakerBuyQuote   string `json:"takerBuyQuote"`
	Closed          bool   `json:"closed"`
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// FetchOHLCV yields candles for (symbol, timeframe) ascending by close time.
func (c *RESTClient) FetchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]market.Candle, error) {
	norm := market.NormalizeSymbol(symbol)
	var raw []rawCandle
	err := c.call(ctx, "ohlcv", func() error {
		q := url.Values{
			"symbol":    {norm},
			"interval":  {timeframe},
			"startTime": {strconv.FormatInt(since, 10)},
			"limit":     {strconv.Itoa(limit)},
		}
		return c.get(ctx, "/fapi/v1/klines", q, &raw)
	})
	if err != nil {
		return nil, err
	}

	out := make([]market.Candle, 0, len(raw))
	for _, r := range raw {
		out = append(out, market.Candle{
			Time:          time.UnixMilli(r.CloseTime).UTC(),
			Symbol:        norm,
			Timeframe:     timeframe,
			Open:          parseFloat(r.Open),
			High:          parseFloat(r.High),
			Low:           parseFloat(r.Low),
			Close:         parseFloat(r.Close),
			Volume:        parseFloat(r.Volume),
			QuoteVolume:   parseFloat(r.QuoteVolume),
			Trades:        r.Trades,
			TakerBuyBase:  parseFloat(r.TakerBuyBase),
			TakerBuyQuote: parseFloat(r.TakerBuyQuote),
			Closed:        r.Closed,
		})
	}
	return out, nil
}

type rawOpenInterest struct {
	Time              int64  `json:"timestamp"`
	OpenInterest      string `json:"sumOpenInterest"`
	OpenInterestValue string `json:"sumOpenInterestValue"`
}

// FetchOpenInterestHist yields OI samples for (symbol, period) ascending.
func (c *RESTClient) FetchOpenInterestHist(ctx context.Context, symbol, period string, limit int) ([]market.OpenInterest, error) {
	norm := market.NormalizeSymbol(symbol)
	var raw []rawOpenInterest
	err := c.call(ctx, "open_interest", func() error {
		q := url.Values{"symbol": {norm}, "period": {period}, "limit": {strconv.Itoa(limit)}}
		return c.get(ctx, "/futures/data/openInterestHist", q, &raw)
	})
	if err != nil {
		return nil, err
	}
	out := make([]market.OpenInterest, 0, len(raw))
	for _, r := range raw {
		out = append(out, market.OpenInterest{
			Time:              time.UnixMilli(r.Time).UTC(),
			Symbol:            norm,
			Period:            period,
			OpenInterest:      parseFloat(r.OpenInterest),
			OpenInterestValue: parseFloat(r.OpenInterestValue),
		})
	}
	return out, nil
}

type rawFunding struct {
	FundingTime int64  `json:"fundingTime"`
	FundingRate string `json:"fundingRate"`
	MarkPrice   string `json:"markPrice"`
}

// FetchFundingRate yields funding events for symbol ascending.
func (c *RESTClient) FetchFundingRate(ctx context.Context, symbol string, startTime *int64, limit int) ([]market.FundingRate, error) {
	norm := market.NormalizeSymbol(symbol)
	var raw []rawFunding
	err := c.call(ctx, "funding_rate", func() error {
		q := url.Values{"symbol": {norm}, "limit": {strconv.Itoa(limit)}}
		if startTime != nil {
			q.Set("startTime", strconv.FormatInt(*startTime, 10))
		}
		return c.get(ctx, "/fapi/v1/fundingRate", q, &raw)
	})
	if err != nil {
		return nil, err
	}
	out := make([]market.FundingRate, 0, len(raw))
	for _, r := range raw {
		out = append(out, market.FundingRate{
			FundingTime: time.UnixMilli(r.FundingTime).UTC(),
			Symbol:      norm,
			FundingRate: parseFloat(r.FundingRate),
			MarkPrice:   parseFloat(r.MarkPrice),
		})
	}
	return out, nil
}

type rawLiquidation struct {
	OrderID  string `json:"orderId"`
	Time     int64  `json:"time"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Quantity string `json:"origQty"`
}

// FetchLiquidations yields recent forced orders for symbol.
func (c *RESTClient) FetchLiquidations(ctx context.Context, symbol string, limit int) ([]market.Liquidation, error) {
	norm := market.NormalizeSymbol(symbol)
	var raw []rawLiquidation
	err := c.call(ctx, "liquidations", func() error {
		q := url.Values{"symbol": {norm}, "limit": {strconv.Itoa(limit)}}
		return c.get(ctx, "/fapi/v1/forceOrders", q, &raw)
	})
	if err != nil {
		return nil, err
	}
	out := make([]market.Liquidation, 0, len(raw))
	for _, r := range raw {
		out = append(out, market.Liquidation{
			OrderID:  r.OrderID,
			Time:     time.UnixMilli(r.Time).UTC(),
			Symbol:   norm,
			Side:     market.Side(r.Side),
			Price:    parseFloat(r.Price),
			Quantity: parseFloat(r.Quantity),
		})
	}
	return out, nil
}

type rawTraderRatio struct {
	Time         int64  `json:"timestamp"`
	Ratio        string `json:"longShortRatio"`
	LongAccount  string `json:"longAccount"`
	ShortAccount string `json:"shortAccount"`
}

// FetchTopTraderRatio yields long/short ratio samples for (symbol, period) ascending.
func (c *RESTClient) FetchTopTraderRatio(ctx context.Context, symbol, period string, limit int) ([]market.LongShortRatio, error) {
	norm := market.NormalizeSymbol(symbol)
	var raw []rawTraderRatio
	err := c.call(ctx, "trader_ratio", func() error {
		q := url.Values{"symbol": {norm}, "period": {period}, "limit": {strconv.Itoa(limit)}}
		return c.get(ctx, "/futures/data/topLongShortPositionRatio", q, &raw)
	})
	if err != nil {
		return nil, err
	}
	out := make([]market.LongShortRatio, 0, len(raw))
	for _, r := range raw {
		out = append(out, market.LongShortRatio{
			Time:         time.UnixMilli(r.Time).UTC(),
			Symbol:       norm,
			Period:       period,
			Ratio:        parseFloat(r.Ratio),
			LongAccount:  parseFloat(r.LongAccount),
			ShortAccount: parseFloat(r.ShortAccount),
		})
	}
	return out, nil
}

type rawDepth struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

// FetchOrderBook returns a full snapshot with aggregates computed.
func (c *RESTClient) FetchOrderBook(ctx context.Context, symbol string, depth Depth) (market.OrderBookSnapshot, error) {
	norm := market.NormalizeSymbol(symbol)
	var raw rawDepth
	err := c.call(ctx, "depth", func() error {
		q := url.Values{"symbol": {norm}, "limit": {strconv.Itoa(int(depth))}}
		return c.get(ctx, "/fapi/v1/depth", q, &raw)
	})
	if err != nil {
		return market.OrderBookSnapshot{}, err
	}

	now := time.Now().UTC()
	snap := market.OrderBookSnapshot{Time: now, Symbol: norm}
	for i, lvl := range raw.Bids {
		snap.Bids = append(snap.Bids, market.OrderBookLevel{
			Time: now, Symbol: norm, Side: market.SideBid, Level: i,
			Price: parseFloat(lvl[0]), Quantity: parseFloat(lvl[1]),
		})
	}
	for i, lvl := range raw.Asks {
		snap.Asks = append(snap.Asks, market.OrderBookLevel{
			Time: now, Symbol: norm, Side: market.SideAsk, Level: i,
			Price: parseFloat(lvl[0]), Quantity: parseFloat(lvl[1]),
		})
	}
	snap.ComputeAggregates()
	return snap, nil
}
