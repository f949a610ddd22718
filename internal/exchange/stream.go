package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/daveintdbn/futures-ingest/internal/market"
	"github.com/daveintdbn/futures-ingest/internal/resilience"
)

// ConnState is one of the streaming collector's connection states.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateOpen
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	default:
		return "DISCONNECTED"
	}
}

const maxReconnectBackoff = 60 * time.Second

// StreamClient is the WebSocket half of Client: a single multiplexed
// connection to the exchange's combined stream endpoint
// (wss://.../stream?streams=a/b/c), auto-reconnecting with exponential
// backoff and reporting every state transition.
type StreamClient struct {
	wsBaseURL string
	dialer    *websocket.Dialer
	tracker   *resilience.Tracker

	mu     sync.Mutex
	conn   *websocket.Conn
	state  ConnState
	events chan market.StreamEvent
}

// NewStreamClient constructs a StreamClient. tracker may be nil.
func NewStreamClient(wsBaseURL string, tracker *resilience.Tracker) *StreamClient {
	return &StreamClient{
		wsBaseURL: wsBaseURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		tracker: tracker,
		state:   StateDisconnected,
	}
}

// State returns the current connection state.
func (s *StreamClient) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StreamClient) setState(state ConnState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	log.Printf("[STREAM] state -> %s", state)
}

func streamName(symbol string, kind market.StreamKind) string {
	norm := strings.ToLower(market.NormalizeSymbol(symbol))
	switch kind {
	case market.StreamKline:
		return norm + "@kline_1m"
	case market.StreamMarkPrice:
		return norm + "@markPrice"
	case market.StreamForceOrder:
		return norm + "@forceOrder"
	default:
		return norm
	}
}

// SubscribeStreams dials the combined endpoint for symbols x kinds and
// returns a channel of decoded events plus a stop function. stop()
// interrupts the read loop after the current message is handled; it does
// not drop a message already in flight.
func (s *StreamClient) SubscribeStreams(ctx context.Context, symbols []string, kinds []market.StreamKind) (<-chan market.StreamEvent, func(), error) {
	names := make([]string, 0, len(symbols)*len(kinds))
	for _, sym := range symbols {
		for _, kind := range kinds {
			names = append(names, streamName(sym, kind))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.events = make(chan market.StreamEvent, 256)

	if err := s.connect(runCtx, names); err != nil {
		cancel()
		return nil, func() {}, err
	}

	go s.run(runCtx, names)

	stop := func() {
		cancel()
	}
	return s.events, stop, nil
}

func (s *StreamClient) connect(ctx context.Context, names []string) error {
	s.setState(StateConnecting)

	u := fmt.Sprintf("%s/stream?streams=%s", s.wsBaseURL, url.QueryEscape(strings.Join(names, "/")))
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, _, err := s.dialer.DialContext(dialCtx, u, nil)
	if err != nil {
		s.setState(StateDisconnected)
		return resilience.Classify(resilience.KindNetwork, err)
	}
	conn.SetReadLimit(1 << 20)

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.setState(StateOpen)
	return nil
}

// run owns the read loop and the reconnect-with-backoff behavior. It exits
// when ctx is cancelled.
func (s *StreamClient) run(ctx context.Context, names []string) {
	defer close(s.events)
	defer s.closeConn()

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}

		err := s.readLoop(ctx)
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		if s.tracker != nil {
			s.tracker.Record(resilience.KindNetwork, err, "stream", resilience.SeverityWarning)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}

		if err := s.connect(ctx, names); err != nil {
			continue // setState already recorded DISCONNECTED; loop retries with the grown backoff
		}
		backoff = time.Second
	}
}

func (s *StreamClient) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// readLoop reads messages until the connection errors or ctx is cancelled.
func (s *StreamClient) readLoop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("read loop started without a connection")
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue // malformed frame; drop and keep reading
		}
		evt, ok := decodeEvent(env)
		if !ok {
			continue
		}

		select {
		case s.events <- evt:
		case <-ctx.Done():
			return nil
		default:
			// backpressure: drop rather than block the read loop
		}
	}
}

type rawKlineEvent struct {
	E string `json:"e"`
	S string `json:"s"`
	K struct {
		T int64  `json:"t"`
		O string `json:"o"`
		H string `json:"h"`
		L string `json:"l"`
		C string `json:"c"`
		V string `json:"v"`
		T2 int64 `json:"T"`
		Q string `json:"q"`
		N int64  `json:"n"`
		X bool   `json:"x"`
		Vb string `json:"V"`
		Qb string `json:"Q"`
	} `json:"k"`
}

type rawMarkPriceEvent struct {
	S string `json:"s"`
	P string `json:"p"`
	E int64  `json:"E"`
}

type rawForceOrderEvent struct {
	S string `json:"s"`
	O struct {
		Side string `json:"S"`
		Price string `json:"p"`
		Qty   string `json:"q"`
		Time  int64  `json:"T"`
		ID    int64  `json:"i"`
	} `json:"o"`
}

func decodeEvent(env envelope) (market.StreamEvent, bool) {
	switch {
	case strings.Contains(env.Stream, "@kline"):
		var k rawKlineEvent
		if json.Unmarshal(env.Data, &k) != nil {
			return market.StreamEvent{}, false
		}
		c := market.Candle{
			Time:          time.UnixMilli(k.K.T2).UTC(),
			Symbol:        k.S,
			Timeframe:     "1m",
			Open:          parseFloat(k.K.O),
			High:          parseFloat(k.K.H),
			Low:           parseFloat(k.K.L),
			Close:         parseFloat(k.K.C),
			Volume:        parseFloat(k.K.V),
			QuoteVolume:   parseFloat(k.K.Q),
			Trades:        k.K.N,
			TakerBuyBase:  parseFloat(k.K.Vb),
			TakerBuyQuote: parseFloat(k.K.Qb),
			Closed:        k.K.X,
		}
		return market.StreamEvent{Kind: market.StreamKline, Symbol: k.S, Candle: &c, ReceivedAt: time.Now().UTC()}, true
	case strings.Contains(env.Stream, "@markPrice"):
		var m rawMarkPriceEvent
		if json.Unmarshal(env.Data, &m) != nil {
			return market.StreamEvent{}, false
		}
		f := market.FundingRate{
			FundingTime: time.UnixMilli(m.E).UTC(),
			Symbol:      m.S,
			MarkPrice:   parseFloat(m.P),
		}
		return market.StreamEvent{Kind: market.StreamMarkPrice, Symbol: m.S, Funding: &f, ReceivedAt: time.Now().UTC()}, true
	case strings.Contains(env.Stream, "@forceOrder"):
		var fo rawForceOrderEvent
		if json.Unmarshal(env.Data, &fo) != nil {
			return market.StreamEvent{}, false
		}
		liq := market.Liquidation{
			OrderID:  strconv.FormatInt(fo.O.ID, 10),
			Time:     time.UnixMilli(fo.O.Time).UTC(),
			Symbol:   fo.S,
			Side:     market.Side(fo.O.Side),
			Price:    parseFloat(fo.O.Price),
			Quantity: parseFloat(fo.O.Qty),
		}
		return market.StreamEvent{Kind: market.StreamForceOrder, Symbol: fo.S, Liquidation: &liq, ReceivedAt: time.Now().UTC()}, true
	default:
		return market.StreamEvent{}, false
	}
}
