package collector

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/daveintdbn/futures-ingest/internal/cache"
	"github.com/daveintdbn/futures-ingest/internal/exchange"
	"github.com/daveintdbn/futures-ingest/internal/market"
	"github.com/daveintdbn/futures-ingest/internal/storage"
)

const (
	defaultWSBatchSize     = 10
	defaultWSBatchInterval = 100 * time.Millisecond
)

// StreamingConfig tunes the per-kind batch buffer.
type StreamingConfig struct {
	BatchSize     int
	BatchInterval time.Duration
}

func (c StreamingConfig) withDefaults() StreamingConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultWSBatchSize
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = defaultWSBatchInterval
	}
	return c
}

// StreamingCollector consumes the Exchange Client's subscribed event stream,
// batches each kind independently, and flushes on size or interval,
// whichever comes first. The Cache update is best-effort: a nil cache
// simply skips it.
type StreamingCollector struct {
	client  exchange.Client
	storage storage.Driver
	cache   cache.Cache // may be nil
	cfg     StreamingConfig

	mu       sync.Mutex
	stopping bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewStreamingCollector builds a StreamingCollector. cache may be nil.
func NewStreamingCollector(client exchange.Client, driver storage.Driver, c cache.Cache, cfg StreamingConfig) *StreamingCollector {
	return &StreamingCollector{
		client:  client,
		storage: driver,
		cache:   c,
		cfg:     cfg.withDefaults(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Run subscribes to symbols/kinds and consumes events until ctx is
// cancelled or stop() is called. It blocks until the consumer loop exits,
// guaranteeing the last in-flight batch is either fully flushed or never
// started, never half-written.
func (s *StreamingCollector) Run(ctx context.Context, symbols []string, kinds []market.StreamKind) error {
	events, cancel, err := s.client.SubscribeStreams(ctx, symbols, kinds)
	if err != nil {
		return err
	}
	defer cancel()
	defer close(s.doneCh)

	buffers := make(map[market.StreamKind][]market.StreamEvent)
	ticker := time.NewTicker(s.cfg.BatchInterval)
	defer ticker.Stop()

	flushAll := func() {
		for kind, buf := range buffers {
			if len(buf) == 0 {
				continue
			}
			s.flush(ctx, kind, buf)
			buffers[kind] = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flushAll()
			return ctx.Err()

		case <-s.stopCh:
			flushAll()
			return nil

		case ev, ok := <-events:
			if !ok {
				flushAll()
				return nil
			}
			buffers[ev.Kind] = append(buffers[ev.Kind], ev)
			if len(buffers[ev.Kind]) >= s.cfg.BatchSize {
				s.flush(ctx, ev.Kind, buffers[ev.Kind])
				buffers[ev.Kind] = nil
			}

		case <-ticker.C:
			flushAll()
		}
	}
}

// Stop interrupts the consumer loop after the current batch is flushed and
// blocks until Run has returned. Idempotent.
func (s *StreamingCollector) Stop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		<-s.doneCh
		return
	}
	s.stopping = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
}

func (s *StreamingCollector) flush(ctx context.Context, kind market.StreamKind, batch []market.StreamEvent) {
	switch kind {
	case market.StreamKline:
		var candles []market.Candle
		for _, ev := range batch {
			if ev.Candle != nil {
				candles = append(candles, *ev.Candle)
			}
		}
		if len(candles) == 0 {
			return
		}
		symbol, timeframe := candles[0].Symbol, candles[0].Timeframe
		if err := s.storage.SaveCandlesBatch(ctx, symbol, timeframe, candles); err != nil {
			log.Printf("[STREAM] flush kline batch failed: %v", err)
			return
		}
		if s.cache != nil {
			last := candles[len(candles)-1]
			if err := s.cache.SetCandle(ctx, symbol, timeframe, last); err != nil {
				log.Printf("[STREAM] cache update failed: %v", err)
			}
		}

	case market.StreamMarkPrice:
		var rows []market.FundingRate
		for _, ev := range batch {
			if ev.Funding != nil {
				rows = append(rows, *ev.Funding)
			}
		}
		if len(rows) == 0 {
			return
		}
		symbol := rows[0].Symbol
		if err := s.storage.SaveFundingRateBatch(ctx, symbol, rows); err != nil {
			log.Printf("[STREAM] flush markPrice batch failed: %v", err)
			return
		}
		if s.cache != nil {
			last := rows[len(rows)-1]
			if err := s.cache.SetFundingRate(ctx, symbol, last); err != nil {
				log.Printf("[STREAM] cache update failed: %v", err)
			}
		}

	case market.StreamForceOrder:
		var rows []market.Liquidation
		for _, ev := range batch {
			if ev.Liquidation != nil {
				rows = append(rows, *ev.Liquidation)
			}
		}
		if len(rows) == 0 {
			return
		}
		symbol := rows[0].Symbol
		if err := s.storage.SaveLiquidationsBatch(ctx, symbol, rows); err != nil {
			log.Printf("[STREAM] flush forceOrder batch failed: %v", err)
		}
	}
}
