// Package collector implements the two entry points that move data from the
// Exchange Client into the Storage Driver: a paginated historical backfill
// and a batching real-time stream consumer.
package collector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daveintdbn/futures-ingest/internal/exchange"
	"github.com/daveintdbn/futures-ingest/internal/market"
	"github.com/daveintdbn/futures-ingest/internal/resilience"
	"github.com/daveintdbn/futures-ingest/internal/storage"
)

// Resource identifies one of the backfillable data streams.
type Resource string

const (
	ResourceOHLCV          Resource = "ohlcv"
	ResourceOpenInterest   Resource = "open_interest"
	ResourceFundingRate    Resource = "funding_rate"
	ResourceLiquidations   Resource = "liquidations"
	ResourceLongShortRatio Resource = "long_short_ratio"
	ResourceOrderBook      Resource = "order_book"
)

// StreamSpec names one backfill target: a resource for a symbol, with the
// resource-specific parameters (timeframe for OHLCV, period for OI/L-S ratio).
type StreamSpec struct {
	Resource  Resource
	Symbol    string
	Timeframe string // OHLCV only
	Period    string // open_interest / long_short_ratio only
}

func (s StreamSpec) key() string {
	return fmt.Sprintf("%s:%s:%s:%s", s.Resource, s.Symbol, s.Timeframe, s.Period)
}

// StreamResult is the outcome of one backfilled stream.
type StreamResult struct {
	Spec         StreamSpec
	RecordsWritten int
	Partial      bool // true if a CircuitOpen skipped the remainder of the window
	Err          error
}

// AggregateResult is the outcome of collect_all_concurrent across all streams.
type AggregateResult struct {
	Results []StreamResult
}

const retryPauseOnExhaustion = 2 * time.Second

// HistoricalCollector paginates the Exchange Client across a time window
// and writes deduplicated, clipped batches through the Storage Driver.
type HistoricalCollector struct {
	client      exchange.Client
	storage     storage.Driver
	validator   *market.Validator
	tracker     *resilience.Tracker
	concurrency int
}

// NewHistoricalCollector builds a collector. concurrency <= 0 defaults to
// the number of streams passed to CollectAllConcurrent.
func NewHistoricalCollector(client exchange.Client, driver storage.Driver, validator *market.Validator, tracker *resilience.Tracker, concurrency int) *HistoricalCollector {
	return &HistoricalCollector{client: client, storage: driver, validator: validator, tracker: tracker, concurrency: concurrency}
}

// CollectAllConcurrent launches every stream in parallel bounded by the
// collector's concurrency limit (or len(streams) if unset), aggregating
// per-stream outcomes.
func (h *HistoricalCollector) CollectAllConcurrent(ctx context.Context, streams []StreamSpec, start, end time.Time) AggregateResult {
	limit := h.concurrency
	if limit <= 0 {
		limit = len(streams)
	}
	if limit <= 0 {
		return AggregateResult{}
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make([]StreamResult, len(streams))

	for i, spec := range streams {
		wg.Add(1)
		go func(i int, spec StreamSpec) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res := h.CollectStream(ctx, spec, start, end)
			mu.Lock()
			results[i] = res
			mu.Unlock()
		}(i, spec)
	}
	wg.Wait()

	return AggregateResult{Results: results}
}

// CollectStream backfills one stream across [start, end], paginating the
// Exchange Client, deduplicating by the entity's key, clipping to end, and
// writing through the Storage Driver. A Data Version record is appended on
// completion.
func (h *HistoricalCollector) CollectStream(ctx context.Context, spec StreamSpec, start, end time.Time) StreamResult {
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()
	limit := pageSize(spec.Resource)
	totalWritten := 0

	for {
		select {
		case <-ctx.Done():
			return StreamResult{Spec: spec, RecordsWritten: totalWritten, Err: ctx.Err()}
		default:
		}

		nextCursor, written, err := h.fetchAndWritePage(ctx, spec, cursor, endMs, limit)
		if err != nil {
			if kind := resilience.KindOf(err); kind == resilience.KindCircuitOpen {
				log.Printf("[COLLECTOR] %s circuit open, marking partial and skipping remainder", spec.key())
				return StreamResult{Spec: spec, RecordsWritten: totalWritten, Partial: true, Err: err}
			}
			if resilience.Retryable(resilience.KindOf(err)) {
				log.Printf("[COLLECTOR] %s retryable failure exhausted, pausing: %v", spec.key(), err)
				select {
				case <-time.After(retryPauseOnExhaustion):
				case <-ctx.Done():
					return StreamResult{Spec: spec, RecordsWritten: totalWritten, Err: ctx.Err()}
				}
				continue
			}
			return StreamResult{Spec: spec, RecordsWritten: totalWritten, Err: err}
		}

		totalWritten += written
		if written == 0 || nextCursor <= cursor || nextCursor > endMs {
			break
		}
		cursor = nextCursor
	}

	if err := h.recordDataVersion(ctx, spec, start, end, totalWritten); err != nil {
		log.Printf("[COLLECTOR] %s failed to record data version: %v", spec.key(), err)
	}
	return StreamResult{Spec: spec, RecordsWritten: totalWritten}
}

// recordNonFatal logs and records every failing non-fatal check in report
// without rejecting the batch: spec §4.6 requires a batch failing a
// non-fatal check (time-continuity gap, price-return spike) to be logged
// and still written.
func (h *HistoricalCollector) recordNonFatal(report market.BatchReport, context string) {
	for _, c := range report.Results {
		if c.Fatal || c.Pass {
			continue
		}
		log.Printf("[COLLECTOR] %s non-fatal check %q failed: %s", context, c.Name, c.Detail)
		h.tracker.Record(resilience.KindValidation, fmt.Errorf("%s: %s", c.Name, c.Detail), context, resilience.SeverityWarning)
	}
}

func pageSize(r Resource) int {
	switch r {
	case ResourceOHLCV:
		return exchange.PagePeriod["ohlcv"]
	case ResourceOpenInterest:
		return exchange.PagePeriod["open_interest"]
	case ResourceFundingRate:
		return exchange.PagePeriod["funding_rate"]
	case ResourceLiquidations:
		return exchange.PagePeriod["liquidations"]
	case ResourceLongShortRatio:
		return exchange.PagePeriod["long_short_ratio"]
	default:
		return 500
	}
}

// fetchAndWritePage fetches one page for the given stream, deduplicates by
// the entity's key, clips rows beyond endMs, writes the batch, and returns
// the cursor to resume from plus the number of rows actually written.
func (h *HistoricalCollector) fetchAndWritePage(ctx context.Context, spec StreamSpec, sinceMs, endMs int64, limit int) (int64, int, error) {
	switch spec.Resource {
	case ResourceOHLCV:
		candles, err := h.client.FetchOHLCV(ctx, spec.Symbol, spec.Timeframe, sinceMs, limit)
		if err != nil {
			return 0, 0, err
		}
		candles = clipCandles(candles, endMs)
		candles = dedupeCandles(candles)
		if len(candles) == 0 {
			return 0, 0, nil
		}
		report := h.validator.ValidateCandles(candles)
		if fatal, ok := report.FirstFatal(); ok {
			h.tracker.Record(resilience.KindValidation, fmt.Errorf("%s: %s", fatal.Name, fatal.Detail), spec.key(), resilience.SeverityWarning)
			candles = nil
		}
		if len(candles) == 0 {
			return sinceMs, 0, nil
		}
		h.recordNonFatal(report, spec.key())
		if err := h.storage.SaveCandlesBatch(ctx, spec.Symbol, spec.Timeframe, candles); err != nil {
			return 0, 0, resilience.Classify(resilience.KindStorage, err)
		}
		last := candles[len(candles)-1].Time.UnixMilli()
		return last + periodMillis(spec.Timeframe), len(candles), nil

	case ResourceOpenInterest:
		rows, err := h.client.FetchOpenInterestHist(ctx, spec.Symbol, spec.Period, limit)
		if err != nil {
			return 0, 0, err
		}
		rows = clipOI(rows, endMs)
		if len(rows) == 0 {
			return sinceMs, 0, nil
		}
		report := h.validator.ValidateOpenInterest(rows)
		if fatal, ok := report.FirstFatal(); ok {
			h.tracker.Record(resilience.KindValidation, fmt.Errorf("%s: %s", fatal.Name, fatal.Detail), spec.key(), resilience.SeverityWarning)
			return sinceMs, 0, nil
		}
		h.recordNonFatal(report, spec.key())
		if err := h.storage.SaveOpenInterestBatch(ctx, spec.Symbol, rows); err != nil {
			return 0, 0, resilience.Classify(resilience.KindStorage, err)
		}
		last := rows[len(rows)-1].Time.UnixMilli()
		return last + 1, len(rows), nil

	case ResourceFundingRate:
		since := sinceMs
		rows, err := h.client.FetchFundingRate(ctx, spec.Symbol, &since, limit)
		if err != nil {
			return 0, 0, err
		}
		var clipped []market.FundingRate
		for _, r := range rows {
			if r.FundingTime.UnixMilli() <= endMs {
				clipped = append(clipped, r)
			}
		}
		if len(clipped) == 0 {
			return sinceMs, 0, nil
		}
		if err := h.storage.SaveFundingRateBatch(ctx, spec.Symbol, clipped); err != nil {
			return 0, 0, resilience.Classify(resilience.KindStorage, err)
		}
		last := clipped[len(clipped)-1].FundingTime.UnixMilli()
		return last + 1, len(clipped), nil

	case ResourceLiquidations:
		rows, err := h.client.FetchLiquidations(ctx, spec.Symbol, limit)
		if err != nil {
			return 0, 0, err
		}
		var clipped []market.Liquidation
		for _, r := range rows {
			if r.Time.UnixMilli() <= endMs {
				clipped = append(clipped, r)
			}
		}
		if len(clipped) == 0 {
			return 0, 0, nil // forceOrder history has no stable cursor to page by; one page is all we get
		}
		if err := h.storage.SaveLiquidationsBatch(ctx, spec.Symbol, clipped); err != nil {
			return 0, 0, resilience.Classify(resilience.KindStorage, err)
		}
		return 0, len(clipped), nil

	case ResourceLongShortRatio:
		rows, err := h.client.FetchTopTraderRatio(ctx, spec.Symbol, spec.Period, limit)
		if err != nil {
			return 0, 0, err
		}
		var clipped []market.LongShortRatio
		for _, r := range rows {
			if r.Time.UnixMilli() <= endMs {
				clipped = append(clipped, r)
			}
		}
		if len(clipped) == 0 {
			return sinceMs, 0, nil
		}
		if err := h.storage.SaveLongShortRatioBatch(ctx, spec.Symbol, clipped); err != nil {
			return 0, 0, resilience.Classify(resilience.KindStorage, err)
		}
		last := clipped[len(clipped)-1].Time.UnixMilli()
		return last + 1, len(clipped), nil

	case ResourceOrderBook:
		snap, err := h.client.FetchOrderBook(ctx, spec.Symbol, exchange.Depth100)
		if err != nil {
			return 0, 0, err
		}
		if err := h.storage.SaveOrderBookSnapshot(ctx, snap); err != nil {
			return 0, 0, resilience.Classify(resilience.KindStorage, err)
		}
		return 0, len(snap.Bids) + len(snap.Asks), nil

	default:
		return 0, 0, fmt.Errorf("unknown resource %q", spec.Resource)
	}
}

func clipCandles(candles []market.Candle, endMs int64) []market.Candle {
	out := candles[:0:0]
	for _, c := range candles {
		if c.Time.UnixMilli() <= endMs {
			out = append(out, c)
		}
	}
	return out
}

func clipOI(rows []market.OpenInterest, endMs int64) []market.OpenInterest {
	out := rows[:0:0]
	for _, r := range rows {
		if r.Time.UnixMilli() <= endMs {
			out = append(out, r)
		}
	}
	return out
}

// dedupeCandles absorbs an exchange page that re-sends the in-progress
// candle at the page boundary: last occurrence of a given timestamp wins.
func dedupeCandles(candles []market.Candle) []market.Candle {
	seen := make(map[int64]market.Candle, len(candles))
	order := make([]int64, 0, len(candles))
	for _, c := range candles {
		key := c.Time.UnixMilli()
		if _, ok := seen[key]; !ok {
			order = append(order, key)
		}
		seen[key] = c
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]market.Candle, 0, len(order))
	for _, k := range order {
		out = append(out, seen[k])
	}
	return out
}

func periodMillis(timeframe string) int64 {
	d, err := parseTimeframe(timeframe)
	if err != nil || d <= 0 {
		return 1
	}
	return d.Milliseconds()
}

func parseTimeframe(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	unit := tf[len(tf)-1]
	var n int
	if _, err := fmt.Sscanf(tf[:len(tf)-1], "%d", &n); err != nil {
		return 0, err
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown timeframe unit in %q", tf)
	}
}

func (h *HistoricalCollector) recordDataVersion(ctx context.Context, spec StreamSpec, start, end time.Time, count int) error {
	checksum := contentHash(spec, start, end, count)
	dv := market.DataVersion{
		ID:          uuid.NewString(),
		Table:       string(spec.Resource),
		WindowStart: start,
		WindowEnd:   end,
		RecordCount: count,
		Checksum:    checksum,
		CreatedAt:   time.Now().UTC(),
	}
	return h.storage.SaveDataVersion(ctx, dv)
}

func contentHash(spec StreamSpec, start, end time.Time, count int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%d", spec.key(), start.UnixMilli(), end.UnixMilli(), count)))
	return hex.EncodeToString(sum[:])
}
