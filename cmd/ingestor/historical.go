package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/daveintdbn/futures-ingest/internal/collector"
)

func newCollectHistoricalCmd() *cobra.Command {
	var days int
	var concurrency int

	cmd := &cobra.Command{
		Use:   "collect-historical",
		Short: "Backfill every configured stream for every configured symbol",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			d, err := buildDeps(cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			ctx := cmd.Context()
			if err := d.driver.Init(ctx); err != nil {
				return storageErr(fmt.Errorf("init storage: %w", err))
			}

			if days <= 0 {
				days = cfg.Collection.HistoricalDays
			}
			if days <= 0 {
				days = 30
			}
			end := time.Now().UTC()
			start := end.AddDate(0, 0, -days)

			hc := collector.NewHistoricalCollector(d.client, d.driver, d.validator, d.tracker, concurrency)

			var streams []collector.StreamSpec
			for _, sym := range cfg.Collection.Symbols {
				for _, tf := range cfg.Collection.Timeframes {
					streams = append(streams, collector.StreamSpec{Resource: collector.ResourceOHLCV, Symbol: sym, Timeframe: tf})
				}
				for _, period := range cfg.Collection.OIPeriods {
					streams = append(streams, collector.StreamSpec{Resource: collector.ResourceOpenInterest, Symbol: sym, Period: period})
					streams = append(streams, collector.StreamSpec{Resource: collector.ResourceLongShortRatio, Symbol: sym, Period: period})
				}
				streams = append(streams,
					collector.StreamSpec{Resource: collector.ResourceFundingRate, Symbol: sym},
					collector.StreamSpec{Resource: collector.ResourceLiquidations, Symbol: sym},
					collector.StreamSpec{Resource: collector.ResourceOrderBook, Symbol: sym},
				)
			}

			return runBackfill(ctx, hc, streams, start, end)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "override collection.historical_days")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "bound on parallel streams (default: one per stream)")
	return cmd
}

func runBackfill(ctx context.Context, hc *collector.HistoricalCollector, streams []collector.StreamSpec, start, end time.Time) error {
	agg := hc.CollectAllConcurrent(ctx, streams, start, end)

	var failed, partial int
	for _, r := range agg.Results {
		status := "ok"
		if r.Partial {
			status = "partial"
			partial++
		}
		if r.Err != nil && !r.Partial {
			status = fmt.Sprintf("error: %v", r.Err)
			failed++
		}
		fmt.Printf("%-40s written=%-8d %s\n", streamLabel(r.Spec), r.RecordsWritten, status)
	}

	if ctx.Err() != nil {
		return cancelledErr(ctx.Err())
	}
	if failed == len(streams) && failed > 0 {
		return exchangeErr(fmt.Errorf("all %d streams failed", failed))
	}
	if partial > 0 || failed > 0 {
		fmt.Printf("completed with %d partial and %d failed streams out of %d\n", partial, failed, len(streams))
	}
	return nil
}

func streamLabel(s collector.StreamSpec) string {
	switch {
	case s.Timeframe != "":
		return fmt.Sprintf("%s/%s@%s", s.Resource, s.Symbol, s.Timeframe)
	case s.Period != "":
		return fmt.Sprintf("%s/%s@%s", s.Resource, s.Symbol, s.Period)
	default:
		return fmt.Sprintf("%s/%s", s.Resource, s.Symbol)
	}
}
