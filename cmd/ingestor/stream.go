package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/daveintdbn/futures-ingest/internal/collector"
	"github.com/daveintdbn/futures-ingest/internal/market"
)

func newStreamRealtimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stream-realtime",
		Short: "Subscribe to live streams and batch-flush them to storage",
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

			if err := d.driver.Init(cmd.Context()); err != nil {
				return storageErr(fmt.Errorf("init storage: %w", err))
			}

			sc := collector.NewStreamingCollector(d.client, d.driver, d.cacheImpl, collector.StreamingConfig{
				BatchSize:     cfg.Collection.WSBatchSize,
				BatchInterval: cfg.Collection.WSBatchInterval,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			kinds := []market.StreamKind{market.StreamKline, market.StreamMarkPrice, market.StreamForceOrder}
			err = sc.Run(ctx, cfg.Collection.Symbols, kinds)
			if ctx.Err() != nil {
				return cancelledErr(ctx.Err())
			}
			if err != nil {
				return exchangeErr(err)
			}
			return nil
		},
	}
}
