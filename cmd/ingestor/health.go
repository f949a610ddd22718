package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/daveintdbn/futures-ingest/cmd/ingestor/httpsurface"
	"github.com/daveintdbn/futures-ingest/internal/health"
)

const freshnessMaxAge = 10 * time.Minute

func buildChecker(d *deps, interval time.Duration) *health.Checker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	checker := health.NewChecker(interval)
	checker.Register("storage", health.NewStorageCheck(d.driver))
	if d.cacheImpl != nil {
		checker.Register("cache", health.NewCacheCheck(d.cacheImpl))
	}
	probeSymbol := "BTCUSDT"
	if len(d.cfg.Collection.Symbols) > 0 {
		probeSymbol = d.cfg.Collection.Symbols[0]
	}
	checker.Register("exchange", health.NewExchangeCheck(d.client, probeSymbol))
	if len(d.cfg.Collection.Timeframes) > 0 {
		checker.Register("freshness", health.NewFreshnessCheck(d.driver, probeSymbol, d.cfg.Collection.Timeframes[0], freshnessMaxAge))
	}
	return checker
}

func newHealthCheckCmd() *cobra.Command {
	var once bool
	var continuousSecs int

	cmd := &cobra.Command{
		Use:   "health-check",
		Short: "Report storage, cache, exchange reachability and data freshness",
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

			checker := buildChecker(d, time.Duration(continuousSecs)*time.Second)

			if continuousSecs > 0 {
				checker.Start(cmd.Context())
				defer checker.Stop()
				router := httpsurface.New(checker, d.tracker, d.breakers)
				return router.Run(":8080")
			}

			ctx, cancel := withTimeout(cmd.Context())
			defer cancel()
			results := checker.RunOnce(ctx)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return configErr(err)
			}
			if checker.Overall() == health.StatusUnhealthy {
				return exchangeErr(fmt.Errorf("one or more dependencies unhealthy"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", true, "run checks once and exit (default)")
	cmd.Flags().IntVar(&continuousSecs, "continuous", 0, "serve /healthz, /metrics, /errors on :8080, re-checking every SECS seconds")
	return cmd
}
