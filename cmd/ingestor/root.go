package main

import (
	"github.com/spf13/cobra"

	"github.com/daveintdbn/futures-ingest/config"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ingestor",
		Short: "Futures market-data ingestion core",
		Long: "ingestor pulls OHLCV, open interest, funding rate, liquidation,\n" +
			"long/short ratio and order-book data from a futures exchange and\n" +
			"persists it through a pluggable storage driver.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.json", "path to config JSON file")

	root.AddCommand(
		newInitCmd(),
		newCollectHistoricalCmd(),
		newStreamRealtimeCmd(),
		newHealthCheckCmd(),
		newMonitorErrorsCmd(),
	)
	return root
}

// Execute runs the root command, returning a *cliError-wrapped error when a
// subcommand fails so main() can translate it into the right exit code.
func Execute() error {
	return newRootCmd().Execute()
}

func loadConfig() (*config.Config, error) {
	store := config.NewStateStore(configPath)
	cfg, err := store.LoadConfig()
	if err != nil {
		return nil, configErr(err)
	}
	return cfg, nil
}
