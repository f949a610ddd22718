package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newMonitorErrorsCmd() *cobra.Command {
	var once bool
	var exportPath string

	cmd := &cobra.Command{
		Use:   "monitor-errors",
		Short: "Report error counts by kind, rate/minute, recent records and breaker state",
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

			if exportPath != "" {
				if err := d.tracker.Export(exportPath); err != nil {
					return configErr(fmt.Errorf("export tracker snapshot: %w", err))
				}
				fmt.Printf("wrote error tracker snapshot to %s\n", exportPath)
				return nil
			}

			summary := d.tracker.Summary(100)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			out := map[string]interface{}{
				"total":    summary.Total,
				"by_kind":  summary.ByKind,
				"rates":    summary.Rates,
				"recent":   summary.Recent,
				"breakers": d.breakers.AllStats(),
			}
			if err := enc.Encode(out); err != nil {
				return configErr(err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", true, "print a single snapshot and exit (default)")
	cmd.Flags().StringVar(&exportPath, "export", "", "write a JSON snapshot to PATH instead of printing")
	return cmd
}
