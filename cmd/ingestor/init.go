package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the storage schema (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			d, err := buildStorage(cfg)
			if err != nil {
				return storageErr(err)
			}
			defer d.Close()

			ctx, cancel := withTimeout(cmd.Context())
			defer cancel()
			if err := d.Init(ctx); err != nil {
				return storageErr(fmt.Errorf("init storage: %w", err))
			}

			info, err := d.Info(ctx)
			if err != nil {
				return storageErr(err)
			}
			fmt.Printf("initialized %s storage (size estimate: %d)\n", info.Type, info.SizeEstimate)
			return nil
		},
	}
}
