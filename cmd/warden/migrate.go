package main

import (
	"github.com/spf13/cobra"

	"warden/internal/storage"
)

func newMigrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(load)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			gw, err := storage.Open(ctx, cfg.Storage, storage.WithLogger(log))
			if err != nil {
				return err
			}
			defer gw.Close()

			tables, err := storage.NewTables(cfg.Storage.TablePrefix)
			if err != nil {
				return err
			}
			applied, err := storage.Migrate(ctx, gw, tables)
			if err != nil {
				return err
			}
			log.InfoContext(ctx, "migrations applied", "count", applied, "driver", cfg.Storage.Driver)
			return nil
		},
	}
}
