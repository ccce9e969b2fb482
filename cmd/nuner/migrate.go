package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pnptcn/nuner/pkg/logger"
	"github.com/pnptcn/nuner/pkg/store/pgx"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Backend != "postgres" {
				return fmt.Errorf("migrate applies to the postgres backend, configured backend is %s", cfg.Backend)
			}
			if err := pgx.Migrate(cfg.Postgres.URL); err != nil {
				return err
			}
			logger.Info("Migrations applied")
			return nil
		},
	}
}
