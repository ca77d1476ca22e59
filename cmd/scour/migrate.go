package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/store"
)

func migrateCMD() *cobra.Command {
	var cfgPath string
	var migDir string
	var direction string
	var steps int
	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Apply archive schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if !cfg.Storage.Postgres.Enabled() {
				return fmt.Errorf("postgres not configured (set storage.postgres.host and dbname, or url)")
			}
			return store.Migrate(migDir, cfg.Storage.Postgres.DSN(), direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source directory")
	migrate.Flags().StringVar(&direction, "direction", "up", "migration direction (up|down)")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 means all)")
	migrate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return migrate
}
