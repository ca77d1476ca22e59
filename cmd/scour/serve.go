package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/server"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var schemaPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the research API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			catalog, err := loadCatalog(schemaPath)
			if err != nil {
				return err
			}
			logger := log.New(os.Stdout, "[SCOUR] ", log.LstdFlags)

			deps, cleanup, err := buildDeps(cfg, catalog, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			if deps.Search == nil {
				return fmt.Errorf("search.api_key is required to serve")
			}

			srv, err := server.New(cfg, deps)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case sig := <-quit:
				logger.Printf("received %s, shutting down", sig)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	serve.Flags().StringVar(&schemaPath, "schemas", "", "extraction schema catalog file (default embedded)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return serve
}
