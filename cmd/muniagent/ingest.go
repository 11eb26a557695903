package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/diego-ramazzini/muniagent/config"
	"github.com/diego-ramazzini/muniagent/internal/ingest"
	"github.com/diego-ramazzini/muniagent/internal/provider"
	"github.com/diego-ramazzini/muniagent/internal/store"
)

func ingestCMD() *cobra.Command {
	var dir string
	var urls []string
	var cfgPath string

	var cmd = &cobra.Command{
		Use:   "ingest",
		Short: "Load the municipal corpus into the knowledge base",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if dir != "" {
				cfg.Ingest.Dir = dir
			}
			if len(urls) > 0 {
				cfg.Ingest.URLs = urls
			}
			if cfg.Ingest.Dir == "" && len(cfg.Ingest.URLs) == 0 {
				return fmt.Errorf("nothing to ingest: set --dir or --url")
			}

			ctx := context.Background()
			dsn, err := cfg.Databases.Postgres.DSN()
			if err != nil {
				return err
			}
			st, err := store.NewWithDSN(ctx, dsn)
			if err != nil {
				return fmt.Errorf("connecting to postgres: %w", err)
			}
			prov, err := provider.NewProvider(provider.OpenRouter, cfg.Providers.OpenRouter)
			if err != nil {
				return err
			}

			logger := log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
			n, err := ingest.New(cfg.Ingest, st, prov, logger).Run(ctx)
			logger.Printf("stored %d documents", n)
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory of .pdf/.txt/.md files")
	cmd.Flags().StringSliceVar(&urls, "url", nil, "municipal page URL (repeatable)")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return cmd
}
