package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bryan-buckman/micronews/internal/config"
	"github.com/bryan-buckman/micronews/internal/database"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:   "micronews",
	Short: "News article site backed by a document store",
	Long:  "micronews serves a paginated news site with trending, popular and per-category feeds, and loads articles from JSON files or RSS feeds.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A .env file is optional; real environment variables win.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("loading .env: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(importFeedCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "micronews %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

// openStore opens the configured backend, creating the SQLite data
// directory when needed.
func openStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	dsn := cfg.StoreDSN()
	if cfg.Store.Driver == "sqlite" || cfg.Store.Driver == "" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}
	store, err := database.Open(ctx, cfg.Store.Driver, dsn, cfg.Store.Database, cfg.Store.Collection)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return store, nil
}
