package cmd

import (
	"fmt"

	"github.com/bryan-buckman/micronews/internal/config"
	"github.com/bryan-buckman/micronews/internal/database"
	"github.com/bryan-buckman/micronews/internal/logger"
	"github.com/bryan-buckman/micronews/internal/model"
	"github.com/bryan-buckman/micronews/internal/upload"
	"github.com/spf13/cobra"
)

var flagExport string

var uploadCmd = &cobra.Command{
	Use:   "upload [dir]",
	Short: "Upload article JSON files into the store",
	Long: `Read every *.json file in dir, in file name order, and upsert each one.

Uploaded articles start with zero views and a fresh server timestamp. With
--export, every stored article is written to the given directory instead.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if flagExport != "" {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&flagExport, "export", "", "write stored articles to this directory instead of uploading")
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logger.New(cfg.LogLevel)
	ctx := cmd.Context()

	var articles []model.Article
	if flagExport == "" {
		// Parse everything before touching the store so a bad file uploads nothing.
		articles, err = upload.ReadDir(args[0])
		if err != nil {
			return fmt.Errorf("reading articles: %w", err)
		}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if flagExport != "" {
		all, err := store.ListArticles(ctx, database.Query{
			OrderBy: []database.Order{database.Desc(model.FieldDate)},
		})
		if err != nil {
			return fmt.Errorf("listing articles: %w", err)
		}
		if err := upload.WriteDir(flagExport, all); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d article(s) to %s.\n", len(all), flagExport)
		return nil
	}

	n, err := upload.Upload(ctx, store, articles, log)
	if err != nil {
		return fmt.Errorf("uploaded %d of %d: %w", n, len(articles), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d article(s) to %s.\n", n, store.DatabaseType())
	return nil
}
