package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/partsledger/partsledger/internal/feeds"
)

var feedsDir string

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "Distributor price feed operations",
}

var feedsPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Ingest distributor price files into the catalog",
	Long:  "Downloads CSV price files from the configured FTP drop and upserts their rows into the catalog cache, so the catalog tier serves fresh pricing.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Feeds.Host == "" {
			return eris.New("feeds: no FTP host configured")
		}

		st, pool, closeFn, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if closeFn != nil {
				closeFn()
			}
			if pool != nil {
				pool.Close()
			}
		}()

		src, err := feeds.DialFTP(ctx, cfg.Feeds.Host, cfg.Feeds.User, cfg.Feeds.Password)
		if err != nil {
			return err
		}
		defer func() {
			if err := src.Close(); err != nil {
				zap.L().Warn("feeds: ftp close failed", zap.Error(err))
			}
		}()

		dir := feedsDir
		if dir == "" {
			dir = cfg.Feeds.Dir
		}

		report, err := feeds.NewIngestor(src, st).Run(ctx, dir)
		if err != nil {
			return err
		}

		fmt.Printf("ingested %d files: %d rows, %d upserted, %d skipped\n",
			report.Files, report.Rows, report.Upserted, report.Skipped)
		return nil
	},
}

func init() {
	feedsPullCmd.Flags().StringVar(&feedsDir, "dir", "", "feed directory on the FTP server (default from config)")
	feedsCmd.AddCommand(feedsPullCmd)
	rootCmd.AddCommand(feedsCmd)
}
