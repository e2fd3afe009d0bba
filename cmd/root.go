package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/partsledger/partsledger/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "partsledger",
	Short: "Electronic component enrichment and BOM risk engine",
	Long:  "Enriches MPNs through tiered data sources (catalog, supplier APIs, AI, web scrape), scores data quality, routes results, and grades BOM supply-chain risk.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
