package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wheelsup-data/flightschool-etl/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "flightschool-etl",
	Short: "Flight-school snapshot ETL pipeline",
	Long:  "Discovers flight schools across configured sources, fetches and extracts their pages, runs LLM field extraction, and publishes normalized snapshots to the store of record and the search index.",
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
