package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veridia-health/psur-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "psur",
	Short: "Coverage and adjudication engine for periodic safety update reports",
	Long:  "Ingests device safety evidence, computes obligation coverage queues, adjudicates slot proposals and maintains a hash-chained decision trace per case.",
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
