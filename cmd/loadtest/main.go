// Package main runs a load test against a ratekeep server.
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/ratekeep/internal/loadgen"
	"github.com/okian/ratekeep/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := loadgen.Config{}

	cmd := &cobra.Command{
		Use:          "loadtest",
		Short:        "Submit concurrent finishes and verify plays and rankings",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.InitWithWriter(cmd.OutOrStdout()); err != nil {
				return err
			}
			runner, err := loadgen.NewRunner(cfg, logger.Get())
			if err != nil {
				return err
			}
			stats, err := runner.Run(cmd.Context())
			if stats != nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(),
					"submitted=%d rated=%d casual=%d duplicate=%d backpressure=%d failed=%d verified=%d/%d rate=%.1f/s\n",
					stats.Submitted, stats.Rated, stats.Casual, stats.Duplicate, stats.Backpressure,
					stats.Failed, stats.Verified, stats.PuzzlesCreated, stats.FinishesPerSecond())
			}
			return err
		},
	}

	cmd.Flags().StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "base URL of the service")
	cmd.Flags().IntVar(&cfg.Players, "players", 500, "distinct players")
	cmd.Flags().IntVar(&cfg.Puzzles, "puzzles", 50, "puzzles to create")
	cmd.Flags().IntVar(&cfg.Finishes, "finishes", 10000, "finish requests to submit")
	cmd.Flags().Float64Var(&cfg.CasualRate, "casual", 0.1, "share of casual finishes (0-1)")
	cmd.Flags().IntVar(&cfg.Workers, "workers", runtime.NumCPU()*2, "concurrent submitters")
	cmd.Flags().DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "HTTP request timeout")
	cmd.Flags().IntVar(&cfg.TopN, "top", 50, "leaderboard entries to verify")
	cmd.Flags().BoolVar(&cfg.Verbose, "verbose", false, "log every failed request")

	return cmd
}
