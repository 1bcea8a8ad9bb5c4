// Package cmd defines the CLI commands for the salecrawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parcelpipe/salecrawler/internal/config"
	"github.com/parcelpipe/salecrawler/internal/logging"
	"github.com/parcelpipe/salecrawler/internal/metrics"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "salecrawler",
		Short: "Scrapes foreclosure trustee-sale listings from the posting site",
		Long: `salecrawler extracts foreclosure trustee-sale listings for Washington
counties from the posting site's gated search. It solves the image challenge
guarding the search form, submits the search, collects every results page and
persists the raw HTML payload for downstream parsing.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute runs the CLI. It installs signal handling so an interrupt abandons
// the current run cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(cfgFile)
}

func buildLogger(cfg config.Config) (func(), error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	rootLogger = logger
	return func() { _ = logger.Sync() }, nil
}
