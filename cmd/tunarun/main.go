// Command tunarun bundles the four trading daemons behind one binary. Each
// subcommand is an independent long-lived process taking a JSON config file;
// the shared quote cache is the only thing the processes have in common.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "tunarun"
	version = "v0.4.0"
)

var (
	logLevel      string
	endpointsPath string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Multi-venue market making, hedging and self-trading daemons",
		Version: version,
		Long: `tunarun mirrors external order books onto a maker venue, hedges the
resulting fills, and prints reference-tracking volume.

Each subcommand runs one long-lived daemon and takes a JSON config file:

  tunarun quote      <config.json>   market data ingester
  tunarun maker      <config.json>   near/far quoting engine
  tunarun hedger     <config.json>   fill consumer and hedger
  tunarun selftrader <config.json>   paired self-trade emitter`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(logLevel)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&endpointsPath, "endpoints", "", "venue endpoints override file (YAML)")

	rootCmd.AddCommand(
		newQuoteCmd(),
		newMakerCmd(),
		newHedgerCmd(),
		newSelfTraderCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Daemon failed")
		os.Exit(1)
	}
}

// setupLogging configures the global zerolog logger: human-readable console
// output on a terminal, JSON lines otherwise.
func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
