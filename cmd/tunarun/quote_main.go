package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tunarun/internal/config"
	"github.com/sawpanic/tunarun/internal/ingest/binance"
	"github.com/sawpanic/tunarun/internal/ingest/okx"
	"github.com/sawpanic/tunarun/internal/metrics"
	"github.com/sawpanic/tunarun/internal/quote"
)

func newQuoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quote <config.json>",
		Short: "Run a market data ingester",
		Long: `Consumes one venue's public stream and publishes 100ms-bucketed order
book snapshots and tickers into the shared quote cache.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuote(cmd.Context(), args[0])
		},
	}
}

// runner is the common shape of both ingesters.
type runner interface {
	Run(ctx context.Context) error
}

func runQuote(ctx context.Context, configPath string) error {
	cfg, err := config.LoadQuote(configPath)
	if err != nil {
		return err
	}
	eps, err := resolveEndpoints(configPath)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg.Redis)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := metrics.NewRegistry()
	startOps(ctx, "quote", cfg.Listen, reg)

	ep, err := venueEndpoint(eps, cfg.Exchange, "")
	if err != nil {
		return err
	}

	var ing runner
	switch {
	case strings.HasPrefix(strings.ToLower(cfg.Exchange), "binance"):
		ing = binance.New(binance.Config{
			Exchange:      cfg.Exchange,
			StreamURL:     ep.StreamURL,
			DepthSymbols:  cfg.DepthSymbols,
			TickerSymbols: cfg.TickerSymbols,
		}, store, reg)
	case strings.HasPrefix(strings.ToLower(cfg.Exchange), "okx"):
		ing = okx.New(okx.Config{
			Exchange:      cfg.Exchange,
			StreamURL:     ep.StreamURL,
			DepthSymbols:  cfg.DepthSymbols,
			TickerSymbols: cfg.TickerSymbols,
		}, store, reg)
	default:
		return fmt.Errorf("no ingester for exchange %q", cfg.Exchange)
	}

	log.Info().
		Str("exchange", quote.NormalizeExchange(cfg.Exchange)).
		Strs("depth_symbols", cfg.DepthSymbols).
		Strs("ticker_symbols", cfg.TickerSymbols).
		Msg("Quote ingester starting")
	return ing.Run(ctx)
}
