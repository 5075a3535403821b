package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tunarun/internal/config"
	"github.com/sawpanic/tunarun/internal/metrics"
	"github.com/sawpanic/tunarun/internal/selftrader"
	"github.com/sawpanic/tunarun/internal/venue"
	"github.com/sawpanic/tunarun/internal/venue/bifu"
)

func newSelfTraderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selftrader <config.json>",
		Short: "Run the self-trade emitter",
		Long: `Prints reference-tracking volume on the maker venue by submitting
matched post-only/taker order pairs per strategy.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelfTrader(cmd.Context(), args[0])
		},
	}
}

func runSelfTrader(ctx context.Context, configPath string) error {
	cfg, err := config.LoadSelfTrader(configPath)
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
	startOps(ctx, "selftrader", cfg.Listen, reg)

	factory := func(p config.SelfTradeParams) (venue.Client, error) {
		creds := bifu.Credentials{APIKey: p.APIKey, APISecret: p.APISecret, Passphrase: p.Passphrase}
		return tradingClient(eps, p.MakerExchange, p.TermType, creds, p.Mock, reg)
	}

	trader := selftrader.New(cfg.Strategies, store, factory, reg)
	if err := trader.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("Self-trader daemon exited")
	return nil
}
