package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tunarun/internal/config"
	"github.com/sawpanic/tunarun/internal/maker"
	"github.com/sawpanic/tunarun/internal/metrics"
	"github.com/sawpanic/tunarun/internal/venue"
	"github.com/sawpanic/tunarun/internal/venue/bifu"
)

func newMakerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maker <config.json>",
		Short: "Run the market-making engine",
		Long: `Mirrors each strategy's follow book onto the maker venue as a
continually-refreshed two-sided ladder of near and far limit orders.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaker(cmd.Context(), args[0])
		},
	}
}

func runMaker(ctx context.Context, configPath string) error {
	cfg, err := config.LoadMaker(configPath)
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
	startOps(ctx, "maker", cfg.Listen, reg)

	factory := func(p config.MakerParams) (venue.Client, error) {
		creds := bifu.Credentials{APIKey: p.APIKey, APISecret: p.APISecret, Passphrase: p.Passphrase}
		return tradingClient(eps, p.MakerExchange, p.TermType, creds, p.Mock, reg)
	}

	eng := maker.New(cfg.Strategies, store, factory, reg)
	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("Maker daemon exited")
	return nil
}
