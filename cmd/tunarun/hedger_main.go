package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tunarun/internal/config"
	"github.com/sawpanic/tunarun/internal/hedger"
	"github.com/sawpanic/tunarun/internal/metrics"
	"github.com/sawpanic/tunarun/internal/ops"
	"github.com/sawpanic/tunarun/internal/persistence"
	"github.com/sawpanic/tunarun/internal/persistence/postgres"
	"github.com/sawpanic/tunarun/internal/venue"
	"github.com/sawpanic/tunarun/internal/venue/bifu"
	"github.com/sawpanic/tunarun/internal/venue/mock"
)

func newHedgerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hedger <config.json>",
		Short: "Run the fill consumer and hedger",
		Long: `Consumes maker fills from the private account stream, nets the open
risk per symbol, and flattens it on the hedge venue.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHedger(cmd.Context(), args[0])
		},
	}
}

func runHedger(ctx context.Context, configPath string) error {
	cfg, err := config.LoadHedger(configPath)
	if err != nil {
		return err
	}
	eps, err := resolveEndpoints(configPath)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()

	var client venue.Client
	if cfg.Mock {
		client = mock.New()
	} else {
		baseURL := cfg.BaseURL
		if baseURL == "" {
			ep, err := venueEndpoint(eps, "BIFU", venue.BizSpot)
			if err != nil {
				return err
			}
			baseURL = ep.BaseURL
		}
		creds := bifu.Credentials{APIKey: cfg.APIKey, APISecret: cfg.APISecret, Passphrase: cfg.Passphrase}
		client = bifu.New(baseURL, creds, reg)
	}

	var journal persistence.Journal = persistence.NopJournal{}
	var opsOpts []ops.Option
	if cfg.JournalDSN != "" {
		pj, err := postgres.Open(cfg.JournalDSN)
		if err != nil {
			return err
		}
		defer pj.Close()
		journal = pj
		opsOpts = append(opsOpts, ops.WithFills(pj))
	}
	startOps(ctx, "hedger", cfg.Listen, reg, opsOpts...)

	var runtime hedger.RuntimeSource
	if cfg.Runtime != nil {
		rs, err := config.NewRuntimeStore(cfg.Runtime)
		if err != nil {
			return err
		}
		defer rs.Close()
		runtime = rs
	}

	agent := hedger.New(cfg, client, runtime, journal, reg, nil)
	if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("Hedger daemon exited")
	return nil
}
