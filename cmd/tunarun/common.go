package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tunarun/internal/config"
	"github.com/sawpanic/tunarun/internal/metrics"
	"github.com/sawpanic/tunarun/internal/ops"
	"github.com/sawpanic/tunarun/internal/quote"
	"github.com/sawpanic/tunarun/internal/venue"
	"github.com/sawpanic/tunarun/internal/venue/bifu"
	"github.com/sawpanic/tunarun/internal/venue/mock"
)

// resolveEndpoints loads the venue routing table: the --endpoints override
// when given, otherwise an endpoints.yaml sitting next to the daemon config,
// otherwise the built-in table.
func resolveEndpoints(configPath string) (*config.Endpoints, error) {
	path := endpointsPath
	if path == "" {
		candidate := filepath.Join(filepath.Dir(configPath), "endpoints.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	return config.LoadEndpoints(path)
}

// openStore connects the shared quote cache and returns it with its cleanup.
func openStore(r config.Redis) (*quote.Store, func(), error) {
	kv, err := quote.NewRedisKV(r.Addr, r.Password, r.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("quote cache: %w", err)
	}
	return quote.NewStore(kv), func() { kv.Close() }, nil
}

// startOps serves the ops surface in the background when a listen address is
// configured. Failures are logged; the daemon keeps running headless.
func startOps(ctx context.Context, daemon, listen string, reg *metrics.Registry, opts ...ops.Option) {
	if listen == "" {
		return
	}
	srv := ops.NewServer(daemon, listen, reg, opts...)
	go func() {
		if err := srv.Run(ctx); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("daemon", daemon).Msg("Ops server failed")
		}
	}()
}

// venueEndpoint resolves the registry row for a config-facing exchange name.
// Binance flavors carry their term in the exchange name; everything else is
// looked up as written.
func venueEndpoint(eps *config.Endpoints, exchange, term string) (config.Endpoint, error) {
	key := exchange
	lower := strings.ToLower(exchange)
	switch {
	case strings.HasPrefix(lower, "binance"):
		key = "BN"
		switch {
		case strings.Contains(lower, "portfolio"):
			term = venue.BizFuture
		case strings.Contains(lower, "future"):
			term = venue.BizUMFuture
		}
	case strings.HasPrefix(lower, "okx"):
		key = "OKX"
	}
	if term == "" {
		term = venue.BizSpot
	}
	ep, ok := eps.Lookup(key, term)
	if !ok {
		return config.Endpoint{}, fmt.Errorf("no endpoint registered for %s %s", exchange, term)
	}
	return ep, nil
}

// tradingClient builds one venue client: the in-memory mock when requested,
// otherwise the REST client against the registered gateway.
func tradingClient(eps *config.Endpoints, exchange, term string, creds bifu.Credentials, mockMode bool, reg *metrics.Registry) (venue.Client, error) {
	if mockMode {
		return mock.New(), nil
	}
	ep, err := venueEndpoint(eps, exchange, term)
	if err != nil {
		return nil, err
	}
	return bifu.New(ep.BaseURL, creds, reg), nil
}
