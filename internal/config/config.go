// Package config loads the typed JSON configuration each daemon takes as its
// one positional argument, plus the venue endpoints registry and the
// Redis-backed runtime store the hedger polls for hot reloads.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Redis points a daemon at the shared quote cache.
type Redis struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// Quote configures one quote ingester daemon.
type Quote struct {
	Redis         Redis    `json:"redis"`
	Listen        string   `json:"listen,omitempty"`
	Exchange      string   `json:"exchange"`
	DepthSymbols  []string `json:"depth_symbols"`
	TickerSymbols []string `json:"ticker_symbols"`
}

// MakerParams is the per-symbol parameter set of the market-making engine.
type MakerParams struct {
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Passphrase string `json:"passphrase,omitempty"`

	MakerExchange  string `json:"maker_exchange"`
	MakerSymbol    string `json:"maker_symbol"`
	FollowExchange string `json:"follow_exchange"`
	FollowSymbol   string `json:"follow_symbol"`

	PriceDecimals int    `json:"price_decimals"`
	QtyDecimals   int    `json:"qty_decimals"`
	TermType      string `json:"term_type"`
	PositionSide  string `json:"position_side,omitempty"`

	NearSide            string  `json:"near_side"`
	NearAskSize         int     `json:"near_ask_size"`
	NearBidSize         int     `json:"near_bid_size"`
	NearQtyMultiplier   float64 `json:"near_qty_multiplier"`
	NearSellPriceMargin float64 `json:"near_sell_price_margin"`
	NearBuyPriceMargin  float64 `json:"near_buy_price_margin"`
	NearMaxAmtPerOrder  float64 `json:"near_max_amt_per_order"`
	NearInterval        float64 `json:"near_interval"`
	NearTIF             string  `json:"near_tif"`
	NearDiffRate        float64 `json:"near_diff_rate_per_round"`
	ForceRefreshNum     int     `json:"force_refresh_num"`

	FarSide            string  `json:"far_side,omitempty"`
	FarAskSize         int     `json:"far_ask_size,omitempty"`
	FarBidSize         int     `json:"far_bid_size,omitempty"`
	FarQtyMultiplier   float64 `json:"far_qty_multiplier,omitempty"`
	FarSellPriceMargin float64 `json:"far_sell_price_margin,omitempty"`
	FarBuyPriceMargin  float64 `json:"far_buy_price_margin,omitempty"`
	FarMaxAmtPerOrder  float64 `json:"far_max_amt_per_order,omitempty"`
	FarStrategy        string  `json:"far_strategy,omitempty"`
	FarInterval        float64 `json:"far_interval,omitempty"`
	FarTIF             string  `json:"far_tif,omitempty"`

	Mock bool `json:"mock,omitempty"`
}

// NearEvery returns the near pass cadence.
func (p MakerParams) NearEvery() time.Duration {
	return secondsToDuration(p.NearInterval)
}

// FarEvery returns the far pass cadence; zero disables far passes.
func (p MakerParams) FarEvery() time.Duration {
	return secondsToDuration(p.FarInterval)
}

// Maker configures the market-making daemon.
type Maker struct {
	Redis      Redis         `json:"redis"`
	Listen     string        `json:"listen,omitempty"`
	Strategies []MakerParams `json:"strategies"`
}

// HedgeStrategy is the per-maker-symbol hedge routing entry.
type HedgeStrategy struct {
	HedgeSymbol   string  `json:"hedge_symbol"`
	HedgeExchange string  `json:"hedge_exchange"`
	PriceDecimals int     `json:"price_decimals"`
	QtyDecimals   int     `json:"qty_decimals"`
	MinQty        float64 `json:"min_qty_per_order"`
	MinAmt        float64 `json:"min_amt_per_order"`
	Slippage      float64 `json:"slippage"`
}

// Hedger configures the hedger daemon. Strategies are keyed by the maker
// symbol a fill arrives on. BaseURL overrides the gateway the hedge orders
// route through; empty falls back to the endpoints registry.
type Hedger struct {
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Passphrase string `json:"passphrase,omitempty"`

	StreamURL   string `json:"stream_url"`
	BaseURL     string `json:"base_url,omitempty"`
	MakerSymbol string `json:"maker_symbol"`

	Listen     string   `json:"listen,omitempty"`
	JournalDSN string   `json:"journal_dsn,omitempty"`
	Runtime    *Runtime `json:"runtime,omitempty"`

	Strategies map[string]HedgeStrategy `json:"strategies"`
	Version    int64                    `json:"version"`

	Mock bool `json:"mock,omitempty"`
}

// Runtime points the hedger at the runtime config store for hot reloads.
type Runtime struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Key      string `json:"key"`
}

// SelfTradeParams is the per-strategy parameter set of the self-trader.
type SelfTradeParams struct {
	SID        string `json:"sid"`
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Passphrase string `json:"passphrase,omitempty"`

	MakerExchange  string `json:"maker_exchange"`
	MakerSymbol    string `json:"maker_symbol"`
	FollowExchange string `json:"follow_exchange"`
	FollowSymbol   string `json:"follow_symbol"`
	TermType       string `json:"term_type"`

	PriceDecimals int `json:"price_decimals"`
	QtyDecimals   int `json:"qty_decimals"`

	Interval        float64 `json:"interval"`
	QuoteTimeout    float64 `json:"quote_timeout"`
	QtyMultiplier   float64 `json:"qty_multiplier"`
	MaxAmtPerOrder  float64 `json:"max_amt_per_order"`
	MinQtyPerOrder  float64 `json:"min_qty_per_order"`
	MinAmtPerOrder  float64 `json:"min_amt_per_order"`
	PriceDivergence float64 `json:"price_divergence"`

	Mock bool `json:"mock,omitempty"`
}

// Every returns the self-trade cadence, floored at 100ms.
func (p SelfTradeParams) Every() time.Duration {
	d := secondsToDuration(p.Interval)
	if d < 100*time.Millisecond {
		return 100 * time.Millisecond
	}
	return d
}

// QuoteMaxAge returns how stale a follow ticker may be before it is ignored.
func (p SelfTradeParams) QuoteMaxAge() time.Duration {
	return secondsToDuration(p.QuoteTimeout)
}

// SelfTrader configures the self-trader daemon.
type SelfTrader struct {
	Redis      Redis             `json:"redis"`
	Listen     string            `json:"listen,omitempty"`
	Strategies []SelfTradeParams `json:"strategies"`
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func loadJSON(path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadQuote reads and validates a quote ingester config.
func LoadQuote(path string) (*Quote, error) {
	var cfg Quote
	if err := loadJSON(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Exchange == "" {
		return nil, errors.New("quote config: exchange is required")
	}
	if len(cfg.DepthSymbols) == 0 && len(cfg.TickerSymbols) == 0 {
		return nil, errors.New("quote config: no symbols to subscribe")
	}
	return &cfg, nil
}

// LoadMaker reads and validates a maker config.
func LoadMaker(path string) (*Maker, error) {
	var cfg Maker
	if err := loadJSON(path, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Strategies) == 0 {
		return nil, errors.New("maker config: no strategies")
	}
	for i, p := range cfg.Strategies {
		if p.MakerSymbol == "" || p.FollowSymbol == "" {
			return nil, fmt.Errorf("maker config: strategy %d lacks symbols", i)
		}
		if p.APIKey == "" && !p.Mock {
			return nil, fmt.Errorf("maker config: strategy %s lacks an api key", p.MakerSymbol)
		}
	}
	return &cfg, nil
}

// LoadHedger reads and validates a hedger config.
func LoadHedger(path string) (*Hedger, error) {
	var cfg Hedger
	if err := loadJSON(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the hedger config for the fatal startup cases.
func (c *Hedger) Validate() error {
	if c.APIKey == "" || c.APISecret == "" {
		return errors.New("hedger config: api key and secret are required")
	}
	if !c.Mock && c.StreamURL == "" {
		return errors.New("hedger config: stream_url is required")
	}
	if len(c.Strategies) == 0 {
		return errors.New("hedger config: no hedge strategies")
	}
	return nil
}

// Strategy resolves the hedge routing for a maker symbol.
func (c *Hedger) Strategy(makerSymbol string) (HedgeStrategy, bool) {
	s, ok := c.Strategies[makerSymbol]
	return s, ok
}

// LoadSelfTrader reads and validates a self-trader config.
func LoadSelfTrader(path string) (*SelfTrader, error) {
	var cfg SelfTrader
	if err := loadJSON(path, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Strategies) == 0 {
		return nil, errors.New("selftrader config: no strategies")
	}
	seen := make(map[string]bool, len(cfg.Strategies))
	for i, p := range cfg.Strategies {
		if p.SID == "" {
			return nil, fmt.Errorf("selftrader config: strategy %d lacks a sid", i)
		}
		if seen[p.SID] {
			return nil, fmt.Errorf("selftrader config: duplicate sid %s", p.SID)
		}
		seen[p.SID] = true
		if p.APIKey == "" && !p.Mock {
			return nil, fmt.Errorf("selftrader config: strategy %s lacks an api key", p.SID)
		}
	}
	return &cfg, nil
}
