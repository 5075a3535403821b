package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadQuote(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeConfig(t, `{
			"redis": {"addr": "localhost:6379", "db": 1},
			"exchange": "binance_future",
			"depth_symbols": ["BTCUSDT"],
			"ticker_symbols": ["BTCUSDT", "ETHUSDT"]
		}`)
		cfg, err := LoadQuote(path)
		require.NoError(t, err)
		assert.Equal(t, "binance_future", cfg.Exchange)
		assert.Equal(t, 1, cfg.Redis.DB)
		assert.Len(t, cfg.TickerSymbols, 2)
	})

	t.Run("no symbols", func(t *testing.T) {
		path := writeConfig(t, `{"redis": {"addr": "localhost:6379"}, "exchange": "okx_future"}`)
		_, err := LoadQuote(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadQuote(filepath.Join(t.TempDir(), "absent.json"))
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := writeConfig(t, `{"exchange": `)
		_, err := LoadQuote(path)
		assert.Error(t, err)
	})
}

func TestLoadMaker(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeConfig(t, `{
			"redis": {"addr": "localhost:6379"},
			"strategies": [{
				"api_key": "k", "api_secret": "s",
				"maker_exchange": "BIFU", "maker_symbol": "BTCUSDT",
				"follow_exchange": "binance_UMFuture", "follow_symbol": "BTCUSDT",
				"price_decimals": 1, "qty_decimals": 3, "term_type": "SPOT",
				"near_side": "BOTH", "near_ask_size": 5, "near_bid_size": 5,
				"near_qty_multiplier": 0.5, "near_sell_price_margin": 2,
				"near_buy_price_margin": 2, "near_max_amt_per_order": 5000,
				"near_interval": 0.5, "near_tif": "GTC",
				"near_diff_rate_per_round": 3, "force_refresh_num": 20
			}]
		}`)
		cfg, err := LoadMaker(path)
		require.NoError(t, err)
		require.Len(t, cfg.Strategies, 1)
		p := cfg.Strategies[0]
		assert.Equal(t, 500*time.Millisecond, p.NearEvery())
		assert.Equal(t, time.Duration(0), p.FarEvery())
	})

	t.Run("missing api key", func(t *testing.T) {
		path := writeConfig(t, `{"strategies": [{"maker_symbol": "BTCUSDT", "follow_symbol": "BTCUSDT"}]}`)
		_, err := LoadMaker(path)
		assert.Error(t, err)
	})

	t.Run("mock needs no key", func(t *testing.T) {
		path := writeConfig(t, `{"strategies": [{"maker_symbol": "BTCUSDT", "follow_symbol": "BTCUSDT", "mock": true}]}`)
		_, err := LoadMaker(path)
		assert.NoError(t, err)
	})

	t.Run("empty strategies", func(t *testing.T) {
		path := writeConfig(t, `{"strategies": []}`)
		_, err := LoadMaker(path)
		assert.Error(t, err)
	})
}

func TestLoadHedger(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeConfig(t, `{
			"api_key": "k", "api_secret": "s",
			"stream_url": "wss://api.bifu.co",
			"maker_symbol": "BTC_USDT",
			"redis": {"addr": "localhost:6379"},
			"strategies": {
				"BTC_USDT": {
					"hedge_symbol": "BTCUSDT", "hedge_exchange": "BN",
					"price_decimals": 1, "qty_decimals": 3,
					"min_qty_per_order": 0.001, "min_amt_per_order": 10,
					"slippage": 0.5
				}
			},
			"version": 3
		}`)
		cfg, err := LoadHedger(path)
		require.NoError(t, err)
		assert.Equal(t, int64(3), cfg.Version)

		s, ok := cfg.Strategy("BTC_USDT")
		require.True(t, ok)
		assert.Equal(t, "BTCUSDT", s.HedgeSymbol)

		_, ok = cfg.Strategy("ETH_USDT")
		assert.False(t, ok)
	})

	t.Run("missing credentials", func(t *testing.T) {
		path := writeConfig(t, `{"stream_url": "wss://api.bifu.co", "strategies": {"X": {}}}`)
		_, err := LoadHedger(path)
		assert.Error(t, err)
	})

	t.Run("no strategies", func(t *testing.T) {
		path := writeConfig(t, `{"api_key": "k", "api_secret": "s", "stream_url": "wss://api.bifu.co"}`)
		_, err := LoadHedger(path)
		assert.Error(t, err)
	})
}

func TestLoadSelfTrader(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeConfig(t, `{
			"redis": {"addr": "localhost:6379"},
			"strategies": [{
				"sid": "st-1", "api_key": "k", "api_secret": "s",
				"maker_exchange": "BIFU", "maker_symbol": "BTCUSDT",
				"follow_exchange": "binance_future", "follow_symbol": "BTCUSDT",
				"term_type": "SPOT", "price_decimals": 1, "qty_decimals": 3,
				"interval": 0.05, "qty_multiplier": 0.3,
				"max_amt_per_order": 2000, "price_divergence": 0.02
			}]
		}`)
		cfg, err := LoadSelfTrader(path)
		require.NoError(t, err)
		require.Len(t, cfg.Strategies, 1)
		assert.Equal(t, 100*time.Millisecond, cfg.Strategies[0].Every())
	})

	t.Run("duplicate sid", func(t *testing.T) {
		path := writeConfig(t, `{"strategies": [
			{"sid": "st-1", "api_key": "k"},
			{"sid": "st-1", "api_key": "k"}
		]}`)
		_, err := LoadSelfTrader(path)
		assert.Error(t, err)
	})

	t.Run("missing sid", func(t *testing.T) {
		path := writeConfig(t, `{"strategies": [{"api_key": "k"}]}`)
		_, err := LoadSelfTrader(path)
		assert.Error(t, err)
	})
}
