package maker

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yaml "gopkg.in/yaml.v2"

	"github.com/sawpanic/tunarun/internal/config"
	"github.com/sawpanic/tunarun/internal/quote"
)

type mirrorCase struct {
	Name          string  `yaml:"name"`
	PriceDecimals int     `yaml:"price_decimals"`
	QtyDecimals   int     `yaml:"qty_decimals"`
	QtyMultiplier float64 `yaml:"near_qty_multiplier"`
	SellMargin    float64 `yaml:"near_sell_price_margin"`
	BuyMargin     float64 `yaml:"near_buy_price_margin"`
	MaxAmt        float64 `yaml:"near_max_amt_per_order"`
	AskSize       int     `yaml:"near_ask_size"`
	BidSize       int     `yaml:"near_bid_size"`

	Asks     [][]string  `yaml:"asks"`
	Bids     [][]string  `yaml:"bids"`
	WantAsks [][]float64 `yaml:"want_asks"`
	WantBids [][]float64 `yaml:"want_bids"`
}

type mirrorFixture struct {
	Cases []mirrorCase `yaml:"cases"`
}

func fixtureLevels(rows [][]string) []quote.Level {
	out := make([]quote.Level, len(rows))
	for i, r := range rows {
		out[i] = quote.Level{r[0], r[1]}
	}
	return out
}

func assertLevels(t *testing.T, want [][]float64, got []quoteLevel) {
	t.Helper()
	require.Len(t, got, len(want))
	for i, w := range want {
		assert.InDelta(t, w[0], got[i].Price, 1e-9, "price at %d", i)
		assert.InDelta(t, w[1], got[i].Qty, 1e-9, "qty at %d", i)
	}
}

func TestMirrorFixtures(t *testing.T) {
	data, err := os.ReadFile("testdata/mirror_cases.yaml")
	require.NoError(t, err)

	var fx mirrorFixture
	require.NoError(t, yaml.Unmarshal(data, &fx))
	require.NotEmpty(t, fx.Cases)

	for _, tc := range fx.Cases {
		t.Run(tc.Name, func(t *testing.T) {
			p := config.MakerParams{
				MakerSymbol:         "BTCUSDT",
				PriceDecimals:       tc.PriceDecimals,
				QtyDecimals:         tc.QtyDecimals,
				NearQtyMultiplier:   tc.QtyMultiplier,
				NearSellPriceMargin: tc.SellMargin,
				NearBuyPriceMargin:  tc.BuyMargin,
				NearMaxAmtPerOrder:  tc.MaxAmt,
				NearAskSize:         tc.AskSize,
				NearBidSize:         tc.BidSize,
			}
			assertLevels(t, tc.WantAsks, mirrorAskOrders(fixtureLevels(tc.Asks), p))
			assertLevels(t, tc.WantBids, mirrorBidOrders(fixtureLevels(tc.Bids), p))
		})
	}
}
