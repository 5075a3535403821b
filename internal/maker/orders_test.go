package maker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tunarun/internal/config"
	"github.com/sawpanic/tunarun/internal/quote"
	"github.com/sawpanic/tunarun/internal/venue"
)

func testParams() config.MakerParams {
	return config.MakerParams{
		MakerExchange:  "bifu",
		MakerSymbol:    "BTCUSDT",
		FollowExchange: "binance_UMFuture",
		FollowSymbol:   "BTCUSDT",

		PriceDecimals: 2,
		QtyDecimals:   4,
		TermType:      venue.BizSpot,

		NearSide:            sideBoth,
		NearAskSize:         2,
		NearBidSize:         2,
		NearQtyMultiplier:   1,
		NearSellPriceMargin: 10,
		NearBuyPriceMargin:  -10,
		NearMaxAmtPerOrder:  1e9,
		NearInterval:        0.1,
		NearTIF:             venue.TIFGoodTillCancel,
		NearDiffRate:        5,
		ForceRefreshNum:     2,

		FarSide:            sideBoth,
		FarAskSize:         3,
		FarBidSize:         3,
		FarQtyMultiplier:   1,
		FarSellPriceMargin: 100,
		FarBuyPriceMargin:  100,
		FarMaxAmtPerOrder:  1e9,
		FarStrategy:        "spread",
		FarInterval:        0.3,
		FarTIF:             venue.TIFGoodTillCancel,
	}
}

func TestRoundTo(t *testing.T) {
	assert.InDelta(t, 1.24, roundTo(1.236, 2), 1e-9)
	assert.InDelta(t, 1.0, roundTo(1.0, 3), 1e-9)
	// Zero decimals truncates instead of rounding.
	assert.InDelta(t, 10.0, roundTo(10.9, 0), 1e-9)
	assert.InDelta(t, -2.0, roundTo(-2.7, 0), 1e-9)
}

func TestCalcMakerQty(t *testing.T) {
	// Under the amount cap the quantity only gets rounded.
	assert.InDelta(t, 3.7, calcMakerQty(2.5, 3.7, 1e9, 4), 1e-9)
	// Over the cap the quantity shrinks to maxAmt/price.
	assert.InDelta(t, 3.3, calcMakerQty(10, 5, 33, 1), 1e-9)
	// Integer venues truncate, both with and without the cap.
	assert.InDelta(t, 3.0, calcMakerQty(2.5, 3.7, 1e9, 0), 1e-9)
	assert.InDelta(t, 3.0, calcMakerQty(10, 5, 33, 0), 1e-9)
}

func TestMirrorAskOrders(t *testing.T) {
	p := testParams()
	book := []quote.Level{{"30000.10", "1.0"}, {"30000.50", "2.0"}, {"30001.00", "3.0"}}

	out := mirrorAskOrders(book, p)

	require.Len(t, out, 2)
	assert.InDelta(t, 30030.10, out[0].Price, 1e-9)
	assert.InDelta(t, 1.0, out[0].Qty, 1e-9)
	assert.InDelta(t, 30030.50, out[1].Price, 1e-9)
	assert.InDelta(t, 2.0, out[1].Qty, 1e-9)
}

func TestMirrorBidOrders(t *testing.T) {
	p := testParams()
	book := []quote.Level{{"29999.90", "1.0"}, {"29999.50", "2.0"}}

	out := mirrorBidOrders(book, p)

	require.Len(t, out, 2)
	assert.InDelta(t, 29969.90, out[0].Price, 1e-9)
	assert.InDelta(t, 29969.50, out[1].Price, 1e-9)
}

func TestMirrorSkipsZeroQtyButKeepsWalking(t *testing.T) {
	p := testParams()
	book := []quote.Level{{"100", "1.5"}, {"100.5", "0"}, {"101", "3"}}

	out := mirrorAskOrders(book, p)

	require.Len(t, out, 2)
	assert.InDelta(t, 100.10, out[0].Price, 1e-9)
	assert.InDelta(t, 101.10, out[1].Price, 1e-9)
	assert.InDelta(t, 3.0, out[1].Qty, 1e-9)
}

func TestMirrorCapsQtyByMaxAmt(t *testing.T) {
	p := testParams()
	p.NearMaxAmtPerOrder = 100
	book := []quote.Level{{"100", "5"}}

	out := mirrorAskOrders(book, p)

	require.Len(t, out, 1)
	assert.InDelta(t, 0.999, out[0].Qty, 1e-9)
}

func TestSpreadFarCompoundsPrice(t *testing.T) {
	p := testParams()
	book := []quote.Level{{"100", "1"}, {"101", "2"}, {"102", "4"}}

	out := spreadFar(book, p, venue.SideSell, func(int) int { return 1 })

	require.Len(t, out, 3)
	assert.InDelta(t, 101.00, out[0].Price, 1e-9)
	assert.InDelta(t, 102.01, out[1].Price, 1e-9)
	assert.InDelta(t, 103.03, out[2].Price, 1e-9)
	for _, lv := range out {
		assert.InDelta(t, 1.9333, lv.Qty, 1e-9)
	}
}

func TestSpreadFarSkipsZeroQtyButAdvancesPrice(t *testing.T) {
	p := testParams()
	book := []quote.Level{{"100", "0"}, {"101", "2"}}

	picks := []int{0, 1, 1}
	out := spreadFar(book, p, venue.SideSell, func(int) int {
		idx := picks[0]
		picks = picks[1:]
		return idx
	})

	// The first step landed on the empty level and emitted nothing, but the
	// price kept compounding underneath it.
	require.Len(t, out, 2)
	assert.InDelta(t, 102.01, out[0].Price, 1e-9)
	assert.InDelta(t, 103.03, out[1].Price, 1e-9)
	assert.InDelta(t, 1.95, out[0].Qty, 1e-9)
}

func TestSpreadFarEmptyBook(t *testing.T) {
	p := testParams()
	assert.Empty(t, spreadFar(nil, p, venue.SideSell, func(int) int { return 0 }))
}

func TestGenFarLiquidity(t *testing.T) {
	p := testParams()
	book := &quote.Book{
		Asks: []quote.Level{{"100", "1"}, {"101", "2"}, {"102", "4"}},
		Bids: []quote.Level{{"100", "1"}, {"99", "2"}, {"98", "4"}},
	}
	now := time.Unix(1700000000, 0)
	dayStart := now.Unix() / 86400
	offset := now.Unix() * 100 % 8640000
	intn := func(int) int { return 1 }

	t.Run("sell side keeps prices above the guard", func(t *testing.T) {
		orders := genFarLiquidity(p, book, venue.SideSell, 102, dayStart, now, intn)

		require.Len(t, orders, 2)
		assert.InDelta(t, 102.01, orders[0].Price, 1e-9)
		assert.InDelta(t, 103.03, orders[1].Price, 1e-9)
		assert.Equal(t, fmt.Sprintf("F0SBTCUSDT_%d_%d", dayStart, offset), orders[0].ClientID)
		assert.Equal(t, fmt.Sprintf("F0SBTCUSDT_%d_%d", dayStart, offset+1), orders[1].ClientID)
		assert.Equal(t, venue.SideSell, orders[0].Side)
		assert.Equal(t, p.FarTIF, orders[0].TIF)
		assert.Equal(t, p.TermType, orders[0].BizType)
	})

	t.Run("buy side keeps prices below the guard", func(t *testing.T) {
		orders := genFarLiquidity(p, book, venue.SideBuy, 98, dayStart, now, intn)

		require.Len(t, orders, 1)
		assert.InDelta(t, 97.03, orders[0].Price, 1e-9)
		assert.Equal(t, fmt.Sprintf("F0BBTCUSDT_%d_%d", dayStart, offset), orders[0].ClientID)
		assert.Equal(t, venue.SideBuy, orders[0].Side)
	})

	t.Run("unknown strategy emits nothing", func(t *testing.T) {
		p := testParams()
		p.FarStrategy = "taper"
		assert.Empty(t, genFarLiquidity(p, book, venue.SideSell, 0, dayStart, now, intn))
	})
}

func namedOrder(id string, price float64) venue.NewOrder {
	return venue.NewOrder{ClientID: id, Price: price, Symbol: "BTCUSDT"}
}

func TestMixAskBidOrders(t *testing.T) {
	a1, a2, a3 := namedOrder("a1", 101), namedOrder("a2", 102), namedOrder("a3", 103)
	b1, b2 := namedOrder("b1", 99), namedOrder("b2", 98)

	mixed := mixAskBidOrders([]venue.NewOrder{a1, a2, a3}, []venue.NewOrder{b1})
	require.Len(t, mixed, 4)
	assert.Equal(t, []string{"a1", "b1", "a2", "a3"}, clientIDs(mixed))

	mixed = mixAskBidOrders([]venue.NewOrder{a1}, []venue.NewOrder{b1, b2})
	assert.Equal(t, []string{"a1", "b1", "b2"}, clientIDs(mixed))

	assert.Empty(t, mixAskBidOrders(nil, nil))
}

func clientIDs(orders []venue.NewOrder) []string {
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ClientID
	}
	return ids
}

func TestDiffOrdersKeepsUnchangedPrices(t *testing.T) {
	prev := []CachedOrder{{Price: 100.1, ID: "id1"}, {Price: 100.6, ID: "id2"}}
	next := []venue.NewOrder{namedOrder("n1", 100.1), namedOrder("n2", 100.6)}

	merged, cancels, reserved := diffOrders(5e-4, false, prev, next)

	assert.Empty(t, merged)
	assert.Empty(t, cancels)
	require.Len(t, reserved, 2)
	assert.Equal(t, "id1", reserved[0].ID)
	assert.Equal(t, "id2", reserved[1].ID)
}

func TestDiffOrdersReplacesDrifted(t *testing.T) {
	prev := []CachedOrder{{Price: 100, ID: "id1"}, {Price: 101, ID: "id2"}}
	next := []venue.NewOrder{namedOrder("n1", 100.2), namedOrder("n2", 101.01)}

	merged, cancels, reserved := diffOrders(5e-4, false, prev, next)

	require.Len(t, merged, 1)
	assert.Equal(t, "n1", merged[0].ClientID)
	assert.Equal(t, []string{"id1"}, cancels)
	require.Len(t, reserved, 1)
	assert.Equal(t, "id2", reserved[0].ID)
}

func TestDiffOrdersTails(t *testing.T) {
	t.Run("extra resting orders are cancelled", func(t *testing.T) {
		prev := []CachedOrder{{Price: 100, ID: "a"}, {Price: 101, ID: "b"}, {Price: 102, ID: "c"}}
		next := []venue.NewOrder{namedOrder("n1", 100)}

		merged, cancels, reserved := diffOrders(5e-4, false, prev, next)

		assert.Empty(t, merged)
		assert.ElementsMatch(t, []string{"b", "c"}, cancels)
		require.Len(t, reserved, 1)
		assert.Equal(t, "a", reserved[0].ID)
	})

	t.Run("extra new orders are submitted", func(t *testing.T) {
		prev := []CachedOrder{{Price: 100, ID: "a"}}
		next := []venue.NewOrder{namedOrder("n1", 100), namedOrder("n2", 101), namedOrder("n3", 102)}

		merged, cancels, reserved := diffOrders(5e-4, false, prev, next)

		assert.Equal(t, []string{"n2", "n3"}, clientIDs(merged))
		assert.Empty(t, cancels)
		require.Len(t, reserved, 1)
	})
}

func TestDiffOrdersSortsBidsDescending(t *testing.T) {
	prev := []CachedOrder{{Price: 99, ID: "b1"}, {Price: 100, ID: "b2"}}
	next := []venue.NewOrder{namedOrder("n1", 100), namedOrder("n2", 99)}

	merged, cancels, reserved := diffOrders(5e-4, true, prev, next)

	assert.Empty(t, merged)
	assert.Empty(t, cancels)
	require.Len(t, reserved, 2)
	assert.Equal(t, "b2", reserved[0].ID)
	assert.Equal(t, "b1", reserved[1].ID)
}

func TestClientOrderID(t *testing.T) {
	assert.Equal(t, "BTCUSDT_19675_12345", clientOrderID("BTCUSDT", 19675, 12345, false))
	assert.Equal(t, "F0SBTCUSDT_19675_12345", clientOrderID("SBTCUSDT", 19675, 12345, true))
}
