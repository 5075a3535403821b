// Package maker drives the per-symbol quoting passes: the follow book is
// mirrored into near-end ladders with far-end liquidity spread behind them,
// reusing resting orders whose prices have not drifted.
package maker

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sawpanic/tunarun/internal/config"
	"github.com/sawpanic/tunarun/internal/quote"
	"github.com/sawpanic/tunarun/internal/venue"
)

const (
	sideBoth = "BOTH"
	sideAsk  = "ASK"
	sideBid  = "BID"

	// farClientIDPrefix marks far-end client ids so near-order sweeps and
	// reconciliation can tell the bands apart.
	farClientIDPrefix = "F0"
)

// CachedOrder is one order this process believes rests on the venue.
type CachedOrder struct {
	Price float64
	ID    string
}

// quoteLevel is one prospective quote before it becomes a venue order.
type quoteLevel struct {
	Price float64
	Qty   float64
}

// roundTo rounds to the given decimals; zero decimals truncates to an
// integer instead.
func roundTo(v float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Trunc(v)
	}
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}

// calcMakerQty caps a quote's quantity by the per-order amount limit and
// rounds it to the venue's quantity decimals.
func calcMakerQty(price, qty, maxAmt float64, qtyDecimals int) float64 {
	if qty*price > maxAmt {
		qty = maxAmt / price
	}
	return roundTo(qty, qtyDecimals)
}

// mirrorAskOrders walks the follow book's asks and prices them onto the
// maker venue with the configured sell margin. The walk stops once
// near_ask_size orders survived quantity rounding.
func mirrorAskOrders(book []quote.Level, p config.MakerParams) []quoteLevel {
	coef := 1 + 1e-4*p.NearSellPriceMargin
	out := make([]quoteLevel, 0, p.NearAskSize)
	for _, lv := range book {
		if len(out) >= p.NearAskSize {
			break
		}
		price := roundTo(lv.Price()*coef, p.PriceDecimals)
		qty := calcMakerQty(price, lv.Qty()*p.NearQtyMultiplier, p.NearMaxAmtPerOrder, p.QtyDecimals)
		if qty > 0 {
			out = append(out, quoteLevel{Price: price, Qty: qty})
		}
	}
	return out
}

// mirrorBidOrders is the bid-side analogue of mirrorAskOrders.
func mirrorBidOrders(book []quote.Level, p config.MakerParams) []quoteLevel {
	coef := 1 + 1e-4*p.NearBuyPriceMargin
	out := make([]quoteLevel, 0, p.NearBidSize)
	for _, lv := range book {
		if len(out) >= p.NearBidSize {
			break
		}
		price := roundTo(lv.Price()*coef, p.PriceDecimals)
		qty := calcMakerQty(price, lv.Qty()*p.NearQtyMultiplier, p.NearMaxAmtPerOrder, p.QtyDecimals)
		if qty > 0 {
			out = append(out, quoteLevel{Price: price, Qty: qty})
		}
	}
	return out
}

// spreadFar walks outward from the book top, compounding the far margin per
// step and picking a quantity from the near book at a random depth. Steps
// whose quantity rounds to zero are skipped but still advance the price.
func spreadFar(book []quote.Level, p config.MakerParams, side string, intn func(int) int) []quoteLevel {
	if len(book) == 0 {
		return nil
	}
	base := book[0].Price()
	var coef float64
	var steps int
	if side == venue.SideSell {
		coef = 1 + 1e-4*p.FarSellPriceMargin
		steps = p.FarAskSize
	} else {
		coef = 1 - 1e-4*p.FarBuyPriceMargin
		steps = p.FarBidSize
	}

	qtys := make([]float64, len(book))
	for i, lv := range book {
		qtys[i] = lv.Qty()
	}

	out := make([]quoteLevel, 0, steps)
	for i := 0; i < steps; i++ {
		base *= coef
		idx := intn(len(qtys))
		qty := qtys[idx] * (0.95 + float64(idx)*0.05/float64(len(qtys)))

		price := roundTo(base, p.PriceDecimals)
		qty = calcMakerQty(price, qty*p.FarQtyMultiplier, p.FarMaxAmtPerOrder, p.QtyDecimals)
		if qty > 0 {
			out = append(out, quoteLevel{Price: price, Qty: qty})
		}
	}
	return out
}

// genFarLiquidity builds the far-end orders for one side, dropping any that
// would cross the near band's guard price.
func genFarLiquidity(p config.MakerParams, book *quote.Book, side string, guardPrice float64, dayStart int64, now time.Time, intn func(int) int) []venue.NewOrder {
	if p.FarStrategy != "spread" {
		return nil
	}
	offset := now.Unix() * 100 % 8640000

	var levels []quoteLevel
	var idSymbol string
	if side == venue.SideBuy {
		levels = spreadFar(book.Bids, p, venue.SideBuy, intn)
		idSymbol = "B" + p.MakerSymbol
	} else {
		levels = spreadFar(book.Asks, p, venue.SideSell, intn)
		idSymbol = "S" + p.MakerSymbol
	}

	orders := make([]venue.NewOrder, 0, len(levels))
	for _, lv := range levels {
		if side == venue.SideBuy && lv.Price >= guardPrice {
			continue
		}
		if side == venue.SideSell && lv.Price <= guardPrice {
			continue
		}
		orders = append(orders, venue.NewOrder{
			Symbol:       p.MakerSymbol,
			ClientID:     clientOrderID(idSymbol, dayStart, offset, true),
			Side:         side,
			Type:         "LIMIT",
			Quantity:     lv.Qty,
			Price:        lv.Price,
			BizType:      p.TermType,
			TIF:          p.FarTIF,
			PositionSide: p.PositionSide,
		})
		offset++
	}
	return orders
}

// clientOrderID builds the client id for one order. Far-end ids carry the
// F0 prefix.
func clientOrderID(symbol string, dayStart, offset int64, far bool) string {
	if far {
		return fmt.Sprintf("F0%s_%d_%d", symbol, dayStart, offset)
	}
	return fmt.Sprintf("%s_%d_%d", symbol, dayStart, offset)
}

// mixAskBidOrders interleaves one ask, one bid, then appends the longer
// side's tail. Batched submission then keeps the book two-sided even if the
// venue truncates a batch.
func mixAskBidOrders(askOrders, bidOrders []venue.NewOrder) []venue.NewOrder {
	mixed := make([]venue.NewOrder, 0, len(askOrders)+len(bidOrders))
	n := len(askOrders)
	if len(bidOrders) < n {
		n = len(bidOrders)
	}
	for i := 0; i < n; i++ {
		mixed = append(mixed, askOrders[i], bidOrders[i])
	}
	mixed = append(mixed, askOrders[n:]...)
	mixed = append(mixed, bidOrders[n:]...)
	return mixed
}

// diffOrders compares resting orders against freshly generated ones after
// sorting both by price. A pair within diffRate keeps the resting order and
// drops the new one; otherwise the resting order is cancelled and the new
// one submitted. Tails beyond the shorter list cancel (prev) or submit
// (next) wholesale.
func diffOrders(diffRate float64, descending bool, prev []CachedOrder, next []venue.NewOrder) (merged []venue.NewOrder, cancels []string, reserved []CachedOrder) {
	sort.SliceStable(prev, func(i, j int) bool {
		if descending {
			return prev[i].Price > prev[j].Price
		}
		return prev[i].Price < prev[j].Price
	})
	sort.SliceStable(next, func(i, j int) bool {
		if descending {
			return next[i].Price > next[j].Price
		}
		return next[i].Price < next[j].Price
	})

	n := len(prev)
	if len(next) < n {
		n = len(next)
	}
	for i := 0; i < n; i++ {
		if math.Abs(prev[i].Price/next[i].Price-1) < diffRate {
			reserved = append(reserved, prev[i])
		} else {
			cancels = append(cancels, prev[i].ID)
			merged = append(merged, next[i])
		}
	}
	for _, co := range prev[n:] {
		cancels = append(cancels, co.ID)
	}
	merged = append(merged, next[n:]...)
	return merged, cancels, reserved
}
