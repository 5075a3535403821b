// Package venue defines the uniform client surface the strategy daemons place
// orders through, and the order shapes that cross it. One interface covers
// every venue; implementations live in subpackages (bifu for the REST venue,
// mock for in-memory runs).
package venue

import (
	"context"
	"strconv"
)

// Order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Time-in-force flags. GTX is post-only.
const (
	TIFGoodTillCancel    = "GTC"
	TIFGoodTillCrossing  = "GTX"
	TIFImmediateOrCancel = "IOC"
)

// Business types.
const (
	BizSpot     = "SPOT"
	BizFuture   = "FUTURE"
	BizUMFuture = "UMFUTURE"
)

// Position sides for futures legs.
const (
	PositionLong  = "LONG"
	PositionShort = "SHORT"
)

// Opposite flips an order side.
func Opposite(side string) string {
	if side == SideBuy {
		return SideSell
	}
	return SideBuy
}

// NewOrder is one order in a batch submission.
type NewOrder struct {
	Symbol           string  `json:"symbol"`
	ClientID         string  `json:"client_id"`
	Side             string  `json:"side"`
	Type             string  `json:"type"`
	Quantity         float64 `json:"quantity"`
	Price            float64 `json:"price"`
	BizType          string  `json:"biz_type"`
	TIF              string  `json:"tif"`
	ReduceOnly       bool    `json:"reduce_only,omitempty"`
	PositionSide     string  `json:"position_side,omitempty"`
	Bait             bool    `json:"bait,omitempty"`
	SelftradeEnabled bool    `json:"selftrade_enabled,omitempty"`
}

// OrderResult is the per-order outcome of a batch submission. An empty
// OrderID means the venue rejected that entry.
type OrderResult struct {
	OrderID  string `json:"order_id"`
	ClientID string `json:"client_id,omitempty"`
}

// OpenOrder is one live order as listed by the venue.
type OpenOrder struct {
	OrderID  string `json:"order_id"`
	ClientID string `json:"client_id"`
}

// OrderStatus is the venue's view of a single order.
type OrderStatus struct {
	Status      string `json:"status"`
	Side        string `json:"side"`
	ExecutedQty string `json:"executed_qty"`
}

// Known reports whether the venue returned a usable status. A response
// without one is the fatal protocol case callers must alert on.
func (s OrderStatus) Known() bool {
	return s.Status != ""
}

// AskBid is the top of book: best ask price/qty and best bid price/qty.
type AskBid struct {
	AskPrice string `json:"ap"`
	AskQty   string `json:"aq"`
	BidPrice string `json:"bp"`
	BidQty   string `json:"bq"`
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// AskPriceF parses the best ask price.
func (a AskBid) AskPriceF() float64 { return parseF(a.AskPrice) }

// AskQtyF parses the best ask quantity.
func (a AskBid) AskQtyF() float64 { return parseF(a.AskQty) }

// BidPriceF parses the best bid price.
func (a AskBid) BidPriceF() float64 { return parseF(a.BidPrice) }

// BidQtyF parses the best bid quantity.
func (a AskBid) BidQtyF() float64 { return parseF(a.BidQty) }

// Valid reports whether both sides carry prices.
func (a AskBid) Valid() bool {
	return a.AskPrice != "" && a.BidPrice != ""
}

// Client is the capability set every venue implementation satisfies. Batch
// calls report per-order outcomes positionally; a short response means the
// tail of the batch was not accepted.
type Client interface {
	// BatchMakeOrders submits up to one batch of orders and returns one
	// OrderResult per submitted order, in order.
	BatchMakeOrders(ctx context.Context, symbol string, orders []NewOrder) ([]OrderResult, error)
	// BatchCancel cancels by venue order id and returns the ids actually
	// cancelled.
	BatchCancel(ctx context.Context, symbol string, ids []string) ([]string, error)
	// CancelOrder cancels a single order by venue order id.
	CancelOrder(ctx context.Context, symbol, id string) (OrderResult, error)
	// OpenOrders lists the live orders for a symbol.
	OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	// OrderStatus fetches the status of one order.
	OrderStatus(ctx context.Context, symbol, id string) (OrderStatus, error)
	// TopAskBid fetches the top of book for a symbol.
	TopAskBid(ctx context.Context, symbol string) (AskBid, bool, error)
}
