// Package quote holds the shared market-data contract: order book and ticker
// payloads, the KV abstraction they travel through, and the 100ms bucket ring
// that bounds their staleness. Ingesters write, strategy daemons read; the KV
// store is the only thing the two sides share.
package quote

import (
	"sort"
	"strconv"
	"strings"
)

// Level is one price level as the venue sent it: [price, qty]. Values stay
// strings end to end so venue-native precision survives the cache round trip.
type Level [2]string

// Price parses the level price. Malformed input parses to 0.
func (l Level) Price() float64 {
	v, _ := strconv.ParseFloat(l[0], 64)
	return v
}

// Qty parses the level quantity. Malformed input parses to 0.
func (l Level) Qty() float64 {
	v, _ := strconv.ParseFloat(l[1], 64)
	return v
}

// Book is one order book snapshot. Asks ascend, bids descend. SeqID, PrevSeqID
// and Ts are carried only by venues with sequenced deltas (OKX); a
// snapshot-only feed leaves them empty.
type Book struct {
	Asks      []Level `json:"asks"`
	Bids      []Level `json:"bids"`
	SeqID     string  `json:"seq_id,omitempty"`
	PrevSeqID string  `json:"prev_seq_id,omitempty"`
	Ts        int64   `json:"ts,omitempty"`
}

// Ticker is the last-trade record for a symbol.
type Ticker struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

// PriceF parses the ticker price.
func (t *Ticker) PriceF() float64 {
	v, _ := strconv.ParseFloat(t.Price, 64)
	return v
}

// QtyF parses the ticker quantity.
func (t *Ticker) QtyF() float64 {
	v, _ := strconv.ParseFloat(t.Qty, 64)
	return v
}

// SortLevels orders levels by parsed price, ascending for asks and descending
// for bids. The float parse is used for the sort key only; the string payload
// is untouched.
func SortLevels(levels []Level, descending bool) {
	sort.SliceStable(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price() > levels[j].Price()
		}
		return levels[i].Price() < levels[j].Price()
	})
}

// Empty reports whether either side of the book is missing.
func (b *Book) Empty() bool {
	return b == nil || len(b.Asks) == 0 || len(b.Bids) == 0
}

// TopAsk returns the best ask price, or 0 when the side is empty.
func (b *Book) TopAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price()
}

// TopBid returns the best bid price, or 0 when the side is empty.
func (b *Book) TopBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price()
}

// Exchange names as they appear in stream keys. Binance runs two future
// account flavors that share one quote feed, so both collapse onto
// binance_future when resolving streams.
const (
	ExchangeBinanceSpot   = "binance_spot"
	ExchangeBinanceFuture = "binance_future"
	ExchangeOKXSpot       = "okx_spot"
	ExchangeOKXFuture     = "okx_future"
)

var exchangeAliases = map[string]string{
	"binance_UMFuture":         ExchangeBinanceFuture,
	"binance_portfolio_margin": ExchangeBinanceFuture,
}

// NormalizeExchange maps config-facing exchange names onto the stream prefix
// the ingesters publish under.
func NormalizeExchange(exchange string) string {
	if mapped, ok := exchangeAliases[exchange]; ok {
		return mapped
	}
	return exchange
}

// DepthStream builds the depth stream name for an exchange and symbol.
func DepthStream(exchange, symbol string) string {
	return NormalizeExchange(exchange) + "_depth" + strings.ToLower(symbol)
}

// TickerStream builds the ticker stream name for an exchange and symbol.
func TickerStream(exchange, symbol string) string {
	return NormalizeExchange(exchange) + "_ticker" + strings.ToLower(symbol)
}
