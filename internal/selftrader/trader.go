// Package selftrader prints volume on the maker venue: each strategy copies
// the follow symbol's last trade into a matched post-only/taker order pair so
// the printed tape tracks the reference price. The close of one wall-clock
// minute is carried into the open of the next.
package selftrader

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tunarun/internal/config"
	"github.com/sawpanic/tunarun/internal/metrics"
	"github.com/sawpanic/tunarun/internal/quote"
	"github.com/sawpanic/tunarun/internal/venue"
)

const (
	idleSleep = 50 * time.Millisecond

	cancelRetries    = 3
	cancelRetryDelay = 500 * time.Millisecond

	// Contract conversion for future pairs.
	futureLeverage     = 2.0
	futureContractSize = 0.1
)

var sides = []string{venue.SideBuy, venue.SideSell}

// ClientFactory builds the venue client for one strategy.
type ClientFactory func(p config.SelfTradeParams) (venue.Client, error)

// strategyContext carries one strategy's trade continuity: the last printed
// price and quantity and the minute they were printed in.
type strategyContext struct {
	client venue.Client
	price  float64
	qty    float64
	minute int
}

// Trader runs the self-trade loop over all configured strategies.
type Trader struct {
	params  []config.SelfTradeParams
	store   *quote.Store
	clients ClientFactory
	metrics *metrics.Registry

	contexts map[string]*strategyContext
	last     map[string]time.Time

	now  func() time.Time
	intn func(int) int
}

// New creates a Trader over the given strategies.
func New(params []config.SelfTradeParams, store *quote.Store, clients ClientFactory, reg *metrics.Registry) *Trader {
	return &Trader{
		params:   params,
		store:    store,
		clients:  clients,
		metrics:  reg,
		contexts: make(map[string]*strategyContext),
		last:     make(map[string]time.Time),
		now:      time.Now,
		intn:     rand.Intn,
	}
}

// Run drives self-trade rounds until ctx is cancelled.
func (t *Trader) Run(ctx context.Context) error {
	log.Info().Int("strategies", len(t.params)).Msg("Self-trader started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !t.tick(ctx) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idleSleep):
			}
		}
	}
}

// tick runs one round for every strategy that is due and waits for all of
// them. It reports whether any strategy ran.
func (t *Trader) tick(ctx context.Context) bool {
	now := t.now()
	ran := false
	var wg sync.WaitGroup
	for i := range t.params {
		p := t.params[i]
		if last, ok := t.last[p.SID]; ok && last.Add(p.Every()).After(now) {
			continue
		}
		t.last[p.SID] = now

		c, err := t.context(p)
		if err != nil {
			log.Error().Err(err).Str("sid", p.SID).Msg("Self-trade client init failed")
			continue
		}
		ran = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.pass(ctx, p, c); err != nil {
				log.Error().Err(err).Str("sid", p.SID).Str("symbol", p.MakerSymbol).Msg("Self-trade round failed")
			}
		}()
	}
	wg.Wait()
	return ran
}

// context returns the strategy's state, building its venue client on first
// use.
func (t *Trader) context(p config.SelfTradeParams) (*strategyContext, error) {
	if c, ok := t.contexts[p.SID]; ok {
		return c, nil
	}
	client, err := t.clients(p)
	if err != nil {
		return nil, err
	}
	c := &strategyContext{client: client}
	t.contexts[p.SID] = c
	return c, nil
}

// pass runs one self-trade round: derive the print price from the follow
// ticker, keep it continuous with the previous print, pin it inside the
// maker book, and submit one post-only/taker pair.
func (t *Trader) pass(ctx context.Context, p config.SelfTradeParams, c *strategyContext) error {
	ticker, found, err := t.store.TickerWithin(ctx, quote.TickerStream(p.FollowExchange, p.FollowSymbol), p.QuoteMaxAge())
	if err != nil {
		return fmt.Errorf("read ticker: %w", err)
	}
	if !found || (ticker.PriceF() <= 0 && ticker.QtyF() <= 0) {
		t.metrics.RecordSelfTradeSkip(p.MakerSymbol, "no_ticker")
		return nil
	}

	ab, ok, err := c.client.TopAskBid(ctx, p.MakerSymbol)
	if err != nil {
		return fmt.Errorf("top of book: %w", err)
	}
	if !ok || !ab.Valid() {
		log.Warn().Str("symbol", p.MakerSymbol).Msg("No self-trade order book")
		t.metrics.RecordSelfTradeSkip(p.MakerSymbol, "no_book")
		return nil
	}
	topAsk, askQty := ab.AskPriceF(), ab.AskQtyF()
	topBid, bidQty := ab.BidPriceF(), ab.BidQtyF()

	coef := 0.9995 + 0.00001*float64(t.intn(100))
	price := ticker.PriceF()
	qty := ticker.QtyF() * p.QtyMultiplier
	if price > 0 {
		if price == c.price {
			// Same print twice in a row: move one tick off the previous one.
			if price == topAsk {
				price -= math.Pow10(-p.PriceDecimals)
			} else {
				price += math.Pow10(-p.PriceDecimals)
			}
		} else if c.price > 0 && math.Abs(price/c.price-1) > p.PriceDivergence {
			log.Error().Str("symbol", p.MakerSymbol).
				Float64("prev", c.price).Float64("price", price).
				Msg("Abnormal ticker volatility")
			if price > c.price {
				price = c.price * (1 + p.PriceDivergence)
			} else {
				price = c.price * (1 - p.PriceDivergence)
			}
		}
		qty *= coef
	} else {
		// Ticker without a price: print at the previous price with a
		// book-derived quantity.
		price = c.price
		qty = 0.5 * (askQty + bidQty) * coef
	}

	if price <= 0 {
		t.metrics.RecordSelfTradeSkip(p.MakerSymbol, "no_price")
		return nil
	}

	minQty := math.Pow10(-p.QtyDecimals)
	qty = math.Min(
		roundTo(math.Max(minQty, qty), p.QtyDecimals),
		roundTo(p.MaxAmtPerOrder/price, p.QtyDecimals),
	)
	if qty <= 0 {
		t.metrics.RecordSelfTradeSkip(p.MakerSymbol, "no_qty")
		return nil
	}

	now := t.now()
	// The close of minute N must equal the open of minute N+1.
	minute := int(now.Unix()/60) % 60
	if minute != c.minute {
		price = c.price
	}
	c.minute = minute
	price = math.Max(math.Min(price, topAsk), topBid)
	c.price = price
	if qty == c.qty {
		qty *= 1.0001
	}
	c.qty = qty

	takerSide := sides[t.intn(len(sides))]
	makerSide := venue.Opposite(takerSide)
	orderPrice := roundTo(price, p.PriceDecimals)
	orderQty := roundTo(qty, p.QtyDecimals)
	if p.TermType == venue.BizFuture {
		orderQty = math.Floor(orderQty * futureLeverage / futureContractSize)
	}

	ms := now.UnixMilli()
	pair := []venue.NewOrder{
		{
			Symbol:           p.MakerSymbol,
			ClientID:         fmt.Sprintf("M%s_%d", p.MakerSymbol, ms),
			Side:             makerSide,
			Type:             "LIMIT",
			Quantity:         orderQty,
			Price:            orderPrice,
			BizType:          p.TermType,
			TIF:              venue.TIFGoodTillCrossing,
			PositionSide:     positionSide(p.TermType, makerSide),
			SelftradeEnabled: true,
		},
		{
			Symbol:           p.MakerSymbol,
			ClientID:         fmt.Sprintf("T%s_%d", p.MakerSymbol, ms),
			Side:             takerSide,
			Type:             "LIMIT",
			Quantity:         orderQty,
			Price:            orderPrice,
			BizType:          p.TermType,
			TIF:              venue.TIFImmediateOrCancel,
			PositionSide:     positionSide(p.TermType, takerSide),
			SelftradeEnabled: true,
		},
	}

	log.Info().Str("symbol", p.MakerSymbol).
		Float64("price", orderPrice).Float64("qty", orderQty).
		Float64("top_bid", topBid).Float64("top_ask", topAsk).
		Msg("Self-trade pair submitted")
	results, err := c.client.BatchMakeOrders(ctx, p.MakerSymbol, pair)
	if err != nil {
		return fmt.Errorf("submit self-trade pair: %w", err)
	}
	t.metrics.RecordSelfTradePair(p.MakerSymbol)

	if len(results) > 0 && results[0].OrderID != "" {
		t.cancelMakerLeg(ctx, c.client, p.MakerSymbol, results[0].OrderID)
	}
	return nil
}

// cancelMakerLeg removes the resting post-only leg, retrying up to
// cancelRetries times.
func (t *Trader) cancelMakerLeg(ctx context.Context, client venue.Client, symbol, id string) {
	for attempt := 0; attempt < cancelRetries; attempt++ {
		res, err := client.CancelOrder(ctx, symbol, id)
		if err != nil {
			log.Error().Err(err).Str("order_id", id).Msg("Self-trade maker cancel failed")
		} else if res.OrderID == id {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(cancelRetryDelay):
		}
	}
	log.Warn().Str("symbol", symbol).Str("order_id", id).Msg("Self-trade maker leg left uncancelled")
}

// positionSide maps an order side to the futures position side; spot pairs
// carry none.
func positionSide(termType, side string) string {
	if termType == venue.BizSpot {
		return ""
	}
	if side == venue.SideBuy {
		return venue.PositionLong
	}
	return venue.PositionShort
}

// roundTo rounds v to the given number of decimal places; non-positive
// decimals truncate to an integer.
func roundTo(v float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Trunc(v)
	}
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}
