package maker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tunarun/internal/config"
	"github.com/sawpanic/tunarun/internal/metrics"
	"github.com/sawpanic/tunarun/internal/quote"
	"github.com/sawpanic/tunarun/internal/venue"
)

const (
	// batchSize is the venue's per-call order and cancel limit.
	batchSize = 10

	idleSleep = 50 * time.Millisecond

	shutdownTimeout = 5 * time.Second
)

// ClientFactory builds the venue client for one strategy.
type ClientFactory func(p config.MakerParams) (venue.Client, error)

// symbolContext is the mutable per-symbol state: believed-resting orders per
// band and side, the refresh counter and the guard prices left behind by
// failed cancels. Only the symbol's own pass touches it.
type symbolContext struct {
	client         venue.Client
	followExchange string

	prevAsks    []CachedOrder
	prevBids    []CachedOrder
	prevFarAsks []CachedOrder
	prevFarBids []CachedOrder

	noForceRefresh int

	topAsk    float64
	topAskSet bool
	topBid    float64
	topBidSet bool
}

// Engine runs the quoting loop over all configured strategies. Passes for
// different symbols run concurrently; state for one symbol never leaves its
// own goroutine within a tick.
type Engine struct {
	params  []config.MakerParams
	store   *quote.Store
	clients ClientFactory
	metrics *metrics.Registry

	contexts map[string]*symbolContext
	lastNear map[string]time.Time
	lastFar  map[string]time.Time

	now  func() time.Time
	intn func(int) int
}

// New creates an Engine over the given strategies.
func New(params []config.MakerParams, store *quote.Store, clients ClientFactory, reg *metrics.Registry) *Engine {
	return &Engine{
		params:   params,
		store:    store,
		clients:  clients,
		metrics:  reg,
		contexts: make(map[string]*symbolContext),
		lastNear: make(map[string]time.Time),
		lastFar:  make(map[string]time.Time),
		now:      time.Now,
		intn:     rand.Intn,
	}
}

// Run drives quoting passes until ctx is cancelled, then sweeps the near
// orders of every symbol before returning.
func (e *Engine) Run(ctx context.Context) error {
	log.Info().Int("strategies", len(e.params)).Msg("Market maker started")
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		default:
		}
		if !e.tick(ctx) {
			select {
			case <-ctx.Done():
				e.shutdown()
				return ctx.Err()
			case <-time.After(idleSleep):
			}
		}
	}
}

// tick runs one pass for every strategy that is due and waits for all of
// them. It reports whether any strategy ran.
func (e *Engine) tick(ctx context.Context) bool {
	now := e.now()
	ran := false
	var wg sync.WaitGroup
	for i := range e.params {
		p := e.params[i]
		symbol := p.MakerSymbol
		if last, ok := e.lastNear[symbol]; ok && last.Add(p.NearEvery()).After(now) {
			continue
		}
		e.lastNear[symbol] = now

		isFar := false
		if p.FarEvery() > 0 {
			if last, ok := e.lastFar[symbol]; !ok || !last.Add(p.FarEvery()).After(now) {
				e.lastFar[symbol] = now
				isFar = true
			}
		}

		c, err := e.context(p)
		if err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("Venue client unavailable")
			continue
		}

		ran = true
		wg.Add(1)
		go func(p config.MakerParams, c *symbolContext, isFar bool) {
			defer wg.Done()
			e.runPass(ctx, p, c, isFar)
		}(p, c, isFar)
	}
	wg.Wait()
	return ran
}

// context returns the symbol's state, creating it and its venue client on
// first use.
func (e *Engine) context(p config.MakerParams) (*symbolContext, error) {
	if c, ok := e.contexts[p.MakerSymbol]; ok {
		return c, nil
	}
	client, err := e.clients(p)
	if err != nil {
		return nil, fmt.Errorf("venue client for %s: %w", p.MakerSymbol, err)
	}
	c := &symbolContext{
		client:         client,
		followExchange: quote.NormalizeExchange(p.FollowExchange),
	}
	e.contexts[p.MakerSymbol] = c
	return c, nil
}

// runPass executes one quoting pass. Any failure sweeps the symbol's near
// orders so a half-refreshed ladder never rests against the market.
func (e *Engine) runPass(ctx context.Context, p config.MakerParams, c *symbolContext, isFar bool) {
	start := e.now()
	if err := e.pass(ctx, p, c, isFar); err != nil {
		log.Error().Err(err).Str("symbol", p.MakerSymbol).Msg("Quoting pass failed")
		e.clearNearOpenOrders(ctx, p.MakerSymbol, c)
		return
	}
	band := "near"
	if isFar {
		band = "far"
	}
	elapsed := e.now().Sub(start)
	e.metrics.ObserveMakerPass(p.MakerSymbol, band, elapsed.Seconds())
	log.Debug().Str("symbol", p.MakerSymbol).Str("band", band).Dur("elapsed", elapsed).Msg("Quoting pass finished")
}

func (e *Engine) pass(ctx context.Context, p config.MakerParams, c *symbolContext, isFar bool) error {
	stream := quote.DepthStream(c.followExchange, p.FollowSymbol)
	book, found, err := e.store.OrderBook(ctx, stream)
	if err != nil {
		return fmt.Errorf("order book %s: %w", stream, err)
	}
	if !found || book.Empty() {
		log.Warn().Str("symbol", p.MakerSymbol).Str("stream", stream).Msg("No fresh order book, pass skipped")
		return nil
	}

	var newAsks, newBids []quoteLevel
	if p.NearSide == sideBoth || p.NearSide == sideAsk {
		newAsks = mirrorAskOrders(book.Asks, p)
	}
	if p.NearSide == sideBoth || p.NearSide == sideBid {
		newBids = mirrorBidOrders(book.Bids, p)
	}

	now := e.now()
	dayStart := now.Unix() / 86400
	offset := now.UnixMilli() % 86400000

	// Asks must rest above the best bid. The bid guard also holds the high
	// water mark of bids whose cancels failed, so new asks cannot cross a
	// bid that may still be live.
	guardBid := book.TopBid()
	if len(newBids) > 0 {
		guardBid = newBids[0].Price
	}
	if c.topBidSet {
		guardBid = math.Max(guardBid, c.topBid)
	}
	validAsks := make([]venue.NewOrder, 0, len(newAsks))
	for _, lv := range newAsks {
		if lv.Price <= guardBid {
			continue
		}
		validAsks = append(validAsks, buildOrder(p, lv, venue.SideSell, p.NearTIF, clientOrderID(p.MakerSymbol, dayStart, offset, false)))
		offset++
	}

	guardAsk := book.TopAsk()
	if len(newAsks) > 0 {
		guardAsk = newAsks[0].Price
	}
	if c.topAskSet {
		guardAsk = math.Min(guardAsk, c.topAsk)
	} else {
		guardAsk = math.Min(guardAsk, guardBid)
	}
	validBids := make([]venue.NewOrder, 0, len(newBids))
	for _, lv := range newBids {
		if lv.Price >= guardAsk {
			continue
		}
		validBids = append(validBids, buildOrder(p, lv, venue.SideBuy, p.NearTIF, clientOrderID(p.MakerSymbol, dayStart, offset, false)))
		offset++
	}

	// One refresh decision covers both bands of this pass: every
	// force_refresh_num+1-th pass requotes everything, the passes between
	// diff against the resting ladder.
	force := p.NearDiffRate <= 0 || c.noForceRefresh >= p.ForceRefreshNum
	if force {
		c.noForceRefresh = 0
	} else {
		c.noForceRefresh++
	}

	if err := e.handleOrders(ctx, p, c, validAsks, validBids, false, force); err != nil {
		return err
	}

	if !isFar {
		return nil
	}

	var farAsks, farBids []venue.NewOrder
	if p.FarSide == sideBoth || p.FarSide == sideAsk {
		farAsks = genFarLiquidity(p, book, venue.SideSell, guardBid, dayStart, now, e.intn)
	}
	if p.FarSide == sideBoth || p.FarSide == sideBid {
		farBids = genFarLiquidity(p, book, venue.SideBuy, guardAsk, dayStart, now, e.intn)
	}
	return e.handleOrders(ctx, p, c, farAsks, farBids, true, force)
}

func buildOrder(p config.MakerParams, lv quoteLevel, side, tif, clientID string) venue.NewOrder {
	return venue.NewOrder{
		Symbol:       p.MakerSymbol,
		ClientID:     clientID,
		Side:         side,
		Type:         "LIMIT",
		Quantity:     lv.Qty,
		Price:        lv.Price,
		BizType:      p.TermType,
		TIF:          tif,
		PositionSide: p.PositionSide,
	}
}

// handleOrders reconciles one band's fresh orders against the resting ones:
// either a forced full refresh, or a price diff that keeps close-enough
// resting orders. Submissions go out before cancels so the book never goes
// one-sided mid-refresh.
func (e *Engine) handleOrders(ctx context.Context, p config.MakerParams, c *symbolContext, askOrders, bidOrders []venue.NewOrder, isFar, force bool) error {
	topBid := 0.0
	if len(bidOrders) > 0 {
		topBid = bidOrders[0].Price
	}
	topAsk := math.MaxFloat64
	if len(askOrders) > 0 {
		topAsk = askOrders[0].Price
	}

	prevAsks, prevBids := c.prevAsks, c.prevBids
	if isFar {
		prevAsks, prevBids = c.prevFarAsks, c.prevFarBids
	}

	var cancelIDs []string
	var reserveAsks, reserveBids []CachedOrder
	var mergedAsks, mergedBids []venue.NewOrder
	if force {
		for _, co := range prevAsks {
			cancelIDs = append(cancelIDs, co.ID)
		}
		for _, co := range prevBids {
			cancelIDs = append(cancelIDs, co.ID)
		}
		mergedAsks, mergedBids = askOrders, bidOrders
	} else {
		diffRate := p.NearDiffRate * 1e-4
		var askCancels, bidCancels []string
		mergedAsks, askCancels, reserveAsks = diffOrders(diffRate, false, prevAsks, askOrders)
		mergedBids, bidCancels, reserveBids = diffOrders(diffRate, true, prevBids, bidOrders)
		cancelIDs = append(cancelIDs, askCancels...)
		cancelIDs = append(cancelIDs, bidCancels...)
	}
	if n := len(reserveAsks) + len(reserveBids); n > 0 {
		e.metrics.RecordMakerReserve(p.MakerSymbol, n)
	}

	mixed := mixAskBidOrders(mergedAsks, mergedBids)
	if len(mixed) > 0 {
		results, err := e.makeOrders(ctx, c.client, p.MakerSymbol, mixed)
		if err != nil {
			return err
		}
		for i, res := range results {
			if i >= len(mixed) {
				break
			}
			if res.OrderID == "" {
				continue
			}
			co := CachedOrder{Price: mixed[i].Price, ID: res.OrderID}
			if mixed[i].Side == venue.SideBuy {
				reserveBids = append(reserveBids, co)
			} else {
				reserveAsks = append(reserveAsks, co)
			}
		}
		e.setPrev(c, reserveAsks, reserveBids, isFar)

		if len(cancelIDs) > 0 {
			cancelNum := e.cancelOrders(ctx, c.client, p.MakerSymbol, cancelIDs)
			if cancelNum == 0 {
				// Cancels failed: orders at the old tops may still rest.
				// Tighten the guards so the next pass cannot quote through
				// them and trade against ourselves.
				if c.topAskSet {
					c.topAsk = math.Min(c.topAsk, topAsk)
				} else {
					c.topAsk, c.topAskSet = topAsk, true
				}
				if c.topBidSet {
					c.topBid = math.Max(c.topBid, topBid)
				} else {
					c.topBid, c.topBidSet = topBid, true
				}
			} else if !isFar {
				c.topAsk, c.topAskSet = topAsk, true
				c.topBid, c.topBidSet = topBid, true
			}
		}

		if isFar {
			if err := e.reconcileOpenOrders(ctx, p.MakerSymbol, c); err != nil {
				return err
			}
		}
	} else {
		if len(cancelIDs) > 0 {
			e.cancelOrders(ctx, c.client, p.MakerSymbol, cancelIDs)
		}
		e.setPrev(c, reserveAsks, reserveBids, isFar)
	}

	log.Debug().
		Str("symbol", p.MakerSymbol).
		Bool("far", isFar).
		Int("submitted", len(mixed)).
		Int("cancels", len(cancelIDs)).
		Int("refresh_round", c.noForceRefresh).
		Msg("Orders handled")
	return nil
}

func (e *Engine) setPrev(c *symbolContext, asks, bids []CachedOrder, isFar bool) {
	if isFar {
		c.prevFarAsks, c.prevFarBids = asks, bids
		return
	}
	c.prevAsks, c.prevBids = asks, bids
}

// reconcileOpenOrders cross-checks the venue's open orders against every
// order this process believes it owns, and cancels the strays. Runs on far
// ticks only; strays appear when an earlier pass died between submit and
// bookkeeping.
func (e *Engine) reconcileOpenOrders(ctx context.Context, symbol string, c *symbolContext) error {
	open, err := c.client.OpenOrders(ctx, symbol)
	if err != nil {
		return fmt.Errorf("open orders %s: %w", symbol, err)
	}
	expected := make(map[string]bool, len(c.prevFarAsks)+len(c.prevFarBids)+len(c.prevAsks)+len(c.prevBids))
	for _, list := range [][]CachedOrder{c.prevFarAsks, c.prevFarBids, c.prevAsks, c.prevBids} {
		for _, co := range list {
			expected[co.ID] = true
		}
	}
	var strays []string
	for _, o := range open {
		if o.OrderID != "" && !expected[o.OrderID] {
			strays = append(strays, o.OrderID)
		}
	}
	if len(strays) == 0 {
		return nil
	}
	log.Warn().Str("symbol", symbol).Strs("order_ids", strays).Msg("Cancelling untracked open orders")
	e.cancelOrders(ctx, c.client, symbol, strays)
	return nil
}

// makeOrders submits in venue-sized batches and concatenates the per-order
// results.
func (e *Engine) makeOrders(ctx context.Context, client venue.Client, symbol string, orders []venue.NewOrder) ([]venue.OrderResult, error) {
	results := make([]venue.OrderResult, 0, len(orders))
	askN, bidN := 0, 0
	for _, o := range orders {
		if o.Side == venue.SideBuy {
			bidN++
		} else {
			askN++
		}
	}
	for start := 0; start < len(orders); start += batchSize {
		end := start + batchSize
		if end > len(orders) {
			end = len(orders)
		}
		res, err := client.BatchMakeOrders(ctx, symbol, orders[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch make orders %s: %w", symbol, err)
		}
		results = append(results, res...)
	}
	if askN > 0 {
		e.metrics.RecordMakerSubmit(symbol, venue.SideSell, askN)
	}
	if bidN > 0 {
		e.metrics.RecordMakerSubmit(symbol, venue.SideBuy, bidN)
	}
	return results, nil
}

// cancelOrders cancels in venue-sized batches and returns how many cancels
// the venue acknowledged. A failed batch counts as zero acknowledged; the
// guard handling above deals with the survivors.
func (e *Engine) cancelOrders(ctx context.Context, client venue.Client, symbol string, ids []string) int {
	cancelled := 0
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		res, err := client.BatchCancel(ctx, symbol, ids[start:end])
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Int("batch", start/batchSize).Msg("Cancel batch failed")
			continue
		}
		cancelled += len(res)
	}
	if cancelled > 0 {
		e.metrics.RecordMakerCancel(symbol, cancelled)
	}
	return cancelled
}

// clearNearOpenOrders cancels every live order except far-end ones. The far
// band quotes deep enough to survive a broken pass; the near band does not.
func (e *Engine) clearNearOpenOrders(ctx context.Context, symbol string, c *symbolContext) {
	open, err := c.client.OpenOrders(ctx, symbol)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Listing open orders for sweep failed")
		return
	}
	var ids []string
	for _, o := range open {
		if strings.HasPrefix(o.ClientID, farClientIDPrefix) {
			continue
		}
		if o.OrderID != "" {
			ids = append(ids, o.OrderID)
		}
	}
	if len(ids) == 0 {
		return
	}
	cancelled := e.cancelOrders(ctx, c.client, symbol, ids)
	log.Info().Str("symbol", symbol).Int("cancelled", cancelled).Int("targets", len(ids)).Msg("Near orders swept")
}

// shutdown sweeps every symbol's near orders on exit.
func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for symbol, c := range e.contexts {
		e.clearNearOpenOrders(ctx, symbol, c)
	}
	log.Info().Msg("Market maker stopped")
}
