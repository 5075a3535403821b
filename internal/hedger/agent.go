// Package hedger consumes maker fills from the private account stream, nets
// the remaining risk per symbol, and flattens it with marketable limit
// orders on the hedge venue. Risk is keyed by maker order id so partial
// fills of one order accumulate before they are hedged.
package hedger

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tunarun/internal/config"
	"github.com/sawpanic/tunarun/internal/metrics"
	"github.com/sawpanic/tunarun/internal/persistence"
	"github.com/sawpanic/tunarun/internal/venue"
	"github.com/sawpanic/tunarun/internal/venue/bifu"
)

const (
	// hedgeWorkers bounds concurrent hedge submissions.
	hedgeWorkers = 10

	// Slippage percentage bounds applied to the configured value.
	minSlippagePct = 1.0
	maxSlippagePct = 10.0

	// manualHedgeSymbol routes a symbol's hedges to the desk instead of a
	// venue.
	manualHedgeSymbol = "manual"

	loopSleep       = 100 * time.Millisecond
	configPollEvery = time.Second
	statsEvery      = time.Minute
	purgeEvery      = 10 * time.Minute

	// tradeIDRetention keeps trade ids long enough to absorb venue replays.
	tradeIDRetention = 2 * time.Hour

	drainSleep   = 500 * time.Millisecond
	drainTimeout = 5 * time.Second

	journalQueueDepth  = 256
	journalTimeout     = 5 * time.Second
	hedgeSubmitTimeout = 10 * time.Second
)

// AlertFunc receives operator alerts for conditions that need a human: fills
// without hedge routing and hedge orders in an unknown state. Called inline
// from the hedge loop; it must not block.
type AlertFunc func(subject, body string)

// RuntimeSource hands out versioned config documents for hot reloads.
// Satisfied by *config.RuntimeStore.
type RuntimeSource interface {
	Version(ctx context.Context) (int64, error)
	Load(ctx context.Context, dst interface{}) error
}

// riskPosition is the unhedged remainder of fills on one maker order. side
// is fixed by the first fill; later fills only grow qty and totalAmt.
type riskPosition struct {
	symbol    string
	side      string
	qty       float64
	price     float64
	totalAmt  float64
	hedgedQty float64
	hedgedAmt float64
	created   time.Time
}

// exposure is the rolled-up unhedged risk for one maker symbol. Buys count
// positive, sells negative.
type exposure struct {
	strat    config.HedgeStrategy
	qty      float64
	amt      float64
	orderIDs []string
}

// Agent consumes maker fills, tracks the resulting risk per maker order,
// and flattens the netted exposure through the hedge venue.
type Agent struct {
	mu        sync.Mutex
	cfg       *config.Hedger
	positions map[string]*riskPosition // maker order id -> open risk
	tradeIDs  map[string]time.Time     // trade id -> first seen
	tasks     map[int64]*hedgeTask     // hedge client order id -> task

	client  venue.Client
	runtime RuntimeSource
	journal persistence.Journal
	metrics *metrics.Registry
	alert   AlertFunc

	pool      *workerPool
	journalCh chan persistence.Fill

	streamCancel context.CancelFunc
	closeOnce    sync.Once

	now func() time.Time
}

// New creates a hedger agent. runtime may be nil when hot reloads are not
// configured; pass persistence.NopJournal to run without a journal.
func New(cfg *config.Hedger, client venue.Client, runtime RuntimeSource, journal persistence.Journal, reg *metrics.Registry, alert AlertFunc) *Agent {
	return &Agent{
		cfg:       cfg,
		positions: make(map[string]*riskPosition),
		tradeIDs:  make(map[string]time.Time),
		tasks:     make(map[int64]*hedgeTask),
		client:    client,
		runtime:   runtime,
		journal:   journal,
		metrics:   reg,
		alert:     alert,
		pool:      newWorkerPool(hedgeWorkers),
		journalCh: make(chan persistence.Fill, journalQueueDepth),
		now:       time.Now,
	}
}

// OnFill ingests one maker fill from the private stream. It must not block:
// bookkeeping happens in memory and the journal write is queued for the
// writer goroutine. Suspect records are dropped: an empty trade id, a
// duplicate, or non-positive quantities.
func (a *Agent) OnFill(f bifu.Fill) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if f.TradeID == "" {
		log.Error().Str("symbol", f.Symbol).Str("order_id", f.OrderID).Msg("Fill without a trade id dropped")
		return
	}
	if _, seen := a.tradeIDs[f.TradeID]; seen {
		a.metrics.RecordDedupDrop()
		log.Debug().Str("trade_id", f.TradeID).Msg("Duplicate fill ignored")
		return
	}
	a.tradeIDs[f.TradeID] = a.now()

	if f.Qty <= 0 || f.Amount <= 0 {
		log.Error().Str("symbol", f.Symbol).Str("trade_id", f.TradeID).
			Float64("qty", f.Qty).Float64("amount", f.Amount).
			Msg("Fill with non-positive size dropped")
		return
	}

	avg := math.Round(f.Amount/f.Qty*1e8) / 1e8
	if pos, ok := a.positions[f.OrderID]; ok {
		pos.qty += f.Qty
		pos.totalAmt += f.Amount
		pos.price = pos.totalAmt / pos.qty
	} else {
		a.positions[f.OrderID] = &riskPosition{
			symbol:   f.Symbol,
			side:     f.Side,
			qty:      f.Qty,
			price:    avg,
			totalAmt: f.Amount,
			created:  a.now(),
		}
	}

	a.metrics.RecordHedgerFill(f.Symbol)
	rec := persistence.Fill{
		Ts:      a.now(),
		Symbol:  f.Symbol,
		Side:    f.Side,
		Price:   avg,
		Qty:     f.Qty,
		Amount:  f.Amount,
		TradeID: f.TradeID,
		OrderID: f.OrderID,
	}
	select {
	case a.journalCh <- rec:
	default:
		log.Warn().Str("trade_id", f.TradeID).Msg("Fill journal queue full, record dropped")
	}
	log.Info().Str("symbol", f.Symbol).Str("side", f.Side).
		Float64("qty", f.Qty).Float64("price", avg).Str("order_id", f.OrderID).
		Msg("Fill recorded")
}

// tick nets the open risk per symbol and hands submissions to the pool.
// Contributing positions are marked hedged before the order goes out.
// Reports whether anything was submitted.
func (a *Agent) tick() bool {
	type dispatch struct {
		task     *hedgeTask
		strat    config.HedgeStrategy
		side     string
		price    float64
		qty      float64
		clientID int64
	}

	a.mu.Lock()
	for id, pos := range a.positions {
		if pos.hedgedQty >= pos.qty {
			delete(a.positions, id)
			log.Info().Str("symbol", pos.symbol).Str("order_id", id).
				Float64("qty", pos.qty).Float64("price", pos.price).
				Msg("Position fully hedged")
		}
	}

	acc := make(map[string]*exposure)
	for id, pos := range a.positions {
		strat, ok := a.cfg.Strategy(pos.symbol)
		if !ok {
			a.raiseAlert(pos.symbol+"_HedgeConf", fmt.Sprintf("no hedge strategy for %s, keeping position %s", pos.symbol, id))
			continue
		}
		e := acc[pos.symbol]
		if e == nil {
			e = &exposure{strat: strat}
			acc[pos.symbol] = e
		}
		if pos.side == venue.SideBuy {
			e.qty += pos.qty - pos.hedgedQty
			e.amt += pos.totalAmt - pos.hedgedAmt
		} else {
			e.qty -= pos.qty - pos.hedgedQty
			e.amt -= pos.totalAmt - pos.hedgedAmt
		}
		e.orderIDs = append(e.orderIDs, id)
	}

	var pending []dispatch
	for symbol, e := range acc {
		a.metrics.SetOpenRisk(symbol, e.qty)
		if math.Abs(e.amt) < e.strat.MinAmt || math.Abs(e.qty) < e.strat.MinQty {
			continue
		}
		for _, id := range e.orderIDs {
			pos := a.positions[id]
			pos.hedgedQty = pos.qty
			pos.hedgedAmt = pos.totalAmt
		}
		if e.qty == 0 {
			log.Info().Str("symbol", symbol).Msg("Exposure netted out, no hedge needed")
			continue
		}
		side := venue.SideBuy
		if e.qty > 0 {
			side = venue.SideSell
		}
		clientID := a.now().UnixMilli()
		for a.tasks[clientID] != nil {
			clientID++
		}
		task := newHedgeTask(symbol)
		a.tasks[clientID] = task
		pending = append(pending, dispatch{
			task:     task,
			strat:    e.strat,
			side:     side,
			price:    e.amt / e.qty,
			qty:      math.Abs(e.qty),
			clientID: clientID,
		})
	}
	a.metrics.SetPendingTasks(len(a.tasks))
	a.mu.Unlock()

	for _, d := range pending {
		a.pool.submit(func() {
			d.task.finish(a.instantHedge(d.strat, d.side, d.price, d.qty, d.clientID))
		})
	}
	return len(pending) > 0
}

// instantHedge crosses the book with one marketable limit order. The
// configured slippage percentage is clamped to [1, 10] before it widens the
// limit. Returns the venue order id, empty when nothing was accepted.
func (a *Agent) instantHedge(strat config.HedgeStrategy, side string, price, qty float64, clientID int64) string {
	slippage := strat.Slippage
	if slippage < minSlippagePct {
		slippage = minSlippagePct
	}
	if slippage > maxSlippagePct {
		slippage = maxSlippagePct
	}
	if side == venue.SideBuy {
		price *= 1 + slippage/100
	} else {
		price *= 1 - slippage/100
	}

	order := venue.NewOrder{
		Symbol:   strat.HedgeSymbol,
		ClientID: strconv.FormatInt(clientID, 10),
		Side:     side,
		Type:     "LIMIT",
		Quantity: roundTo(qty, strat.QtyDecimals),
		Price:    roundTo(price, strat.PriceDecimals),
		BizType:  hedgeBizType(strat.HedgeExchange),
		TIF:      venue.TIFGoodTillCancel,
	}

	ctx, cancel := context.WithTimeout(context.Background(), hedgeSubmitTimeout)
	defer cancel()
	results, err := a.client.BatchMakeOrders(ctx, strat.HedgeSymbol, []venue.NewOrder{order})
	if err != nil || len(results) == 0 || results[0].OrderID == "" {
		a.metrics.RecordHedgeError()
		log.Error().Err(err).Str("symbol", strat.HedgeSymbol).Str("side", side).
			Float64("price", order.Price).Float64("qty", order.Quantity).
			Msg("Hedge submission failed")
		return ""
	}

	a.metrics.RecordHedge(strat.HedgeSymbol, side)
	if err := a.journal.RecordHedge(ctx, persistence.Hedge{
		Ts:            a.now(),
		Symbol:        strat.HedgeSymbol,
		Side:          side,
		Price:         order.Price,
		Qty:           order.Quantity,
		ClientOrderID: order.ClientID,
		OrderID:       results[0].OrderID,
	}); err != nil {
		log.Warn().Err(err).Str("order_id", results[0].OrderID).Msg("Hedge journal write failed")
	}
	log.Info().Str("symbol", strat.HedgeSymbol).Str("side", side).
		Float64("price", order.Price).Float64("qty", order.Quantity).
		Str("order_id", results[0].OrderID).
		Msg("Hedge submitted")
	return results[0].OrderID
}

// reconcile consumes finished hedge tasks: it checks each submitted order's
// status, alerts on orders the venue cannot account for, and leaves manual
// hedges to the desk. Tasks whose status call failed are retried on the next
// sweep unless final is set. Returns the number of tasks still pending.
func (a *Agent) reconcile(ctx context.Context, final bool) int {
	a.mu.Lock()
	cfg := a.cfg
	done := make(map[int64]*hedgeTask)
	for id, t := range a.tasks {
		if t.finished() {
			done[id] = t
		}
	}
	a.mu.Unlock()

	for id, t := range done {
		retain := false
		strat, ok := cfg.Strategy(t.symbol)
		switch {
		case t.orderID == "":
			// Nothing reached the venue.
		case ok && strat.HedgeSymbol == manualHedgeSymbol:
			log.Info().Str("symbol", t.symbol).Str("order_id", t.orderID).Msg("Manual hedge left for the desk")
		case !ok:
			log.Warn().Str("symbol", t.symbol).Str("order_id", t.orderID).Msg("Hedge strategy gone, dropping reconciliation")
		default:
			status, err := a.client.OrderStatus(ctx, strat.HedgeSymbol, t.orderID)
			switch {
			case err != nil && !final:
				retain = true
			case err != nil:
				log.Warn().Err(err).Str("order_id", t.orderID).Msg("Hedge status unavailable at shutdown")
			case !status.Known():
				a.raiseAlert(t.symbol+"_HedgeOrder", fmt.Sprintf("hedge order %s on %s returned no status", t.orderID, strat.HedgeSymbol))
			default:
				log.Info().Str("symbol", strat.HedgeSymbol).Str("order_id", t.orderID).
					Str("side", status.Side).Str("executed_qty", status.ExecutedQty).
					Msg("Hedge reconciled")
			}
		}
		if !retain {
			a.mu.Lock()
			delete(a.tasks, id)
			a.mu.Unlock()
		}
	}

	a.mu.Lock()
	pending := len(a.tasks)
	a.mu.Unlock()
	a.metrics.SetPendingTasks(pending)
	return pending
}

// Run drives the hedge loop until ctx is cancelled: each tick nets open risk
// into hedge orders and reconciles finished submissions, while a slower poll
// picks up runtime config changes. The agent is closed before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	if !a.cfg.Mock {
		a.startStream(a.cfg)
	}
	go a.journalWriter(ctx)

	lastPoll := a.now()
	lastStats := a.now()
	lastPurge := a.now()
	for ctx.Err() == nil {
		now := a.now()
		if a.runtime != nil && now.Sub(lastPoll) >= configPollEvery {
			lastPoll = now
			a.pollConfig(ctx)
		}
		submitted := a.tick()
		a.reconcile(ctx, false)
		if now.Sub(lastStats) >= statsEvery {
			lastStats = now
			a.logStats()
		}
		if !submitted && now.Sub(lastPurge) >= purgeEvery {
			lastPurge = now
			a.purgeTradeIDs(now)
		}
		select {
		case <-ctx.Done():
		case <-time.After(loopSleep):
		}
	}
	a.Close()
	return ctx.Err()
}

// pollConfig swaps in a newer config document from the runtime store. The
// private stream is rebuilt so new credentials take effect immediately.
func (a *Agent) pollConfig(ctx context.Context) {
	stored, err := a.runtime.Version(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Runtime version check failed")
		return
	}
	a.mu.Lock()
	running := a.cfg.Version
	a.mu.Unlock()
	if stored <= running {
		return
	}

	next := &config.Hedger{}
	if err := a.runtime.Load(ctx, next); err != nil {
		log.Warn().Err(err).Msg("Runtime config load failed")
		return
	}
	if next.Version <= running {
		log.Warn().Int64("stored", next.Version).Int64("running", running).
			Msg("Runtime config version did not advance, keeping current config")
		return
	}
	if err := next.Validate(); err != nil {
		log.Error().Err(err).Msg("Runtime config rejected")
		return
	}

	a.mu.Lock()
	a.cfg = next
	a.mu.Unlock()
	log.Info().Int64("version", next.Version).Int("strategies", len(next.Strategies)).Msg("Hedger config reloaded")
	if next.Mock {
		a.stopStream()
	} else {
		a.startStream(next)
	}
}

// startStream replaces the private fill stream with one built from cfg.
func (a *Agent) startStream(cfg *config.Hedger) {
	a.stopStream()
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.streamCancel = cancel
	a.mu.Unlock()

	stream := bifu.NewPrivateStream(cfg.StreamURL, bifu.Credentials{
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
		Passphrase: cfg.Passphrase,
	}, a.OnFill)
	go func() {
		if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Private stream terminated")
		}
	}()
}

func (a *Agent) stopStream() {
	a.mu.Lock()
	if a.streamCancel != nil {
		a.streamCancel()
		a.streamCancel = nil
	}
	a.mu.Unlock()
}

// purgeTradeIDs forgets trade ids the venue can no longer replay. Called
// only on ticks that submitted nothing.
func (a *Agent) purgeTradeIDs(now time.Time) {
	cutoff := now.Add(-tradeIDRetention)
	a.mu.Lock()
	purged := 0
	for id, seen := range a.tradeIDs {
		if seen.Before(cutoff) {
			delete(a.tradeIDs, id)
			purged++
		}
	}
	a.mu.Unlock()
	if purged > 0 {
		log.Info().Int("purged", purged).Msg("Expired trade ids dropped")
	}
}

func (a *Agent) logStats() {
	a.mu.Lock()
	unhedged := 0
	for _, pos := range a.positions {
		if pos.hedgedQty < pos.qty {
			unhedged++
		}
	}
	positions := len(a.positions)
	trades := len(a.tradeIDs)
	tasks := len(a.tasks)
	version := a.cfg.Version
	a.mu.Unlock()
	log.Info().Int("unhedged", unhedged).Int("positions", positions).
		Int("trade_ids", trades).Int("pending_tasks", tasks).
		Int64("config_version", version).Msg("Hedger stats")
}

// drain waits out in-flight submissions and sweeps the task queue until it
// empties or ctx expires.
func (a *Agent) drain(ctx context.Context) {
	a.pool.wait()
	for a.reconcile(ctx, true) > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(drainSleep):
		}
		a.pool.wait()
	}
}

// Close stops the stream and drains in-flight submissions, then flushes
// queued journal records. Safe to call more than once.
func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		a.stopStream()
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		a.drain(ctx)
		a.pool.close()
		a.flushJournal()
		log.Info().Msg("Hedger stopped")
	})
}

// journalWriter drains queued fill records into the journal until ctx ends.
func (a *Agent) journalWriter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-a.journalCh:
			a.writeFill(rec)
		}
	}
}

// flushJournal writes whatever is still queued, then returns.
func (a *Agent) flushJournal() {
	for {
		select {
		case rec := <-a.journalCh:
			a.writeFill(rec)
		default:
			return
		}
	}
}

func (a *Agent) writeFill(rec persistence.Fill) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := a.journal.RecordFill(ctx, rec); err != nil {
		log.Warn().Err(err).Str("trade_id", rec.TradeID).Msg("Fill journal write failed")
	}
}

// raiseAlert logs an operator alert and forwards it to the configured hook.
func (a *Agent) raiseAlert(subject, body string) {
	log.Error().Str("subject", subject).Msg(body)
	if a.alert != nil {
		a.alert(subject, body)
	}
}

// hedgeBizType maps a hedge venue name to the order business type.
func hedgeBizType(exchange string) string {
	if strings.Contains(strings.ToLower(exchange), "future") {
		return venue.BizUMFuture
	}
	return venue.BizSpot
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
