// Package okx ingests OKX v5 public streams into the shared quote cache.
// Depth arrives as one snapshot followed by sequenced deltas, so each
// instrument keeps a running book that only contiguous updates may mutate.
package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tunarun/internal/metrics"
	"github.com/sawpanic/tunarun/internal/quote"
)

const (
	// DefaultStreamURL is the OKX v5 public stream base.
	DefaultStreamURL = "wss://ws.okx.com:8443"

	publicPath     = "/ws/v5/public"
	reconnectDelay = 5 * time.Second
	readTimeout    = 30 * time.Second
	drainRetry     = 100 * time.Millisecond
)

// Config selects the channels one ingester subscribes to. Symbols are OKX
// instIds such as BTC-USDT-SWAP.
type Config struct {
	Exchange      string
	StreamURL     string
	DepthSymbols  []string
	TickerSymbols []string
}

// Ingester is one long-lived public stream connection plus the running books
// it maintains. All state is touched from the single read loop goroutine.
type Ingester struct {
	exchange      string
	streamURL     string
	depthSymbols  []string
	tickerSymbols []string
	store         *quote.Store
	metrics       *metrics.Registry

	books   map[string]*runningBook
	pending map[string][]bookUpdate

	sleep func(time.Duration)
}

// runningBook is the merged depth state for one instrument. Quantities are
// keyed by price string so delta updates can address exact levels.
type runningBook struct {
	asks      map[string]string
	bids      map[string]string
	seqID     int64
	prevSeqID int64
	ts        int64
}

// New creates an ingester publishing into store.
func New(cfg Config, store *quote.Store, reg *metrics.Registry) *Ingester {
	base := cfg.StreamURL
	if base == "" {
		base = DefaultStreamURL
	}
	return &Ingester{
		exchange:      quote.NormalizeExchange(cfg.Exchange),
		streamURL:     strings.TrimRight(base, "/"),
		depthSymbols:  cfg.DepthSymbols,
		tickerSymbols: cfg.TickerSymbols,
		store:         store,
		metrics:       reg,
		books:         make(map[string]*runningBook),
		pending:       make(map[string][]bookUpdate),
		sleep:         time.Sleep,
	}
}

// Run connects and consumes the stream until ctx is cancelled, redialing with
// a fixed backoff after any drop. Running books and buffers do not survive a
// reconnect; the next snapshot re-bootstraps them.
func (i *Ingester) Run(ctx context.Context) error {
	url := i.streamURL + publicPath
	for {
		if err := i.readLoop(ctx, url); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("exchange", i.exchange).Msg("Market data stream dropped")
		}
		i.books = make(map[string]*runningBook)
		i.pending = make(map[string][]bookUpdate)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
		i.metrics.RecordQuoteReconnect(i.exchange)
	}
}

func (i *Ingester) readLoop(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	if err := i.subscribe(conn); err != nil {
		return err
	}
	log.Info().
		Str("exchange", i.exchange).
		Int("depth_symbols", len(i.depthSymbols)).
		Int("ticker_symbols", len(i.tickerSymbols)).
		Msg("Market data stream connected")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		i.handleMessage(ctx, data)
	}
}

type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

func (i *Ingester) subscribe(conn *websocket.Conn) error {
	args := make([]subscribeArg, 0, len(i.depthSymbols)+len(i.tickerSymbols))
	for _, s := range i.depthSymbols {
		args = append(args, subscribeArg{Channel: "books", InstID: s})
	}
	for _, s := range i.tickerSymbols {
		args = append(args, subscribeArg{Channel: "tickers", InstID: s})
	}
	req := map[string]interface{}{"op": "subscribe", "args": args}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

type streamEvent struct {
	Event string `json:"event,omitempty"`
	Code  string `json:"code,omitempty"`
	Msg   string `json:"msg,omitempty"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Action string            `json:"action,omitempty"`
	Data   []json.RawMessage `json:"data,omitempty"`
}

type bookUpdate struct {
	Asks      [][]string `json:"asks"`
	Bids      [][]string `json:"bids"`
	Ts        string     `json:"ts"`
	SeqID     int64      `json:"seqId"`
	PrevSeqID int64      `json:"prevSeqId"`
}

func (u bookUpdate) tsMillis() int64 {
	v, _ := strconv.ParseInt(u.Ts, 10, 64)
	return v
}

type tickerUpdate struct {
	Last   string `json:"last"`
	LastSz string `json:"lastSz"`
}

func (i *Ingester) handleMessage(ctx context.Context, data []byte) {
	var ev streamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	switch {
	case ev.Event == "error":
		log.Warn().Str("code", ev.Code).Str("msg", ev.Msg).Msg("Stream error event")
	case ev.Event != "":
		// subscribe acks
	case ev.Arg.Channel == "tickers":
		i.handleTickers(ctx, ev)
	case ev.Arg.Channel == "books":
		i.handleBooks(ctx, ev)
	}
}

func (i *Ingester) handleTickers(ctx context.Context, ev streamEvent) {
	for _, raw := range ev.Data {
		var t tickerUpdate
		if err := json.Unmarshal(raw, &t); err != nil || t.Last == "" {
			continue
		}
		i.metrics.RecordQuoteMessage(i.exchange, "ticker")
		ticker := &quote.Ticker{Price: t.Last, Qty: t.LastSz}
		stream := quote.TickerStream(i.exchange, ev.Arg.InstID)
		if err := i.store.PublishTicker(ctx, stream, ticker); err != nil {
			i.metrics.RecordQuotePublishError(i.exchange)
			log.Error().Err(err).Str("stream", stream).Msg("Ticker publish failed")
		}
	}
}

func (i *Ingester) handleBooks(ctx context.Context, ev streamEvent) {
	instID := ev.Arg.InstID
	for _, raw := range ev.Data {
		var u bookUpdate
		if err := json.Unmarshal(raw, &u); err != nil {
			continue
		}
		i.metrics.RecordQuoteMessage(i.exchange, "depth")
		switch ev.Action {
		case "snapshot":
			i.resetBook(ctx, instID, u)
		case "update":
			i.pending[instID] = append(i.pending[instID], u)
		}
	}
	if ev.Action == "update" {
		i.drainPending(ctx, instID)
	}
}

// resetBook replaces the running book from a snapshot and publishes it.
// Buffered updates older than the snapshot die on the next drain.
func (i *Ingester) resetBook(ctx context.Context, instID string, u bookUpdate) {
	book := &runningBook{
		asks:      make(map[string]string, len(u.Asks)),
		bids:      make(map[string]string, len(u.Bids)),
		seqID:     u.SeqID,
		prevSeqID: u.PrevSeqID,
		ts:        u.tsMillis(),
	}
	for _, lv := range u.Asks {
		if len(lv) >= 2 {
			book.asks[lv[0]] = lv[1]
		}
	}
	for _, lv := range u.Bids {
		if len(lv) >= 2 {
			book.bids[lv[0]] = lv[1]
		}
	}
	i.books[instID] = book
	i.publishBook(ctx, instID, book)
}

// drainPending applies every buffered update whose prevSeqId chains onto the
// running book. Updates older than the book are dropped; anything else stays
// buffered. One brief wait covers reordering inside the read batch, after
// that the buffer waits for the next message.
func (i *Ingester) drainPending(ctx context.Context, instID string) {
	book := i.books[instID]
	if book == nil {
		return
	}
	waited := false
	for {
		applied := false
		remaining := i.pending[instID][:0]
		for _, u := range i.pending[instID] {
			switch {
			case u.tsMillis() < book.ts:
				// stale, discard
			case u.PrevSeqID == book.seqID:
				i.applyUpdate(book, u)
				i.publishBook(ctx, instID, book)
				applied = true
			default:
				remaining = append(remaining, u)
			}
		}
		i.pending[instID] = remaining
		if len(remaining) == 0 {
			return
		}
		if applied {
			continue
		}
		if waited {
			return
		}
		waited = true
		i.sleep(drainRetry)
	}
}

// applyUpdate merges one contiguous delta. A zero quantity deletes the level.
func (i *Ingester) applyUpdate(book *runningBook, u bookUpdate) {
	for _, lv := range u.Asks {
		if len(lv) < 2 {
			continue
		}
		if qty, _ := strconv.ParseFloat(lv[1], 64); qty == 0 {
			delete(book.asks, lv[0])
		} else {
			book.asks[lv[0]] = lv[1]
		}
	}
	for _, lv := range u.Bids {
		if len(lv) < 2 {
			continue
		}
		if qty, _ := strconv.ParseFloat(lv[1], 64); qty == 0 {
			delete(book.bids, lv[0])
		} else {
			book.bids[lv[0]] = lv[1]
		}
	}
	book.seqID = u.SeqID
	book.prevSeqID = u.PrevSeqID
	book.ts = u.tsMillis()
}

func (i *Ingester) publishBook(ctx context.Context, instID string, book *runningBook) {
	snapshot := &quote.Book{
		Asks:      sortedLevels(book.asks, false),
		Bids:      sortedLevels(book.bids, true),
		SeqID:     strconv.FormatInt(book.seqID, 10),
		PrevSeqID: strconv.FormatInt(book.prevSeqID, 10),
		Ts:        book.ts,
	}
	stream := quote.DepthStream(i.exchange, instID)
	if err := i.store.PublishBook(ctx, stream, snapshot); err != nil {
		i.metrics.RecordQuotePublishError(i.exchange)
		log.Error().Err(err).Str("stream", stream).Msg("Depth publish failed")
	}
}

func sortedLevels(side map[string]string, descending bool) []quote.Level {
	levels := make([]quote.Level, 0, len(side))
	for price, qty := range side {
		levels = append(levels, quote.Level{price, qty})
	}
	quote.SortLevels(levels, descending)
	return levels
}
