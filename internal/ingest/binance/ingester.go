// Package binance ingests Binance UM futures combined streams into the shared
// quote cache. Every depth message is a full top-20 snapshot, so the running
// state is just the connection itself.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tunarun/internal/metrics"
	"github.com/sawpanic/tunarun/internal/quote"
)

const (
	// DefaultStreamURL is the UM futures combined stream base.
	DefaultStreamURL = "wss://fstream.binance.com"

	reconnectDelay = 5 * time.Second
	readTimeout    = 60 * time.Second
)

// Config selects the streams one ingester subscribes to.
type Config struct {
	Exchange      string
	StreamURL     string
	DepthSymbols  []string
	TickerSymbols []string
}

// Ingester is one long-lived combined stream connection.
type Ingester struct {
	exchange      string
	streamURL     string
	depthSymbols  []string
	tickerSymbols []string
	store         *quote.Store
	metrics       *metrics.Registry
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
	}
}

// streamPath builds the combined stream URL carrying every subscription. The
// subscription set rides in the URL, so a reconnect resubscribes by redialing.
func (i *Ingester) streamPath() string {
	parts := make([]string, 0, len(i.depthSymbols)+len(i.tickerSymbols))
	for _, s := range i.depthSymbols {
		parts = append(parts, strings.ToLower(s)+"@depth20@100ms")
	}
	for _, s := range i.tickerSymbols {
		parts = append(parts, strings.ToLower(s)+"@aggTrade")
	}
	return i.streamURL + "/stream?streams=" + strings.Join(parts, "/")
}

// Run connects and consumes the stream until ctx is cancelled, redialing with
// a fixed backoff after any drop.
func (i *Ingester) Run(ctx context.Context) error {
	url := i.streamPath()
	for {
		if err := i.readLoop(ctx, url); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("exchange", i.exchange).Msg("Market data stream dropped")
		}
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
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

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

type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type depthSnapshot struct {
	Symbol string        `json:"s"`
	Asks   []quote.Level `json:"a"`
	Bids   []quote.Level `json:"b"`
}

type aggTrade struct {
	Symbol   string `json:"s"`
	Price    string `json:"p"`
	Quantity string `json:"q"`
}

func (i *Ingester) handleMessage(ctx context.Context, data []byte) {
	var msg combinedMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Stream == "" {
		return
	}
	switch {
	case strings.Contains(msg.Stream, "@depth"):
		i.handleDepth(ctx, msg.Data)
	case strings.Contains(msg.Stream, "@aggTrade"):
		i.handleTicker(ctx, msg.Data)
	}
}

func (i *Ingester) handleDepth(ctx context.Context, data []byte) {
	var d depthSnapshot
	if err := json.Unmarshal(data, &d); err != nil || d.Symbol == "" {
		return
	}
	i.metrics.RecordQuoteMessage(i.exchange, "depth")

	// Float parse for the sort key only; the string payload keeps venue
	// precision.
	quote.SortLevels(d.Asks, false)
	quote.SortLevels(d.Bids, true)

	book := &quote.Book{Asks: d.Asks, Bids: d.Bids}
	stream := quote.DepthStream(i.exchange, d.Symbol)
	if err := i.store.PublishBook(ctx, stream, book); err != nil {
		i.metrics.RecordQuotePublishError(i.exchange)
		log.Error().Err(err).Str("stream", stream).Msg("Depth publish failed")
	}
}

func (i *Ingester) handleTicker(ctx context.Context, data []byte) {
	var t aggTrade
	if err := json.Unmarshal(data, &t); err != nil || t.Symbol == "" {
		return
	}
	i.metrics.RecordQuoteMessage(i.exchange, "ticker")

	ticker := &quote.Ticker{Price: t.Price, Qty: t.Quantity}
	stream := quote.TickerStream(i.exchange, t.Symbol)
	if err := i.store.PublishTicker(ctx, stream, ticker); err != nil {
		i.metrics.RecordQuotePublishError(i.exchange)
		log.Error().Err(err).Str("stream", stream).Msg("Ticker publish failed")
	}
}
