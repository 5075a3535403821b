package bifu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	streamReconnectDelay = 5 * time.Second
	streamReadTimeout    = 60 * time.Second
)

// Fill is one maker fill delivered on the private stream. Quantities arrive
// as venue strings and are parsed before delivery; records that fail to
// parse are logged and dropped.
type Fill struct {
	TradeID   string
	Symbol    string
	Side      string
	Qty       float64
	Amount    float64
	OrderID   string
	MatchTime int64
}

// FillHandler consumes fills as they arrive. It is called from the stream's
// read goroutine and must not block.
type FillHandler func(Fill)

// PrivateStream is the authenticated account stream. It answers server pings
// and forwards maker fills; everything else is dropped. Self-matched fills
// (both sides on this account) never reach the handler.
type PrivateStream struct {
	streamURL string
	creds     Credentials
	handler   FillHandler
	now       func() time.Time
}

// NewPrivateStream creates a stream against the gateway at streamURL.
func NewPrivateStream(streamURL string, creds Credentials, handler FillHandler) *PrivateStream {
	return &PrivateStream{
		streamURL: strings.TrimRight(streamURL, "/"),
		creds:     creds,
		handler:   handler,
		now:       time.Now,
	}
}

// Run connects and consumes the stream until ctx is cancelled, redialing
// with a fixed backoff after any drop.
func (s *PrivateStream) Run(ctx context.Context) error {
	url := s.streamURL + privateWSPath
	for {
		if err := s.readLoop(ctx, url); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Private stream dropped")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(streamReconnectDelay):
		}
	}
}

func (s *PrivateStream) readLoop(ctx context.Context, url string) error {
	ts := s.now().UnixMilli()
	header := http.Header{}
	header.Set(authKeyHeader, s.creds.APIKey)
	header.Set(authTimestampHeader, strconv.FormatInt(ts, 10))
	header.Set(authSignatureHeader, sign(s.creds.APISecret, privateWSPath, ts))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	log.Info().Str("url", url).Msg("Private stream connected")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		s.handleMessage(conn, data)
	}
}

type privateMessage struct {
	Type string `json:"type"`
	Msg  struct {
		Data struct {
			OrderFillTransaction []fillRecord `json:"orderFillTransaction"`
		} `json:"data"`
	} `json:"msg"`
}

type fillRecord struct {
	TradeID        string      `json:"tradeId"`
	FillSize       string      `json:"fillSize"`
	FillValue      string      `json:"fillValue"`
	SymbolID       string      `json:"symbolId"`
	OrderSide      string      `json:"orderSide"`
	OrderID        string      `json:"orderId"`
	MatchTime      int64       `json:"matchTime"`
	Direction      string      `json:"direction"`
	AccountID      json.Number `json:"accountId"`
	MatchAccountID json.Number `json:"matchAccountId"`
}

func (s *PrivateStream) handleMessage(conn *websocket.Conn, data []byte) {
	var msg privateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	switch msg.Type {
	case "ping":
		// The server drops the connection after 5 unanswered pings.
		pong := map[string]string{
			"type": "pong",
			"time": strconv.FormatInt(s.now().Unix(), 10),
		}
		if err := conn.WriteJSON(pong); err != nil {
			log.Warn().Err(err).Msg("Pong write failed")
		}
	case "spot-trade-event":
		for _, rec := range msg.Msg.Data.OrderFillTransaction {
			if rec.Direction != "MAKER" {
				continue
			}
			if rec.AccountID == rec.MatchAccountID {
				continue
			}
			qty, err := strconv.ParseFloat(rec.FillSize, 64)
			if err != nil {
				log.Warn().Str("trade_id", rec.TradeID).Str("fill_size", rec.FillSize).Msg("Unparseable fill size")
				continue
			}
			amount, err := strconv.ParseFloat(rec.FillValue, 64)
			if err != nil {
				log.Warn().Str("trade_id", rec.TradeID).Str("fill_value", rec.FillValue).Msg("Unparseable fill value")
				continue
			}
			s.handler(Fill{
				TradeID:   rec.TradeID,
				Symbol:    rec.SymbolID,
				Side:      rec.OrderSide,
				Qty:       qty,
				Amount:    amount,
				OrderID:   rec.OrderID,
				MatchTime: rec.MatchTime,
			})
		}
	}
}
