// Package persistence defines the trade journal the hedger writes through.
// The journal is an audit trail, not a source of truth: hedging state lives
// in memory and every write here is log-and-continue on failure.
package persistence

import (
	"context"
	"time"
)

// Fill is one maker fill as reported by the execution stream.
type Fill struct {
	Ts      time.Time `json:"ts"`
	Symbol  string    `json:"symbol"`
	Side    string    `json:"side"`
	Price   float64   `json:"price"`
	Qty     float64   `json:"qty"`
	Amount  float64   `json:"amount"`
	TradeID string    `json:"trade_id"`
	OrderID string    `json:"order_id"`
}

// Hedge is one hedge order submitted against accumulated fills.
type Hedge struct {
	Ts            time.Time `json:"ts"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Price         float64   `json:"price"`
	Qty           float64   `json:"qty"`
	ClientOrderID string    `json:"client_order_id"`
	OrderID       string    `json:"order_id"`
}

// Journal records fills and the hedge orders they triggered.
type Journal interface {
	RecordFill(ctx context.Context, fill Fill) error
	RecordHedge(ctx context.Context, hedge Hedge) error
	Close() error
}

// NopJournal discards every record. Used when no journal DSN is configured.
type NopJournal struct{}

// RecordFill discards the fill.
func (NopJournal) RecordFill(context.Context, Fill) error { return nil }

// RecordHedge discards the hedge.
func (NopJournal) RecordHedge(context.Context, Hedge) error { return nil }

// Close does nothing.
func (NopJournal) Close() error { return nil }
