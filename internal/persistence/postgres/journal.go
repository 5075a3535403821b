// Package postgres implements the trade journal over PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/tunarun/internal/persistence"
)

const (
	defaultQueryTimeout = 5 * time.Second
	connectTimeout      = 10 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS fills (
	id BIGSERIAL PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	price DOUBLE PRECISION NOT NULL,
	qty DOUBLE PRECISION NOT NULL,
	amount DOUBLE PRECISION NOT NULL,
	trade_id TEXT NOT NULL UNIQUE,
	order_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS hedges (
	id BIGSERIAL PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	price DOUBLE PRECISION NOT NULL,
	qty DOUBLE PRECISION NOT NULL,
	client_order_id TEXT NOT NULL,
	order_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS fills_symbol_ts_idx ON fills (symbol, ts DESC);
CREATE INDEX IF NOT EXISTS hedges_symbol_ts_idx ON hedges (symbol, ts DESC);
`

// Journal implements persistence.Journal against PostgreSQL.
type Journal struct {
	db      *sqlx.DB
	timeout time.Duration
}

var _ persistence.Journal = (*Journal)(nil)

// Open connects to the journal database, verifies the connection and makes
// sure the schema exists.
func Open(dsn string) (*Journal, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal db: %w", err)
	}

	j := NewJournal(db)
	if err := j.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// NewJournal wraps an existing connection. Used by tests.
func NewJournal(db *sqlx.DB) *Journal {
	return &Journal{db: db, timeout: defaultQueryTimeout}
}

// EnsureSchema creates the journal tables if they are missing.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

// RecordFill inserts one maker fill. A replayed trade id is reported as a
// duplicate error; callers may ignore it.
func (j *Journal) RecordFill(ctx context.Context, fill persistence.Fill) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	query := `
		INSERT INTO fills (ts, symbol, side, price, qty, amount, trade_id, order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := j.db.ExecContext(ctx, query,
		fill.Ts, fill.Symbol, fill.Side, fill.Price, fill.Qty, fill.Amount,
		fill.TradeID, fill.OrderID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate fill %s: %w", fill.TradeID, err)
		}
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// RecordHedge inserts one hedge submission.
func (j *Journal) RecordHedge(ctx context.Context, hedge persistence.Hedge) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	query := `
		INSERT INTO hedges (ts, symbol, side, price, qty, client_order_id, order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := j.db.ExecContext(ctx, query,
		hedge.Ts, hedge.Symbol, hedge.Side, hedge.Price, hedge.Qty,
		hedge.ClientOrderID, hedge.OrderID)
	if err != nil {
		return fmt.Errorf("insert hedge: %w", err)
	}
	return nil
}

type fillRow struct {
	Ts      time.Time `db:"ts"`
	Symbol  string    `db:"symbol"`
	Side    string    `db:"side"`
	Price   float64   `db:"price"`
	Qty     float64   `db:"qty"`
	Amount  float64   `db:"amount"`
	TradeID string    `db:"trade_id"`
	OrderID string    `db:"order_id"`
}

// RecentFills returns the newest fills, most recent first.
func (j *Journal) RecentFills(ctx context.Context, limit int) ([]persistence.Fill, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	query := `
		SELECT ts, symbol, side, price, qty, amount, trade_id, order_id
		FROM fills ORDER BY ts DESC LIMIT $1`
	var rows []fillRow
	if err := j.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("select fills: %w", err)
	}
	fills := make([]persistence.Fill, len(rows))
	for i, r := range rows {
		fills[i] = persistence.Fill{
			Ts: r.Ts, Symbol: r.Symbol, Side: r.Side,
			Price: r.Price, Qty: r.Qty, Amount: r.Amount,
			TradeID: r.TradeID, OrderID: r.OrderID,
		}
	}
	return fills, nil
}

// Close releases the connection pool.
func (j *Journal) Close() error {
	return j.db.Close()
}
