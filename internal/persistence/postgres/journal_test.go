package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tunarun/internal/persistence"
)

func newMockJournal(t *testing.T) (*Journal, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewJournal(sqlx.NewDb(db, "postgres")), mock
}

func TestEnsureSchema(t *testing.T) {
	j, mock := newMockJournal(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS fills").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, j.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFill(t *testing.T) {
	j, mock := newMockJournal(t)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fill := persistence.Fill{
		Ts:      ts,
		Symbol:  "BTCUSDT",
		Side:    "BUY",
		Price:   30000,
		Qty:     0.5,
		Amount:  15000,
		TradeID: "t1",
		OrderID: "m1",
	}

	mock.ExpectExec("INSERT INTO fills").
		WithArgs(ts, "BTCUSDT", "BUY", 30000.0, 0.5, 15000.0, "t1", "m1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, j.RecordFill(context.Background(), fill))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFillDuplicateTradeID(t *testing.T) {
	j, mock := newMockJournal(t)

	mock.ExpectExec("INSERT INTO fills").
		WillReturnError(&pq.Error{Code: "23505"})

	err := j.RecordFill(context.Background(), persistence.Fill{TradeID: "t1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate fill t1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentFills(t *testing.T) {
	j, mock := newMockJournal(t)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"ts", "symbol", "side", "price", "qty", "amount", "trade_id", "order_id",
	}).
		AddRow(ts.Add(time.Minute), "BTCUSDT", "SELL", 30010.0, 0.2, 6002.0, "t2", "m2").
		AddRow(ts, "BTCUSDT", "BUY", 30000.0, 0.5, 15000.0, "t1", "m1")

	mock.ExpectQuery("SELECT ts, symbol, side").
		WithArgs(2).
		WillReturnRows(rows)

	fills, err := j.RecentFills(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "t2", fills[0].TradeID)
	assert.Equal(t, persistence.Fill{
		Ts: ts, Symbol: "BTCUSDT", Side: "BUY",
		Price: 30000, Qty: 0.5, Amount: 15000,
		TradeID: "t1", OrderID: "m1",
	}, fills[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordHedge(t *testing.T) {
	j, mock := newMockJournal(t)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	hedge := persistence.Hedge{
		Ts:            ts,
		Symbol:        "BTCUSDT",
		Side:          "SELL",
		Price:         29400,
		Qty:           0.7,
		ClientOrderID: "1700000000000",
		OrderID:       "h1",
	}

	mock.ExpectExec("INSERT INTO hedges").
		WithArgs(ts, "BTCUSDT", "SELL", 29400.0, 0.7, "1700000000000", "h1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, j.RecordHedge(context.Background(), hedge))
	assert.NoError(t, mock.ExpectationsWereMet())
}
