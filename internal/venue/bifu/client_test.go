package bifu

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tunarun/internal/metrics"
	"github.com/sawpanic/tunarun/internal/venue"
)

var testCreds = Credentials{APIKey: "key-1", APISecret: "secret-1"}

func newTestClient(srvURL string) *Client {
	return New(srvURL, testCreds, metrics.NewRegistry())
}

func TestClientSignsRequests(t *testing.T) {
	var gotKey, gotTS, gotSig, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(authKeyHeader)
		gotTS = r.Header.Get(authTimestampHeader)
		gotSig = r.Header.Get(authSignatureHeader)
		gotPath = r.URL.Path
		w.Write([]byte(`{"status":"ok","data":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).OpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, "key-1", gotKey)
	assert.Equal(t, pathOpenOrders, gotPath)

	ts, err := strconv.ParseInt(gotTS, 10, 64)
	require.NoError(t, err)
	assert.Equal(t, sign("secret-1", pathOpenOrders, ts), gotSig)
}

func TestBatchMakeOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, pathBatchOrders, r.URL.Path)

		var body struct {
			Symbol string           `json:"symbol"`
			Orders []venue.NewOrder `json:"orders"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "BTCUSDT", body.Symbol)
		require.Len(t, body.Orders, 2)
		assert.Equal(t, "BUY", body.Orders[0].Side)

		w.Write([]byte(`{"status":"ok","data":[
			{"order_id":"o-1","client_id":"c-1"},
			{"order_id":"o-2","client_id":"c-2"}
		]}`))
	}))
	defer srv.Close()

	orders := []venue.NewOrder{
		{Symbol: "BTCUSDT", ClientID: "c-1", Side: "BUY", Type: "LIMIT", Quantity: 1, Price: 30000},
		{Symbol: "BTCUSDT", ClientID: "c-2", Side: "SELL", Type: "LIMIT", Quantity: 1, Price: 30010},
	}
	results, err := newTestClient(srv.URL).BatchMakeOrders(context.Background(), "BTCUSDT", orders)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "o-1", results[0].OrderID)
	assert.Equal(t, "c-2", results[1].ClientID)
}

func TestBatchCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			OrderIDs []string `json:"order_ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.OrderIDs, 3)
		// One id is already gone; only two cancel.
		w.Write([]byte(`{"status":"ok","data":{"cancelled":["o-1","o-3"]}}`))
	}))
	defer srv.Close()

	cancelled, err := newTestClient(srv.URL).BatchCancel(context.Background(), "BTCUSDT", []string{"o-1", "o-2", "o-3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"o-1", "o-3"}, cancelled)
}

func TestOrderStatusMissingStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","data":{"side":"SELL"}}`))
	}))
	defer srv.Close()

	status, err := newTestClient(srv.URL).OrderStatus(context.Background(), "BTCUSDT", "o-1")
	require.NoError(t, err)
	assert.False(t, status.Known())
}

func TestOrderStatusKnown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "o-1", r.URL.Query().Get("order_id"))
		w.Write([]byte(`{"status":"ok","data":{"status":"FILLED","side":"SELL","executed_qty":"0.7"}}`))
	}))
	defer srv.Close()

	status, err := newTestClient(srv.URL).OrderStatus(context.Background(), "BTCUSDT", "o-1")
	require.NoError(t, err)
	assert.True(t, status.Known())
	assert.Equal(t, "FILLED", status.Status)
	assert.Equal(t, "0.7", status.ExecutedQty)
}

func TestTopAskBid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","data":{"ap":"30000.5","aq":"2","bp":"29999.5","bq":"3"}}`))
	}))
	defer srv.Close()

	ab, found, err := newTestClient(srv.URL).TopAskBid(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 30000.5, ab.AskPriceF())
	assert.Equal(t, 29999.5, ab.BidPriceF())
}

func TestVenueRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","msg":"insufficient balance"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).BatchMakeOrders(context.Background(), "BTCUSDT", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestBreakerOpensOnTransportFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	for i := 0; i < 5; i++ {
		_, err := client.OpenOrders(context.Background(), "BTCUSDT")
		require.Error(t, err)
	}
	_, err := client.OpenOrders(context.Background(), "BTCUSDT")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState), "want open breaker, got %v", err)
}
