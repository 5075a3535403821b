// Package bifu implements the venue client against the BiFu trading gateway,
// plus the private stream that delivers maker fills.
package bifu

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/tunarun/internal/metrics"
	"github.com/sawpanic/tunarun/internal/venue"
)

// DefaultBaseURL is the production REST gateway.
const DefaultBaseURL = "https://api.bifu.co"

const (
	authKeyHeader       = "Decode-MM-Auth-Access-Key"
	authTimestampHeader = "Decode-MM-Auth-Timestamp"
	authSignatureHeader = "Decode-MM-Auth-Signature"

	pathBatchOrders = "/api/v1/private/batch-orders"
	pathBatchCancel = "/api/v1/private/batch-cancel"
	pathCancel      = "/api/v1/private/cancel"
	pathOpenOrders  = "/api/v1/private/open-orders"
	pathOrderStatus = "/api/v1/private/order"
	pathBookTicker  = "/api/v1/public/ticker/book"
	privateWSPath   = "/api/v1/private/ws"
)

// Credentials authenticate one account against the gateway.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// sign produces the request signature: hex HMAC-SHA256 over "path|timestamp".
func sign(secret, path string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(path + "|" + strconv.FormatInt(ts, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Client talks to the BiFu REST gateway. Requests flow through a rate
// limiter and a circuit breaker; the breaker gates transport failures only,
// venue-level rejections pass through as plain errors.
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Registry
	now     func() time.Time
}

var _ venue.Client = (*Client)(nil)

// New creates a client for the gateway at baseURL.
func New(baseURL string, creds Credentials, reg *metrics.Registry) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	settings := gobreaker.Settings{Name: "bifu-rest"}
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}
	settings.Timeout = 30 * time.Second

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		breaker: gobreaker.NewCircuitBreaker(settings),
		metrics: reg,
		now:     time.Now,
	}
}

type envelope struct {
	Status string          `json:"status"`
	Msg    string          `json:"msg,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, payload)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	ts := c.now().UnixMilli()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(authKeyHeader, c.creds.APIKey)
	req.Header.Set(authTimestampHeader, strconv.FormatInt(ts, 10))
	req.Header.Set(authSignatureHeader, sign(c.creds.APISecret, path, ts))

	start := c.now()
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%s: http %d", path, resp.StatusCode)
		}
		return data, nil
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordVenueRequest("bifu", path, status, c.now().Sub(start).Seconds())
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw.([]byte), &env); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if env.Status != "ok" {
		return fmt.Errorf("%s: venue status %q: %s", path, env.Status, env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s data: %w", path, err)
		}
	}
	return nil
}

// BatchMakeOrders submits up to one batch of orders for a symbol. Results
// align with the submitted slice; rejected entries carry an empty order id.
func (c *Client) BatchMakeOrders(ctx context.Context, symbol string, orders []venue.NewOrder) ([]venue.OrderResult, error) {
	body := map[string]interface{}{"symbol": symbol, "orders": orders}
	var results []venue.OrderResult
	if err := c.do(ctx, http.MethodPost, pathBatchOrders, nil, body, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// BatchCancel cancels a batch of order ids, returning the ids the venue
// acknowledged as cancelled.
func (c *Client) BatchCancel(ctx context.Context, symbol string, ids []string) ([]string, error) {
	body := map[string]interface{}{"symbol": symbol, "order_ids": ids}
	var data struct {
		Cancelled []string `json:"cancelled"`
	}
	if err := c.do(ctx, http.MethodPost, pathBatchCancel, nil, body, &data); err != nil {
		return nil, err
	}
	return data.Cancelled, nil
}

// CancelOrder cancels one order.
func (c *Client) CancelOrder(ctx context.Context, symbol, id string) (venue.OrderResult, error) {
	body := map[string]interface{}{"symbol": symbol, "order_id": id}
	var result venue.OrderResult
	if err := c.do(ctx, http.MethodPost, pathCancel, nil, body, &result); err != nil {
		return venue.OrderResult{}, err
	}
	return result, nil
}

// OpenOrders lists the resting orders for a symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]venue.OpenOrder, error) {
	query := url.Values{"symbol": {symbol}}
	var orders []venue.OpenOrder
	if err := c.do(ctx, http.MethodGet, pathOpenOrders, query, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// OrderStatus fetches the venue's view of one order. A response without a
// status field parses to a zero value, which Known() reports as false.
func (c *Client) OrderStatus(ctx context.Context, symbol, id string) (venue.OrderStatus, error) {
	query := url.Values{"symbol": {symbol}, "order_id": {id}}
	var status venue.OrderStatus
	if err := c.do(ctx, http.MethodGet, pathOrderStatus, query, nil, &status); err != nil {
		return venue.OrderStatus{}, err
	}
	return status, nil
}

// TopAskBid fetches the venue top of book for a symbol.
func (c *Client) TopAskBid(ctx context.Context, symbol string) (venue.AskBid, bool, error) {
	query := url.Values{"symbol": {symbol}}
	var ab venue.AskBid
	if err := c.do(ctx, http.MethodGet, pathBookTicker, query, nil, &ab); err != nil {
		return venue.AskBid{}, false, err
	}
	return ab, ab.Valid(), nil
}
