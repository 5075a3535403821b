// Package mock is the in-memory venue used by tests and dry runs. Orders are
// accepted and tracked as open; market data queries get canned top-of-book
// answers.
package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/sawpanic/tunarun/internal/venue"
)

// Client implements venue.Client against process memory.
type Client struct {
	mu     sync.Mutex
	open   map[string][]venue.OpenOrder // symbol -> open orders
	orders map[string]venue.NewOrder    // order id -> original order
	book   map[string]venue.AskBid      // symbol -> top of book

	// Failure switches for exercising error paths.
	RejectOrders bool
	FailCancels  bool
}

// New creates an empty mock venue.
func New() *Client {
	return &Client{
		open:   make(map[string][]venue.OpenOrder),
		orders: make(map[string]venue.NewOrder),
		book:   make(map[string]venue.AskBid),
	}
}

// SetTopAskBid installs the top of book returned for symbol.
func (c *Client) SetTopAskBid(symbol string, ab venue.AskBid) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.book[symbol] = ab
}

// Placed returns the order submitted under id, if any.
func (c *Client) Placed(id string) (venue.NewOrder, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	return o, ok
}

func (c *Client) BatchMakeOrders(ctx context.Context, symbol string, orders []venue.NewOrder) ([]venue.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	results := make([]venue.OrderResult, 0, len(orders))
	for _, order := range orders {
		if c.RejectOrders {
			results = append(results, venue.OrderResult{})
			continue
		}
		id := uuid.NewString()
		c.orders[id] = order
		c.open[symbol] = append(c.open[symbol], venue.OpenOrder{OrderID: id, ClientID: order.ClientID})
		results = append(results, venue.OrderResult{OrderID: id, ClientID: order.ClientID})
	}
	return results, nil
}

func (c *Client) BatchCancel(ctx context.Context, symbol string, ids []string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailCancels {
		return nil, nil
	}
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	var cancelled []string
	var remaining []venue.OpenOrder
	for _, order := range c.open[symbol] {
		if known[order.OrderID] {
			cancelled = append(cancelled, order.OrderID)
			continue
		}
		remaining = append(remaining, order)
	}
	c.open[symbol] = remaining
	return cancelled, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, id string) (venue.OrderResult, error) {
	cancelled, err := c.BatchCancel(ctx, symbol, []string{id})
	if err != nil || len(cancelled) == 0 {
		return venue.OrderResult{}, err
	}
	return venue.OrderResult{OrderID: cancelled[0]}, nil
}

func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]venue.OpenOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]venue.OpenOrder, len(c.open[symbol]))
	copy(out, c.open[symbol])
	return out, nil
}

func (c *Client) OrderStatus(ctx context.Context, symbol, id string) (venue.OrderStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if order, ok := c.orders[id]; ok {
		return venue.OrderStatus{Status: "FILLED", Side: order.Side, ExecutedQty: "0"}, nil
	}
	return venue.OrderStatus{}, nil
}

func (c *Client) TopAskBid(ctx context.Context, symbol string) (venue.AskBid, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ab, ok := c.book[symbol]
	return ab, ok, nil
}
