// Package metrics holds the Prometheus registry shared by the daemons.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for tunarun.
type Registry struct {
	registry *prometheus.Registry

	// Quote ingestion metrics
	QuoteMessages      *prometheus.CounterVec
	QuoteReconnects    *prometheus.CounterVec
	QuotePublishErrors *prometheus.CounterVec

	// Venue REST metrics
	VenueRequests        *prometheus.CounterVec
	VenueRequestDuration *prometheus.HistogramVec

	// Maker metrics
	MakerOrdersSubmitted *prometheus.CounterVec
	MakerOrdersCancelled *prometheus.CounterVec
	MakerOrdersReserved  *prometheus.CounterVec
	MakerPassDuration    *prometheus.HistogramVec

	// Hedger metrics
	HedgerFills        *prometheus.CounterVec
	HedgerHedges       *prometheus.CounterVec
	HedgerHedgeErrors  prometheus.Counter
	HedgerDedupDrops   prometheus.Counter
	HedgerOpenRisk     *prometheus.GaugeVec
	HedgerPendingTasks prometheus.Gauge

	// Self-trade metrics
	SelfTradePairs *prometheus.CounterVec
	SelfTradeSkips *prometheus.CounterVec
}

// NewRegistry creates a registry with all tunarun metrics registered.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		QuoteMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunarun_quote_messages_total",
				Help: "Total number of market data messages ingested",
			},
			[]string{"exchange", "channel"},
		),

		QuoteReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunarun_quote_reconnects_total",
				Help: "Total number of market data stream reconnects",
			},
			[]string{"exchange"},
		),

		QuotePublishErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunarun_quote_publish_errors_total",
				Help: "Total number of snapshot publish failures",
			},
			[]string{"exchange"},
		),

		VenueRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunarun_venue_requests_total",
				Help: "Total number of venue REST requests by outcome",
			},
			[]string{"venue", "endpoint", "status"},
		),

		VenueRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tunarun_venue_request_duration_seconds",
				Help:    "Venue REST request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"venue", "endpoint"},
		),

		MakerOrdersSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunarun_maker_orders_submitted_total",
				Help: "Total number of maker orders submitted by side",
			},
			[]string{"symbol", "side"},
		),

		MakerOrdersCancelled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunarun_maker_orders_cancelled_total",
				Help: "Total number of maker orders cancelled",
			},
			[]string{"symbol"},
		),

		MakerOrdersReserved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunarun_maker_orders_reserved_total",
				Help: "Total number of resting orders kept across refresh rounds",
			},
			[]string{"symbol"},
		),

		MakerPassDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tunarun_maker_pass_duration_seconds",
				Help:    "Duration of one quoting pass in seconds",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"symbol", "band"},
		),

		HedgerFills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunarun_hedger_fills_total",
				Help: "Total number of maker fills accepted for hedging",
			},
			[]string{"symbol"},
		),

		HedgerHedges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunarun_hedger_hedges_total",
				Help: "Total number of hedge orders submitted by side",
			},
			[]string{"symbol", "side"},
		),

		HedgerHedgeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tunarun_hedger_hedge_errors_total",
				Help: "Total number of hedge submissions that returned no order",
			},
		),

		HedgerDedupDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tunarun_hedger_dedup_drops_total",
				Help: "Total number of replayed fills dropped by trade id",
			},
		),

		HedgerOpenRisk: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tunarun_hedger_open_risk_qty",
				Help: "Unhedged position quantity by symbol",
			},
			[]string{"symbol"},
		),

		HedgerPendingTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tunarun_hedger_pending_tasks",
				Help: "Number of hedge submissions awaiting reconciliation",
			},
		),

		SelfTradePairs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunarun_selftrade_pairs_total",
				Help: "Total number of maker/taker pairs submitted",
			},
			[]string{"symbol"},
		),

		SelfTradeSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunarun_selftrade_skips_total",
				Help: "Total number of self-trade rounds skipped by reason",
			},
			[]string{"symbol", "reason"},
		),
	}

	r.registry.MustRegister(
		r.QuoteMessages,
		r.QuoteReconnects,
		r.QuotePublishErrors,
		r.VenueRequests,
		r.VenueRequestDuration,
		r.MakerOrdersSubmitted,
		r.MakerOrdersCancelled,
		r.MakerOrdersReserved,
		r.MakerPassDuration,
		r.HedgerFills,
		r.HedgerHedges,
		r.HedgerHedgeErrors,
		r.HedgerDedupDrops,
		r.HedgerOpenRisk,
		r.HedgerPendingTasks,
		r.SelfTradePairs,
		r.SelfTradeSkips,
	)

	return r
}

// Handler returns the HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordQuoteMessage counts one ingested market data message.
func (r *Registry) RecordQuoteMessage(exchange, channel string) {
	r.QuoteMessages.WithLabelValues(exchange, channel).Inc()
}

// RecordQuoteReconnect counts one stream reconnect.
func (r *Registry) RecordQuoteReconnect(exchange string) {
	r.QuoteReconnects.WithLabelValues(exchange).Inc()
}

// RecordQuotePublishError counts one failed snapshot publish.
func (r *Registry) RecordQuotePublishError(exchange string) {
	r.QuotePublishErrors.WithLabelValues(exchange).Inc()
}

// RecordVenueRequest counts one venue REST call and its duration.
func (r *Registry) RecordVenueRequest(venue, endpoint, status string, seconds float64) {
	r.VenueRequests.WithLabelValues(venue, endpoint, status).Inc()
	r.VenueRequestDuration.WithLabelValues(venue, endpoint).Observe(seconds)
}

// RecordMakerSubmit counts submitted maker orders.
func (r *Registry) RecordMakerSubmit(symbol, side string, n int) {
	r.MakerOrdersSubmitted.WithLabelValues(symbol, side).Add(float64(n))
}

// RecordMakerCancel counts cancelled maker orders.
func (r *Registry) RecordMakerCancel(symbol string, n int) {
	r.MakerOrdersCancelled.WithLabelValues(symbol).Add(float64(n))
}

// RecordMakerReserve counts orders kept in place across a refresh round.
func (r *Registry) RecordMakerReserve(symbol string, n int) {
	r.MakerOrdersReserved.WithLabelValues(symbol).Add(float64(n))
}

// ObserveMakerPass records the duration of one quoting pass.
func (r *Registry) ObserveMakerPass(symbol, band string, seconds float64) {
	r.MakerPassDuration.WithLabelValues(symbol, band).Observe(seconds)
}

// RecordHedgerFill counts one accepted maker fill.
func (r *Registry) RecordHedgerFill(symbol string) {
	r.HedgerFills.WithLabelValues(symbol).Inc()
}

// RecordHedge counts one hedge submission.
func (r *Registry) RecordHedge(symbol, side string) {
	r.HedgerHedges.WithLabelValues(symbol, side).Inc()
}

// RecordHedgeError counts one hedge submission that produced no order.
func (r *Registry) RecordHedgeError() {
	r.HedgerHedgeErrors.Inc()
}

// RecordDedupDrop counts one replayed fill dropped by its trade id.
func (r *Registry) RecordDedupDrop() {
	r.HedgerDedupDrops.Inc()
}

// SetOpenRisk publishes the current unhedged quantity for a symbol.
func (r *Registry) SetOpenRisk(symbol string, qty float64) {
	r.HedgerOpenRisk.WithLabelValues(symbol).Set(qty)
}

// SetPendingTasks publishes the hedge reconciliation queue depth.
func (r *Registry) SetPendingTasks(n int) {
	r.HedgerPendingTasks.Set(float64(n))
}

// RecordSelfTradePair counts one submitted maker/taker pair.
func (r *Registry) RecordSelfTradePair(symbol string) {
	r.SelfTradePairs.WithLabelValues(symbol).Inc()
}

// RecordSelfTradeSkip counts one skipped self-trade round.
func (r *Registry) RecordSelfTradeSkip(symbol, reason string) {
	r.SelfTradeSkips.WithLabelValues(symbol, reason).Inc()
}
