package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	io_prometheus_client "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, r *Registry, symbol, side string) float64 {
	t.Helper()
	c, err := r.HedgerHedges.GetMetricWithLabelValues(symbol, side)
	if err != nil {
		t.Fatalf("get metric: %v", err)
	}
	m := &io_prometheus_client.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRegistryCounters(t *testing.T) {
	r := NewRegistry()

	r.RecordHedge("BTCUSDT", "SELL")
	r.RecordHedge("BTCUSDT", "SELL")
	r.RecordHedge("BTCUSDT", "BUY")

	if got := counterValue(t, r, "BTCUSDT", "SELL"); got != 2 {
		t.Errorf("SELL hedges = %v, want 2", got)
	}
	if got := counterValue(t, r, "BTCUSDT", "BUY"); got != 1 {
		t.Errorf("BUY hedges = %v, want 1", got)
	}
}

func TestRegistryHandler(t *testing.T) {
	r := NewRegistry()
	r.RecordQuoteMessage("binance_future", "depth")
	r.RecordMakerSubmit("BTCUSDT", "BUY", 5)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := string(raw)

	if !strings.Contains(body, "tunarun_quote_messages_total") {
		t.Error("exposition missing tunarun_quote_messages_total")
	}
	if !strings.Contains(body, `tunarun_maker_orders_submitted_total{side="BUY",symbol="BTCUSDT"} 5`) {
		t.Error("exposition missing maker submit count")
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.RecordSelfTradePair("ETHUSDT")

	c, err := b.SelfTradePairs.GetMetricWithLabelValues("ETHUSDT")
	if err != nil {
		t.Fatalf("get metric: %v", err)
	}
	m := &io_prometheus_client.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.GetCounter().GetValue() != 0 {
		t.Error("registries share state")
	}
}
