package quote

import (
	"context"
	"testing"
	"time"
)

func at(tenths int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(tenths * 100) }
}

func TestStorePublishThenRead(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	writer := NewStoreAt(kv, at(599))
	book := &Book{
		Asks: []Level{{"101.5", "2"}, {"101.6", "1"}},
		Bids: []Level{{"101.4", "3"}, {"101.3", "5"}},
	}
	if err := writer.PublishBook(ctx, "binance_future_depthbtcusdt", book); err != nil {
		t.Fatalf("PublishBook failed: %v", err)
	}

	reader := NewStoreAt(kv, at(600))
	got, found, err := reader.OrderBook(ctx, "binance_future_depthbtcusdt")
	if err != nil {
		t.Fatalf("OrderBook failed: %v", err)
	}
	if !found {
		t.Fatal("expected a fresh snapshot")
	}
	if got.TopAsk() != 101.5 || got.TopBid() != 101.4 {
		t.Errorf("unexpected tops: ask=%v bid=%v", got.TopAsk(), got.TopBid())
	}
	if len(got.Asks) != 2 || len(got.Bids) != 2 {
		t.Errorf("unexpected sizes: %d asks, %d bids", len(got.Asks), len(got.Bids))
	}
}

func TestStoreBucketWrap(t *testing.T) {
	// Writer lands in the last slot of the ring; a reader shortly after the
	// minute boundary must walk through negative offsets and still find it.
	kv := NewMemoryKV()
	ctx := context.Background()

	writer := NewStoreAt(kv, at(599))
	if err := writer.PublishTicker(ctx, "S", &Ticker{Price: "7.1", Qty: "3"}); err != nil {
		t.Fatalf("PublishTicker failed: %v", err)
	}

	reader := NewStoreAt(kv, at(601))
	ticker, found, err := reader.Ticker(ctx, "S")
	if err != nil {
		t.Fatalf("Ticker failed: %v", err)
	}
	if !found {
		t.Fatal("expected hit across the ring boundary")
	}
	if ticker.Price != "7.1" || ticker.Qty != "3" {
		t.Errorf("unexpected ticker: %+v", ticker)
	}
}

func TestStoreStaleness(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	writer := NewStoreAt(kv, at(599))
	if err := writer.PublishTicker(ctx, "S", &Ticker{Price: "7.1", Qty: "3"}); err != nil {
		t.Fatalf("PublishTicker failed: %v", err)
	}

	t.Run("just inside one minute", func(t *testing.T) {
		reader := NewStoreAt(kv, at(599+NumBuckets-1))
		_, found, err := reader.Ticker(ctx, "S")
		if err != nil {
			t.Fatalf("Ticker failed: %v", err)
		}
		if !found {
			t.Error("snapshot younger than 60s must be returned")
		}
	})

	t.Run("exactly one minute old", func(t *testing.T) {
		reader := NewStoreAt(kv, at(599+NumBuckets))
		_, found, err := reader.Ticker(ctx, "S")
		if err != nil {
			t.Fatalf("Ticker failed: %v", err)
		}
		if found {
			t.Error("snapshot aged out of the minute window must be ignored")
		}
	})

	t.Run("future timestamp ignored", func(t *testing.T) {
		reader := NewStoreAt(kv, at(598))
		_, found, err := reader.Ticker(ctx, "S")
		if err != nil {
			t.Fatalf("Ticker failed: %v", err)
		}
		if found {
			t.Error("a slot written after the reader's clock must be ignored")
		}
	})
}

func TestStoreTickerWithin(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	writer := NewStoreAt(kv, at(500))
	if err := writer.PublishTicker(ctx, "S", &Ticker{Price: "7.1", Qty: "3"}); err != nil {
		t.Fatalf("PublishTicker failed: %v", err)
	}

	t.Run("inside the age bound", func(t *testing.T) {
		reader := NewStoreAt(kv, at(509))
		_, found, err := reader.TickerWithin(ctx, "S", time.Second)
		if err != nil {
			t.Fatalf("TickerWithin failed: %v", err)
		}
		if !found {
			t.Error("snapshot younger than maxAge must be returned")
		}
	})

	t.Run("older than the bound", func(t *testing.T) {
		reader := NewStoreAt(kv, at(511))
		_, found, err := reader.TickerWithin(ctx, "S", time.Second)
		if err != nil {
			t.Fatalf("TickerWithin failed: %v", err)
		}
		if found {
			t.Error("snapshot older than maxAge must be ignored")
		}
	})

	t.Run("zero falls back to the minute window", func(t *testing.T) {
		reader := NewStoreAt(kv, at(511))
		_, found, err := reader.TickerWithin(ctx, "S", 0)
		if err != nil {
			t.Fatalf("TickerWithin failed: %v", err)
		}
		if !found {
			t.Error("zero maxAge must behave like Ticker")
		}
	})
}

func TestStoreSkipsHalfWrittenBucket(t *testing.T) {
	// The timestamp and the payload are separate keys. When the timestamp of
	// the newest slot is visible but its payload write is still in flight,
	// the scan falls back to the previous slot.
	kv := NewMemoryKV()
	ctx := context.Background()

	older := NewStoreAt(kv, at(500))
	if err := older.PublishTicker(ctx, "S", &Ticker{Price: "1.0", Qty: "1"}); err != nil {
		t.Fatalf("PublishTicker failed: %v", err)
	}
	// Newest slot: timestamp only, value missing.
	if err := kv.SetInt(ctx, bucketKey("S", 501), 501); err != nil {
		t.Fatalf("SetInt failed: %v", err)
	}

	reader := NewStoreAt(kv, at(501))
	ticker, found, err := reader.Ticker(ctx, "S")
	if err != nil {
		t.Fatalf("Ticker failed: %v", err)
	}
	if !found {
		t.Fatal("expected fallback to the previous slot")
	}
	if ticker.Price != "1.0" {
		t.Errorf("expected the older payload, got %+v", ticker)
	}
}

func TestStoreMiss(t *testing.T) {
	reader := NewStoreAt(NewMemoryKV(), at(100))
	book, found, err := reader.OrderBook(context.Background(), "nothing_here")
	if err != nil {
		t.Fatalf("OrderBook failed: %v", err)
	}
	if found || book != nil {
		t.Errorf("expected miss, got %+v", book)
	}
}

func TestStoreLastWriterWins(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	first := NewStoreAt(kv, at(100))
	if err := first.PublishTicker(ctx, "S", &Ticker{Price: "1", Qty: "1"}); err != nil {
		t.Fatalf("PublishTicker failed: %v", err)
	}
	second := NewStoreAt(kv, at(103))
	if err := second.PublishTicker(ctx, "S", &Ticker{Price: "2", Qty: "2"}); err != nil {
		t.Fatalf("PublishTicker failed: %v", err)
	}

	reader := NewStoreAt(kv, at(104))
	ticker, found, err := reader.Ticker(ctx, "S")
	if err != nil || !found {
		t.Fatalf("Ticker failed: found=%v err=%v", found, err)
	}
	if ticker.Price != "2" {
		t.Errorf("expected the newest write, got %+v", ticker)
	}
}
