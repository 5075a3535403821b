package quote

import (
	"context"
	"strconv"
	"time"
)

// NumBuckets is the ring size: one minute of 100ms slots.
const NumBuckets = 600

// Store publishes and reads bucketed snapshots over a KV. Each stream owns a
// ring of NumBuckets slots; slot b holds the write timestamp (tenths of a
// second) under key(stream,b) and the payload under key(stream,b)+"_value".
// There is no TTL and no invalidation: a reader only accepts slots written
// within the last minute, and the writer overwrites stale slots as the ring
// wraps.
type Store struct {
	kv  KV
	now func() time.Time
}

// NewStore creates a Store over kv using the wall clock.
func NewStore(kv KV) *Store {
	return &Store{kv: kv, now: time.Now}
}

// NewStoreAt creates a Store with an injected clock. Used by tests.
func NewStoreAt(kv KV, now func() time.Time) *Store {
	return &Store{kv: kv, now: now}
}

// tenths is the current time in tenths of a second.
func (s *Store) tenths() int64 {
	return s.now().UnixMilli() / 100
}

func bucketKey(stream string, tag int64) string {
	return stream + strconv.FormatInt(tag, 10)
}

// PublishBook writes a book snapshot into the current bucket. The payload
// lands before the timestamp so a reader never sees a timestamp without data.
func (s *Store) PublishBook(ctx context.Context, stream string, book *Book) error {
	return s.publish(ctx, stream, book)
}

// PublishTicker writes a ticker into the current bucket.
func (s *Store) PublishTicker(ctx context.Context, stream string, ticker *Ticker) error {
	return s.publish(ctx, stream, ticker)
}

func (s *Store) publish(ctx context.Context, stream string, payload interface{}) error {
	ts := s.tenths()
	key := bucketKey(stream, ts%NumBuckets)
	if err := s.kv.SetJSON(ctx, key+"_value", payload); err != nil {
		return err
	}
	return s.kv.SetInt(ctx, key, ts)
}

// OrderBook returns the freshest book snapshot for stream, scanning the ring
// backwards through one full minute. A miss returns (nil, false, nil).
func (s *Store) OrderBook(ctx context.Context, stream string) (*Book, bool, error) {
	var book Book
	ok, err := s.scan(ctx, stream, NumBuckets, &book)
	if err != nil || !ok {
		return nil, false, err
	}
	return &book, true, nil
}

// Ticker returns the freshest ticker for stream.
func (s *Store) Ticker(ctx context.Context, stream string) (*Ticker, bool, error) {
	var ticker Ticker
	ok, err := s.scan(ctx, stream, NumBuckets, &ticker)
	if err != nil || !ok {
		return nil, false, err
	}
	return &ticker, true, nil
}

// TickerWithin returns the freshest ticker no older than maxAge. A maxAge of
// zero or above one minute falls back to the full ring.
func (s *Store) TickerWithin(ctx context.Context, stream string, maxAge time.Duration) (*Ticker, bool, error) {
	var ticker Ticker
	ok, err := s.scan(ctx, stream, int64(maxAge/(100*time.Millisecond)), &ticker)
	if err != nil || !ok {
		return nil, false, err
	}
	return &ticker, true, nil
}

// scan walks buckets backwards from the current slot, wrapping modulo
// NumBuckets, and unmarshals the first payload whose stored timestamp t'
// satisfies now-maxTenths < t' <= now. A slot whose timestamp hits but whose
// payload is still in flight is skipped in favor of the previous slot.
func (s *Store) scan(ctx context.Context, stream string, maxTenths int64, dst interface{}) (bool, error) {
	if maxTenths <= 0 || maxTenths > NumBuckets {
		maxTenths = NumBuckets
	}
	ts := s.tenths()
	current := ts % NumBuckets
	for i := int64(0); i < maxTenths; i++ {
		tag := ((current - i) + NumBuckets) % NumBuckets
		key := bucketKey(stream, tag)
		written, ok, err := s.kv.GetInt(ctx, key)
		if err != nil {
			return false, err
		}
		if !ok || written <= ts-maxTenths || written > ts {
			continue
		}
		found, err := s.kv.GetJSON(ctx, key+"_value", dst)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}
