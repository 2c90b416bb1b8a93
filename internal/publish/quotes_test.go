package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/rickgao/l3book/internal/model"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fail   bool
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker unavailable")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) written() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message(nil), f.msgs...)
}

func quote(product string, seq int64, bid string) model.Quote {
	return model.Quote{
		ProductID: product,
		Sequence:  seq,
		HasBid:    true,
		BidPrice:  decimal.RequireFromString(bid),
		BidSize:   decimal.NewFromInt(1),
		Time:      time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func decodeQuote(t *testing.T, m kafka.Message) model.Quote {
	t.Helper()
	var q model.Quote
	if err := json.Unmarshal(m.Value, &q); err != nil {
		t.Fatalf("decode %s: %v", m.Value, err)
	}
	return q
}

func TestQuotePublisher_ConflatesPerProduct(t *testing.T) {
	w := &fakeWriter{}
	p := newQuotePublisher(Config{}, nil, w, nil)

	p.add(quote("BTC-USD", 10, "100"))
	p.add(quote("BTC-USD", 11, "99"))
	p.add(quote("BTC-USD", 12, "101"))
	p.add(quote("ETH-USD", 5, "3000"))
	p.flush(context.Background())

	msgs := w.written()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}

	byKey := map[string]model.Quote{}
	for _, m := range msgs {
		byKey[string(m.Key)] = decodeQuote(t, m)
	}
	btc := byKey["BTC-USD"]
	if btc.Sequence != 12 || !btc.BidPrice.Equal(decimal.RequireFromString("101")) {
		t.Errorf("BTC-USD quote = seq %d bid %s, want seq 12 bid 101", btc.Sequence, btc.BidPrice)
	}
	if byKey["ETH-USD"].Sequence != 5 {
		t.Errorf("ETH-USD sequence = %d, want 5", byKey["ETH-USD"].Sequence)
	}

	stats := p.Stats()
	if stats.Received != 4 || stats.Conflated != 2 || stats.Published != 2 {
		t.Errorf("stats = %+v, want received 4 conflated 2 published 2", stats)
	}
}

func TestQuotePublisher_LatestQuoteWinsAfterResync(t *testing.T) {
	w := &fakeWriter{}
	p := newQuotePublisher(Config{}, nil, w, nil)

	// A resync onto a snapshot older than the last applied event moves the
	// sequence backwards. The post-resync top must still go out.
	p.add(quote("BTC-USD", 20, "101"))
	p.add(quote("BTC-USD", 18, "99"))
	p.flush(context.Background())

	msgs := w.written()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	q := decodeQuote(t, msgs[0])
	if q.Sequence != 18 || !q.BidPrice.Equal(decimal.RequireFromString("99")) {
		t.Errorf("published seq %d bid %s, want seq 18 bid 99", q.Sequence, q.BidPrice)
	}
}

func TestQuotePublisher_FlushEmptyIsNoop(t *testing.T) {
	w := &fakeWriter{}
	p := newQuotePublisher(Config{}, nil, w, nil)
	p.flush(context.Background())
	if n := len(w.written()); n != 0 {
		t.Errorf("messages = %d, want 0", n)
	}
}

func TestQuotePublisher_WriteFailureDropsBatch(t *testing.T) {
	w := &fakeWriter{fail: true}
	p := newQuotePublisher(Config{}, nil, w, nil)

	p.add(quote("BTC-USD", 10, "100"))
	p.flush(context.Background())

	if failed := p.Stats().Failed; failed != 1 {
		t.Errorf("Failed = %d, want 1", failed)
	}
	if len(p.pending) != 0 {
		t.Errorf("pending = %d quotes after failed write, want 0", len(p.pending))
	}

	w.mu.Lock()
	w.fail = false
	w.mu.Unlock()
	p.add(quote("BTC-USD", 11, "100"))
	p.flush(context.Background())
	if n := len(w.written()); n != 1 {
		t.Errorf("messages = %d, want 1", n)
	}
}

func TestQuotePublisher_StartStop(t *testing.T) {
	w := &fakeWriter{}
	input := make(chan model.Quote, 10)
	p := newQuotePublisher(Config{BatchTimeout: 5 * time.Millisecond}, input, w, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	input <- quote("BTC-USD", 1, "100")
	deadline := time.Now().Add(time.Second)
	for len(w.written()) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("first quote not flushed")
		}
		time.Sleep(2 * time.Millisecond)
	}

	// Queued at shutdown still goes out.
	input <- quote("ETH-USD", 1, "3000")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	msgs := w.written()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if key := string(msgs[1].Key); key != "ETH-USD" {
		t.Errorf("last key = %q, want ETH-USD", key)
	}
	if !w.closed {
		t.Error("writer not closed")
	}
}

func TestQuotePublisher_InputClosed(t *testing.T) {
	w := &fakeWriter{}
	input := make(chan model.Quote)
	p := newQuotePublisher(Config{}, input, w, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	close(input)
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !w.closed {
		t.Error("writer not closed")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Topic != "l3book.quotes" {
		t.Errorf("Topic = %q, want l3book.quotes", cfg.Topic)
	}
	if cfg.BatchTimeout != 50*time.Millisecond {
		t.Errorf("BatchTimeout = %v, want 50ms", cfg.BatchTimeout)
	}
}

func TestNewQuotePublisher_KafkaWriter(t *testing.T) {
	p := NewQuotePublisher(Config{Brokers: []string{"localhost:9092"}, Topic: "quotes"}, nil, nil)

	kw, ok := p.writer.(*kafka.Writer)
	if !ok {
		t.Fatalf("writer = %T, want *kafka.Writer", p.writer)
	}
	if kw.Topic != "quotes" {
		t.Errorf("Topic = %q, want quotes", kw.Topic)
	}
	if addr := kw.Addr.String(); addr != "localhost:9092" {
		t.Errorf("Addr = %q, want localhost:9092", addr)
	}
	if err := kw.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
