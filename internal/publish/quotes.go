package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rickgao/l3book/internal/metrics"
	"github.com/rickgao/l3book/internal/model"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures the QuotePublisher.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration // flush interval for conflated quotes
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Topic:        "l3book.quotes",
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
}

// Stats counts publisher outcomes.
type Stats struct {
	Received  int64
	Conflated int64
	Published int64
	Failed    int64
}

// QuotePublisher writes quotes keyed by product id.
type QuotePublisher struct {
	cfg    Config
	input  <-chan model.Quote
	writer messageWriter
	logger *slog.Logger

	pending map[string]model.Quote

	received  atomic.Int64
	conflated atomic.Int64
	published atomic.Int64
	failed    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQuotePublisher creates a publisher writing to cfg.Brokers.
func NewQuotePublisher(cfg Config, input <-chan model.Quote, logger *slog.Logger) *QuotePublisher {
	cfg = withDefaults(cfg)
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
	}
	return newQuotePublisher(cfg, input, w, logger)
}

func newQuotePublisher(cfg Config, input <-chan model.Quote, w messageWriter, logger *slog.Logger) *QuotePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuotePublisher{
		cfg:     withDefaults(cfg),
		input:   input,
		writer:  w,
		logger:  logger,
		pending: make(map[string]model.Quote),
	}
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = def.BatchTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return cfg
}

// Start begins publishing.
func (p *QuotePublisher) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("quote publisher started",
		"brokers", p.cfg.Brokers,
		"topic", p.cfg.Topic,
		"batch_timeout", p.cfg.BatchTimeout,
	)
	return nil
}

// Stop flushes pending quotes and closes the writer.
func (p *QuotePublisher) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("quote publisher stop timed out")
		return ctx.Err()
	}

	p.drainInput()
	p.flush(ctx)

	if err := p.writer.Close(); err != nil {
		p.logger.Warn("failed to close kafka writer", "error", err)
	}
	p.logger.Info("quote publisher stopped", "published", p.published.Load())
	return nil
}

// Stats returns current counters.
func (p *QuotePublisher) Stats() Stats {
	return Stats{
		Received:  p.received.Load(),
		Conflated: p.conflated.Load(),
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *QuotePublisher) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.BatchTimeout)
	defer ticker.Stop()

	input := p.input
	for {
		select {
		case <-p.ctx.Done():
			return
		case q, ok := <-input:
			if !ok {
				input = nil
				continue
			}
			p.add(q)
		case <-ticker.C:
			p.flush(p.ctx)
		}
	}
}

// add keeps the last quote received per product. A replica emits its quotes
// in order, and after a resync onto an older snapshot the latest quote can
// carry a lower sequence than the one it replaces.
func (p *QuotePublisher) add(q model.Quote) {
	p.received.Add(1)
	if _, ok := p.pending[q.ProductID]; ok {
		p.conflated.Add(1)
	}
	p.pending[q.ProductID] = q
}

func (p *QuotePublisher) drainInput() {
	for {
		select {
		case q, ok := <-p.input:
			if !ok {
				return
			}
			p.add(q)
		default:
			return
		}
	}
}

// flush writes pending quotes. A failed write drops them; the next quote
// of each product supersedes them anyway.
func (p *QuotePublisher) flush(ctx context.Context) {
	if len(p.pending) == 0 {
		return
	}

	msgs := make([]kafka.Message, 0, len(p.pending))
	for id, q := range p.pending {
		value, err := json.Marshal(q)
		if err != nil {
			p.logger.Error("failed to encode quote", "product", id, "error", err)
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(id),
			Value: value,
			Time:  q.Time,
		})
	}
	clear(p.pending)

	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), p.cfg.WriteTimeout)
		defer cancel()
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.failed.Add(int64(len(msgs)))
		metrics.QuotesDropped.Add(float64(len(msgs)))
		p.logger.Warn("failed to publish quotes", "count", len(msgs), "error", err)
		return
	}
	p.published.Add(int64(len(msgs)))
	metrics.QuotesPublished.Add(float64(len(msgs)))
}
