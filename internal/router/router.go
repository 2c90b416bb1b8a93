package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/l3book/internal/connection"
	"github.com/rickgao/l3book/internal/metrics"
	"github.com/rickgao/l3book/internal/model"
)

// Router decodes raw feed frames and fans book events out per product.
type Router interface {
	// Start begins routing messages from the input channel.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router and closes every output.
	Stop(ctx context.Context) error

	// Events returns the event channel of a product registered at construction.
	Events(productID string) (<-chan model.Event, bool)

	// Matches returns captured matches, or nil when capture is disabled.
	Matches() *GrowableBuffer[MatchMsg]

	// Stats returns current router statistics.
	Stats() RouterStats
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	ControlMessages  int64
	UnknownMessages  int64
	UnknownProducts  int64
	Dropped          int64
	FeedErrors       int64
	MatchBuffer      BufferStats
}

// router is the internal implementation.
type router struct {
	cfg    RouterConfig
	logger *slog.Logger

	// Input from Connection Manager
	input <-chan connection.RawMessage

	// Output to replicas; the map is fixed after construction.
	outputs  map[string]chan model.Event
	matchBuf *GrowableBuffer[MatchMsg]

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	received        atomic.Int64
	routed          atomic.Int64
	parseErrors     atomic.Int64
	control         atomic.Int64
	unknownMessages atomic.Int64
	unknownProducts atomic.Int64
	dropped         atomic.Int64
	feedErrors      atomic.Int64
}

// NewRouter creates a new Message Router with one output per product.
func NewRouter(cfg RouterConfig, products []string, input <-chan connection.RawMessage, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProductBufferSize <= 0 {
		cfg.ProductBufferSize = DefaultRouterConfig().ProductBufferSize
	}

	r := &router{
		cfg:     cfg,
		logger:  logger,
		input:   input,
		outputs: make(map[string]chan model.Event, len(products)),
	}
	for _, p := range products {
		r.outputs[p] = make(chan model.Event, cfg.ProductBufferSize)
	}
	if cfg.MatchBufferLimit > 0 {
		r.matchBuf = NewBoundedBuffer[MatchMsg](cfg.MatchBufferSize, cfg.MatchBufferLimit)
	}
	return r
}

// Start begins routing messages.
func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("message router started",
		"products", len(r.outputs),
		"product_buffer", r.cfg.ProductBufferSize,
		"capture_matches", r.matchBuf != nil,
	)

	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	var err error
	r.stopOnce.Do(func() {
		r.logger.Info("stopping message router")

		if r.cancel != nil {
			r.cancel()
		}

		// Wait for goroutine to finish
		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			r.logger.Info("message router stopped")
		case <-ctx.Done():
			r.logger.Warn("message router stop timed out")
			err = ctx.Err()
			return
		}

		for _, ch := range r.outputs {
			close(ch)
		}
		if r.matchBuf != nil {
			r.matchBuf.Close()
		}
	})
	return err
}

// Events returns the event channel for a product.
func (r *router) Events(productID string) (<-chan model.Event, bool) {
	ch, ok := r.outputs[productID]
	return ch, ok
}

// Matches returns the match capture buffer.
func (r *router) Matches() *GrowableBuffer[MatchMsg] {
	return r.matchBuf
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	stats := RouterStats{
		MessagesReceived: r.received.Load(),
		MessagesRouted:   r.routed.Load(),
		ParseErrors:      r.parseErrors.Load(),
		ControlMessages:  r.control.Load(),
		UnknownMessages:  r.unknownMessages.Load(),
		UnknownProducts:  r.unknownProducts.Load(),
		Dropped:          r.dropped.Load(),
		FeedErrors:       r.feedErrors.Load(),
	}
	if r.matchBuf != nil {
		stats.MatchBuffer = r.matchBuf.Stats()
	}
	return stats
}

// routeLoop is the main routing goroutine.
func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.route(raw)
		}
	}
}

// route decodes and routes a single frame.
func (r *router) route(raw connection.RawMessage) {
	r.received.Add(1)

	msgType, err := model.MessageType(raw.Data)
	if err != nil {
		r.parseFailed(fmt.Errorf("%w: %v", model.ErrMalformedEvent, err))
		return
	}
	metrics.RouterMessages.WithLabelValues(msgType).Inc()

	if !model.IsBookType(msgType) {
		r.skip(msgType, raw.Data)
		return
	}

	ev, err := model.Decode(raw.Data)
	if err != nil {
		r.parseFailed(err)
		return
	}

	out, ok := r.outputs[ev.Product()]
	if !ok {
		r.unknownProducts.Add(1)
		r.logger.Debug("event for unsubscribed product", "product", ev.Product())
		return
	}

	select {
	case out <- ev:
		r.routed.Add(1)
	default:
		r.dropped.Add(1)
		metrics.RouterDropped.WithLabelValues(ev.Product()).Inc()
		r.logger.Warn("product buffer full, dropping event",
			"product", ev.Product(),
			"seq", ev.Seq(),
		)
	}

	if m, isMatch := ev.(model.Match); isMatch && r.matchBuf != nil {
		r.matchBuf.Send(MatchMsg{Match: m, Session: raw.Session, ReceivedAt: raw.ReceivedAt})
	}
}

func (r *router) skip(msgType string, data []byte) {
	switch {
	case msgType == "error":
		r.feedErrors.Add(1)
		r.logger.Warn("feed error message", "message", string(data))
	case controlTypes[msgType]:
		r.control.Add(1)
	default:
		r.unknownMessages.Add(1)
		r.logger.Debug("skipping message type", "type", msgType)
	}
}

func (r *router) parseFailed(err error) {
	r.parseErrors.Add(1)
	metrics.MalformedEvents.Inc()
	if errors.Is(err, model.ErrMalformedEvent) {
		r.logger.Warn("dropping malformed event", "error", err)
		return
	}
	r.logger.Warn("failed to decode message", "error", err)
}
