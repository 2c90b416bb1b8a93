package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/l3book/internal/model"
	"github.com/rickgao/l3book/internal/replica"
)

// Book is a replica the poller can checkpoint.
type Book interface {
	ProductID() string
	State() replica.State
	Sequence() int64
	Snapshot() model.BookView
}

// SnapshotHandler receives book checkpoints.
type SnapshotHandler interface {
	HandleSnapshot(ctx context.Context, view model.BookView) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(context.Context, model.BookView) error

func (f SnapshotHandlerFunc) HandleSnapshot(ctx context.Context, v model.BookView) error {
	return f(ctx, v)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Checkpoint interval (default: 5m)
	Concurrency int           // Max concurrent handler calls (default: 4)
	Timeout     time.Duration // Per-checkpoint timeout (default: 30s)
	FinalOnStop bool          // Checkpoint once more during Stop
	SkipUnmoved bool          // Skip books whose sequence has not changed
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		Concurrency: 4,
		Timeout:     30 * time.Second,
		FinalOnStop: true,
		SkipUnmoved: true,
	}
}

// Stats counts checkpoint outcomes.
type Stats struct {
	Cycles  int64
	Written int64
	Skipped int64
	Errors  int64
}

// Poller periodically checkpoints live replicas.
type Poller struct {
	cfg     Config
	books   []Book
	handler SnapshotHandler
	logger  *slog.Logger

	// last checkpointed sequence per product
	mu      sync.Mutex
	lastSeq map[string]int64

	cycles  atomic.Int64
	written atomic.Int64
	skipped atomic.Int64
	errors  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, books []Book, handler SnapshotHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:     cfg,
		books:   books,
		handler: handler,
		logger:  logger,
		lastSeq: make(map[string]int64, len(books)),
	}
}

// Start begins the checkpoint loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("book checkpointer started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
		"books", len(p.books),
	)

	return nil
}

// Stop gracefully shuts down the poller, taking a final checkpoint when
// configured to. The final pass runs under ctx.
func (p *Poller) Stop(ctx context.Context) error {
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
		return ctx.Err()
	}

	if p.cfg.FinalOnStop && p.ctx != nil {
		p.checkpointAll(ctx)
	}
	p.logger.Info("book checkpointer stopped")
	return nil
}

// Stats returns checkpoint counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:  p.cycles.Load(),
		Written: p.written.Load(),
		Skipped: p.skipped.Load(),
		Errors:  p.errors.Load(),
	}
}

// run is the main checkpoint loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.checkpointAll(p.ctx)
		}
	}
}

// checkpointAll copies and hands off every eligible book concurrently.
// One failing book does not stop the others.
func (p *Poller) checkpointAll(ctx context.Context) {
	start := time.Now()
	p.cycles.Add(1)

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	var written, skipped, failed atomic.Int64

	for _, b := range p.books {
		if ctx.Err() != nil {
			break
		}
		if !p.eligible(b) {
			skipped.Add(1)
			continue
		}

		g.Go(func() error {
			wrote, err := p.checkpoint(ctx, b)
			switch {
			case err != nil:
				p.logger.Warn("failed to checkpoint book",
					"product", b.ProductID(),
					"err", err,
				)
				failed.Add(1)
			case wrote:
				written.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	p.written.Add(written.Load())
	p.skipped.Add(skipped.Load())
	p.errors.Add(failed.Load())

	p.logger.Info("checkpoint cycle complete",
		"books", len(p.books),
		"written", written.Load(),
		"skipped", skipped.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

func (p *Poller) eligible(b Book) bool {
	if b.State() != replica.Live {
		return false
	}
	if !p.cfg.SkipUnmoved {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastSeq[b.ProductID()]
	return !ok || b.Sequence() != last
}

// checkpoint copies one book and hands it to the handler.
func (p *Poller) checkpoint(ctx context.Context, b Book) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	view := b.Snapshot()
	if view.State != replica.Live.String() {
		// Went into a resync between the check and the copy.
		return false, nil
	}

	if p.handler != nil {
		if err := p.handler.HandleSnapshot(ctx, view); err != nil {
			return false, err
		}
	}

	p.mu.Lock()
	p.lastSeq[view.ProductID] = view.Sequence
	p.mu.Unlock()
	return true, nil
}
