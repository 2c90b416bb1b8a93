package replica

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/l3book/internal/book"
	"github.com/rickgao/l3book/internal/metrics"
	"github.com/rickgao/l3book/internal/model"
)

// SnapshotSource returns a full level 3 book for a product.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, productID string) (model.Snapshot, error)
}

// Config configures a Replica.
type Config struct {
	ProductID string

	// MaxPending bounds the events buffered during a resync.
	MaxPending int
	Eviction   Eviction

	// SnapshotTimeout bounds a single snapshot attempt.
	SnapshotTimeout time.Duration
	RetryBaseWait   time.Duration
	RetryMaxWait    time.Duration

	// Quotes receives the top of book whenever it changes. Sends never
	// block; a full channel drops the quote. Optional.
	Quotes chan<- model.Quote
}

func (c *Config) applyDefaults() {
	if c.MaxPending <= 0 {
		c.MaxPending = 10000
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = 10 * time.Second
	}
	if c.RetryBaseWait <= 0 {
		c.RetryBaseWait = 500 * time.Millisecond
	}
	if c.RetryMaxWait < c.RetryBaseWait {
		c.RetryMaxWait = 30 * time.Second
		if c.RetryMaxWait < c.RetryBaseWait {
			c.RetryMaxWait = c.RetryBaseWait
		}
	}
}

// fetched is a snapshot ready to be installed.
type fetched struct {
	snap    model.Snapshot
	store   *book.Store
	elapsed time.Duration
}

// Replica is a live level 3 book of one product.
type Replica struct {
	cfg    Config
	source SnapshotSource
	input  <-chan model.Event
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Guarded by mu. Written only by the run goroutine, and by Stop for state.
	mu        sync.RWMutex
	store     *book.Store
	seq       int64
	state     State
	lastMatch *model.Match
	lastQuote model.Quote
	syncedAt  time.Time

	// Owned by the run goroutine.
	resyncing bool
	replaying bool // set while install replays buffered events
	pending   *pendingBuffer
	snapshots chan fetched
	requests  chan string // external resync requests

	// Health counters, readable from any goroutine.
	failures   atomic.Int64
	resyncs    atomic.Int64
	applied    atomic.Int64
	stale      atomic.Int64
	faults     atomic.Int64
	evicted    atomic.Int64
	pendingLen atomic.Int64
	lastErr    atomic.Value // string

	started  atomic.Bool
	stopOnce sync.Once
}

// New creates a replica reading events from input. Nothing runs until Start.
func New(cfg Config, source SnapshotSource, input <-chan model.Event, logger *slog.Logger) *Replica {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	r := &Replica{
		cfg:       cfg,
		source:    source,
		input:     input,
		logger:    logger.With("product", cfg.ProductID),
		store:     book.NewStore(),
		state:     Uninitialized,
		pending:   newPendingBuffer(cfg.MaxPending, cfg.Eviction),
		snapshots: make(chan fetched),
		requests:  make(chan string, 1),
	}
	r.lastQuote = model.Quote{ProductID: cfg.ProductID}
	r.lastErr.Store("")
	metrics.BookState.WithLabelValues(cfg.ProductID).Set(float64(Uninitialized))
	return r
}

// ProductID returns the product this replica tracks.
func (r *Replica) ProductID() string {
	return r.cfg.ProductID
}

// Start fetches the first snapshot and begins consuming events.
func (r *Replica) Start(ctx context.Context) error {
	if r.State() == Closed {
		return ErrClosed
	}
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.startResync("initial")

	r.wg.Add(1)
	go r.run()

	r.logger.Info("replica started",
		"max_pending", r.cfg.MaxPending,
		"eviction", r.cfg.Eviction,
	)
	return nil
}

// Stop cancels the replica and waits for the current apply or resync step
// to finish, then marks it Closed. Queries keep returning the last
// consistent book. Stop is safe to call more than once and before Start.
func (r *Replica) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}

		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			r.logger.Warn("shutdown timeout, closing replica anyway")
		}

		r.setState(Closed)
		r.logger.Info("replica stopped", "sequence", r.Sequence())
	})
	return nil
}

// Resync asks the replica to discard its book and refetch a snapshot, for
// example after a reconnect or a product coming back online. A resync
// already in flight absorbs the request. Returns false if the replica is
// not running or a request is already queued.
func (r *Replica) Resync(reason string) bool {
	if !r.started.Load() || r.State() == Closed {
		return false
	}
	select {
	case r.requests <- reason:
		return true
	default:
		return false
	}
}

// run is the single writer: every event and every snapshot install is
// handled here.
func (r *Replica) run() {
	defer r.wg.Done()

	input := r.input
	for {
		select {
		case <-r.ctx.Done():
			return

		case f := <-r.snapshots:
			r.install(f)

		case reason := <-r.requests:
			r.startResync(reason)

		case ev, ok := <-input:
			if !ok {
				r.logger.Info("event input closed")
				input = nil
				continue
			}
			r.OnEvent(ev)
		}
	}
}

// OnEvent runs one event through the sequence gate and applies it when it
// is next in sequence.
//
// After Start it is called by the run goroutine only. Before Start events
// are buffered for the initial resync.
func (r *Replica) OnEvent(ev model.Event) Action {
	if r.State() == Closed {
		return Drop
	}
	if r.resyncing || !r.started.Load() {
		r.buffer(ev)
		return AlreadySyncing
	}

	action := Classify(r.seq, ev.Seq())
	switch action {
	case Drop:
		r.stale.Add(1)
		metrics.EventsStale.WithLabelValues(r.cfg.ProductID).Inc()
		r.logger.Debug("dropping stale event",
			"sequence", ev.Seq(),
			"current", r.seq,
			"type", ev.Kind(),
		)

	case GapResync:
		metrics.SequenceGaps.WithLabelValues(r.cfg.ProductID).Inc()
		r.logger.Warn("sequence gap detected",
			"expected", r.seq+1,
			"got", ev.Seq(),
			"gap", ev.Seq()-r.seq-1,
		)
		r.setLastError(fmt.Errorf("%w: expected %d got %d", ErrSequenceGap, r.seq+1, ev.Seq()))
		r.buffer(ev)
		r.startResync("gap")

	case Apply:
		if err := r.apply(ev); err != nil {
			r.faults.Add(1)
			metrics.BookFaults.WithLabelValues(r.cfg.ProductID, ev.Kind().String()).Inc()
			r.logger.Warn("book fault, resyncing", "error", err)
			r.setLastError(err)
			// The store is untouched, so the event may still be replayed
			// on top of the next snapshot.
			r.buffer(ev)
			r.startResync("fault")
			return GapResync
		}
	}
	return action
}

// apply mutates the store under the write lock.
func (r *Replica) apply(ev model.Event) error {
	r.mu.Lock()
	if r.state == Closed {
		r.mu.Unlock()
		return nil
	}
	if err := book.Apply(r.store, ev); err != nil {
		r.mu.Unlock()
		return err
	}
	r.seq = ev.Seq()
	if m, ok := ev.(model.Match); ok {
		r.lastMatch = &m
	}
	quote, changed := r.refreshQuoteLocked(ev)
	r.mu.Unlock()

	r.applied.Add(1)
	metrics.EventsApplied.WithLabelValues(r.cfg.ProductID, ev.Kind().String()).Inc()
	metrics.BookSequence.WithLabelValues(r.cfg.ProductID).Set(float64(ev.Seq()))
	if changed {
		r.emitQuote(quote)
	}
	return nil
}

func (r *Replica) buffer(ev model.Event) {
	if r.pending.push(ev) {
		r.evicted.Add(1)
		metrics.PendingEvicted.WithLabelValues(r.cfg.ProductID).Inc()
		r.logger.Warn("resync buffer full, evicting event",
			"policy", r.cfg.Eviction,
			"capacity", r.cfg.MaxPending,
		)
	}
	r.pendingLen.Store(int64(r.pending.len()))
}

// startResync moves to Syncing and starts fetching a snapshot. The current
// book stays readable until the new one is installed.
//
// A resync started while replaying onto a fresh snapshot means that snapshot
// could not carry the buffered events. It counts as a failed attempt and the
// next fetch waits out the backoff.
func (r *Replica) startResync(reason string) {
	if r.resyncing {
		return
	}
	r.resyncing = true
	r.resyncs.Add(1)
	metrics.Resyncs.WithLabelValues(r.cfg.ProductID, reason).Inc()
	r.setState(Syncing)

	var delay time.Duration
	if r.replaying {
		n := r.failures.Add(1)
		metrics.SnapshotFailures.WithLabelValues(r.cfg.ProductID).Inc()
		delay = r.backoff(n)
		r.logger.Warn("snapshot did not cover buffered events, retrying",
			"attempt", n,
			"backoff", delay,
			"reason", reason,
		)
	}

	r.logger.Info("resync started", "reason", reason, "sequence", r.seq)

	r.wg.Add(1)
	go r.fetchLoop(delay)
}

// backoff returns the wait after n consecutive failed attempts: the base
// wait doubled per attempt up to RetryMaxWait, with jitter of 0.5 to 1.5.
func (r *Replica) backoff(n int64) time.Duration {
	wait := r.cfg.RetryBaseWait
	for i := int64(1); i < n && wait < r.cfg.RetryMaxWait; i++ {
		wait *= 2
	}
	if wait > r.cfg.RetryMaxWait {
		wait = r.cfg.RetryMaxWait
	}
	return wait/2 + time.Duration(rand.Int64N(int64(wait)))
}

// fetchLoop waits delay, then retries the snapshot until one succeeds or the
// replica stops. The failure counter is reset once the replica goes live.
func (r *Replica) fetchLoop(delay time.Duration) {
	defer r.wg.Done()

	for {
		if delay > 0 {
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		f, err := r.fetchOnce()
		if err == nil {
			select {
			case r.snapshots <- f:
			case <-r.ctx.Done():
			}
			return
		}
		if r.ctx.Err() != nil {
			return
		}

		n := r.failures.Add(1)
		r.setLastError(err)
		metrics.SnapshotFailures.WithLabelValues(r.cfg.ProductID).Inc()

		delay = r.backoff(n)
		r.logger.Warn("snapshot fetch failed, retrying",
			"attempt", n,
			"backoff", delay,
			"error", err,
		)
	}
}

// fetchOnce fetches a snapshot and builds its store off-lock.
func (r *Replica) fetchOnce() (fetched, error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.SnapshotTimeout)
	defer cancel()

	start := time.Now()
	snap, err := r.source.FetchSnapshot(ctx, r.cfg.ProductID)
	if err != nil {
		return fetched{}, fmt.Errorf("%w: %w", ErrSnapshotFetch, err)
	}
	if snap.Sequence <= 0 {
		return fetched{}, fmt.Errorf("%w: invalid sequence %d", ErrSnapshotFetch, snap.Sequence)
	}

	store, err := book.FromSnapshot(snap)
	if err != nil {
		return fetched{}, fmt.Errorf("%w: %w", ErrSnapshotFetch, err)
	}
	return fetched{snap: snap, store: store, elapsed: time.Since(start)}, nil
}

// install swaps in a fetched book and replays buffered events on top.
func (r *Replica) install(f fetched) {
	r.mu.Lock()
	if r.state == Closed {
		r.mu.Unlock()
		return
	}
	previous := r.seq
	r.store = f.store
	r.seq = f.snap.Sequence
	r.syncedAt = time.Now()
	quote, changed := r.refreshQuoteLocked(nil)
	r.mu.Unlock()

	r.resyncing = false
	metrics.SnapshotLatency.WithLabelValues(r.cfg.ProductID).Observe(f.elapsed.Seconds())
	metrics.BookSequence.WithLabelValues(r.cfg.ProductID).Set(float64(f.snap.Sequence))
	if changed {
		r.emitQuote(quote)
	}

	pending := r.pending.drain()
	r.pendingLen.Store(0)

	r.logger.Info("snapshot installed",
		"sequence", f.snap.Sequence,
		"previous", previous,
		"bids", len(f.snap.Bids),
		"asks", len(f.snap.Asks),
		"pending", len(pending),
		"elapsed", f.elapsed,
	)

	r.replaying = true
	for _, ev := range pending {
		r.OnEvent(ev)
	}
	r.replaying = false

	if !r.resyncing {
		r.failures.Store(0)
		r.setState(Live)
		r.setLastError(nil)
		r.logger.Info("replica live", "sequence", r.seq)
	}
	r.updateOrderGauges()
}

// refreshQuoteLocked recomputes the top of book. Must be called with mu held.
func (r *Replica) refreshQuoteLocked(ev model.Event) (model.Quote, bool) {
	q := model.Quote{ProductID: r.cfg.ProductID, Sequence: r.seq, Time: time.Now()}
	if ev != nil {
		if h, ok := eventTime(ev); ok {
			q.Time = h
		}
	}
	if d, ok := r.store.TopDepth(model.Buy); ok {
		q.HasBid, q.BidPrice, q.BidSize = true, d.Price, d.Size
	}
	if d, ok := r.store.TopDepth(model.Sell); ok {
		q.HasAsk, q.AskPrice, q.AskSize = true, d.Price, d.Size
	}
	if q.SameTop(r.lastQuote) {
		return q, false
	}
	r.lastQuote = q
	return q, true
}

func (r *Replica) emitQuote(q model.Quote) {
	if r.cfg.Quotes == nil {
		return
	}
	select {
	case r.cfg.Quotes <- q:
	default:
		metrics.QuotesDropped.Inc()
	}
}

func (r *Replica) updateOrderGauges() {
	r.mu.RLock()
	bids, asks := r.store.Levels(model.Buy), r.store.Levels(model.Sell)
	orders := r.store.Len()
	r.mu.RUnlock()

	metrics.BookOrders.WithLabelValues(r.cfg.ProductID).Set(float64(orders))
	metrics.BookLevels.WithLabelValues(r.cfg.ProductID, model.Buy.String()).Set(float64(bids))
	metrics.BookLevels.WithLabelValues(r.cfg.ProductID, model.Sell.String()).Set(float64(asks))
}

func (r *Replica) setState(s State) {
	r.mu.Lock()
	if r.state == Closed {
		r.mu.Unlock()
		return
	}
	r.state = s
	r.mu.Unlock()
	metrics.BookState.WithLabelValues(r.cfg.ProductID).Set(float64(s))
}

func (r *Replica) setLastError(err error) {
	if err == nil {
		r.lastErr.Store("")
		return
	}
	r.lastErr.Store(err.Error())
}

func eventTime(ev model.Event) (time.Time, bool) {
	var t time.Time
	switch e := ev.(type) {
	case model.Open:
		t = e.Time
	case model.Done:
		t = e.Time
	case model.Match:
		t = e.Time
	case model.Change:
		t = e.Time
	case model.Received:
		t = e.Time
	}
	return t, !t.IsZero()
}
