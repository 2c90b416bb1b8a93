package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/l3book/internal/metrics"
	"github.com/rickgao/l3book/internal/router"
)

const matchesTable = "matches"

// matchRow is one row of the matches table.
type matchRow struct {
	ProductID    string
	TradeID      int64
	Sequence     int64
	MakerOrderID string
	TakerOrderID string
	Side         string
	Price        string
	Size         string
	ExchangeTime *time.Time
	ReceivedAt   time.Time
}

// MatchWriter consumes captured matches from the router and writes them
// to the matches table. Redelivered matches are ignored by the primary key.
type MatchWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from Message Router
	input *router.GrowableBuffer[router.MatchMsg]

	db DB

	// Batching
	batch       []matchRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewMatchWriter creates a new MatchWriter.
func NewMatchWriter(
	cfg WriterConfig,
	input *router.GrowableBuffer[router.MatchMsg],
	db DB,
	logger *slog.Logger,
) *MatchWriter {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &MatchWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]matchRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming matches and writing to the database.
func (w *MatchWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("match writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains what the router already captured and flushes it.
func (w *MatchWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping match writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("match writer stopped")
	case <-ctx.Done():
		w.logger.Warn("match writer stop timed out")
	}

	for _, msg := range w.input.DrainTo(0) {
		w.append(msg)
	}
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *MatchWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (w *MatchWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		msg, ok := w.input.TryReceive()
		if !ok {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		w.handleMessage(msg)
	}
}

// flushLoop periodically flushes the batch.
func (w *MatchWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleMessage adds a match to the batch and flushes a full batch.
func (w *MatchWriter) handleMessage(msg router.MatchMsg) {
	if w.append(msg) {
		w.flush(w.ctx)
	}
}

// append reports whether the batch is full.
func (w *MatchWriter) append(msg router.MatchMsg) bool {
	row := transformMatch(msg)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transformMatch converts a captured match to a matchRow.
func transformMatch(msg router.MatchMsg) matchRow {
	return matchRow{
		ProductID:    msg.ProductID,
		TradeID:      msg.TradeID,
		Sequence:     msg.Sequence,
		MakerOrderID: msg.MakerOrderID,
		TakerOrderID: msg.TakerOrderID,
		Side:         msg.Side.String(),
		Price:        msg.Price.String(),
		Size:         msg.Size.String(),
		ExchangeTime: nullTime(msg.Time),
		ReceivedAt:   msg.ReceivedAt,
	}
}

// flush writes the current batch to the database. A failed batch is
// dropped and counted.
func (w *MatchWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]matchRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if ctx.Err() != nil {
		// Shutdown path: the writer context is gone, use a short one.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	start := time.Now()
	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		metrics.WriterErrors.WithLabelValues(matchesTable).Inc()
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	inserted := len(batch) - conflicts
	metrics.WriterRows.WithLabelValues(matchesTable).Add(float64(inserted))

	w.batchMu.Lock()
	w.metrics.Inserts += int64(inserted)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed matches",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *MatchWriter) batchInsert(ctx context.Context, rows []matchRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO matches (product_id, trade_id, sequence, maker_order_id, taker_order_id, side, price, size, exchange_time, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10)
			ON CONFLICT (product_id, trade_id) DO NOTHING
		`, r.ProductID, r.TradeID, r.Sequence, r.MakerOrderID, r.TakerOrderID, r.Side, r.Price, r.Size, r.ExchangeTime, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
