package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/l3book/internal/metrics"
	"github.com/rickgao/l3book/internal/model"
)

const (
	checkpointsTable      = "book_checkpoints"
	checkpointOrdersTable = "book_checkpoint_orders"
)

// BookWriter stores replica checkpoints. Each checkpoint is one header row
// plus one row per resting order, sent as a single batch so a checkpoint
// is stored whole or not at all.
type BookWriter struct {
	instanceID string
	db         DB
	logger     *slog.Logger
	newID      func() uuid.UUID

	mu      sync.Mutex
	metrics WriterMetrics
}

// NewBookWriter creates a new BookWriter.
func NewBookWriter(instanceID string, db DB, logger *slog.Logger) *BookWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookWriter{
		instanceID: instanceID,
		db:         db,
		logger:     logger,
		newID:      uuid.New,
	}
}

// HandleSnapshot writes one checkpoint.
func (w *BookWriter) HandleSnapshot(ctx context.Context, view model.BookView) error {
	start := time.Now()
	id := w.newID()

	batch := w.buildBatch(id, view)
	if err := w.send(ctx, batch); err != nil {
		metrics.WriterErrors.WithLabelValues(checkpointsTable).Inc()
		w.mu.Lock()
		w.metrics.Errors++
		w.mu.Unlock()
		return fmt.Errorf("write checkpoint %s: %w", view.ProductID, err)
	}

	orders := len(view.Bids) + len(view.Asks)
	metrics.WriterRows.WithLabelValues(checkpointsTable).Inc()
	metrics.WriterRows.WithLabelValues(checkpointOrdersTable).Add(float64(orders))

	w.mu.Lock()
	w.metrics.Inserts += int64(1 + orders)
	w.metrics.Flushes++
	w.mu.Unlock()

	w.logger.Info("book checkpoint written",
		"product", view.ProductID,
		"checkpoint_id", id,
		"sequence", view.Sequence,
		"orders", orders,
		"duration", time.Since(start),
	)
	return nil
}

// Stats returns current metrics.
func (w *BookWriter) Stats() WriterMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

func (w *BookWriter) buildBatch(id uuid.UUID, view model.BookView) *pgx.Batch {
	var bestBid, bestAsk *string
	if len(view.Bids) > 0 {
		s := view.Bids[0].Price.String()
		bestBid = &s
	}
	if len(view.Asks) > 0 {
		s := view.Asks[0].Price.String()
		bestAsk = &s
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO book_checkpoints (checkpoint_id, instance_id, product_id, sequence, taken_at, bid_orders, ask_orders, best_bid, best_ask)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric)
	`, id, w.instanceID, view.ProductID, view.Sequence, view.TakenAt, len(view.Bids), len(view.Asks), bestBid, bestAsk)

	queueOrders(batch, id, model.Buy, view.Bids)
	queueOrders(batch, id, model.Sell, view.Asks)
	return batch
}

func queueOrders(batch *pgx.Batch, id uuid.UUID, side model.Side, orders []model.Order) {
	for i, o := range orders {
		batch.Queue(`
			INSERT INTO book_checkpoint_orders (checkpoint_id, side, position, order_id, price, size)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric)
		`, id, side.String(), i, o.ID, o.Price.String(), o.Size.String())
	}
}

// send runs the batch. pgx runs a batch without transaction control
// statements in one implicit transaction.
func (w *BookWriter) send(ctx context.Context, batch *pgx.Batch) error {
	results := w.db.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return err
		}
	}
	return results.Close()
}
