package replica

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/l3book/internal/model"
)

// Health summarizes the replica for status endpoints. Deciding whether a
// replica that keeps failing is fatal is left to the caller.
type Health struct {
	ProductID           string    `json:"product_id"`
	State               string    `json:"state"`
	Sequence            int64     `json:"sequence"`
	SyncedAt            time.Time `json:"synced_at"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	Resyncs             int64     `json:"resyncs"`
	Applied             int64     `json:"applied"`
	Stale               int64     `json:"stale"`
	Faults              int64     `json:"faults"`
	Pending             int64     `json:"pending"`
	Evicted             int64     `json:"evicted"`
	LastError           string    `json:"last_error,omitempty"`
}

// BestBid returns the highest bid price.
func (r *Replica) BestBid() (decimal.Decimal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Best(model.Buy)
}

// BestAsk returns the lowest ask price.
func (r *Replica) BestAsk() (decimal.Decimal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Best(model.Sell)
}

// DepthAt returns the aggregate size and order count at one price.
func (r *Replica) DepthAt(side model.Side, price decimal.Decimal) model.Depth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Depth(side, price)
}

// Level returns the FIFO queue at one price.
func (r *Replica) Level(side model.Side, price decimal.Decimal) []model.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Level(side, price)
}

// Quote returns the current top of book.
func (r *Replica) Quote() model.Quote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastQuote
}

// Snapshot dumps every resting order together with the sequence it is valid
// as of.
func (r *Replica) Snapshot() model.BookView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bids, asks := r.store.Dump()
	return model.BookView{
		ProductID: r.cfg.ProductID,
		Sequence:  r.seq,
		State:     r.state.String(),
		TakenAt:   time.Now().UTC(),
		Bids:      bids,
		Asks:      asks,
	}
}

// LevelsView is the book aggregated by price, best first.
type LevelsView struct {
	ProductID string        `json:"product_id"`
	Sequence  int64         `json:"sequence"`
	State     string        `json:"state"`
	Bids      []model.Depth `json:"bids"`
	Asks      []model.Depth `json:"asks"`
}

// Levels aggregates the best n levels of each side. Only those levels are
// visited, so it stays cheap on a deep book. n <= 0 returns every level.
func (r *Replica) Levels(n int) LevelsView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return LevelsView{
		ProductID: r.cfg.ProductID,
		Sequence:  r.seq,
		State:     r.state.String(),
		Bids:      r.store.TopLevels(model.Buy, n),
		Asks:      r.store.TopLevels(model.Sell, n),
	}
}

// Sequence returns the last applied sequence number.
func (r *Replica) Sequence() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

func (r *Replica) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// LastMatch returns the most recently applied match.
func (r *Replica) LastMatch() (model.Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastMatch == nil {
		return model.Match{}, false
	}
	return *r.lastMatch, true
}

func (r *Replica) Health() Health {
	r.mu.RLock()
	h := Health{
		ProductID: r.cfg.ProductID,
		State:     r.state.String(),
		Sequence:  r.seq,
		SyncedAt:  r.syncedAt,
	}
	r.mu.RUnlock()

	h.ConsecutiveFailures = r.failures.Load()
	h.Resyncs = r.resyncs.Load()
	h.Applied = r.applied.Load()
	h.Stale = r.stale.Load()
	h.Faults = r.faults.Load()
	h.Pending = r.pendingLen.Load()
	h.Evicted = r.evicted.Load()
	h.LastError, _ = r.lastErr.Load().(string)
	return h
}
