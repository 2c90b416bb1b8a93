package writer

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB records batches. Statements whose index is in conflict affect
// no rows; failAt fails the nth statement of every batch (1-based).
type fakeDB struct {
	mu       sync.Mutex
	batches  []*pgx.Batch
	conflict map[int]bool
	failAt   int
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	f.batches = append(f.batches, b)
	f.mu.Unlock()
	return &fakeResults{db: f, n: b.Len()}
}

func (f *fakeDB) queued() []*pgx.QueuedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*pgx.QueuedQuery
	for _, b := range f.batches {
		out = append(out, b.QueuedQueries...)
	}
	return out
}

type fakeResults struct {
	db   *fakeDB
	n    int
	next int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	r.next++
	if r.next > r.n {
		return pgconn.CommandTag{}, errors.New("no result")
	}
	if r.db.failAt == r.next {
		return pgconn.CommandTag{}, errors.New("connection reset")
	}
	if r.db.conflict[r.next] {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (r *fakeResults) QueryRow() pgx.Row {
	return nil
}

func (r *fakeResults) Close() error {
	return nil
}
