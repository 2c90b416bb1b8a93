package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/l3book/internal/model"
)

const product = "BTC-USD"

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func row(price, size, id string) model.Order {
	return model.Order{ID: id, Price: d(price), Size: d(size)}
}

func hdr(seq int64) model.Header {
	return model.Header{Sequence: seq, ProductID: product}
}

func openEv(seq int64, id string, side model.Side, price, size string) model.Open {
	return model.Open{Header: hdr(seq), OrderID: id, Side: side, Price: d(price), RemainingSize: d(size)}
}

func matchEv(seq int64, maker string, side model.Side, price, size string) model.Match {
	return model.Match{Header: hdr(seq), TradeID: seq, MakerOrderID: maker, TakerOrderID: "taker", Side: side, Price: d(price), Size: d(size)}
}

func doneEv(seq int64, id string, side model.Side, price string) model.Done {
	return model.Done{Header: hdr(seq), OrderID: id, Side: side, HasPrice: true, Price: d(price), Reason: model.ReasonCanceled}
}

// baseSnapshot is the book at sequence 10: one bid a@100 x2, one ask b@101 x1.
func baseSnapshot() model.Snapshot {
	return model.Snapshot{
		ProductID: product,
		Sequence:  10,
		Bids:      []model.Order{row("100", "2", "a")},
		Asks:      []model.Order{row("101", "1", "b")},
	}
}

// fakeSource serves snapshots in order, repeating the last one. Calls listed
// in gates block until the gate is closed.
type fakeSource struct {
	mu    sync.Mutex
	snaps []model.Snapshot
	errs  int // number of leading calls that fail
	gates map[int]chan struct{}
	calls int
}

func (f *fakeSource) FetchSnapshot(ctx context.Context, productID string) (model.Snapshot, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	gate := f.gates[call]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return model.Snapshot{}, ctx.Err()
		}
	}

	if call <= f.errs {
		return model.Snapshot{}, errors.New("503 service unavailable")
	}
	if productID != product {
		return model.Snapshot{}, fmt.Errorf("unexpected product %q", productID)
	}

	idx := call - f.errs - 1
	if idx >= len(f.snaps) {
		idx = len(f.snaps) - 1
	}
	return f.snaps[idx], nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig() Config {
	return Config{
		ProductID:       product,
		MaxPending:      100,
		SnapshotTimeout: time.Second,
		RetryBaseWait:   time.Millisecond,
		RetryMaxWait:    5 * time.Millisecond,
	}
}

// startReplica starts a replica and stops it when the test ends.
func startReplica(t *testing.T, cfg Config, src SnapshotSource) (*Replica, chan model.Event) {
	t.Helper()

	input := make(chan model.Event, 64)
	r := New(cfg, src, input, nil)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Stop(ctx)
	})
	return r, input
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond, msg)
}

func waitLive(t *testing.T, r *Replica, seq int64) {
	t.Helper()
	waitFor(t, func() bool {
		return r.State() == Live && r.Sequence() == seq
	}, fmt.Sprintf("replica never reached live at sequence %d", seq))
}

// rows flattens orders into comparable strings.
func rows(orders []model.Order) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.Price.String()+"/"+o.Size.String()+"/"+o.ID)
	}
	return out
}
