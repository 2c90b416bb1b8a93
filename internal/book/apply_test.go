package book

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/l3book/internal/model"
)

func hdr(seq int64) model.Header {
	return model.Header{Sequence: seq, ProductID: "BTC-USD"}
}

func seededStore(t *testing.T) *Store {
	t.Helper()
	s, err := FromSnapshot(model.Snapshot{
		ProductID: "BTC-USD",
		Sequence:  10,
		Bids:      []model.Order{order("a", model.Buy, "100", "2")},
		Asks:      []model.Order{order("b", model.Sell, "101", "1")},
	})
	require.NoError(t, err)
	return s
}

func TestApply_Walkthrough(t *testing.T) {
	s := seededStore(t)

	require.NoError(t, Apply(s, model.Open{
		Header: hdr(11), OrderID: "c", Side: model.Buy, Price: d("99"), RemainingSize: d("5"),
	}))
	bid, ok := s.Best(model.Buy)
	require.True(t, ok)
	assert.True(t, bid.Equal(d("100")))
	level := s.Level(model.Buy, d("99"))
	require.Len(t, level, 1)
	assert.Equal(t, "c", level[0].ID)
	assert.True(t, level[0].Size.Equal(d("5")))

	require.NoError(t, Apply(s, model.Match{
		Header: hdr(12), MakerOrderID: "a", TakerOrderID: "t", Side: model.Buy, Price: d("100"), Size: d("2"),
	}))
	assert.Nil(t, s.Level(model.Buy, d("100")))
	bid, ok = s.Best(model.Buy)
	require.True(t, ok)
	assert.True(t, bid.Equal(d("99")))

	require.NoError(t, Apply(s, model.Done{
		Header: hdr(13), OrderID: "b", Side: model.Sell, HasPrice: true, Price: d("101"), Reason: model.ReasonCanceled,
	}))
	_, ok = s.Best(model.Sell)
	assert.False(t, ok)
	checkInvariants(t, s)
}

func TestApply_PartialMatchKeepsHead(t *testing.T) {
	s := seededStore(t)

	require.NoError(t, Apply(s, model.Match{
		Header: hdr(11), MakerOrderID: "a", Side: model.Buy, Price: d("100"), Size: d("0.75"),
	}))
	level := s.Level(model.Buy, d("100"))
	require.Len(t, level, 1)
	assert.True(t, level[0].Size.Equal(d("1.25")))
}

func TestApply_MatchFaults(t *testing.T) {
	tests := []struct {
		name  string
		match model.Match
	}{
		{
			name:  "maker is not head",
			match: model.Match{Header: hdr(12), MakerOrderID: "c", Side: model.Buy, Price: d("100"), Size: d("1")},
		},
		{
			name:  "level missing",
			match: model.Match{Header: hdr(12), MakerOrderID: "a", Side: model.Buy, Price: d("98"), Size: d("1")},
		},
		{
			name:  "negative remaining",
			match: model.Match{Header: hdr(12), MakerOrderID: "a", Side: model.Buy, Price: d("100"), Size: d("3")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seededStore(t)
			require.NoError(t, Apply(s, model.Open{
				Header: hdr(11), OrderID: "c", Side: model.Buy, Price: d("100"), RemainingSize: d("1"),
			}))
			before := s.Level(model.Buy, d("100"))

			err := Apply(s, tt.match)
			require.ErrorIs(t, err, ErrInconsistent)

			var fault *Fault
			require.ErrorAs(t, err, &fault)
			assert.Equal(t, "match", fault.Op)
			assert.Equal(t, int64(12), fault.Sequence)
			assert.Equal(t, before, s.Level(model.Buy, d("100")))
			checkInvariants(t, s)
		})
	}
}

func TestApply_DuplicateOpen(t *testing.T) {
	s := seededStore(t)

	err := Apply(s, model.Open{Header: hdr(11), OrderID: "a", Side: model.Sell, Price: d("105"), RemainingSize: d("1")})
	assert.ErrorIs(t, err, ErrInconsistent)
	assert.ErrorIs(t, err, ErrDuplicateOrder)
	assert.Equal(t, 0, s.Depth(model.Sell, d("105")).Orders)
}

func TestApply_DoneCases(t *testing.T) {
	s := seededStore(t)

	// No price: market order with nothing resting.
	require.NoError(t, Apply(s, model.Done{Header: hdr(11), OrderID: "a", Side: model.Buy, Reason: model.ReasonFilled}))
	assert.True(t, s.Contains("a"))

	// Already gone.
	require.NoError(t, Apply(s, model.Done{Header: hdr(12), OrderID: "zzz", Side: model.Buy, HasPrice: true, Price: d("100")}))
	assert.Equal(t, 2, s.Len())
}

func TestApply_Change(t *testing.T) {
	tests := []struct {
		name    string
		change  model.Change
		wantErr bool
		wantLen int
		check   func(t *testing.T, s *Store)
	}{
		{
			name:    "resize keeps position",
			change:  model.Change{Header: hdr(11), OrderID: "a", Side: model.Buy, HasPrice: true, Price: d("100"), NewSize: d("1.5")},
			wantLen: 2,
			check: func(t *testing.T, s *Store) {
				assert.True(t, s.Level(model.Buy, d("100"))[0].Size.Equal(d("1.5")))
			},
		},
		{
			name:    "unknown order is ignored",
			change:  model.Change{Header: hdr(11), OrderID: "market", Side: model.Buy, NewSize: d("1")},
			wantLen: 2,
		},
		{
			name:    "zero size removes",
			change:  model.Change{Header: hdr(11), OrderID: "b", Side: model.Sell, HasPrice: true, Price: d("101"), NewSize: decimal.Zero},
			wantLen: 1,
			check: func(t *testing.T, s *Store) {
				_, ok := s.Best(model.Sell)
				assert.False(t, ok)
			},
		},
		{
			name:    "wrong price",
			change:  model.Change{Header: hdr(11), OrderID: "a", Side: model.Buy, HasPrice: true, Price: d("99"), NewSize: d("1")},
			wantErr: true,
			wantLen: 2,
		},
		{
			name:    "wrong side",
			change:  model.Change{Header: hdr(11), OrderID: "a", Side: model.Sell, NewSize: d("1")},
			wantErr: true,
			wantLen: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seededStore(t)
			err := Apply(s, tt.change)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInconsistent)
				assert.True(t, s.Level(model.Buy, d("100"))[0].Size.Equal(d("2")))
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantLen, s.Len())
			if tt.check != nil {
				tt.check(t, s)
			}
			checkInvariants(t, s)
		})
	}
}

func TestApply_ReceivedIsNoop(t *testing.T) {
	s := seededStore(t)
	require.NoError(t, Apply(s, model.Received{Header: hdr(11), OrderID: "x", Side: model.Buy}))
	assert.Equal(t, 2, s.Len())
}

// randomFeed generates events that are valid against the store they are
// applied to, in order.
type randomFeed struct {
	rng    *rand.Rand
	seq    int64
	nextID int
}

var feedPrices = []string{"98", "99", "100", "100.5", "101", "102", "103"}

func (f *randomFeed) next(s *Store) model.Event {
	f.seq++
	h := hdr(f.seq)

	bids, asks := s.Dump()
	resting := append(bids, asks...)

	switch r := f.rng.Intn(10); {
	case r < 4 || len(resting) == 0:
		f.nextID++
		side := model.Buy
		if f.rng.Intn(2) == 0 {
			side = model.Sell
		}
		size := decimal.New(int64(f.rng.Intn(500)+1), -2)
		return model.Open{
			Header: h, OrderID: fmt.Sprintf("o%d", f.nextID), Side: side,
			Price: d(feedPrices[f.rng.Intn(len(feedPrices))]), RemainingSize: size,
		}
	case r < 6:
		o := resting[f.rng.Intn(len(resting))]
		return model.Done{Header: h, OrderID: o.ID, Side: o.Side, HasPrice: true, Price: o.Price, Reason: model.ReasonCanceled}
	case r < 8:
		side := model.Buy
		if len(bids) == 0 || (len(asks) > 0 && f.rng.Intn(2) == 0) {
			side = model.Sell
		}
		price, _ := s.Best(side)
		head := s.Level(side, price)[0]
		size := head.Size
		if f.rng.Intn(2) == 0 {
			size = head.Size.Div(decimal.NewFromInt(2)).Truncate(4)
		}
		return model.Match{Header: h, MakerOrderID: head.ID, Side: side, Price: price, Size: size}
	case r < 9:
		o := resting[f.rng.Intn(len(resting))]
		return model.Change{
			Header: h, OrderID: o.ID, Side: o.Side, HasPrice: true, Price: o.Price,
			NewSize: decimal.New(int64(f.rng.Intn(300)), -2), OldSize: o.Size,
		}
	default:
		return model.Received{Header: h, OrderID: "r", Side: model.Buy}
	}
}

func TestApply_RandomValidStreamKeepsInvariants(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			s := seededStore(t)
			feed := &randomFeed{rng: rand.New(rand.NewSource(seed)), seq: 10}

			for i := 0; i < 500; i++ {
				ev := feed.next(s)
				require.NoError(t, Apply(s, ev), "event %d (%s)", ev.Seq(), ev.Kind())
				checkInvariants(t, s)
			}
		})
	}
}
