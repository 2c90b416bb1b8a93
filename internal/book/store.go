package book

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/rickgao/l3book/internal/model"
)

// priceLevel holds the orders resting at one price, sorted by time added
// as they are appended at the tail.
type priceLevel struct {
	price  decimal.Decimal
	orders []*model.Order
}

func (l *priceLevel) depth() model.Depth {
	d := model.Depth{Price: l.price, Size: decimal.Zero, Orders: len(l.orders)}
	for _, o := range l.orders {
		d.Size = d.Size.Add(o.Size)
	}
	return d
}

type priceLevels = btree.BTreeG[*priceLevel]

// location is where an order id currently rests.
type location struct {
	side  model.Side
	price decimal.Decimal
}

// Store is the price-level store of one product.
type Store struct {
	bids  *priceLevels
	asks  *priceLevels
	index map[string]location
}

// NewStore creates an empty store.
func NewStore() *Store {
	opts := btree.Options{NoLocks: true}
	return &Store{
		// Sorted greatest first.
		bids: btree.NewBTreeGOptions(func(a, b *priceLevel) bool {
			return a.price.GreaterThan(b.price)
		}, opts),
		// Sorted least first.
		asks: btree.NewBTreeGOptions(func(a, b *priceLevel) bool {
			return a.price.LessThan(b.price)
		}, opts),
		index: make(map[string]location),
	}
}

// FromSnapshot builds a store holding every snapshot row. Each row becomes a
// single order appended to its level, so snapshot order is preserved as FIFO
// priority.
func FromSnapshot(snap model.Snapshot) (*Store, error) {
	s := NewStore()
	for _, o := range snap.Bids {
		o.Side = model.Buy
		if err := s.Add(o); err != nil {
			return nil, fmt.Errorf("snapshot bid %s: %w", o.ID, err)
		}
	}
	for _, o := range snap.Asks {
		o.Side = model.Sell
		if err := s.Add(o); err != nil {
			return nil, fmt.Errorf("snapshot ask %s: %w", o.ID, err)
		}
	}
	return s, nil
}

func (s *Store) levels(side model.Side) *priceLevels {
	if side == model.Buy {
		return s.bids
	}
	return s.asks
}

// level returns the level at price, if present. Levels comparator only
// accounts for price, so a dummy level is used for the search.
func (s *Store) level(side model.Side, price decimal.Decimal) (*priceLevel, bool) {
	return s.levels(side).GetMut(&priceLevel{price: price})
}

// Add appends an order at the tail of its price level.
func (s *Store) Add(o model.Order) error {
	if o.Side != model.Buy && o.Side != model.Sell {
		return fmt.Errorf("add order %s: invalid side", o.ID)
	}
	if _, ok := s.index[o.ID]; ok {
		return ErrDuplicateOrder
	}

	order := o
	if lvl, ok := s.level(o.Side, o.Price); ok {
		lvl.orders = append(lvl.orders, &order)
	} else {
		s.levels(o.Side).Set(&priceLevel{
			price:  o.Price,
			orders: []*model.Order{&order},
		})
	}
	s.index[o.ID] = location{side: o.Side, price: o.Price}
	return nil
}

// Remove deletes an order from its level and drops the level once empty.
// It reports whether the order was found; a missing order is not an error.
func (s *Store) Remove(side model.Side, price decimal.Decimal, id string) bool {
	lvl, ok := s.level(side, price)
	if !ok {
		return false
	}
	for i, o := range lvl.orders {
		if o.ID != id {
			continue
		}
		lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
		delete(s.index, id)
		if len(lvl.orders) == 0 {
			s.levels(side).Delete(lvl)
		}
		return true
	}
	return false
}

// DecrementHead reduces the size of the order at the head of a level. The
// head must be makerID and hold at least amount; otherwise a Fault is
// returned and nothing is modified.
func (s *Store) DecrementHead(side model.Side, price decimal.Decimal, makerID string, amount decimal.Decimal) error {
	lvl, ok := s.level(side, price)
	if !ok {
		return &Fault{Op: "decrement_head", OrderID: makerID, Reason: fmt.Sprintf("no %s level at %s", side, price)}
	}
	head := lvl.orders[0]
	if head.ID != makerID {
		return &Fault{Op: "decrement_head", OrderID: makerID, Reason: fmt.Sprintf("head of %s %s is %s", side, price, head.ID)}
	}
	remaining := head.Size.Sub(amount)
	if remaining.IsNegative() {
		return &Fault{Op: "decrement_head", OrderID: makerID, Reason: fmt.Sprintf("size %s below match %s", head.Size, amount)}
	}
	head.Size = remaining
	return nil
}

// PopHeadIfExhausted removes the head of a level when it is id and its size
// reached zero. It reports whether the head was removed.
func (s *Store) PopHeadIfExhausted(side model.Side, price decimal.Decimal, id string) bool {
	lvl, ok := s.level(side, price)
	if !ok {
		return false
	}
	head := lvl.orders[0]
	if head.ID != id || !head.Size.IsZero() {
		return false
	}
	lvl.orders[0] = nil
	lvl.orders = lvl.orders[1:]
	delete(s.index, id)
	if len(lvl.orders) == 0 {
		s.levels(side).Delete(lvl)
	}
	return true
}

// SetSize replaces the size of a resting order, keeping its queue position.
// A zero size removes the order. It reports whether the order was found.
func (s *Store) SetSize(id string, size decimal.Decimal) bool {
	loc, ok := s.index[id]
	if !ok {
		return false
	}
	if size.IsZero() {
		return s.Remove(loc.side, loc.price, id)
	}
	lvl, ok := s.level(loc.side, loc.price)
	if !ok {
		return false
	}
	for _, o := range lvl.orders {
		if o.ID == id {
			o.Size = size
			return true
		}
	}
	return false
}

// Locate returns the side and price an order id rests at.
func (s *Store) Locate(id string) (model.Side, decimal.Decimal, bool) {
	loc, ok := s.index[id]
	return loc.side, loc.price, ok
}

// Contains reports whether an order id is resting.
func (s *Store) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Best returns the best price of a side: highest bid or lowest ask.
func (s *Store) Best(side model.Side) (decimal.Decimal, bool) {
	// Min accounts for bids and asks being in inverse order.
	lvl, ok := s.levels(side).Min()
	if !ok {
		return decimal.Decimal{}, false
	}
	return lvl.price, true
}

// Level returns a copy of the FIFO queue at a price. Nil when absent.
func (s *Store) Level(side model.Side, price decimal.Decimal) []model.Order {
	lvl, ok := s.level(side, price)
	if !ok {
		return nil
	}
	return copyOrders(lvl.orders, nil)
}

// Depth returns the aggregate size and order count at a price.
func (s *Store) Depth(side model.Side, price decimal.Decimal) model.Depth {
	d := model.Depth{Price: price, Size: decimal.Zero}
	lvl, ok := s.level(side, price)
	if !ok {
		return d
	}
	return lvl.depth()
}

// TopDepth returns the depth of the best level of a side.
func (s *Store) TopDepth(side model.Side) (model.Depth, bool) {
	price, ok := s.Best(side)
	if !ok {
		return model.Depth{}, false
	}
	return s.Depth(side, price), true
}

// TopLevels aggregates the best n levels of a side, best first. n <= 0
// returns every level. Levels past n are not visited.
func (s *Store) TopLevels(side model.Side, n int) []model.Depth {
	levels := s.levels(side)
	size := levels.Len()
	if n > 0 && n < size {
		size = n
	}
	out := make([]model.Depth, 0, size)
	levels.Scan(func(lvl *priceLevel) bool {
		out = append(out, lvl.depth())
		return len(out) < cap(out)
	})
	return out
}

// Dump returns every resting order: bids high to low, asks low to high,
// FIFO within a level.
func (s *Store) Dump() (bids, asks []model.Order) {
	bids = make([]model.Order, 0, s.countSide(model.Buy))
	asks = make([]model.Order, 0, s.countSide(model.Sell))
	s.bids.Scan(func(lvl *priceLevel) bool {
		bids = copyOrders(lvl.orders, bids)
		return true
	})
	s.asks.Scan(func(lvl *priceLevel) bool {
		asks = copyOrders(lvl.orders, asks)
		return true
	})
	return bids, asks
}

// Len returns the number of resting orders.
func (s *Store) Len() int {
	return len(s.index)
}

// Levels returns the number of price levels on a side.
func (s *Store) Levels(side model.Side) int {
	return s.levels(side).Len()
}

func (s *Store) countSide(side model.Side) int {
	n := 0
	for _, loc := range s.index {
		if loc.side == side {
			n++
		}
	}
	return n
}

func copyOrders(src []*model.Order, dst []model.Order) []model.Order {
	if dst == nil {
		dst = make([]model.Order, 0, len(src))
	}
	for _, o := range src {
		dst = append(dst, *o)
	}
	return dst
}
