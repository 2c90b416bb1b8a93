package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/l3book/internal/model"
)

// ToSnapshot converts a level 3 book response to model.Snapshot. Row order
// is kept, which is FIFO priority within a price.
func (b *BookResponse) ToSnapshot(productID string) (model.Snapshot, error) {
	snap := model.Snapshot{
		ProductID: productID,
		Sequence:  b.Sequence,
		Bids:      make([]model.Order, 0, len(b.Bids)),
		Asks:      make([]model.Order, 0, len(b.Asks)),
	}

	for i, row := range b.Bids {
		o, err := row.toOrder(model.Buy)
		if err != nil {
			return model.Snapshot{}, fmt.Errorf("bid row %d: %w", i, err)
		}
		snap.Bids = append(snap.Bids, o)
	}
	for i, row := range b.Asks {
		o, err := row.toOrder(model.Sell)
		if err != nil {
			return model.Snapshot{}, fmt.Errorf("ask row %d: %w", i, err)
		}
		snap.Asks = append(snap.Asks, o)
	}

	return snap, nil
}

func (r BookRow) toOrder(side model.Side) (model.Order, error) {
	if len(r) < 3 {
		return model.Order{}, fmt.Errorf("want 3 fields, got %d", len(r))
	}

	price, err := decimal.NewFromString(rawString(r[0]))
	if err != nil {
		return model.Order{}, fmt.Errorf("price: %w", err)
	}
	size, err := decimal.NewFromString(rawString(r[1]))
	if err != nil {
		return model.Order{}, fmt.Errorf("size: %w", err)
	}
	id := rawString(r[2])
	if id == "" {
		return model.Order{}, fmt.Errorf("empty order id")
	}

	return model.Order{ID: id, Side: side, Price: price, Size: size}, nil
}

// rawString returns a JSON string's value, or the literal text of any
// other JSON value.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Parse returns the server time. ISO is preferred; epoch is the fallback.
func (t *TimeResponse) Parse() time.Time {
	if ts, err := time.Parse(time.RFC3339Nano, t.ISO); err == nil {
		return ts
	}
	sec := int64(t.Epoch)
	nsec := int64((t.Epoch - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
