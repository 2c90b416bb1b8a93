package book

import (
	"fmt"

	"github.com/rickgao/l3book/internal/model"
)

// Apply performs the state transition of a single event on the store.
//
// Apply does not look at sequence numbers; ordering is the caller's job. On
// error the store is left exactly as it was.
func Apply(s *Store, ev model.Event) error {
	switch e := ev.(type) {
	case model.Received:
		return nil

	case model.Open:
		if s.Contains(e.OrderID) {
			return &Fault{
				Op:       "open",
				Sequence: e.Sequence,
				OrderID:  e.OrderID,
				Reason:   "order already resting",
				Err:      ErrDuplicateOrder,
			}
		}
		return s.Add(model.Order{
			ID:    e.OrderID,
			Side:  e.Side,
			Price: e.Price,
			Size:  e.RemainingSize,
		})

	case model.Done:
		// Market orders with nothing resting carry no price.
		if !e.HasPrice {
			return nil
		}
		// Absent means it was already fully matched.
		s.Remove(e.Side, e.Price, e.OrderID)
		return nil

	case model.Match:
		if err := s.DecrementHead(e.Side, e.Price, e.MakerOrderID, e.Size); err != nil {
			if f, ok := err.(*Fault); ok {
				f.Op = "match"
				f.Sequence = e.Sequence
			}
			return err
		}
		s.PopHeadIfExhausted(e.Side, e.Price, e.MakerOrderID)
		return nil

	case model.Change:
		// Changes to orders that never rested (market orders) are expected.
		side, price, ok := s.Locate(e.OrderID)
		if !ok {
			return nil
		}
		if side != e.Side || (e.HasPrice && !price.Equal(e.Price)) {
			return &Fault{
				Op:       "change",
				Sequence: e.Sequence,
				OrderID:  e.OrderID,
				Reason:   fmt.Sprintf("order rests at %s %s", side, price),
			}
		}
		s.SetSize(e.OrderID, e.NewSize)
		return nil
	}

	return fmt.Errorf("apply: unsupported event %T", ev)
}
