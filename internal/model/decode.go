package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrMalformedEvent is returned for book events missing a required field
	// or carrying an unparseable one.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrNotBookEvent is returned for well-formed frames that do not affect
	// the book (subscriptions, heartbeat, ticker, errors, ...).
	ErrNotBookEvent = errors.New("not a book event")
)

// eventWire is the union of all full-channel message fields.
type eventWire struct {
	Type          string              `json:"type"`
	Sequence      int64               `json:"sequence"`
	ProductID     string              `json:"product_id"`
	Time          string              `json:"time"`
	Side          string              `json:"side"`
	OrderID       string              `json:"order_id"`
	MakerOrderID  string              `json:"maker_order_id"`
	TakerOrderID  string              `json:"taker_order_id"`
	TradeID       int64               `json:"trade_id"`
	Reason        string              `json:"reason"`
	Price         decimal.NullDecimal `json:"price"`
	Size          decimal.NullDecimal `json:"size"`
	RemainingSize decimal.NullDecimal `json:"remaining_size"`
	NewSize       decimal.NullDecimal `json:"new_size"`
	OldSize       decimal.NullDecimal `json:"old_size"`
}

// envelope is used for fast type extraction.
type envelope struct {
	Type string `json:"type"`
}

// MessageType extracts the "type" field of a raw frame.
func MessageType(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

// IsBookType reports whether a message type is one of the sequenced book events.
func IsBookType(typ string) bool {
	switch typ {
	case "received", "open", "done", "match", "change":
		return true
	}
	return false
}

// Decode parses a raw feed frame into a typed Event.
func Decode(data []byte) (Event, error) {
	typ, err := MessageType(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if !IsBookType(typ) {
		return nil, fmt.Errorf("%w: %q", ErrNotBookEvent, typ)
	}

	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, typ, err)
	}
	return w.toEvent()
}

func (w *eventWire) toEvent() (Event, error) {
	if w.Sequence <= 0 {
		return nil, w.missing("sequence")
	}
	if w.ProductID == "" {
		return nil, w.missing("product_id")
	}
	side, err := ParseSide(w.Side)
	if err != nil {
		return nil, w.invalid("side", err)
	}

	h := Header{
		Sequence:  w.Sequence,
		ProductID: w.ProductID,
		Time:      parseTime(w.Time),
	}

	switch w.Type {
	case "received":
		if w.OrderID == "" {
			return nil, w.missing("order_id")
		}
		return Received{Header: h, OrderID: w.OrderID, Side: side}, nil

	case "open":
		if w.OrderID == "" {
			return nil, w.missing("order_id")
		}
		if !w.Price.Valid {
			return nil, w.missing("price")
		}
		size := w.RemainingSize
		if !size.Valid {
			size = w.Size
		}
		if !size.Valid {
			return nil, w.missing("remaining_size")
		}
		if !size.Decimal.IsPositive() {
			return nil, w.invalid("remaining_size", errors.New("must be positive"))
		}
		if w.Price.Decimal.IsNegative() {
			return nil, w.invalid("price", errors.New("must not be negative"))
		}
		return Open{
			Header:        h,
			OrderID:       w.OrderID,
			Side:          side,
			Price:         w.Price.Decimal,
			RemainingSize: size.Decimal,
		}, nil

	case "done":
		if w.OrderID == "" {
			return nil, w.missing("order_id")
		}
		return Done{
			Header:        h,
			OrderID:       w.OrderID,
			Side:          side,
			HasPrice:      w.Price.Valid,
			Price:         w.Price.Decimal,
			RemainingSize: w.RemainingSize.Decimal,
			Reason:        DoneReason(w.Reason),
		}, nil

	case "match":
		if w.MakerOrderID == "" {
			return nil, w.missing("maker_order_id")
		}
		if !w.Price.Valid {
			return nil, w.missing("price")
		}
		if !w.Size.Valid {
			return nil, w.missing("size")
		}
		if !w.Size.Decimal.IsPositive() {
			return nil, w.invalid("size", errors.New("must be positive"))
		}
		return Match{
			Header:       h,
			TradeID:      w.TradeID,
			MakerOrderID: w.MakerOrderID,
			TakerOrderID: w.TakerOrderID,
			Side:         side,
			Price:        w.Price.Decimal,
			Size:         w.Size.Decimal,
		}, nil

	case "change":
		if w.OrderID == "" {
			return nil, w.missing("order_id")
		}
		if !w.NewSize.Valid {
			return nil, w.missing("new_size")
		}
		if w.NewSize.Decimal.IsNegative() {
			return nil, w.invalid("new_size", errors.New("must not be negative"))
		}
		return Change{
			Header:   h,
			OrderID:  w.OrderID,
			Side:     side,
			HasPrice: w.Price.Valid,
			Price:    w.Price.Decimal,
			NewSize:  w.NewSize.Decimal,
			OldSize:  w.OldSize.Decimal,
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrNotBookEvent, w.Type)
}

func (w *eventWire) missing(field string) error {
	return fmt.Errorf("%w: %s seq=%d: missing %s", ErrMalformedEvent, w.Type, w.Sequence, field)
}

func (w *eventWire) invalid(field string, err error) error {
	return fmt.Errorf("%w: %s seq=%d: invalid %s: %v", ErrMalformedEvent, w.Type, w.Sequence, field, err)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
