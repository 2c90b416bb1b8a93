package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the book side of an order.
type Side uint8

const (
	Buy Side = iota + 1
	Sell
)

// ParseSide converts the wire representation ("buy"/"sell").
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("invalid side %q", s)
	}
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Order is a resting order on the book.
type Order struct {
	ID    string
	Side  Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

// MarshalJSON encodes an order as a [price, size, id] row, the same shape
// the venue uses for level 3 snapshots.
func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{o.Price.String(), o.Size.String(), o.ID})
}

// Snapshot is a full level 3 book as returned by the snapshot source.
// Bids are ordered high to low, asks low to high.
type Snapshot struct {
	ProductID string
	Sequence  int64
	Bids      []Order
	Asks      []Order
}

// BookView is a point-in-time dump of a replica.
type BookView struct {
	ProductID string    `json:"product_id"`
	Sequence  int64     `json:"sequence"`
	State     string    `json:"state"`
	TakenAt   time.Time `json:"taken_at"`
	Bids      []Order   `json:"bids"`
	Asks      []Order   `json:"asks"`
}

// Depth aggregates a single price level.
type Depth struct {
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
	Orders int             `json:"orders"`
}

// Quote is the top of book of one product.
type Quote struct {
	ProductID string          `json:"product_id"`
	Sequence  int64           `json:"sequence"`
	HasBid    bool            `json:"has_bid"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	BidSize   decimal.Decimal `json:"bid_size"`
	HasAsk    bool            `json:"has_ask"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	AskSize   decimal.Decimal `json:"ask_size"`
	Time      time.Time       `json:"time"`
}

// SameTop reports whether two quotes show the same prices and sizes.
// Sequence and time are ignored.
func (q Quote) SameTop(other Quote) bool {
	return q.HasBid == other.HasBid &&
		q.HasAsk == other.HasAsk &&
		q.BidPrice.Equal(other.BidPrice) &&
		q.BidSize.Equal(other.BidSize) &&
		q.AskPrice.Equal(other.AskPrice) &&
		q.AskSize.Equal(other.AskSize)
}
