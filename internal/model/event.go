package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies the type of a feed event.
type Kind uint8

const (
	KindReceived Kind = iota + 1
	KindOpen
	KindDone
	KindMatch
	KindChange
)

func (k Kind) String() string {
	switch k {
	case KindReceived:
		return "received"
	case KindOpen:
		return "open"
	case KindDone:
		return "done"
	case KindMatch:
		return "match"
	case KindChange:
		return "change"
	default:
		return "unknown"
	}
}

// DoneReason explains why an order left the book.
type DoneReason string

const (
	ReasonFilled   DoneReason = "filled"
	ReasonCanceled DoneReason = "canceled"
)

// Event is a sequenced book event for a single product.
// The set of implementations is closed: Received, Open, Done, Match, Change.
type Event interface {
	Kind() Kind
	Seq() int64
	Product() string
	isEvent()
}

// Header carries the fields common to every book event.
type Header struct {
	Sequence  int64
	ProductID string
	Time      time.Time // exchange time, zero when absent
}

func (h Header) Seq() int64      { return h.Sequence }
func (h Header) Product() string { return h.ProductID }
func (Header) isEvent()          {}

// Received acknowledges an incoming order. It does not touch the book but
// still consumes a sequence number.
type Received struct {
	Header
	OrderID string
	Side    Side
}

// Open places a resting order on the book.
type Open struct {
	Header
	OrderID       string
	Side          Side
	Price         decimal.Decimal
	RemainingSize decimal.Decimal
}

// Done removes an order from the book. Market orders with nothing resting
// arrive without a price.
type Done struct {
	Header
	OrderID       string
	Side          Side
	HasPrice      bool
	Price         decimal.Decimal
	RemainingSize decimal.Decimal
	Reason        DoneReason
}

// Match is a trade against a resting maker order. Side is the maker side.
type Match struct {
	Header
	TradeID      int64
	MakerOrderID string
	TakerOrderID string
	Side         Side
	Price        decimal.Decimal
	Size         decimal.Decimal
}

// Change modifies the size of an order.
type Change struct {
	Header
	OrderID  string
	Side     Side
	HasPrice bool
	Price    decimal.Decimal
	NewSize  decimal.Decimal
	OldSize  decimal.Decimal
}

func (Received) Kind() Kind { return KindReceived }
func (Open) Kind() Kind     { return KindOpen }
func (Done) Kind() Kind     { return KindDone }
func (Match) Kind() Kind    { return KindMatch }
func (Change) Kind() Kind   { return KindChange }
