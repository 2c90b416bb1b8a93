package api

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Product from GET /products and GET /products/{id}.
type Product struct {
	ID              string          `json:"id"`
	BaseCurrency    string          `json:"base_currency"`
	QuoteCurrency   string          `json:"quote_currency"`
	QuoteIncrement  decimal.Decimal `json:"quote_increment"`
	BaseIncrement   decimal.Decimal `json:"base_increment"`
	DisplayName     string          `json:"display_name"`
	MinMarketFunds  decimal.Decimal `json:"min_market_funds"`
	Status          string          `json:"status"`
	StatusMessage   string          `json:"status_message"`
	TradingDisabled bool            `json:"trading_disabled"`
	CancelOnly      bool            `json:"cancel_only"`
	PostOnly        bool            `json:"post_only"`
	LimitOnly       bool            `json:"limit_only"`
}

// Tradable reports whether the product has a live book worth replicating.
func (p Product) Tradable() bool {
	return p.Status == "online" && !p.TradingDisabled
}

// BookResponse from GET /products/{id}/book.
//
// Rows are [price, size, order_id] at level 3 and [price, size, num_orders]
// at levels 1 and 2. Prices and sizes are strings; num_orders is a number.
type BookResponse struct {
	Sequence int64     `json:"sequence"`
	Bids     []BookRow `json:"bids"`
	Asks     []BookRow `json:"asks"`
	Time     string    `json:"time,omitempty"`
}

// BookRow is one raw book row.
type BookRow []json.RawMessage

// TimeResponse from GET /time.
type TimeResponse struct {
	ISO   string  `json:"iso"`
	Epoch float64 `json:"epoch"`
}
