// Package model defines the shared data types of the l3book replica.
//
// Conventions:
//   - Prices and sizes: shopspring decimal.Decimal, never float64
//   - Sequences: int64 per-product feed sequence numbers
//   - Order IDs: opaque strings as sent by the venue
//
// Feed events form a closed set (Received, Open, Done, Match, Change) behind the
// Event interface. Decode is the only place wire JSON becomes an Event; it rejects
// book events with missing required fields with ErrMalformedEvent.
package model
