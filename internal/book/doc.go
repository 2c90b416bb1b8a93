// Package book implements the price-level store of a level 3 order book and
// the pure state transitions that apply feed events to it.
//
// Bids and asks are B-trees of price levels keyed by price (bids high to low,
// asks low to high). Each level is a FIFO queue of resting orders in arrival
// order. A level is removed as soon as its last order leaves. An order id
// index gives O(log n) lookup for change events.
//
// A Store is not safe for concurrent use. The replica owns it and serializes
// access.
package book
