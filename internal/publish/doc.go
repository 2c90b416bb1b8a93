// Package publish streams top-of-book quotes to Kafka.
//
// Quotes from every replica arrive on one channel. Between flushes only
// the newest quote per product is kept, so a slow broker costs
// intermediate quotes, never the latest one.
package publish
