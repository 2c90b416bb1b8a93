// Package api provides the Coinbase Exchange REST client.
//
// REST endpoints:
//   - Production: https://api.exchange.coinbase.com
//   - Sandbox: https://api-public.sandbox.exchange.coinbase.com
//
// The client doubles as the snapshot source of the replicas: FetchSnapshot
// reads the level 3 book and converts it to model.Snapshot.
package api
