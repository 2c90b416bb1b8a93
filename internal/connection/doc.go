// Package connection implements the feed connection manager.
//
// The Connection Manager:
//   - Maintains one WebSocket connection to the exchange feed
//   - Subscribes every configured product to the configured channels,
//     signing the subscription when credentials are set
//   - Sends keepalive pings and treats a silent connection as stale
//   - Reconnects with exponential backoff and resubscribes
//   - Forwards every frame to the Message Router and reports
//     connect/disconnect transitions on a status channel
//
// The manager never looks inside book events. Sequence checking belongs to
// the replicas, which resync on their own after a reconnect gap.
package connection
