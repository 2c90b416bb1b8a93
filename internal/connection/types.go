package connection

import (
	"errors"
	"time"

	"github.com/rickgao/l3book/internal/auth"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrTimeout         = errors.New("operation timeout")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// RawMessage is a message from Connection Manager to Message Router.
type RawMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	Session    int64     // Connection session, incremented on every reconnect
	ReceivedAt time.Time // Local timestamp when WS Client received message
}

// SubscribeRequest is the subscribe frame sent after connecting. The auth
// fields are set only when credentials are configured.
type SubscribeRequest struct {
	Type       string   `json:"type"` // "subscribe"
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`

	Signature  string `json:"signature,omitempty"`
	Key        string `json:"key,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// SubscriptionsMsg acknowledges a subscribe request.
type SubscriptionsMsg struct {
	Type     string           `json:"type"` // "subscriptions"
	Channels []ChannelMessage `json:"channels"`
}

// ChannelMessage lists the products subscribed on one channel.
type ChannelMessage struct {
	Name       string   `json:"name"`
	ProductIDs []string `json:"product_ids"`
}

// ErrorMsg is sent by the server when a request is rejected.
type ErrorMsg struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// StatusKind is a connection state transition.
type StatusKind string

const (
	StatusConnected    StatusKind = "connected"
	StatusDisconnected StatusKind = "disconnected"
)

// Status notifies consumers of a connection transition.
type Status struct {
	Kind    StatusKind
	Session int64
	Err     error // cause of a disconnect, nil on clean shutdown
	At      time.Time
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://ws-feed.exchange.coinbase.com)
	HandshakeTimeout time.Duration // Dial handshake timeout
	PingInterval     time.Duration // Keepalive ping period
	PingTimeout      time.Duration // Max time without ping or pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     25 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       10000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	WSURL             string            // WebSocket URL
	ProductIDs        []string          // Products to subscribe
	Channels          []string          // Channels to subscribe, e.g. "full", "heartbeat"
	Credentials       *auth.Credentials // nil = unauthenticated feed
	Client            ClientConfig      // Per-connection settings; URL is taken from WSURL
	SubscribeTimeout  time.Duration     // Timeout waiting for the subscriptions ack
	ReconnectBaseWait time.Duration     // Base wait time for reconnection
	ReconnectMaxWait  time.Duration     // Max wait time for reconnection
	MessageBufferSize int               // Buffer size for output message channel
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Channels:          []string{"full"},
		Client:            DefaultClientConfig(),
		SubscribeTimeout:  10 * time.Second,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		MessageBufferSize: 100000,
	}
}
