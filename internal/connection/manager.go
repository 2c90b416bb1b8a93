package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/l3book/internal/metrics"
)

// Manager owns the feed connection and its subscription.
type Manager interface {
	// Start connects in the background and keeps the feed subscribed until Stop.
	Start(ctx context.Context) error

	// Stop closes the connection and both output channels.
	Stop(ctx context.Context) error

	// Messages returns channel of raw messages for Message Router.
	Messages() <-chan RawMessage

	// Status returns connection transitions. Slow readers miss transitions.
	Status() <-chan Status

	// Stats returns current connection statistics.
	Stats() ManagerStats
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	Connected     bool
	Session       int64
	Reconnects    int64
	Received      int64
	Dropped       int64
	LastMessageAt time.Time
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	out    chan RawMessage
	status chan Status

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	connected   atomic.Bool
	session     atomic.Int64
	reconnects  atomic.Int64
	received    atomic.Int64
	dropped     atomic.Int64
	lastMessage atomic.Int64 // unix nanos
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultManagerConfig()
	if len(cfg.Channels) == 0 {
		cfg.Channels = def.Channels
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = def.SubscribeTimeout
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = def.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait < cfg.ReconnectBaseWait {
		cfg.ReconnectMaxWait = max(def.ReconnectMaxWait, cfg.ReconnectBaseWait)
	}
	if cfg.MessageBufferSize <= 0 {
		cfg.MessageBufferSize = def.MessageBufferSize
	}
	if cfg.Client.BufferSize <= 0 {
		cfg.Client.BufferSize = def.Client.BufferSize
	}
	cfg.Client.URL = cfg.WSURL

	return &manager{
		cfg:    cfg,
		logger: logger,
		out:    make(chan RawMessage, cfg.MessageBufferSize),
		status: make(chan Status, 16),
	}
}

// Start launches the supervisor goroutine.
func (m *manager) Start(ctx context.Context) error {
	if len(m.cfg.ProductIDs) == 0 {
		return errors.New("no products to subscribe")
	}
	started := false
	m.startOnce.Do(func() {
		m.ctx, m.cancel = context.WithCancel(ctx)
		m.wg.Add(1)
		go m.supervise()
		started = true
	})
	if !started {
		return errors.New("manager already started")
	}
	m.logger.Info("connection manager started",
		"url", m.cfg.WSURL,
		"products", m.cfg.ProductIDs,
		"channels", m.cfg.Channels,
		"authenticated", m.cfg.Credentials != nil,
	)
	return nil
}

// Stop gracefully shuts down the connection.
func (m *manager) Stop(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}

		close(m.out)
		close(m.status)
		m.logger.Info("connection manager stopped")
	})
	return err
}

// Messages returns the output channel for Message Router.
func (m *manager) Messages() <-chan RawMessage {
	return m.out
}

// Status returns the connection transition channel.
func (m *manager) Status() <-chan Status {
	return m.status
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	stats := ManagerStats{
		Connected:  m.connected.Load(),
		Session:    m.session.Load(),
		Reconnects: m.reconnects.Load(),
		Received:   m.received.Load(),
		Dropped:    m.dropped.Load(),
	}
	if ns := m.lastMessage.Load(); ns > 0 {
		stats.LastMessageAt = time.Unix(0, ns)
	}
	return stats
}

// supervise runs sessions until the context is cancelled, reconnecting
// with exponential backoff between them.
func (m *manager) supervise() {
	defer m.wg.Done()

	wait := m.cfg.ReconnectBaseWait
	for {
		subscribed, err := m.runSession()
		if m.ctx.Err() != nil {
			return
		}

		m.reconnects.Add(1)
		metrics.WSReconnects.Inc()
		if subscribed {
			wait = m.cfg.ReconnectBaseWait
		}

		m.logger.Warn("feed connection lost, reconnecting",
			"session", m.session.Load(),
			"error", err,
			"wait", wait,
		)

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(wait):
		}

		wait *= 2
		if wait > m.cfg.ReconnectMaxWait {
			wait = m.cfg.ReconnectMaxWait
		}
	}
}

// runSession connects, subscribes and forwards frames until the connection
// fails. subscribed reports whether the subscription was acknowledged.
func (m *manager) runSession() (subscribed bool, err error) {
	session := m.session.Add(1)
	logger := m.logger.With("session", session)

	c := NewClient(m.cfg.Client, logger)
	defer c.Close()

	if err := c.Connect(m.ctx); err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}

	if err := m.subscribe(c, session); err != nil {
		m.notify(Status{Kind: StatusDisconnected, Session: session, Err: err, At: time.Now()})
		return false, err
	}

	m.connected.Store(true)
	metrics.WSConnected.Set(1)
	m.notify(Status{Kind: StatusConnected, Session: session, At: time.Now()})
	logger.Info("feed subscribed", "products", len(m.cfg.ProductIDs))

	defer func() {
		m.connected.Store(false)
		metrics.WSConnected.Set(0)
		m.notify(Status{Kind: StatusDisconnected, Session: session, Err: err, At: time.Now()})
	}()

	for {
		select {
		case <-m.ctx.Done():
			return true, nil
		case err := <-c.Errors():
			m.flush(session, c)
			return true, err
		case msg := <-c.Messages():
			m.forward(session, msg)
		}
	}
}

// flush forwards frames the client read before it failed.
func (m *manager) flush(session int64, c Client) {
	for {
		select {
		case msg := <-c.Messages():
			m.forward(session, msg)
		default:
			return
		}
	}
}

// subscribe sends the subscribe frame and waits for the server's ack.
// Frames arriving before the ack are forwarded.
func (m *manager) subscribe(c Client, session int64) error {
	req := SubscribeRequest{
		Type:       "subscribe",
		ProductIDs: m.cfg.ProductIDs,
		Channels:   m.cfg.Channels,
	}
	if m.cfg.Credentials != nil {
		fields := m.cfg.Credentials.SubscribeFields()
		req.Key = fields["key"]
		req.Passphrase = fields["passphrase"]
		req.Timestamp = fields["timestamp"]
		req.Signature = fields["signature"]
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	if err := c.Send(data); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	timer := time.NewTimer(m.cfg.SubscribeTimeout)
	defer timer.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-timer.C:
			return fmt.Errorf("subscribe: %w", ErrTimeout)
		case err := <-c.Errors():
			return fmt.Errorf("subscribe: %w", err)
		case msg := <-c.Messages():
			var head struct {
				Type    string `json:"type"`
				Message string `json:"message"`
				Reason  string `json:"reason"`
			}
			if err := json.Unmarshal(msg.Data, &head); err != nil {
				m.forward(session, msg)
				continue
			}
			switch head.Type {
			case "subscriptions":
				return nil
			case "error":
				return fmt.Errorf("subscribe rejected: %s: %s", head.Message, head.Reason)
			default:
				m.forward(session, msg)
			}
		}
	}
}

// forward hands a frame to the router without blocking the read path.
// A dropped frame shows up downstream as a sequence gap.
func (m *manager) forward(session int64, msg TimestampedMessage) {
	m.received.Add(1)
	m.lastMessage.Store(msg.ReceivedAt.UnixNano())

	select {
	case m.out <- RawMessage{Data: msg.Data, Session: session, ReceivedAt: msg.ReceivedAt}:
	default:
		m.dropped.Add(1)
		m.logger.Warn("router buffer full, dropping message", "session", session)
	}
}

func (m *manager) notify(s Status) {
	select {
	case m.status <- s:
	default:
	}
}
