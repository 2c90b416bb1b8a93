package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL            = "https://api.exchange.coinbase.com"
	DefaultWSURL              = "wss://ws-feed.exchange.coinbase.com"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultMaxPending         = 50000
	DefaultEviction           = "drop_oldest"
	DefaultSnapshotTimeout    = 30 * time.Second
	DefaultResyncBaseDelay    = 500 * time.Millisecond
	DefaultResyncMaxDelay     = 30 * time.Second
	DefaultEventBuffer        = 10000
	DefaultChannel            = "full"
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultPingInterval       = 25 * time.Second
	DefaultPingTimeout        = 60 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultConnBufferSize     = 10000
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 1000
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 10000
	DefaultCheckpointInterval = 5 * time.Minute
	DefaultCheckpointWorkers  = 4
	DefaultKafkaTopic         = "l3book.quotes"
	DefaultQuoteBuffer        = 4096
	DefaultKafkaBatchTimeout  = 50 * time.Millisecond
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Book defaults
	if c.Book.MaxPending == 0 {
		c.Book.MaxPending = DefaultMaxPending
	}
	if c.Book.Eviction == "" {
		c.Book.Eviction = DefaultEviction
	}
	if c.Book.SnapshotTimeout == 0 {
		c.Book.SnapshotTimeout = DefaultSnapshotTimeout
	}
	if c.Book.ResyncBaseDelay == 0 {
		c.Book.ResyncBaseDelay = DefaultResyncBaseDelay
	}
	if c.Book.ResyncMaxDelay == 0 {
		c.Book.ResyncMaxDelay = DefaultResyncMaxDelay
	}
	if c.Book.EventBuffer == 0 {
		c.Book.EventBuffer = DefaultEventBuffer
	}

	// Connection defaults
	if len(c.Connection.Channels) == 0 {
		c.Connection.Channels = []string{DefaultChannel}
	}
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultConnBufferSize
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultBufferSize
	}

	// Checkpoint defaults
	if c.Checkpoint.Interval == 0 {
		c.Checkpoint.Interval = DefaultCheckpointInterval
	}
	if c.Checkpoint.Concurrency == 0 {
		c.Checkpoint.Concurrency = DefaultCheckpointWorkers
	}

	// Kafka defaults
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
	if c.Kafka.QuoteBuffer == 0 {
		c.Kafka.QuoteBuffer = DefaultQuoteBuffer
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = DefaultKafkaBatchTimeout
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
