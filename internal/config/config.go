package config

import "time"

// Config is the root configuration for a bookd instance.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	API        APIConfig        `yaml:"api"`
	Products   []string         `yaml:"products"`
	Book       BookConfig       `yaml:"book"`
	Connection ConnectionConfig `yaml:"connection"`
	Database   DatabaseConfig   `yaml:"database"`
	Writers    WritersConfig    `yaml:"writers"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds exchange REST and WebSocket settings. Credentials are
// optional; when set, REST requests and the feed subscription are signed.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"`
	Key        string        `yaml:"key"`
	Secret     string        `yaml:"secret"` // base64, as issued by the exchange
	Passphrase string        `yaml:"passphrase"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// HasCredentials reports whether API credentials are configured.
func (a APIConfig) HasCredentials() bool {
	return a.Key != "" || a.Secret != "" || a.Passphrase != ""
}

// BookConfig holds replica settings shared by every product.
type BookConfig struct {
	MaxPending      int           `yaml:"max_pending"`
	Eviction        string        `yaml:"eviction"` // drop_oldest | drop_newest
	SnapshotTimeout time.Duration `yaml:"snapshot_timeout"`
	ResyncBaseDelay time.Duration `yaml:"resync_base_delay"`
	ResyncMaxDelay  time.Duration `yaml:"resync_max_delay"`
	EventBuffer     int           `yaml:"event_buffer"` // per-product router channel
}

// ConnectionConfig holds WebSocket feed settings.
type ConnectionConfig struct {
	Channels           []string      `yaml:"channels"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// DatabaseConfig holds the optional Postgres sink for checkpoints and matches.
type DatabaseConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Migrate  bool     `yaml:"migrate"` // create tables on startup
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`

	ApplicationName string `yaml:"application_name"`
}

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// CheckpointConfig holds book checkpoint poller settings.
type CheckpointConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
}

// KafkaConfig holds the optional top-of-book quote publisher. Publishing is
// enabled when brokers are set.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	QuoteBuffer  int           `yaml:"quote_buffer"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// Enabled reports whether quotes are published.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// MetricsConfig holds Prometheus and status HTTP settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
