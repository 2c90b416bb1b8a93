package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: bookd-1
api:
  rest_url: https://api-public.sandbox.exchange.coinbase.com
products:
  - BTC-USD
  - ETH-USD
book:
  max_pending: 500
  eviction: drop_newest
connection:
  channels: [full, heartbeat]
database:
  enabled: true
  postgres:
    host: localhost
    port: 5432
    name: l3book
    user: testuser
    password: testpass
kafka:
  brokers: [localhost:9092]
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "bookd-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "bookd-1")
	}
	if cfg.API.RestURL != "https://api-public.sandbox.exchange.coinbase.com" {
		t.Errorf("API.RestURL = %q", cfg.API.RestURL)
	}
	if len(cfg.Products) != 2 || cfg.Products[1] != "ETH-USD" {
		t.Errorf("Products = %v", cfg.Products)
	}
	if cfg.Book.MaxPending != 500 || cfg.Book.Eviction != "drop_newest" {
		t.Errorf("Book = %+v", cfg.Book)
	}
	if len(cfg.Connection.Channels) != 2 {
		t.Errorf("Connection.Channels = %v", cfg.Connection.Channels)
	}
	if !cfg.Database.Enabled || cfg.Database.Postgres.Host != "localhost" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if !cfg.Kafka.Enabled() {
		t.Error("Kafka.Enabled() = false, want true")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")
	t.Setenv("TEST_API_SECRET", "c2VjcmV0")

	yaml := `
instance:
  id: bookd-1
api:
  key: k
  secret: ${TEST_API_SECRET}
  passphrase: p
products: [BTC-USD]
database:
  postgres:
    host: localhost
    name: l3book
    user: testuser
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Postgres.Password != "secret123" {
		t.Errorf("Database.Postgres.Password = %q, want %q", cfg.Database.Postgres.Password, "secret123")
	}
	if cfg.API.Secret != "c2VjcmV0" {
		t.Errorf("API.Secret = %q, want %q", cfg.API.Secret, "c2VjcmV0")
	}
	if !cfg.API.HasCredentials() {
		t.Error("HasCredentials() = false, want true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Errorf("Load error = %v, want read config file error", err)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("products: [BTC-USD"))
	if err == nil || !strings.Contains(err.Error(), "parse config yaml") {
		t.Errorf("Parse error = %v, want parse error", err)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: bookd-1
products: [BTC-USD]
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.API.RestURL != DefaultRestURL {
		t.Errorf("API.RestURL = %q, want default %q", cfg.API.RestURL, DefaultRestURL)
	}
	if cfg.API.WSURL != DefaultWSURL {
		t.Errorf("API.WSURL = %q, want default %q", cfg.API.WSURL, DefaultWSURL)
	}
	if cfg.Book.Eviction != DefaultEviction {
		t.Errorf("Book.Eviction = %q, want default %q", cfg.Book.Eviction, DefaultEviction)
	}
	if cfg.Book.SnapshotTimeout != DefaultSnapshotTimeout {
		t.Errorf("Book.SnapshotTimeout = %v, want default %v", cfg.Book.SnapshotTimeout, DefaultSnapshotTimeout)
	}
	if len(cfg.Connection.Channels) != 1 || cfg.Connection.Channels[0] != DefaultChannel {
		t.Errorf("Connection.Channels = %v, want [%s]", cfg.Connection.Channels, DefaultChannel)
	}
	if cfg.Connection.PingInterval != DefaultPingInterval {
		t.Errorf("Connection.PingInterval = %v, want default %v", cfg.Connection.PingInterval, DefaultPingInterval)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Database.Postgres.Port = %d, want default %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
	if cfg.Kafka.Enabled() {
		t.Error("Kafka.Enabled() = true, want false without brokers")
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func validConfig() Config {
	cfg := Config{
		Instance: InstanceConfig{ID: "test"},
		Products: []string{"BTC-USD"},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "no products",
			mutate:  func(c *Config) { c.Products = nil },
			wantErr: "products must list at least one product id",
		},
		{
			name:    "duplicate product",
			mutate:  func(c *Config) { c.Products = []string{"BTC-USD", "BTC-USD"} },
			wantErr: `product "BTC-USD" listed twice`,
		},
		{
			name:    "partial credentials",
			mutate:  func(c *Config) { c.API.Key = "k" },
			wantErr: "api.key, api.secret and api.passphrase must be set together",
		},
		{
			name:    "unknown eviction",
			mutate:  func(c *Config) { c.Book.Eviction = "random" },
			wantErr: `book.eviction must be drop_oldest or drop_newest, got "random"`,
		},
		{
			name:    "ping timeout too short",
			mutate:  func(c *Config) { c.Connection.PingTimeout = time.Second },
			wantErr: "connection.ping_timeout must exceed connection.ping_interval",
		},
		{
			name:    "database enabled without host",
			mutate:  func(c *Config) { c.Database.Enabled = true },
			wantErr: "database.postgres.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name: "kafka without topic",
			mutate: func(c *Config) {
				c.Kafka.Brokers = []string{"localhost:9092"}
				c.Kafka.Topic = ""
			},
			wantErr: "kafka.topic is required when kafka.brokers is set",
		},
		{
			name:    "bad metrics port",
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name: "valid config",
			mutate: func(c *Config) {
				c.API.Key, c.API.Secret, c.API.Passphrase = "k", "c2VjcmV0", "p"
				c.Database.Enabled = true
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2}
				c.Kafka.Brokers = []string{"localhost:9092"}
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
