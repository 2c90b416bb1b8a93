package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if len(c.Products) == 0 {
		return errors.New("products must list at least one product id")
	}
	seen := make(map[string]bool, len(c.Products))
	for _, p := range c.Products {
		if strings.TrimSpace(p) == "" {
			return errors.New("products must not contain empty ids")
		}
		if seen[p] {
			return fmt.Errorf("product %q listed twice", p)
		}
		seen[p] = true
	}

	if c.API.HasCredentials() && (c.API.Key == "" || c.API.Secret == "" || c.API.Passphrase == "") {
		return errors.New("api.key, api.secret and api.passphrase must be set together")
	}

	if c.Book.MaxPending < 1 {
		return errors.New("book.max_pending must be >= 1")
	}
	switch c.Book.Eviction {
	case "drop_oldest", "drop_newest":
	default:
		return fmt.Errorf("book.eviction must be drop_oldest or drop_newest, got %q", c.Book.Eviction)
	}
	if c.Book.ResyncMaxDelay < c.Book.ResyncBaseDelay {
		return errors.New("book.resync_max_delay cannot be less than book.resync_base_delay")
	}
	if c.Book.EventBuffer < 1 {
		return errors.New("book.event_buffer must be >= 1")
	}

	if c.Connection.ReconnectMaxDelay < c.Connection.ReconnectBaseDelay {
		return errors.New("connection.reconnect_max_delay cannot be less than connection.reconnect_base_delay")
	}
	if c.Connection.PingTimeout <= c.Connection.PingInterval {
		return errors.New("connection.ping_timeout must exceed connection.ping_interval")
	}

	if c.Database.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
		if c.Writers.BatchSize < 1 {
			return errors.New("writers.batch_size must be >= 1")
		}
		if c.Writers.BufferSize < 1 {
			return errors.New("writers.buffer_size must be >= 1")
		}
		if c.Checkpoint.Concurrency < 1 {
			return errors.New("checkpoint.concurrency must be >= 1")
		}
	}

	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when kafka.brokers is set")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
