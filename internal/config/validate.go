package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rickgao/feedstream/internal/model"
)

// Validate checks that all required fields are set and values are valid.
// Every error wraps model.ErrConfig.
func (c *ServiceConfig) Validate() error {
	if c.Instance.ID == "" {
		return invalid("instance.id is required")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return invalid("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if err := validateURL("hermes.rest_url", c.Hermes.RestURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("hermes.ws_url", c.Hermes.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if c.Hermes.APIVersion != 1 && c.Hermes.APIVersion != 2 {
		return invalid("hermes.api_version must be 1 or 2, got %d", c.Hermes.APIVersion)
	}
	if c.Hermes.BatchSize < 1 {
		return invalid("hermes.batch_size must be >= 1")
	}
	if c.Hermes.RequestsPerSecond < 0 {
		return invalid("hermes.requests_per_second must be >= 0")
	}
	for i, id := range c.Hermes.FeedIDs {
		if model.NormalizeFeedID(id) == "" {
			return invalid("hermes.feed_ids[%d] is empty", i)
		}
	}

	if c.Solana.Enabled {
		if err := validateURL("solana.ws_url", c.Solana.WSURL, "ws", "wss"); err != nil {
			return err
		}
		switch c.Solana.Commitment {
		case "processed", "confirmed", "finalized":
		default:
			return invalid("solana.commitment must be processed, confirmed or finalized, got %q", c.Solana.Commitment)
		}
	}

	if c.Connections.ReconnectBaseDelay <= 0 {
		return invalid("connections.reconnect_base_delay must be > 0")
	}
	if c.Connections.ReconnectMaxDelay < c.Connections.ReconnectBaseDelay {
		return invalid("connections.reconnect_max_delay (%v) cannot be less than reconnect_base_delay (%v)",
			c.Connections.ReconnectMaxDelay, c.Connections.ReconnectBaseDelay)
	}
	if c.Connections.PingInterval > 0 && c.Connections.PingTimeout <= c.Connections.PingInterval {
		return invalid("connections.ping_timeout must exceed ping_interval")
	}

	if c.Poller.Enabled {
		if c.Poller.Interval <= 0 {
			return invalid("poller.interval must be > 0")
		}
		if c.Poller.Concurrency < 1 {
			return invalid("poller.concurrency must be >= 1")
		}
		if c.Poller.MaxRetries < 0 {
			return invalid("poller.max_retries must be >= 0")
		}
	}

	if c.Database.Enabled {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
	}

	if c.Writers.BatchSize < 1 {
		return invalid("writers.batch_size must be >= 1")
	}
	if c.Writers.BufferSize < 1 {
		return invalid("writers.buffer_size must be >= 1")
	}
	if c.Writers.MaxBufferSize < c.Writers.BufferSize {
		return invalid("writers.max_buffer_size (%d) cannot be less than buffer_size (%d)",
			c.Writers.MaxBufferSize, c.Writers.BufferSize)
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return invalid("redis.addr is required")
		}
		if c.Redis.TTL < 0 {
			return invalid("redis.ttl must be >= 0")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return invalid("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") || c.Metrics.Path == "/health" {
		return invalid("metrics.path must start with / and not be /health, got %q", c.Metrics.Path)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return invalid("%s.host is required", prefix)
	}
	if db.Name == "" {
		return invalid("%s.name is required", prefix)
	}
	if db.User == "" {
		return invalid("%s.user is required", prefix)
	}
	if db.Password == "" {
		return invalid("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return invalid("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return invalid("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return invalid("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return invalid("%s is not a valid URL: %q", field, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return invalid("%s must use scheme %s, got %q", field, strings.Join(schemes, " or "), u.Scheme)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrConfig, fmt.Sprintf(format, args...))
}
