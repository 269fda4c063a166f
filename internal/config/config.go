package config

import (
	"log/slog"
	"strings"
	"time"
)

// ServiceConfig is the root configuration for an ingester process.
type ServiceConfig struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Logging     LoggingConfig     `yaml:"logging"`
	Hermes      HermesConfig      `yaml:"hermes"`
	Solana      SolanaConfig      `yaml:"solana"`
	Connections ConnectionsConfig `yaml:"connections"`
	Poller      PollerConfig      `yaml:"poller"`
	Database    DatabaseConfig    `yaml:"database"`
	Writers     WritersConfig     `yaml:"writers"`
	Redis       RedisConfig       `yaml:"redis"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LoggingConfig controls the slog handler built by cmd/.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// SlogLevel maps Level to a slog.Level. Unknown values map to Info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// HermesConfig holds Pyth Hermes settings for snapshots and the price stream.
type HermesConfig struct {
	RestURL           string        `yaml:"rest_url"`
	WSURL             string        `yaml:"ws_url"`
	APIVersion        int           `yaml:"api_version"` // Snapshot payload version: 1 or 2
	FeedIDs           []string      `yaml:"feed_ids"`
	BatchSize         int           `yaml:"batch_size"` // Max feed ids per snapshot request
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 disables rate limiting
}

// SolanaConfig holds the optional block stream settings.
type SolanaConfig struct {
	Enabled                        bool   `yaml:"enabled"`
	WSURL                          string `yaml:"ws_url"`
	Commitment                     string `yaml:"commitment"`
	Encoding                       string `yaml:"encoding"`
	TransactionDetails             string `yaml:"transaction_details"`
	ShowRewards                    *bool  `yaml:"show_rewards"`
	MaxSupportedTransactionVersion int    `yaml:"max_supported_transaction_version"`
}

// ConnectionsConfig holds stream connection and reconnect settings.
type ConnectionsConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	ReadLimit          int64         `yaml:"read_limit"`
	BufferSize         int           `yaml:"buffer_size"`
}

// PollerConfig holds snapshot poller settings.
type PollerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	Concurrency  int           `yaml:"concurrency"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// DatabaseConfig holds the TimescaleDB connection for the observation archive.
type DatabaseConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Timescale DBConfig `yaml:"timescale"`
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
}

// WritersConfig holds batch writer and route buffer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`     // Initial route buffer capacity
	MaxBufferSize int           `yaml:"max_buffer_size"` // Route buffer cap; updates beyond it are dropped
}

// RedisConfig holds the latest-value mirror settings.
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
