package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultHermesRestURL      = "https://hermes.pyth.network"
	DefaultHermesWSURL        = "wss://hermes.pyth.network/ws"
	DefaultAPIVersion         = 2
	DefaultFeedBatchSize      = 100
	DefaultAPITimeout         = 30 * time.Second
	DefaultSolanaWSURL        = "wss://api.mainnet-beta.solana.com"
	DefaultCommitment         = "confirmed"
	DefaultBlockEncoding      = "base64"
	DefaultTxDetails          = "full"
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultPingTimeout        = 90 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultConnBufferSize     = 1024
	DefaultPollInterval       = 1 * time.Minute
	DefaultPollConcurrency    = 4
	DefaultPollMaxRetries     = 3
	DefaultPollRetryBackoff   = 1 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 1000
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 1024
	DefaultMaxBufferSize      = 65536
	DefaultRedisAddr          = "localhost:6379"
	DefaultRedisTTL           = 10 * time.Minute
	DefaultRedisKeyPrefix     = "feedstream:latest:"
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

// ApplyDefaults fills every zero-valued optional field.
func (c *ServiceConfig) ApplyDefaults() {
	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// Hermes defaults
	if c.Hermes.RestURL == "" {
		c.Hermes.RestURL = DefaultHermesRestURL
	}
	if c.Hermes.WSURL == "" {
		c.Hermes.WSURL = DefaultHermesWSURL
	}
	if c.Hermes.APIVersion == 0 {
		c.Hermes.APIVersion = DefaultAPIVersion
	}
	if c.Hermes.BatchSize == 0 {
		c.Hermes.BatchSize = DefaultFeedBatchSize
	}
	if c.Hermes.Timeout == 0 {
		c.Hermes.Timeout = DefaultAPITimeout
	}

	// Solana defaults
	if c.Solana.WSURL == "" {
		c.Solana.WSURL = DefaultSolanaWSURL
	}
	if c.Solana.Commitment == "" {
		c.Solana.Commitment = DefaultCommitment
	}
	if c.Solana.Encoding == "" {
		c.Solana.Encoding = DefaultBlockEncoding
	}
	if c.Solana.TransactionDetails == "" {
		c.Solana.TransactionDetails = DefaultTxDetails
	}
	if c.Solana.ShowRewards == nil {
		showRewards := true
		c.Solana.ShowRewards = &showRewards
	}

	// Connections defaults
	if c.Connections.ReconnectBaseDelay == 0 {
		c.Connections.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connections.ReconnectMaxDelay == 0 {
		c.Connections.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connections.HandshakeTimeout == 0 {
		c.Connections.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connections.PingInterval == 0 {
		c.Connections.PingInterval = DefaultPingInterval
	}
	if c.Connections.PingTimeout == 0 {
		c.Connections.PingTimeout = DefaultPingTimeout
	}
	if c.Connections.WriteTimeout == 0 {
		c.Connections.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connections.BufferSize == 0 {
		c.Connections.BufferSize = DefaultConnBufferSize
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.MaxRetries == 0 {
		c.Poller.MaxRetries = DefaultPollMaxRetries
	}
	if c.Poller.RetryBackoff == 0 {
		c.Poller.RetryBackoff = DefaultPollRetryBackoff
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

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
	if c.Writers.MaxBufferSize == 0 {
		c.Writers.MaxBufferSize = DefaultMaxBufferSize
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = DefaultRedisTTL
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultRedisKeyPrefix
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
