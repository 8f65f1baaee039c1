package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHost              = "localhost:8081"
	DefaultPath              = "/ws"
	DefaultMaxRetries        = 7
	DefaultReconnectInterval = 1 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
	DefaultAuthTimeout       = 10 * time.Second
	DefaultAPITimeout        = 30 * time.Second
	DefaultAPIMaxRetries     = 3
	DefaultAPIRetryBackoff   = 1 * time.Second
	DefaultResyncInterval    = 1 * time.Minute
	DefaultResyncConcurrency = 4
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultBatchSize         = 500
	DefaultFlushInterval     = 1 * time.Second
	DefaultBufferSize        = 10000
	DefaultMetricsPort       = 9090
	DefaultMetricsPath       = "/metrics"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// DefaultTransports is the transport preference used when none is configured.
var DefaultTransports = []string{"websocket"}

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultPath
	}
	if len(c.Server.Transports) == 0 {
		c.Server.Transports = append([]string(nil), DefaultTransports...)
	}

	// Reconnect defaults
	if c.Reconnect.MaxRetries == 0 {
		c.Reconnect.MaxRetries = DefaultMaxRetries
	}
	if c.Reconnect.Interval == 0 {
		c.Reconnect.Interval = DefaultReconnectInterval
	}

	// Request defaults
	if c.Requests.Timeout == 0 {
		c.Requests.Timeout = DefaultRequestTimeout
	}
	if c.Requests.AuthTimeout == 0 {
		c.Requests.AuthTimeout = DefaultAuthTimeout
	}

	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultAPIMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultAPIRetryBackoff
	}

	// Presence defaults
	if c.Presence.ResyncInterval == 0 {
		c.Presence.ResyncInterval = DefaultResyncInterval
	}
	if c.Presence.Concurrency == 0 {
		c.Presence.Concurrency = DefaultResyncConcurrency
	}

	// Archive defaults
	applyDBDefaults(&c.Archive.Database)
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
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
