package config

import "time"

// Config is the root configuration for the listen and archiver binaries.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Requests  RequestsConfig  `yaml:"requests"`
	API       APIConfig       `yaml:"api"`
	Channels  []ChannelConfig `yaml:"channels"`
	Presence  PresenceConfig  `yaml:"presence"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig identifies the realtime server and the credentials to present.
type ServerConfig struct {
	Host       string   `yaml:"host"` // host[:port], optionally ws:// or wss://
	Secure     bool     `yaml:"secure"`
	Secret     string   `yaml:"secret"`
	Token      string   `yaml:"token"`
	ClientID   string   `yaml:"client_id"`
	Path       string   `yaml:"path"`
	Transports []string `yaml:"transports"`
}

// ReconnectConfig controls automatic reconnection.
type ReconnectConfig struct {
	Auto       *bool         `yaml:"auto"` // nil means enabled
	MaxRetries int           `yaml:"max_retries"`
	Interval   time.Duration `yaml:"interval"`
}

// Enabled reports whether automatic reconnection is on.
func (r ReconnectConfig) Enabled() bool {
	return r.Auto == nil || *r.Auto
}

// RequestsConfig bounds request/response exchanges over the socket.
type RequestsConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	AuthTimeout time.Duration `yaml:"auth_timeout"`
}

// APIConfig holds REST settings used for presence snapshots.
type APIConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// ChannelConfig names a channel to attach and the events to subscribe to.
// No events means every message.
type ChannelConfig struct {
	Name   string   `yaml:"name"`
	Events []string `yaml:"events"`
}

// PresenceConfig holds presence resync settings.
type PresenceConfig struct {
	ResyncInterval time.Duration `yaml:"resync_interval"`
	Concurrency    int           `yaml:"concurrency"`
}

// ArchiveConfig holds the Postgres archive settings.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
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

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
