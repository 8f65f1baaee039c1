package connection

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rickgao/socket-client/internal/transport"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrNoCredentials = errors.New("no token, secret or credential callback configured")
	ErrNoToken       = errors.New("credential callback returned no token")
	ErrAuthTimeout   = errors.New("credential callback timeout")
)

// DefaultHost is used when no host is configured.
const DefaultHost = "localhost:8081"

// AuthCallback obtains a token asynchronously. The result may be a token
// string, a TokenDetails value, a map with a "token" field, or raw JSON
// ([]byte / json.RawMessage) carrying a "token" field.
type AuthCallback func(ctx context.Context) (any, error)

// TokenDetails is a structured credential callback result.
type TokenDetails struct {
	Token    string `json:"token"`
	ClientID string `json:"clientId,omitempty"`
}

// StateChange describes one transition of the connection state machine.
type StateChange struct {
	From State
	To   State
	Err  error // Cause, set for failed and some disconnected transitions
}

// Config configures the Manager.
type Config struct {
	Host         string // host[:port]; a wss:// prefix forces Secure
	Secure       bool
	Secret       string
	Token        string
	ClientID     string
	AuthCallback AuthCallback

	AutoReconnect     bool
	MaxRetries        int           // Reconnect attempts before giving up
	ReconnectInterval time.Duration // Fixed delay between attempts
	AuthTimeout       time.Duration // Bound on the credential callback

	Transport transport.Options
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:              DefaultHost,
		AutoReconnect:     true,
		MaxRetries:        7,
		ReconnectInterval: time.Second,
		AuthTimeout:       10 * time.Second,
		Transport:         transport.DefaultOptions(),
	}
}

// Stats reports manager counters.
type Stats struct {
	State             State
	RetryCount        int
	ReconnectAttempts int64
	FramesReceived    int64
	FramesDropped     int64 // Undecodable or stale frames
	FramesSent        int64
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
