package transport

import (
	"errors"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotOpen         = errors.New("socket not open")
	ErrNoTransport     = errors.New("no supported transport in preference list")
	ErrStaleConnection = errors.New("connection stale (no pong)")
)

// Transport names accepted in Options.Transports.
const (
	NameWebSocket = "websocket"
	NamePolling   = "polling"
)

// TransportError is a failure of the transport link itself (dial,
// handshake). The connection manager treats it as fatal while connecting.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Handler receives socket lifecycle events.
type Handler interface {
	OnOpen()
	OnMessage(data []byte)
	OnClose()
	OnError(err error)
}

// Socket is an open (or opening) transport link.
type Socket interface {
	// Send writes one frame.
	Send(data []byte) error

	// Close requests the link to close. OnClose follows.
	Close() error

	// IsOpen reports whether the link is established and not closed.
	IsOpen() bool
}

// Dialer opens sockets. Open returns immediately; the outcome is reported
// through the handler.
type Dialer interface {
	Open(rawURL string, opts Options, h Handler) (Socket, error)
}

// Options configures a socket.
type Options struct {
	Path             string        // Request path appended when the URL has none
	Transports       []string      // Ordered preference, e.g. websocket then polling
	Header           http.Header   // Extra handshake headers
	HandshakeTimeout time.Duration // Dial + upgrade deadline
	WriteTimeout     time.Duration // Write deadline for sends
	PingInterval     time.Duration // Keepalive ping period (0 disables)
	PingTimeout      time.Duration // Max time without pong before the link is stale
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Path:             "/ws",
		Transports:       []string{NameWebSocket, NamePolling},
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
	}
}
