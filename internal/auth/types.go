package auth

import (
	"errors"
	"time"

	"github.com/rickgao/socket-client/internal/protocol"
)

// Errors
var (
	ErrNotConnected   = errors.New("not connected")
	ErrRequestTimeout = errors.New("token request timeout")
)

// Conn is the part of the connection the broker needs.
type Conn interface {
	IsConnected() bool
	Send(msg any) error
}

// TokenRequestOptions configures a token request.
type TokenRequestOptions struct {
	ClientID string // Client the token is issued for
}

// TokenResponse is the server's answer to a token request.
type TokenResponse struct {
	ReqID    string
	Token    string
	ClientID string
	Message  protocol.Message // Full response frame
}

// Config configures the Broker.
type Config struct {
	RequestTimeout time.Duration // Default bound when ctx has no deadline
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 10 * time.Second,
	}
}
