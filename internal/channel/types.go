package channel

import (
	"errors"
	"log/slog"
	"time"

	"github.com/rickgao/socket-client/internal/emitter"
	"github.com/rickgao/socket-client/internal/presence"
	"github.com/rickgao/socket-client/internal/protocol"
)

// Errors
var (
	ErrNotConnected   = errors.New("not connected")
	ErrNoPayload      = protocol.ErrNoPayload
	ErrNoListener     = errors.New("nil listener")
	ErrRequestTimeout = errors.New("request timeout")
	ErrDisconnected   = errors.New("connection lost")
)

// State is a channel state.
type State int

const (
	StateInitialized State = iota
	StateAttaching
	StateAttached
	StateDetaching
	StateDetached
	StateFailed
	StateDisconnected // Pseudo-state entered when the connection drops
)

var stateNames = [...]string{
	StateInitialized:  "initialized",
	StateAttaching:    "attaching",
	StateAttached:     "attached",
	StateDetaching:    "detaching",
	StateDetached:     "detached",
	StateFailed:       "failed",
	StateDisconnected: "disconnected",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// StateChange is delivered to channel state listeners.
type StateChange struct {
	Channel string
	From    State
	To      State
	Err     error
}

// Conn is the part of the connection a channel needs.
type Conn interface {
	presence.Conn
}

// Message is an inbound channel message delivered to listeners.
type Message struct {
	Channel string
	Name    string // Event name, "*" when the publisher gave none
	Type    string // protocol.TypeString or protocol.TypeJSON
	Data    any    // Decoded payload
}

// Listener receives channel messages.
type Listener func(Message)

// Outbound is the message-object publish convention: Name supplies the
// event, Data the payload.
type Outbound struct {
	Name string
	Data any
}

// Config configures channels created by a Registry.
type Config struct {
	RequestTimeout time.Duration // Bound on attach/detach waits
	Executor       emitter.Executor
	Fetcher        presence.SnapshotFetcher
	Logger         *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 10 * time.Second,
	}
}
