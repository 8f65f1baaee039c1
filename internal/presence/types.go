package presence

import (
	"context"
	"errors"

	"github.com/rickgao/socket-client/internal/protocol"
)

// Errors
var (
	ErrNotConnected = errors.New("not connected")
	ErrNoClientID   = errors.New("client id unknown")
	ErrNoFetcher    = errors.New("no snapshot fetcher configured")
)

// Conn is the part of the connection the tracker needs.
type Conn interface {
	IsConnected() bool
	ClientID() string
	ConnectionID() string
	Send(msg any) error
}

// Query filters a snapshot fetch.
type Query struct {
	ClientID     string
	ConnectionID string
}

// SnapshotFetcher loads the current member list of a channel.
type SnapshotFetcher interface {
	FetchPresence(ctx context.Context, channel string, q Query) ([]protocol.Member, error)
}

// FetcherFunc adapts a function to SnapshotFetcher.
type FetcherFunc func(ctx context.Context, channel string, q Query) ([]protocol.Member, error)

func (f FetcherFunc) FetchPresence(ctx context.Context, channel string, q Query) ([]protocol.Member, error) {
	return f(ctx, channel, q)
}

// GetOptions controls Get.
type GetOptions struct {
	ClientID     string
	ConnectionID string
	ForceReload  bool // Bypass the cache
}

// Event is delivered to presence listeners.
type Event struct {
	Channel string
	Kind    protocol.PresenceAction
	Member  protocol.Member
}

// Listener receives presence events.
type Listener func(Event)
