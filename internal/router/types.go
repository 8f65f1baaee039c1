package router

import "github.com/rickgao/socket-client/internal/protocol"

// Channels receives channel-addressed frames.
type Channels interface {
	HandleAttached(msg protocol.Message)
	HandleDetached(msg protocol.Message)
	HandleMessage(msg protocol.Message)
	HandlePresence(msg protocol.Message)
	HandleError(msg protocol.Message)
}

// TokenBroker receives TOKEN responses and correlated errors.
type TokenBroker interface {
	OnResponse(msg protocol.Message) bool
	OnError(msg protocol.Message) bool
}

// Tap observes every routed frame after dispatch.
type Tap func(msg protocol.Message)

// Stats contains runtime statistics.
type Stats struct {
	MessagesReceived int64
	MessagesRouted   int64
	MessagesIgnored  int64
	ByAction         map[protocol.Action]int64
}
