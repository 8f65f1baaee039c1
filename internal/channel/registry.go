package channel

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/rickgao/socket-client/internal/connection"
	"github.com/rickgao/socket-client/internal/protocol"
)

// Registry maps channel names to channels.
type Registry struct {
	conn   Conn
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	channels map[string]*Channel

	// OnUnknown, if set, is called for frames addressed to unregistered
	// channels.
	OnUnknown func(protocol.Message)
}

// NewRegistry creates an empty Registry.
func NewRegistry(conn Conn, cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Logger = logger
	return &Registry{
		conn:     conn,
		cfg:      cfg,
		logger:   logger.With("component", "channels"),
		channels: make(map[string]*Channel),
	}
}

// Get returns the channel for name, creating it on first use. An empty name
// returns nil.
func (r *Registry) Get(name string) *Channel {
	if name == "" {
		return nil
	}

	r.mu.RLock()
	ch, ok := r.channels[name]
	r.mu.RUnlock()
	if ok {
		return ch
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[name]; ok {
		return ch
	}
	ch = newChannel(name, r.conn, r.cfg)
	r.channels[name] = ch
	r.logger.Debug("channel created", "channel", name)
	return ch
}

// Lookup returns a registered channel without creating it.
func (r *Registry) Lookup(name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Release removes name from the registry. The channel is not detached.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	delete(r.channels, name)
	r.mu.Unlock()
}

// Names returns the registered channel names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

func (r *Registry) route(msg protocol.Message) *Channel {
	ch, ok := r.Lookup(msg.Channel)
	if !ok {
		r.logger.Debug("frame for unknown channel dropped", "channel", msg.Channel, "action", msg.Action)
		if r.OnUnknown != nil {
			r.OnUnknown(msg)
		}
		return nil
	}
	return ch
}

// HandleAttached routes an ATTACHED frame.
func (r *Registry) HandleAttached(msg protocol.Message) {
	if ch := r.route(msg); ch != nil {
		ch.handleAttached()
	}
}

// HandleDetached routes a DETACHED frame.
func (r *Registry) HandleDetached(msg protocol.Message) {
	if ch := r.route(msg); ch != nil {
		ch.handleDetached()
	}
}

// HandleMessage routes a MESSAGE frame.
func (r *Registry) HandleMessage(msg protocol.Message) {
	if ch := r.route(msg); ch != nil {
		ch.handleMessage(msg)
	}
}

// HandlePresence routes a PRESENCE frame.
func (r *Registry) HandlePresence(msg protocol.Message) {
	if ch := r.route(msg); ch != nil {
		ch.handlePresence(msg)
	}
}

// HandleError routes an ERROR frame that names a channel. Errors without a
// channel are not channel errors and are ignored here.
func (r *Registry) HandleError(msg protocol.Message) {
	if msg.Channel == "" {
		return
	}
	if ch := r.route(msg); ch != nil {
		ch.handleError(protocol.ServerErrorFrom(msg))
	}
}

// HandleConnectionState runs the disconnection side effects of every
// channel when the connection drops, and re-attaches subscribed channels
// once it is connected again.
func (r *Registry) HandleConnectionState(change connection.StateChange) {
	if change.To != connection.StateDisconnected && change.To != connection.StateConnected {
		return
	}
	r.mu.RLock()
	channels := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.RUnlock()

	for _, ch := range channels {
		if change.To == connection.StateConnected {
			ch.resume()
			continue
		}
		ch.handleDisconnected()
	}
}
