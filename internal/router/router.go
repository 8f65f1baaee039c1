// Package router dispatches inbound frames by action to the channel registry
// and the auth token broker.
package router

import (
	"log/slog"
	"sync"

	"github.com/rickgao/socket-client/internal/protocol"
)

// Router is the top-level message router.
type Router struct {
	channels Channels
	auth     TokenBroker
	logger   *slog.Logger

	tapsMu sync.RWMutex
	taps   []Tap

	mu       sync.Mutex
	received int64
	routed   int64
	ignored  int64
	byAction map[protocol.Action]int64
}

// New creates a Router. Either target may be nil.
func New(channels Channels, auth TokenBroker, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		channels: channels,
		auth:     auth,
		logger:   logger.With("component", "router"),
		byAction: make(map[protocol.Action]int64),
	}
}

// AddTap registers an observer for routed frames.
func (r *Router) AddTap(t Tap) {
	r.tapsMu.Lock()
	r.taps = append(r.taps, t)
	r.tapsMu.Unlock()
}

// Handle routes one inbound frame.
func (r *Router) Handle(msg protocol.Message) {
	r.mu.Lock()
	r.received++
	r.byAction[msg.Action]++
	r.mu.Unlock()

	routed := true
	switch msg.Action {
	case protocol.ActionError:
		if r.channels != nil {
			r.channels.HandleError(msg)
		}
		if r.auth != nil {
			r.auth.OnError(msg)
		}

	case protocol.ActionAttached:
		if r.channels != nil {
			r.channels.HandleAttached(msg)
		}

	case protocol.ActionDetached:
		if r.channels != nil {
			r.channels.HandleDetached(msg)
		}

	case protocol.ActionPresence:
		if r.channels != nil {
			r.channels.HandlePresence(msg)
		}

	case protocol.ActionMessage:
		if r.channels != nil {
			r.channels.HandleMessage(msg)
		}

	case protocol.ActionToken:
		if r.auth != nil {
			r.auth.OnResponse(msg)
		}

	default:
		routed = false
		if msg.Action != protocol.ActionHeartbeat {
			r.logger.Debug("skipping action", "action", msg.Action)
		}
	}

	r.mu.Lock()
	if routed {
		r.routed++
	} else {
		r.ignored++
	}
	r.mu.Unlock()

	if !routed {
		return
	}
	r.tapsMu.RLock()
	taps := r.taps
	r.tapsMu.RUnlock()
	for _, t := range taps {
		t(msg)
	}
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	byAction := make(map[protocol.Action]int64, len(r.byAction))
	for a, n := range r.byAction {
		byAction[a] = n
	}
	return Stats{
		MessagesReceived: r.received,
		MessagesRouted:   r.routed,
		MessagesIgnored:  r.ignored,
		ByAction:         byAction,
	}
}
