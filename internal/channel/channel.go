package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/socket-client/internal/emitter"
	"github.com/rickgao/socket-client/internal/presence"
	"github.com/rickgao/socket-client/internal/protocol"
)

// Channel is one named channel.
type Channel struct {
	name     string
	conn     Conn
	cfg      Config
	logger   *slog.Logger
	presence *presence.Tracker

	mu           sync.Mutex
	state        State
	events       map[string]struct{}
	attachWaits  []chan error
	detachWaits  []chan error
	messages     *emitter.Emitter[Message]
	stateChanges *emitter.Emitter[StateChange]
}

func newChannel(name string, conn Conn, cfg Config) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	return &Channel{
		name:         name,
		conn:         conn,
		cfg:          cfg,
		logger:       logger.With("component", "channel", "channel", name),
		presence:     presence.NewTracker(name, conn, cfg.Fetcher, cfg.Executor, logger),
		state:        StateInitialized,
		events:       make(map[string]struct{}),
		messages:     emitter.New[Message](cfg.Executor),
		stateChanges: emitter.New[StateChange](cfg.Executor),
	}
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Presence returns the channel's presence tracker.
func (c *Channel) Presence() *presence.Tracker { return c.presence }

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers a listener for channel state changes.
func (c *Channel) OnStateChange(l func(StateChange)) {
	c.stateChanges.On("state", l)
}

// Attach attaches the channel and waits for the server to confirm.
// On timeout the channel stays attaching.
func (c *Channel) Attach(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateAttached {
		c.mu.Unlock()
		return nil
	}
	if !c.conn.IsConnected() {
		c.mu.Unlock()
		return ErrNotConnected
	}

	wait := make(chan error, 1)
	c.attachWaits = append(c.attachWaits, wait)
	if c.state == StateAttaching {
		// Join the request already in flight.
		c.mu.Unlock()
		return c.await(ctx, wait, &c.attachWaits, "attach")
	}
	prev := c.state
	change := c.setStateLocked(StateAttaching, nil)
	c.mu.Unlock()
	c.emitState(change)

	msg, err := protocol.Attach(c.name)
	if err == nil {
		err = c.conn.Send(msg)
	}
	if err != nil {
		c.mu.Lock()
		waits := c.attachWaits
		c.attachWaits = nil
		change := c.setStateLocked(prev, err)
		c.mu.Unlock()
		c.emitState(change)
		fail(waits, err)
		return fmt.Errorf("attach %s: %w", c.name, err)
	}

	c.logger.Debug("attaching")
	return c.await(ctx, wait, &c.attachWaits, "attach")
}

// Detach detaches the channel. Presence and message listeners are dropped.
func (c *Channel) Detach(ctx context.Context) error {
	c.presence.ClearClients()

	c.mu.Lock()
	if !c.conn.IsConnected() {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.state == StateDetached {
		c.mu.Unlock()
		return nil
	}

	wait := make(chan error, 1)
	c.detachWaits = append(c.detachWaits, wait)
	if c.state == StateDetaching {
		c.mu.Unlock()
		return c.await(ctx, wait, &c.detachWaits, "detach")
	}
	prev, prevEvents := c.state, c.events
	change := c.setStateLocked(StateDetaching, nil)
	c.events = make(map[string]struct{})
	c.mu.Unlock()
	c.emitState(change)

	msg, err := protocol.Detach(c.name)
	if err == nil {
		err = c.conn.Send(msg)
	}
	if err != nil {
		// The listeners are still bound, so the event set goes back too.
		c.mu.Lock()
		waits := c.detachWaits
		c.detachWaits = nil
		c.events = prevEvents
		change := c.setStateLocked(prev, err)
		c.mu.Unlock()
		c.emitState(change)
		fail(waits, err)
		return fmt.Errorf("detach %s: %w", c.name, err)
	}

	if err := c.presence.Leave(nil); err != nil {
		c.logger.Debug("presence leave on detach failed", "error", err)
	}
	c.presence.ClearListeners()
	c.messages.Clear()

	c.logger.Debug("detaching")
	return c.await(ctx, wait, &c.detachWaits, "detach")
}

// await blocks until the waiter is resolved, ctx ends or the request timeout
// passes. An abandoned waiter is removed from list.
func (c *Channel) await(ctx context.Context, wait chan error, list *[]chan error, op string) error {
	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	var err error
	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
		err = ErrRequestTimeout
	}

	c.mu.Lock()
	for i, w := range *list {
		if w == wait {
			*list = append((*list)[:i], (*list)[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	c.logger.Warn(op+" not confirmed", "error", err)
	return fmt.Errorf("%s %s: %w", op, c.name, err)
}

// Subscribe binds l to event ("*" for every message). The first binding of
// an event name wins. A channel that is not attached starts attaching.
func (c *Channel) Subscribe(event string, l Listener) error {
	if l == nil {
		return ErrNoListener
	}
	if event == "" {
		event = protocol.Wildcard
	}

	c.mu.Lock()
	if _, ok := c.events[event]; ok {
		c.mu.Unlock()
		return nil
	}
	c.events[event] = struct{}{}
	c.messages.On(event, emitter.Listener[Message](l))
	state := c.state
	c.mu.Unlock()

	if state != StateAttached && state != StateAttaching {
		go func() {
			if err := c.Attach(context.Background()); err != nil {
				c.logger.Debug("attach on subscribe failed", "error", err)
			}
		}()
	}
	return nil
}

// SubscribeAll binds l to every message.
func (c *Channel) SubscribeAll(l Listener) error {
	return c.Subscribe(protocol.Wildcard, l)
}

// Unsubscribe removes the binding for event.
func (c *Channel) Unsubscribe(event string) {
	if event == "" {
		event = protocol.Wildcard
	}
	c.mu.Lock()
	delete(c.events, event)
	c.mu.Unlock()
	c.messages.Off(event)
}

// Events returns the subscribed event names.
func (c *Channel) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for e := range c.events {
		out = append(out, e)
	}
	return out
}

// Publish sends payload under event. With a nil payload the event string is
// itself the payload and the event is "*".
func (c *Channel) Publish(event string, payload any) error {
	if payload == nil {
		if event == "" {
			return ErrNoPayload
		}
		payload, event = event, protocol.Wildcard
	}
	return c.publish(event, payload)
}

// PublishMessage sends a message object.
func (c *Channel) PublishMessage(m Outbound) error {
	if m.Data == nil {
		return ErrNoPayload
	}
	return c.publish(m.Name, m.Data)
}

func (c *Channel) publish(event string, payload any) error {
	if !c.conn.IsConnected() {
		return ErrNotConnected
	}
	msg, err := protocol.Publish(c.name, event, payload)
	if err != nil {
		return err
	}
	if err := c.conn.Send(msg); err != nil {
		return fmt.Errorf("publish to %s: %w", c.name, err)
	}
	return nil
}

// handleAttached completes a pending attach. An ATTACHED frame that
// arrives while no attach is in flight is stale and ignored.
func (c *Channel) handleAttached() {
	c.mu.Lock()
	if c.state != StateAttaching {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("unexpected attached ignored", "state", state)
		return
	}
	change := c.setStateLocked(StateAttached, nil)
	waits := c.attachWaits
	c.attachWaits = nil
	c.mu.Unlock()

	c.logger.Debug("attached")
	c.emitState(change)
	fail(waits, nil)
}

func (c *Channel) handleDetached() {
	c.mu.Lock()
	change := c.setStateLocked(StateDetached, nil)
	waits := c.detachWaits
	c.detachWaits = nil
	c.mu.Unlock()

	c.logger.Debug("detached")
	c.emitState(change)
	fail(waits, nil)
}

// handleMessage fans an inbound message out to the named listeners, then
// the wildcard listeners.
func (c *Channel) handleMessage(msg protocol.Message) {
	cm := msg.Message
	if cm == nil {
		return
	}
	event := cm.Name
	if event == "" {
		event = protocol.Wildcard
	}
	m := Message{
		Channel: c.name,
		Name:    event,
		Type:    cm.Type,
		Data:    cm.Payload(),
	}
	if event != protocol.Wildcard {
		c.messages.Emit(event, m)
	}
	c.messages.Emit(protocol.Wildcard, m)
}

// handlePresence forwards a live presence event to the tracker.
func (c *Channel) handlePresence(msg protocol.Message) {
	pm := msg.Presence
	if pm == nil {
		return
	}
	kind := pm.Action
	switch kind {
	case protocol.PresenceEnter, protocol.PresenceLeave, protocol.PresenceUpdate:
	default:
		kind = protocol.PresenceEnter
	}
	data := pm.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	c.presence.SendEvent(kind, protocol.Member{
		ClientID:     pm.ClientID,
		ConnectionID: pm.ConnectionID,
		Data:         data,
	})
}

// handleError fails pending attach/detach requests and marks the channel
// failed.
func (c *Channel) handleError(err *protocol.ServerError) {
	c.mu.Lock()
	change := c.setStateLocked(StateFailed, err)
	waits := append(c.attachWaits, c.detachWaits...)
	c.attachWaits, c.detachWaits = nil, nil
	c.mu.Unlock()

	c.logger.Warn("server error", "error", err.Message)
	c.emitState(change)
	fail(waits, err)
}

// resume re-attaches a channel that still has subscriptions after the
// connection comes back.
func (c *Channel) resume() {
	c.mu.Lock()
	wanted := len(c.events) > 0
	state := c.state
	c.mu.Unlock()
	if !wanted || (state != StateInitialized && state != StateDisconnected) {
		return
	}
	go func() {
		if err := c.Attach(context.Background()); err != nil {
			c.logger.Debug("re-attach failed", "error", err)
		}
	}()
}

// handleDisconnected clears presence and fails pending requests.
func (c *Channel) handleDisconnected() {
	c.presence.ClearClients()

	c.mu.Lock()
	change := c.setStateLocked(StateDisconnected, ErrDisconnected)
	waits := append(c.attachWaits, c.detachWaits...)
	c.attachWaits, c.detachWaits = nil, nil
	c.mu.Unlock()

	c.emitState(change)
	fail(waits, ErrDisconnected)
}

func (c *Channel) setStateLocked(to State, err error) StateChange {
	from := c.state
	c.state = to
	return StateChange{Channel: c.name, From: from, To: to, Err: err}
}

func (c *Channel) emitState(change StateChange) {
	if change.From == change.To {
		return
	}
	c.stateChanges.Emit("state", change)
}

// fail resolves every waiter with err (nil = success).
func fail(waits []chan error, err error) {
	for _, w := range waits {
		w <- err
	}
}
