package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/socket-client/internal/emitter"
	"github.com/rickgao/socket-client/internal/protocol"
)

var allKinds = []protocol.PresenceAction{
	protocol.PresenceEnter,
	protocol.PresenceLeave,
	protocol.PresenceUpdate,
}

// Tracker holds the member set of one channel.
type Tracker struct {
	channel string
	conn    Conn
	fetcher SnapshotFetcher
	logger  *slog.Logger

	mu      sync.Mutex
	members []protocol.Member
	index   map[string]int // clientID -> position in members
	loaded  bool

	// While a snapshot fetch is in flight, live enter/leave events are kept
	// in pending and replayed onto the snapshot before it is cached.
	fetching int
	pending  []pendingEvent

	listeners *emitter.Emitter[Event]
}

type pendingEvent struct {
	kind   protocol.PresenceAction
	member protocol.Member
}

// NewTracker creates a Tracker. fetcher may be nil, in which case Get only
// serves a loaded cache. exec schedules listener delivery (nil = inline).
func NewTracker(channel string, conn Conn, fetcher SnapshotFetcher, exec emitter.Executor, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		channel:   channel,
		conn:      conn,
		fetcher:   fetcher,
		logger:    logger.With("component", "presence", "channel", channel),
		index:     make(map[string]int),
		listeners: emitter.New[Event](exec),
	}
}

// AddClient adds m unless a member with the same client id exists.
func (t *Tracker) AddClient(m protocol.Member) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addLocked(m)
}

func (t *Tracker) addLocked(m protocol.Member) bool {
	if _, ok := t.index[m.ClientID]; ok {
		return false
	}
	t.index[m.ClientID] = len(t.members)
	t.members = append(t.members, m)
	return true
}

// RemoveClient removes the member with m's client id, if present.
func (t *Tracker) RemoveClient(m protocol.Member) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(m)
}

func (t *Tracker) removeLocked(m protocol.Member) bool {
	i, ok := t.index[m.ClientID]
	if !ok {
		return false
	}
	t.members = append(t.members[:i], t.members[i+1:]...)
	delete(t.index, m.ClientID)
	for j := i; j < len(t.members); j++ {
		t.index[t.members[j].ClientID] = j
	}
	return true
}

// Members returns a copy of the member list in insertion order.
func (t *Tracker) Members() []protocol.Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Member(nil), t.members...)
}

// Loaded reports whether a snapshot has been loaded since the last clear.
func (t *Tracker) Loaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loaded
}

// Get returns the member list, fetching a snapshot when the cache is not
// loaded or ForceReload is set.
func (t *Tracker) Get(ctx context.Context, opts GetOptions) ([]protocol.Member, error) {
	t.mu.Lock()
	if t.loaded && !opts.ForceReload {
		out := append([]protocol.Member(nil), t.members...)
		t.mu.Unlock()
		return out, nil
	}
	t.mu.Unlock()

	if t.fetcher == nil {
		return nil, ErrNoFetcher
	}

	t.mu.Lock()
	t.fetching++
	t.mu.Unlock()

	members, err := t.fetcher.FetchPresence(ctx, t.channel, Query{
		ClientID:     opts.ClientID,
		ConnectionID: opts.ConnectionID,
	})

	t.mu.Lock()
	pending := t.pending
	t.fetching--
	if t.fetching == 0 {
		t.pending = nil
	}
	if err != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("fetch presence for %s: %w", t.channel, err)
	}

	t.members = nil
	t.index = make(map[string]int, len(members))
	for _, m := range members {
		t.addLocked(m)
	}
	for _, e := range pending {
		t.applyLocked(e.kind, e.member)
	}
	t.loaded = true
	out := append([]protocol.Member(nil), t.members...)
	t.mu.Unlock()

	t.logger.Debug("presence snapshot loaded", "members", len(out), "replayed", len(pending))
	return out, nil
}

// SendEvent applies a live presence event and notifies listeners of kind.
// Enter adds, leave removes, update leaves the set unchanged.
func (t *Tracker) SendEvent(kind protocol.PresenceAction, m protocol.Member) {
	t.mu.Lock()
	t.applyLocked(kind, m)
	if t.fetching > 0 && kind != protocol.PresenceUpdate {
		t.pending = append(t.pending, pendingEvent{kind: kind, member: m})
	}
	t.mu.Unlock()
	t.listeners.Emit(kind.Event(), Event{Channel: t.channel, Kind: kind, Member: m})
}

func (t *Tracker) applyLocked(kind protocol.PresenceAction, m protocol.Member) {
	switch kind {
	case protocol.PresenceEnter:
		t.addLocked(m)
	case protocol.PresenceLeave:
		t.removeLocked(m)
	}
}

// Subscribe registers l for the given kinds, or for all kinds when none are
// given.
func (t *Tracker) Subscribe(l Listener, kinds ...protocol.PresenceAction) {
	if len(kinds) == 0 {
		kinds = allKinds
	}
	for _, k := range kinds {
		t.listeners.On(k.Event(), emitter.Listener[Event](l))
	}
}

// ClearListeners removes every presence listener.
func (t *Tracker) ClearListeners() {
	t.listeners.Clear()
}

// ClearClients empties the member set and marks it unloaded.
func (t *Tracker) ClearClients() {
	t.mu.Lock()
	t.members = nil
	t.index = make(map[string]int)
	t.loaded = false
	t.mu.Unlock()
}

// Enter announces the local client.
func (t *Tracker) Enter(data any) error {
	return t.send(protocol.PresenceEnter, data)
}

// Leave announces that the local client left.
func (t *Tracker) Leave(data any) error {
	return t.send(protocol.PresenceLeave, data)
}

// Update changes the local client's presence data.
func (t *Tracker) Update(data any) error {
	return t.send(protocol.PresenceUpdate, data)
}

func (t *Tracker) send(action protocol.PresenceAction, data any) error {
	if t.conn == nil || !t.conn.IsConnected() {
		return ErrNotConnected
	}
	clientID := t.conn.ClientID()
	if clientID == "" {
		return ErrNoClientID
	}
	msg, err := protocol.Presence(t.channel, clientID, t.conn.ConnectionID(), action, data)
	if err != nil {
		return err
	}
	if err := t.conn.Send(msg); err != nil {
		return fmt.Errorf("send presence %s: %w", action, err)
	}
	return nil
}
