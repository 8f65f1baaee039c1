package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rickgao/socket-client/internal/protocol"
)

type fakeConn struct {
	mu        sync.Mutex
	connected bool
	clientID  string
	sent      []any
}

func (c *fakeConn) IsConnected() bool    { return c.connected }
func (c *fakeConn) ClientID() string     { return c.clientID }
func (c *fakeConn) ConnectionID() string { return "conn-1" }

func (c *fakeConn) Send(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func member(id string) protocol.Member {
	return protocol.Member{ClientID: id, Data: json.RawMessage(`{}`)}
}

func ids(members []protocol.Member) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.ClientID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTracker_SetSemantics(t *testing.T) {
	tr := NewTracker("room", nil, nil, nil, nil)

	if !tr.AddClient(member("a")) {
		t.Error("AddClient(a) = false")
	}
	tr.AddClient(member("b"))
	if tr.AddClient(member("a")) {
		t.Error("second AddClient(a) = true")
	}
	tr.AddClient(member("c"))

	if got := ids(tr.Members()); !equal(got, []string{"a", "b", "c"}) {
		t.Errorf("Members() = %v", got)
	}

	if !tr.RemoveClient(member("b")) {
		t.Error("RemoveClient(b) = false")
	}
	if tr.RemoveClient(member("b")) {
		t.Error("second RemoveClient(b) = true")
	}
	if tr.RemoveClient(member("zz")) {
		t.Error("RemoveClient(unknown) = true")
	}
	tr.AddClient(member("d"))

	if got := ids(tr.Members()); !equal(got, []string{"a", "c", "d"}) {
		t.Errorf("Members() = %v", got)
	}

	tr.ClearClients()
	if len(tr.Members()) != 0 || tr.Loaded() {
		t.Error("ClearClients() left members or loaded flag")
	}
}

func TestTracker_MembersIsCopy(t *testing.T) {
	tr := NewTracker("room", nil, nil, nil, nil)
	tr.AddClient(member("a"))
	got := tr.Members()
	got[0].ClientID = "mutated"
	if tr.Members()[0].ClientID != "a" {
		t.Error("Members() exposed internal slice")
	}
}

func TestTracker_SendEvent(t *testing.T) {
	tr := NewTracker("room", nil, nil, nil, nil)

	var events []Event
	var sizes []int
	tr.Subscribe(func(e Event) {
		events = append(events, e)
		sizes = append(sizes, len(tr.Members()))
	})

	tr.SendEvent(protocol.PresenceEnter, member("a"))
	tr.SendEvent(protocol.PresenceUpdate, member("a"))
	tr.SendEvent(protocol.PresenceUpdate, member("ghost"))
	tr.SendEvent(protocol.PresenceLeave, member("a"))

	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	// Listeners observe the post-mutation set.
	want := []int{1, 1, 1, 0}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("event %d saw %d members, want %d", i, sizes[i], want[i])
		}
	}
	if events[0].Channel != "room" || events[0].Kind != protocol.PresenceEnter {
		t.Errorf("event[0] = %+v", events[0])
	}
}

func TestTracker_SubscribeKinds(t *testing.T) {
	tr := NewTracker("room", nil, nil, nil, nil)

	var leaves int
	tr.Subscribe(func(Event) { leaves++ }, protocol.PresenceLeave)

	tr.SendEvent(protocol.PresenceEnter, member("a"))
	tr.SendEvent(protocol.PresenceLeave, member("a"))
	if leaves != 1 {
		t.Errorf("leave listener called %d times, want 1", leaves)
	}

	tr.ClearListeners()
	tr.SendEvent(protocol.PresenceLeave, member("a"))
	if leaves != 1 {
		t.Errorf("listener called after ClearListeners")
	}
}

func TestTracker_Get(t *testing.T) {
	var calls int
	var lastQuery Query
	fetcher := FetcherFunc(func(ctx context.Context, channel string, q Query) ([]protocol.Member, error) {
		calls++
		lastQuery = q
		if channel != "room" {
			t.Errorf("channel = %q", channel)
		}
		return []protocol.Member{member("a"), member("b"), member("a")}, nil
	})
	tr := NewTracker("room", nil, fetcher, nil, nil)

	got, err := tr.Get(context.Background(), GetOptions{})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !equal(ids(got), []string{"a", "b"}) {
		t.Errorf("Get() = %v", ids(got))
	}
	if !tr.Loaded() {
		t.Error("Loaded() = false after Get")
	}

	// Cached.
	tr.Get(context.Background(), GetOptions{})
	if calls != 1 {
		t.Errorf("fetcher called %d times, want 1", calls)
	}

	tr.Get(context.Background(), GetOptions{ForceReload: true, ClientID: "a", ConnectionID: "c"})
	if calls != 2 {
		t.Errorf("fetcher called %d times after ForceReload, want 2", calls)
	}
	if lastQuery.ClientID != "a" || lastQuery.ConnectionID != "c" {
		t.Errorf("query = %+v", lastQuery)
	}
}

func TestTracker_GetErrors(t *testing.T) {
	tr := NewTracker("room", nil, nil, nil, nil)
	if _, err := tr.Get(context.Background(), GetOptions{}); !errors.Is(err, ErrNoFetcher) {
		t.Errorf("Get() error = %v, want ErrNoFetcher", err)
	}

	boom := errors.New("boom")
	tr = NewTracker("room", nil, FetcherFunc(func(context.Context, string, Query) ([]protocol.Member, error) {
		return nil, boom
	}), nil, nil)
	if _, err := tr.Get(context.Background(), GetOptions{}); !errors.Is(err, boom) {
		t.Errorf("Get() error = %v, want boom", err)
	}
	if tr.Loaded() {
		t.Error("Loaded() = true after failed fetch")
	}
}

func TestTracker_EnterLeaveUpdate(t *testing.T) {
	tests := []struct {
		name    string
		conn    *fakeConn
		wantErr error
	}{
		{"not connected", &fakeConn{clientID: "me"}, ErrNotConnected},
		{"no client id", &fakeConn{connected: true}, ErrNoClientID},
		{"ok", &fakeConn{connected: true, clientID: "me"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker("room", tt.conn, nil, nil, nil)
			for _, op := range []func(any) error{tr.Enter, tr.Leave, tr.Update} {
				if err := op(map[string]string{"status": "here"}); !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
			}
			if tt.wantErr != nil {
				if len(tt.conn.sent) != 0 {
					t.Errorf("sent %d messages, want 0", len(tt.conn.sent))
				}
				return
			}

			if len(tt.conn.sent) != 3 {
				t.Fatalf("sent %d messages, want 3", len(tt.conn.sent))
			}
			wantActions := []protocol.PresenceAction{protocol.PresenceEnter, protocol.PresenceLeave, protocol.PresenceUpdate}
			for i, raw := range tt.conn.sent {
				msg := raw.(protocol.Message)
				if msg.Action != protocol.ActionPresence || msg.Channel != "room" {
					t.Errorf("msg[%d] = %+v", i, msg)
				}
				if msg.Presence.Action != wantActions[i] || msg.Presence.ClientID != "me" {
					t.Errorf("presence[%d] = %+v", i, msg.Presence)
				}
				if string(msg.Presence.Data) != `{"status":"here"}` {
					t.Errorf("data[%d] = %s", i, msg.Presence.Data)
				}
			}
		})
	}
}

func TestTracker_GetReplaysLiveEvents(t *testing.T) {
	tests := []struct {
		name     string
		snapshot []string
		live     func(tr *Tracker)
		want     []string
	}{
		{
			name:     "enter during fetch",
			snapshot: []string{"a"},
			live: func(tr *Tracker) {
				tr.SendEvent(protocol.PresenceEnter, member("b"))
			},
			want: []string{"a", "b"},
		},
		{
			name:     "leave during fetch",
			snapshot: []string{"a", "b"},
			live: func(tr *Tracker) {
				tr.SendEvent(protocol.PresenceLeave, member("a"))
			},
			want: []string{"b"},
		},
		{
			name:     "enter then leave during fetch",
			snapshot: []string{"a"},
			live: func(tr *Tracker) {
				tr.SendEvent(protocol.PresenceEnter, member("b"))
				tr.SendEvent(protocol.PresenceUpdate, member("b"))
				tr.SendEvent(protocol.PresenceLeave, member("b"))
			},
			want: []string{"a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tr *Tracker
			tr = NewTracker("room", nil, FetcherFunc(func(context.Context, string, Query) ([]protocol.Member, error) {
				tt.live(tr)
				var out []protocol.Member
				for _, id := range tt.snapshot {
					out = append(out, member(id))
				}
				return out, nil
			}), nil, nil)

			got, err := tr.Get(context.Background(), GetOptions{ForceReload: true})
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !equal(ids(got), tt.want) {
				t.Errorf("Get() = %v, want %v", ids(got), tt.want)
			}
			if !equal(ids(tr.Members()), tt.want) {
				t.Errorf("Members() = %v, want %v", ids(tr.Members()), tt.want)
			}

			// Events outside a fetch are not replayed into the next snapshot.
			tr.SendEvent(protocol.PresenceEnter, member("z"))
			tt.live = func(*Tracker) {}
			got, _ = tr.Get(context.Background(), GetOptions{ForceReload: true})
			if !equal(ids(got), tt.snapshot) {
				t.Errorf("second Get() = %v, want %v", ids(got), tt.snapshot)
			}
		})
	}
}
