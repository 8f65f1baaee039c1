package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/socket-client/internal/auth"
	"github.com/rickgao/socket-client/internal/channel"
	"github.com/rickgao/socket-client/internal/connection"
	"github.com/rickgao/socket-client/internal/metrics"
	"github.com/rickgao/socket-client/internal/presence"
	"github.com/rickgao/socket-client/internal/protocol"
)

// fakeServer speaks enough of the realtime protocol to exercise a client:
// CONNECTED on connect, ATTACHED/DETACHED replies, MESSAGE echo, TOKEN
// replies and a presence REST endpoint.
type fakeServer struct {
	*httptest.Server

	mu      sync.Mutex
	queries []string
	secrets []string
	attachs []string
	conns   map[*websocket.Conn]struct{}
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{conns: make(map[*websocket.Conn]struct{})}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.queries = append(fs.queries, r.URL.RawQuery)
		fs.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		fs.mu.Lock()
		fs.conns[conn] = struct{}{}
		fs.mu.Unlock()
		defer func() {
			fs.mu.Lock()
			delete(fs.conns, conn)
			fs.mu.Unlock()
			conn.Close()
		}()

		conn.WriteJSON(protocol.Message{Action: protocol.ActionConnected, ClientID: "client-1", ConnectionID: "conn-1"})
		for {
			var msg protocol.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Action {
			case protocol.ActionAttach:
				fs.mu.Lock()
				fs.attachs = append(fs.attachs, msg.Channel)
				fs.mu.Unlock()
				if msg.Channel == "forbidden" {
					conn.WriteJSON(protocol.Message{Action: protocol.ActionError, Channel: msg.Channel, Error: json.RawMessage(`"not allowed"`)})
					continue
				}
				conn.WriteJSON(protocol.Message{Action: protocol.ActionAttached, Channel: msg.Channel})
			case protocol.ActionDetach:
				conn.WriteJSON(protocol.Message{Action: protocol.ActionDetached, Channel: msg.Channel})
			case protocol.ActionMessage:
				conn.WriteJSON(msg)
			case protocol.ActionPresence:
				conn.WriteJSON(msg)
			case protocol.ActionToken:
				conn.WriteJSON(protocol.Message{Action: protocol.ActionToken, ReqID: msg.ReqID, ClientID: msg.ClientID, Token: "tok-" + msg.ClientID})
			}
		}
	})
	mux.HandleFunc("/room/", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.secrets = append(fs.secrets, r.Header.Get("X-Secret"))
		fs.mu.Unlock()
		w.Write([]byte(`[{"clientId":"a"},{"clientId":"b"}]`))
	})

	fs.Server = httptest.NewServer(mux)
	return fs
}

// drop closes every open socket from the server side.
func (fs *fakeServer) drop() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for conn := range fs.conns {
		conn.Close()
	}
}

func (fs *fakeServer) attachCount(name string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := 0
	for _, ch := range fs.attachs {
		if ch == name {
			n++
		}
	}
	return n
}

func waitState(t *testing.T, ch *channel.Channel, want channel.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for ch.State() != want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ch.State() != want {
		t.Fatalf("%s State() = %s, want %s", ch.Name(), ch.State(), want)
	}
}

func (fs *fakeServer) host() string {
	return strings.TrimPrefix(fs.URL, "http://")
}

func newTestClient(t *testing.T, fs *fakeServer, opts ...Option) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Connection.Host = fs.host()
	cfg.Connection.Secret = "s3cret"
	cfg.RequestTimeout = 2 * time.Second
	return New(cfg, opts...)
}

func connect(t *testing.T, c *Client) {
	t.Helper()
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.WaitConnected(ctx); err != nil {
		t.Fatalf("WaitConnected() error = %v", err)
	}
}

func TestClient_EndToEnd(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.Close()

	c := newTestClient(t, fs)
	defer c.Close()
	connect(t, c)

	if c.Connection().ClientID() != "client-1" {
		t.Errorf("ClientID() = %q", c.Connection().ClientID())
	}
	fs.mu.Lock()
	query := fs.queries[0]
	fs.mu.Unlock()
	if query != "connect=1&secret=s3cret" {
		t.Errorf("connect query = %q", query)
	}

	room := c.Channel("room")
	if err := room.Attach(context.Background()); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if room.State() != channel.StateAttached {
		t.Errorf("State() = %s, want attached", room.State())
	}

	received := make(chan channel.Message, 4)
	room.Subscribe("greet", func(m channel.Message) { received <- m })

	if err := room.Publish("greet", map[string]any{"text": "hi"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case m := <-received:
		data, ok := m.Data.(map[string]any)
		if !ok || data["text"] != "hi" {
			t.Errorf("payload = %#v", m.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("echoed message not delivered")
	}

	resp, err := c.CreateTokenRequest(context.Background(), auth.TokenRequestOptions{ClientID: "bob"})
	if err != nil {
		t.Fatalf("CreateTokenRequest() error = %v", err)
	}
	if resp.Token != "tok-bob" {
		t.Errorf("Token = %q", resp.Token)
	}
	if c.Auth().Pending() != 0 {
		t.Errorf("Pending() = %d", c.Auth().Pending())
	}

	members, err := room.Presence().Get(context.Background(), presence.GetOptions{})
	if err != nil {
		t.Fatalf("presence Get() error = %v", err)
	}
	if len(members) != 2 {
		t.Errorf("members = %v", members)
	}
	fs.mu.Lock()
	secret := fs.secrets[0]
	fs.mu.Unlock()
	if secret != "s3cret" {
		t.Errorf("X-Secret = %q", secret)
	}

	if err := room.Detach(context.Background()); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	if room.State() != channel.StateDetached {
		t.Errorf("State() = %s, want detached", room.State())
	}
}

// A listener may call a blocking operation without stalling the read loop.
func TestClient_ListenerMayAttach(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.Close()

	c := newTestClient(t, fs)
	defer c.Close()
	connect(t, c)

	lobby := c.Channel("lobby")
	if err := lobby.Attach(context.Background()); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	attached := make(chan error, 1)
	lobby.SubscribeAll(func(m channel.Message) {
		attached <- c.Channel("side").Attach(context.Background())
	})
	lobby.Publish("go", "now")

	select {
	case err := <-attached:
		if err != nil {
			t.Errorf("Attach() from listener error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("listener attach did not complete")
	}
}

func TestClient_ServerErrorFailsChannel(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.Close()

	c := newTestClient(t, fs)
	defer c.Close()
	connect(t, c)

	ch := c.Channel("forbidden")
	err := ch.Attach(context.Background())
	var serr *protocol.ServerError
	if !errors.As(err, &serr) || serr.Message != "not allowed" {
		t.Fatalf("Attach() error = %v, want ServerError", err)
	}
	if ch.State() != channel.StateFailed {
		t.Errorf("State() = %s, want failed", ch.State())
	}
}

func TestClient_StateListenersAndMetrics(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.Close()

	reg := prometheus.NewRegistry()
	c := newTestClient(t, fs, WithMetrics(metrics.New(reg)))

	var mu sync.Mutex
	var states []connection.State
	c.OnStateChange(func(change connection.StateChange) {
		mu.Lock()
		states = append(states, change.To)
		mu.Unlock()
	})

	connect(t, c)
	c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []connection.State{connection.StateConnecting, connection.StateConnected, connection.StateClosing, connection.StateClosed}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state[%d] = %s, want %s", i, states[i], want[i])
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Error("no metrics gathered")
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := New(DefaultConfig())
	defer c.Close()

	if err := c.Channel("room").Attach(context.Background()); !errors.Is(err, channel.ErrNotConnected) {
		t.Errorf("Attach() error = %v", err)
	}
	if _, err := c.CreateTokenRequest(context.Background(), auth.TokenRequestOptions{}); !errors.Is(err, auth.ErrNotConnected) {
		t.Errorf("CreateTokenRequest() error = %v", err)
	}
	if err := c.Connect(); !errors.Is(err, connection.ErrNoCredentials) {
		t.Errorf("Connect() error = %v, want ErrNoCredentials", err)
	}
}

func TestClient_Subscribe(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.Close()

	c := newTestClient(t, fs)
	defer c.Close()
	connect(t, c)

	received := make(chan channel.Message, 4)
	ch, err := c.Subscribe("news", []string{"sports", "weather"}, func(m channel.Message) { received <- m })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if got := len(ch.Events()); got != 2 {
		t.Errorf("Events() = %v, want 2 events", ch.Events())
	}

	deadline := time.Now().Add(2 * time.Second)
	for ch.State() != channel.StateAttached && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ch.State() != channel.StateAttached {
		t.Fatalf("State() = %s, want attached after subscribe", ch.State())
	}

	ch.Publish("politics", "ignored")
	ch.Publish("weather", "sunny")

	select {
	case m := <-received:
		if m.Name != "weather" || m.Data != "sunny" {
			t.Errorf("message = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribed event not delivered")
	}
}

func TestClient_SubscribeNoName(t *testing.T) {
	c := New(DefaultConfig())
	defer c.Close()

	noop := func(channel.Message) {}
	if _, err := c.Subscribe("", nil, noop); !errors.Is(err, protocol.ErrNoChannel) {
		t.Errorf("Subscribe(\"\") error = %v, want ErrNoChannel", err)
	}
}

func TestClient_SubscribeBeforeConnectedAndReconnect(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.Close()

	cfg := DefaultConfig()
	cfg.Connection.Host = fs.host()
	cfg.Connection.Secret = "s3cret"
	cfg.Connection.ReconnectInterval = 50 * time.Millisecond
	cfg.RequestTimeout = 2 * time.Second
	c := New(cfg)
	defer c.Close()

	// Subscribing straight after Connect races the handshake.
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	received := make(chan channel.Message, 4)
	ch, err := c.Subscribe("room", nil, func(m channel.Message) { received <- m })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	waitState(t, ch, channel.StateAttached)

	fs.drop()
	waitState(t, ch, channel.StateAttached)
	deadline := time.Now().Add(3 * time.Second)
	for fs.attachCount("room") < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := fs.attachCount("room"); n < 2 {
		t.Fatalf("server saw %d ATTACH frames, want a re-attach after the drop", n)
	}

	if err := ch.Publish("greet", "again"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	select {
	case m := <-received:
		if m.Data != "again" {
			t.Errorf("message = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered after reconnect")
	}
}

func TestClient_CloseFromListener(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.Close()

	c := newTestClient(t, fs)
	closed := make(chan error, 1)
	c.OnStateChange(func(change connection.StateChange) {
		if change.To == connection.StateConnected {
			closed <- c.Close()
		}
	})
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close() called from a listener did not return")
	}
	select {
	case <-c.Done():
	case <-time.After(closeWait):
		t.Fatal("client did not finish shutting down")
	}
	if s := c.Connection().State(); s != connection.StateClosed {
		t.Errorf("connection State() = %s, want closed", s)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
