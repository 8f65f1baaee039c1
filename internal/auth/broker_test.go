package auth

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/socket-client/internal/protocol"
)

type fakeConn struct {
	connected bool
	sent      chan protocol.Message
}

func newFakeConn() *fakeConn {
	return &fakeConn{connected: true, sent: make(chan protocol.Message, 16)}
}

func (c *fakeConn) IsConnected() bool { return c.connected }

func (c *fakeConn) Send(msg any) error {
	c.sent <- msg.(protocol.Message)
	return nil
}

func (c *fakeConn) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case m := <-c.sent:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for token request")
		return protocol.Message{}
	}
}

func TestBroker_NotConnected(t *testing.T) {
	b := NewBroker(&fakeConn{}, DefaultConfig(), nil)
	if _, err := b.CreateTokenRequest(context.Background(), TokenRequestOptions{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}

func TestBroker_ResolvesExactlyOnce(t *testing.T) {
	conn := newFakeConn()
	b := NewBroker(conn, DefaultConfig(), nil)

	type outcome struct {
		resp TokenResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := b.CreateTokenRequest(context.Background(), TokenRequestOptions{ClientID: "alice"})
		done <- outcome{resp, err}
	}()

	req := conn.next(t)
	if req.Action != protocol.ActionToken || req.ClientID != "alice" {
		t.Errorf("request = %+v", req)
	}
	if len(req.ReqID) != 32 {
		t.Errorf("reqId = %q, want 32 hex chars", req.ReqID)
	}
	if _, err := hex.DecodeString(req.ReqID); err != nil {
		t.Errorf("reqId not hex: %v", err)
	}
	if b.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", b.Pending())
	}

	resp := protocol.Message{Action: protocol.ActionToken, ReqID: req.ReqID, Token: "tok", ClientID: "alice"}
	if !b.OnResponse(resp) {
		t.Fatal("OnResponse() = false")
	}
	if b.OnResponse(resp) {
		t.Error("second OnResponse() = true")
	}
	if b.OnError(protocol.Message{Action: protocol.ActionError, ReqID: req.ReqID}) {
		t.Error("OnError() after resolution = true")
	}

	out := <-done
	if out.err != nil {
		t.Fatalf("CreateTokenRequest() error = %v", out.err)
	}
	if out.resp.Token != "tok" || out.resp.ClientID != "alice" || out.resp.ReqID != req.ReqID {
		t.Errorf("response = %+v", out.resp)
	}
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", b.Pending())
	}
}

func TestBroker_ServerError(t *testing.T) {
	conn := newFakeConn()
	b := NewBroker(conn, DefaultConfig(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := b.CreateTokenRequest(context.Background(), TokenRequestOptions{})
		done <- err
	}()

	req := conn.next(t)
	b.OnError(protocol.Message{
		Action: protocol.ActionError,
		ReqID:  req.ReqID,
		Error:  json.RawMessage(`{"message":"not allowed"}`),
	})

	err := <-done
	var serr *protocol.ServerError
	if !errors.As(err, &serr) || serr.Message != "not allowed" {
		t.Errorf("error = %v, want ServerError", err)
	}
}

func TestBroker_IgnoresUnknown(t *testing.T) {
	b := NewBroker(newFakeConn(), DefaultConfig(), nil)
	tests := []protocol.Message{
		{Action: protocol.ActionToken},
		{Action: protocol.ActionToken, ReqID: "nope"},
	}
	for _, msg := range tests {
		if b.OnResponse(msg) || b.OnError(msg) {
			t.Errorf("message %+v was resolved", msg)
		}
	}
}

func TestBroker_Timeout(t *testing.T) {
	conn := newFakeConn()
	b := NewBroker(conn, Config{RequestTimeout: 20 * time.Millisecond}, nil)

	_, err := b.CreateTokenRequest(context.Background(), TokenRequestOptions{})
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("error = %v, want ErrRequestTimeout", err)
	}
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d after timeout, want 0", b.Pending())
	}

	// A late answer is dropped.
	req := conn.next(t)
	if b.OnResponse(protocol.Message{Action: protocol.ActionToken, ReqID: req.ReqID}) {
		t.Error("late OnResponse() = true")
	}
}

func TestBroker_ContextCanceled(t *testing.T) {
	b := NewBroker(newFakeConn(), DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.CreateTokenRequest(ctx, TokenRequestOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestNewReqID_Unique(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := newReqID()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %s", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}
