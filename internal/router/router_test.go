package router

import (
	"testing"

	"github.com/rickgao/socket-client/internal/protocol"
)

type recorder struct {
	calls []string
}

func (r *recorder) HandleAttached(protocol.Message) { r.calls = append(r.calls, "attached") }
func (r *recorder) HandleDetached(protocol.Message) { r.calls = append(r.calls, "detached") }
func (r *recorder) HandleMessage(protocol.Message)  { r.calls = append(r.calls, "message") }
func (r *recorder) HandlePresence(protocol.Message) { r.calls = append(r.calls, "presence") }
func (r *recorder) HandleError(protocol.Message)    { r.calls = append(r.calls, "channel-error") }

func (r *recorder) OnResponse(protocol.Message) bool {
	r.calls = append(r.calls, "token")
	return true
}

func (r *recorder) OnError(protocol.Message) bool {
	r.calls = append(r.calls, "token-error")
	return true
}

func TestRouter_Dispatch(t *testing.T) {
	tests := []struct {
		action protocol.Action
		want   []string
	}{
		{protocol.ActionError, []string{"channel-error", "token-error"}},
		{protocol.ActionAttached, []string{"attached"}},
		{protocol.ActionDetached, []string{"detached"}},
		{protocol.ActionPresence, []string{"presence"}},
		{protocol.ActionMessage, []string{"message"}},
		{protocol.ActionToken, []string{"token"}},
		{protocol.ActionHeartbeat, nil},
		{protocol.ActionSync, nil},
		{protocol.Action(99), nil},
	}

	for _, tt := range tests {
		t.Run(tt.action.String(), func(t *testing.T) {
			rec := &recorder{}
			r := New(rec, rec, nil)
			r.Handle(protocol.Message{Action: tt.action, Channel: "room"})

			if len(rec.calls) != len(tt.want) {
				t.Fatalf("calls = %v, want %v", rec.calls, tt.want)
			}
			for i := range tt.want {
				if rec.calls[i] != tt.want[i] {
					t.Errorf("call[%d] = %s, want %s", i, rec.calls[i], tt.want[i])
				}
			}
		})
	}
}

func TestRouter_NilTargets(t *testing.T) {
	r := New(nil, nil, nil)
	for a := protocol.ActionHeartbeat; a <= protocol.ActionToken; a++ {
		r.Handle(protocol.Message{Action: a})
	}
	if got := r.Stats().MessagesReceived; got != 18 {
		t.Errorf("MessagesReceived = %d, want 18", got)
	}
}

func TestRouter_StatsAndTaps(t *testing.T) {
	rec := &recorder{}
	r := New(rec, rec, nil)

	var tapped []protocol.Action
	r.AddTap(func(msg protocol.Message) { tapped = append(tapped, msg.Action) })

	r.Handle(protocol.Message{Action: protocol.ActionMessage, Channel: "a"})
	r.Handle(protocol.Message{Action: protocol.ActionMessage, Channel: "b"})
	r.Handle(protocol.Message{Action: protocol.ActionHeartbeat})
	r.Handle(protocol.Message{Action: protocol.ActionPresence, Channel: "a"})

	st := r.Stats()
	if st.MessagesReceived != 4 || st.MessagesRouted != 3 || st.MessagesIgnored != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.ByAction[protocol.ActionMessage] != 2 {
		t.Errorf("ByAction[message] = %d, want 2", st.ByAction[protocol.ActionMessage])
	}
	if len(tapped) != 3 {
		t.Errorf("tapped = %v, heartbeats must not reach taps", tapped)
	}
}
