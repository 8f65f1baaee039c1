package protocol

import "strconv"

// Action identifies the semantic type of a wire message.
// Values are protocol constants and must not be renumbered.
type Action int

const (
	ActionHeartbeat    Action = 0
	ActionAck          Action = 1
	ActionNack         Action = 2
	ActionConnect      Action = 3
	ActionConnected    Action = 4
	ActionDisconnect   Action = 5
	ActionDisconnected Action = 6
	ActionClose        Action = 7
	ActionClosed       Action = 8
	ActionError        Action = 9
	ActionAttach       Action = 10
	ActionAttached     Action = 11
	ActionDetach       Action = 12
	ActionDetached     Action = 13
	ActionPresence     Action = 14
	ActionMessage      Action = 15
	ActionSync         Action = 16
	ActionToken        Action = 17
)

var actionNames = map[Action]string{
	ActionHeartbeat:    "heartbeat",
	ActionAck:          "ack",
	ActionNack:         "nack",
	ActionConnect:      "connect",
	ActionConnected:    "connected",
	ActionDisconnect:   "disconnect",
	ActionDisconnected: "disconnected",
	ActionClose:        "close",
	ActionClosed:       "closed",
	ActionError:        "error",
	ActionAttach:       "attach",
	ActionAttached:     "attached",
	ActionDetach:       "detach",
	ActionDetached:     "detached",
	ActionPresence:     "presence",
	ActionMessage:      "message",
	ActionSync:         "sync",
	ActionToken:        "token",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "action(" + strconv.Itoa(int(a)) + ")"
}

// PresenceAction is the sub-action of a PRESENCE message.
type PresenceAction int

const (
	PresenceEnter  PresenceAction = 0
	PresenceLeave  PresenceAction = 1
	PresenceUpdate PresenceAction = 2
)

// Presence event names as seen by listeners.
const (
	EventEnter  = "enter"
	EventLeave  = "leave"
	EventUpdate = "update"
)

// Event returns the listener-facing event name. Unknown values map to enter.
func (p PresenceAction) Event() string {
	switch p {
	case PresenceLeave:
		return EventLeave
	case PresenceUpdate:
		return EventUpdate
	default:
		return EventEnter
	}
}

func (p PresenceAction) String() string {
	return p.Event()
}

// Channel message payload types.
const (
	TypeString = "string"
	TypeJSON   = "json"
)

// Wildcard is the event name that matches every channel message.
const Wildcard = "*"
