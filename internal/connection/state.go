package connection

// State is a connection state.
type State int

const (
	StateInitialized State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateClosing
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StateInitialized:  "initialized",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateDisconnected: "disconnected",
	StateClosing:      "closing",
	StateClosed:       "closed",
	StateFailed:       "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// transitions lists the legal edges of the state machine.
var transitions = map[State][]State{
	StateInitialized:  {StateConnecting, StateFailed, StateClosing},
	StateConnecting:   {StateConnected, StateDisconnected, StateFailed, StateClosing},
	StateConnected:    {StateConnecting, StateDisconnected, StateFailed, StateClosing},
	StateDisconnected: {StateConnecting, StateFailed, StateClosing},
	StateFailed:       {StateConnecting, StateClosing},
	StateClosing:      {StateClosed},
	StateClosed:       {StateConnecting},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// terminal reports whether the manager was closed by the user.
func (s State) terminal() bool {
	return s == StateClosing || s == StateClosed
}
