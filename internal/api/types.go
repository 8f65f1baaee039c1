package api

import "errors"

// Errors
var (
	ErrNotArray  = errors.New("response is not a JSON array")
	ErrNoChannel = errors.New("channel name is required")
)

// PresenceQuery filters a presence snapshot.
type PresenceQuery struct {
	ClientID     string
	ConnectionID string
}
