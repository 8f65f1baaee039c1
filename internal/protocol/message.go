package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Errors returned by message constructors.
var (
	ErrNoChannel  = errors.New("no channel given")
	ErrNoPayload  = errors.New("no event or message given")
	ErrNoClientID = errors.New("no client id given")
)

// Message is the envelope exchanged with the server.
type Message struct {
	Action       Action           `json:"action"`
	Channel      string           `json:"channel,omitempty"`
	ClientID     string           `json:"clientId,omitempty"`
	ConnectionID string           `json:"connectionId,omitempty"`
	ReqID        string           `json:"reqId,omitempty"`
	Token        string           `json:"token,omitempty"`
	Error        json.RawMessage  `json:"error,omitempty"`
	Message      *ChannelMessage  `json:"message,omitempty"`
	Presence     *PresenceMessage `json:"presence,omitempty"`
}

// ChannelMessage is the payload of a MESSAGE action.
// Data holds a JSON string; for Type == TypeJSON that string is itself an
// encoded JSON document.
type ChannelMessage struct {
	Name string          `json:"name"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Payload decodes Data for delivery to listeners.
//
// A json-typed payload is parsed from its encoded form. When parsing fails
// the encoded string is returned unchanged.
func (m *ChannelMessage) Payload() any {
	if m == nil || len(m.Data) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(m.Data, &s); err != nil {
		// Not an encoded string: some servers inline the document.
		var v any
		if err := json.Unmarshal(m.Data, &v); err != nil {
			return string(m.Data)
		}
		return v
	}

	if m.Type != TypeJSON {
		return s
	}

	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// PresenceMessage is the payload of a PRESENCE action.
type PresenceMessage struct {
	Action       PresenceAction  `json:"action"`
	ClientID     string          `json:"clientId"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Member is one client present in a channel.
type Member struct {
	ClientID     string          `json:"clientId"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// ServerError is a protocol error sent by the server (ERROR action).
type ServerError struct {
	Channel string
	ReqID   string
	Message string
	Raw     json.RawMessage
}

func (e *ServerError) Error() string {
	if e.Channel != "" {
		return fmt.Sprintf("server error on channel %s: %s", e.Channel, e.Message)
	}
	return "server error: " + e.Message
}

// ServerErrorFrom builds a ServerError from an ERROR message.
// The error field may be a plain string or an object with a message field.
func ServerErrorFrom(msg Message) *ServerError {
	text := "unknown error"
	if len(msg.Error) > 0 {
		res := gjson.ParseBytes(msg.Error)
		switch {
		case res.Type == gjson.String:
			text = res.String()
		case res.IsObject() && res.Get("message").Exists():
			text = res.Get("message").String()
		default:
			text = res.Raw
		}
	}
	return &ServerError{
		Channel: msg.Channel,
		ReqID:   msg.ReqID,
		Message: text,
		Raw:     msg.Error,
	}
}

// Attach builds an ATTACH request for channel.
func Attach(channel string) (Message, error) {
	if channel == "" {
		return Message{}, ErrNoChannel
	}
	return Message{Action: ActionAttach, Channel: channel}, nil
}

// Detach builds a DETACH request for channel.
func Detach(channel string) (Message, error) {
	if channel == "" {
		return Message{}, ErrNoChannel
	}
	return Message{Action: ActionDetach, Channel: channel}, nil
}

// Publish builds a MESSAGE for channel. Strings are sent as TypeString,
// everything else is JSON-encoded and sent as TypeJSON.
func Publish(channel, event string, payload any) (Message, error) {
	if channel == "" {
		return Message{}, ErrNoChannel
	}
	if payload == nil {
		return Message{}, ErrNoPayload
	}
	if event == "" {
		event = Wildcard
	}

	typ := TypeString
	var text string
	switch v := payload.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return Message{}, fmt.Errorf("encode payload: %w", err)
		}
		text = string(encoded)
		typ = TypeJSON
	}
	if text == "" {
		return Message{}, ErrNoPayload
	}

	data, err := json.Marshal(text)
	if err != nil {
		return Message{}, fmt.Errorf("encode payload: %w", err)
	}

	return Message{
		Action:  ActionMessage,
		Channel: channel,
		Message: &ChannelMessage{
			Name: event,
			Type: typ,
			Data: data,
		},
	}, nil
}

// Presence builds an outbound PRESENCE message for the local client.
func Presence(channel, clientID, connectionID string, action PresenceAction, data any) (Message, error) {
	if channel == "" {
		return Message{}, ErrNoChannel
	}
	if clientID == "" {
		return Message{}, ErrNoClientID
	}

	raw := json.RawMessage(`{}`)
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return Message{}, fmt.Errorf("encode presence data: %w", err)
		}
		raw = encoded
	}

	return Message{
		Action:  ActionPresence,
		Channel: channel,
		Presence: &PresenceMessage{
			Action:       action,
			ClientID:     clientID,
			ConnectionID: connectionID,
			Data:         raw,
		},
	}, nil
}

// TokenRequest builds a TOKEN request correlated by reqID.
func TokenRequest(reqID, clientID string) Message {
	return Message{
		Action:   ActionToken,
		ReqID:    reqID,
		ClientID: clientID,
	}
}
