package protocol

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Decode parses an inbound frame. It reports false for anything that is not
// a JSON object with a numeric action field. A frame whose other fields have
// unexpected types is still decoded, field by field.
func Decode(data []byte) (Message, bool) {
	if !gjson.ValidBytes(data) {
		return Message{}, false
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() || root.Get("action").Type != gjson.Number {
		return Message{}, false
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err == nil {
		return msg, true
	}
	return decodeFields(root), true
}

func decodeFields(root gjson.Result) Message {
	msg := Message{
		Action:       Action(root.Get("action").Int()),
		Channel:      root.Get("channel").String(),
		ClientID:     root.Get("clientId").String(),
		ConnectionID: root.Get("connectionId").String(),
		ReqID:        root.Get("reqId").String(),
		Token:        root.Get("token").String(),
	}
	if e := root.Get("error"); e.Exists() {
		msg.Error = json.RawMessage(e.Raw)
	}
	if m := root.Get("message"); m.IsObject() {
		msg.Message = &ChannelMessage{
			Name: m.Get("name").String(),
			Type: m.Get("type").String(),
		}
		if d := m.Get("data"); d.Exists() {
			msg.Message.Data = json.RawMessage(d.Raw)
		}
	}
	if p := root.Get("presence"); p.IsObject() {
		msg.Presence = &PresenceMessage{
			Action:       presenceAction(p.Get("action")),
			ClientID:     p.Get("clientId").String(),
			ConnectionID: p.Get("connectionId").String(),
		}
		if d := p.Get("data"); d.Exists() {
			msg.Presence.Data = json.RawMessage(d.Raw)
		}
	}
	return msg
}

// presenceAction accepts the numeric form or an event name.
func presenceAction(v gjson.Result) PresenceAction {
	switch v.String() {
	case EventLeave, "1":
		return PresenceLeave
	case EventUpdate, "2":
		return PresenceUpdate
	default:
		return PresenceEnter
	}
}

// Encode serializes v to the wire format. Strings and byte slices are
// assumed to be serialized already.
func Encode(v any) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return []byte(t), nil
	case []byte:
		return t, nil
	case json.RawMessage:
		return t, nil
	default:
		return json.Marshal(v)
	}
}
