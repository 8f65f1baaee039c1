// Package protocol defines the wire envelope exchanged with the pub/sub server.
//
// Every frame is a JSON object carrying a numeric action code plus
// action-specific fields:
//   - ATTACH / DETACH (client → server) and ATTACHED / DETACHED (server → client)
//   - MESSAGE carries a ChannelMessage whose data is a string or an encoded JSON document
//   - PRESENCE carries a PresenceMessage (enter, leave, update)
//   - TOKEN correlates token requests and responses by reqId
//
// Decoding is lenient: frames that are not JSON, or that carry no action,
// are dropped instead of reported.
package protocol
