// Package transport implements the bidirectional message transport used by
// the connection manager.
//
// A Dialer opens a Socket asynchronously and reports lifecycle events to a
// Handler:
//   - OnOpen once the link is established
//   - OnMessage for every inbound frame, in delivery order
//   - OnError for dial failures (as *TransportError) and session errors
//   - OnClose once the link is gone, exactly once per opened or closed socket
//
// WebSocketDialer is the gorilla/websocket implementation.
package transport
