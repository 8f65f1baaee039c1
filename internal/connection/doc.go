// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns the single logical link to the server and its state machine
//   - Resolves credentials (secret, token or an async credential callback)
//   - Reconnects on a fixed interval up to MaxRetries attempts
//   - Consumes CONNECTED frames and forwards every other frame to observers
//
// Transport callbacks are bound to a socket generation. A reconnect or Close
// bumps the generation, so events from a replaced socket are ignored.
package connection
