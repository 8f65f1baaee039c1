// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection state, transitions and reconnect attempts
//   - Inbound frames by action, undecodable frame drops
//   - Channel count and presence events
//   - Archive rows inserted and write errors
package metrics
