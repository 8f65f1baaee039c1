// Package presence tracks the members of one channel.
//
// A Tracker keeps the member set (keyed by client id, insertion ordered),
// loads snapshots over HTTP on demand, applies live enter/leave/update
// events, and sends the local client's own presence actions.
package presence
