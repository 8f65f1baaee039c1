// Package channel implements the channel registry and the per-channel state
// machine.
//
// A Registry lazily creates one Channel per name and routes inbound channel
// frames to it. A Channel negotiates attach/detach with the server, fans
// published messages out to event listeners, and owns the presence tracker
// of the channel.
package channel
