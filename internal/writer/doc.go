// Package writer implements the batched Postgres archive.
//
// Tables:
//   - channel_messages: MESSAGE frames seen by the router
//   - presence_events: live presence events and resync snapshots
//
// Writers are append-only. Rows get a random UUID so a batch can be retried
// without a natural key.
package writer
