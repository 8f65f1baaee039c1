// Package database provides the PostgreSQL connection pool for the message
// archive and the schema it writes into:
//   - channel_messages: every MESSAGE frame received on an attached channel
//   - presence_events: live presence events and resync snapshots
package database
