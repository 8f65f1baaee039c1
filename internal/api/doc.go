// Package api is the REST client of the realtime server.
//
// The server exposes channel presence snapshots over plain HTTP on the same
// host as the socket endpoint:
//
//	GET /room/{channel}?clientId=&connectionId=
//
// Requests authenticate with the X-Secret or X-Access-Token header.
package api
