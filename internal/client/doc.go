// Package client assembles one realtime client instance: the connection
// manager, router, channel registry, auth token broker and REST client,
// plus the dispatcher that runs user listeners off the socket read loop.
package client
