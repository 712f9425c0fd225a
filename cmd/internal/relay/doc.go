// Package relay implements the per-user live event relay.
//
// A Registry groups live connections by user. The Relay fans lifecycle events
// out from one connection to the user's other connections, and optionally to
// other server instances through a Backplane. The Gateway is the WebSocket
// entrypoint: it authenticates the handshake, admits the connection, and runs
// the per-connection read, write and heartbeat loops.
//
// Delivery is at-most-once. Nothing is persisted or replayed.
package relay
