// Package signaling is the WebSocket edge of the relay. It upgrades
// connections, owns the per-connection read/write pumps, and adapts each
// socket to the router's Peer interface. All protocol decisions (rooms,
// negotiation, rate limits) live in internal/relay; this package only moves
// bytes and reports liveness.
package signaling
