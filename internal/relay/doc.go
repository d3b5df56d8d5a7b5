// Package relay implements the room and negotiation core of the rendezvous
// server: connection bookkeeping, per-connection rate limiting, room
// membership with quorum tracking, the offer/answer/candidate negotiation
// state machine, and the liveness sweep that evicts unresponsive peers.
//
// The package never inspects negotiation payloads; offers, answers and
// candidates are opaque blobs routed between room members. Transport concerns
// (websocket upgrade, read/write pumps) live in internal/signaling.
package relay
