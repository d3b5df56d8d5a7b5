package relay

// Peer is one attached transport connection as seen by the relay core. The
// signaling layer implements it on top of a websocket; tests implement it
// in-memory.
type Peer interface {
	// ID returns the opaque connection handle.
	ID() string

	// Send queues env for delivery and must never block. A false return means
	// the peer can no longer accept messages (closed, or its send queue
	// overflowed); the caller evicts that peer and continues with the rest.
	Send(env Envelope) bool

	// Ping sends a liveness probe. Best-effort; errors are swallowed by the
	// liveness monitor.
	Ping() error

	// Close tears down the underlying transport. The transport's close path
	// is responsible for feeding the disconnect back into the router.
	Close()
}
