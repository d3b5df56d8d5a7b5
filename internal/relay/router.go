package relay

import (
	"log/slog"

	"github.com/hipresence/presence-relay/internal/metrics"
)

// Router dispatches inbound envelopes to the connection and room registries.
// One Router instance serves all connections; it owns no state of its own.
//
// Malformed input is silently dropped (lenient policy, matching the wire
// behaviour clients already rely on). Protocol violations are dropped without
// tearing down the sender's room.
type Router struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	conns   *Registry
	rooms   *RoomRegistry
}

func NewRouter(log *slog.Logger, m *metrics.Metrics, conns *Registry, rooms *RoomRegistry) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{log: log, metrics: m, conns: conns, rooms: rooms}
}

// Attach registers a freshly accepted connection.
func (rt *Router) Attach(p Peer) {
	rt.conns.Register(p)
	rt.log.Debug("connection attached", "conn", p.ID())
}

// Touch records liveness for a handle (inbound traffic or a probe reply).
func (rt *Router) Touch(id string) {
	rt.conns.Touch(id)
}

// Disconnect removes all bookkeeping for p and runs leave processing for the
// room it was in. Safe to call more than once and from any goroutine; the
// transport close path and the eviction paths all funnel through here.
func (rt *Router) Disconnect(p Peer) {
	room, existed := rt.conns.Unregister(p.ID())
	if !existed {
		return
	}
	if room != "" {
		rt.rooms.Leave(room, p.ID())
	}
	rt.log.Debug("connection detached", "conn", p.ID(), "room", room)
}

// HandleMessage processes one raw inbound message from p.
func (rt *Router) HandleMessage(p Peer, raw []byte) {
	if !rt.conns.Known(p.ID()) {
		// Message raced a close-in-flight; drop.
		return
	}
	rt.conns.Touch(p.ID())
	rt.metrics.Inc(metrics.EventSignalMessages)

	if !rt.conns.Allow(p.ID()) {
		// Crossing the rate threshold is treated as abuse: the offending
		// connection is dropped, everyone else is unaffected.
		rt.metrics.Inc(metrics.EventDroppedRateLimited)
		rt.log.Warn("rate limit exceeded, disconnecting", "conn", p.ID())
		rt.Disconnect(p)
		p.Close()
		return
	}

	env, err := ParseEnvelope(raw)
	if err != nil {
		rt.metrics.Inc(metrics.EventDroppedMalformed)
		return
	}

	switch env.Type {
	case TypeJoin:
		rt.handleJoin(p, env)

	case TypeOffer:
		room, ok := rt.currentRoom(p)
		if !ok {
			return
		}
		rt.rooms.Offer(room, p.ID(), env)

	case TypeAnswer:
		room, ok := rt.currentRoom(p)
		if !ok {
			return
		}
		rt.rooms.Answer(room, p.ID(), env)

	case TypeCandidate:
		room, ok := rt.currentRoom(p)
		if !ok {
			return
		}
		rt.rooms.Candidate(room, p.ID(), env)

	case TypeRole, TypePeerPresent, TypePeerLeft, TypeMomentReady, TypeMomentCollapsed, TypeError:
		// Server-originated types never originate from clients.
		rt.metrics.Inc(metrics.EventDroppedProtocolViolation)

	default:
		// Extensible control-message channel: relay as-is, no state mutation.
		room, ok := rt.currentRoom(p)
		if !ok {
			return
		}
		rt.rooms.Broadcast(room, p.ID(), env)
	}
}

func (rt *Router) handleJoin(p Peer, env Envelope) {
	current, known := rt.conns.RoomOf(p.ID())
	if !known {
		return
	}
	if current != "" {
		if current == env.Room {
			// Rejoining the same room is an idempotent no-op.
			return
		}
		// Joining a second room is rejected, never silently overwritten.
		rt.metrics.Inc(metrics.EventDroppedProtocolViolation)
		p.Send(errorEnvelope(env.Room, "already-joined", "connection is already joined to a room"))
		return
	}

	// The mapping is recorded before the room is touched: a disconnect that
	// fires while the join is in flight must see the room so leave processing
	// removes the membership the join creates.
	rt.conns.SetRoom(p.ID(), env.Room)

	switch rt.rooms.Join(env.Room, p, requestedQuorum(env.Payload)) {
	case JoinOK:
		if !rt.conns.Known(p.ID()) {
			// The connection closed mid-join, after leave processing already
			// ran. Remove the membership the join left behind.
			rt.rooms.Leave(env.Room, p.ID())
		}
	case JoinRoomFull:
		rt.conns.SetRoom(p.ID(), "")
		p.Send(errorEnvelope(env.Room, "room-full", "room is at capacity"))
		rt.log.Info("join rejected, room full", "room", env.Room, "conn", p.ID())
		rt.Disconnect(p)
		p.Close()
	case JoinRejoin:
		// Registry and room disagree only transiently during eviction; no-op.
	}
}

// currentRoom scopes negotiation and generic messages to the sender's room.
// Messages from connections that never joined are dropped.
func (rt *Router) currentRoom(p Peer) (string, bool) {
	room, ok := rt.conns.RoomOf(p.ID())
	if !ok || room == "" {
		rt.metrics.Inc(metrics.EventDroppedNoRoom)
		return "", false
	}
	return room, true
}
