package relay

import (
	"log/slog"
	"sync"

	"github.com/hipresence/presence-relay/internal/metrics"
)

// JoinResult reports the outcome of a join request.
type JoinResult int

const (
	// JoinOK: member added.
	JoinOK JoinResult = iota
	// JoinRejoin: the connection was already a member of this room; no-op.
	JoinRejoin
	// JoinRoomFull: membership is at the server-side cap; the joiner was not
	// added and its transport should be closed by the caller.
	JoinRoomFull
)

// RoomRegistry maps room ids to room state. A single mutex guards the whole
// table: per-room cardinality is small (member cap), and serializing room
// mutations guarantees that all broadcasts triggered by one inbound event are
// queued before the next event touches the same room.
type RoomRegistry struct {
	log           *slog.Logger
	metrics       *metrics.Metrics
	memberCap     int
	defaultQuorum int

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRoomRegistry(log *slog.Logger, m *metrics.Metrics, memberCap, defaultQuorum int) *RoomRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &RoomRegistry{
		log:           log,
		metrics:       m,
		memberCap:     memberCap,
		defaultQuorum: defaultQuorum,
		rooms:         make(map[string]*Room),
	}
}

// Join adds p to the room, creating it lazily on first join. The first
// joiner's quorum request wins; later requests are ignored. On success the
// joiner receives its role, peer-present notifications flow both ways, any
// stored offer/answer is replayed (offer strictly first), and the pre-quorum
// buffer is flushed if this join meets quorum.
func (rr *RoomRegistry) Join(roomID string, p Peer, quorum int) JoinResult {
	var dead []Peer
	defer rr.closeAll(&dead)

	rr.mu.Lock()
	defer rr.mu.Unlock()

	room, ok := rr.rooms[roomID]
	if !ok {
		if quorum < 1 {
			quorum = rr.defaultQuorum
		}
		room = newRoom(roomID, quorum)
		rr.rooms[roomID] = room
		rr.metrics.Inc(metrics.EventRoomsCreated)
		rr.log.Debug("room created", "room", roomID, "quorum", quorum)
	}

	if room.hasMember(p.ID()) {
		return JoinRejoin
	}
	if len(room.members) >= rr.memberCap {
		rr.metrics.Inc(metrics.EventDroppedRoomFull)
		return JoinRoomFull
	}

	initiator := len(room.members) == 0
	room.members[p.ID()] = p

	ok = p.Send(roleEnvelope(roomID, initiator))
	for id, member := range room.members {
		if id == p.ID() {
			continue
		}
		if !member.Send(peerEnvelope(TypePeerPresent, roomID, p.ID())) {
			dead = append(dead, member)
		}
		// Symmetric notification: the joiner learns about each existing member.
		ok = ok && p.Send(peerEnvelope(TypePeerPresent, roomID, id))
	}

	// Late-join replay, offer strictly before answer.
	if room.lastOffer != nil {
		ok = ok && p.Send(*room.lastOffer)
	}
	if room.lastAnswer != nil {
		ok = ok && p.Send(*room.lastAnswer)
	}
	if !ok {
		dead = append(dead, p)
	}

	if room.quorumMet() && len(room.buffered) > 0 {
		for _, env := range room.buffered {
			dead = append(dead, room.broadcast("", env)...)
		}
		room.buffered = nil
	}

	dead = append(dead, rr.checkReadinessLocked(room)...)
	return JoinOK
}

// Leave removes the member, notifies the remainder, and always invalidates
// in-flight negotiation. moment-collapsed is broadcast only when the
// departure breaks quorum while a negotiation (or announced readiness) was
// in flight. The room is deleted the instant membership reaches zero.
func (rr *RoomRegistry) Leave(roomID, peerID string) {
	var dead []Peer
	defer rr.closeAll(&dead)

	rr.mu.Lock()
	defer rr.mu.Unlock()

	room, ok := rr.rooms[roomID]
	if !ok || !room.hasMember(peerID) {
		return
	}
	delete(room.members, peerID)

	if len(room.members) == 0 {
		delete(rr.rooms, roomID)
		rr.metrics.Inc(metrics.EventRoomsDeleted)
		rr.log.Debug("room deleted", "room", roomID)
		return
	}

	dead = append(dead, room.broadcast("", peerEnvelope(TypePeerLeft, roomID, peerID))...)

	inFlight := room.resetNegotiation()
	if inFlight && !room.quorumMet() {
		dead = append(dead, room.broadcast("", Envelope{Type: TypeMomentCollapsed, Room: roomID})...)
		rr.metrics.Inc(metrics.EventMomentCollapse)
	}
}

// Offer runs the no-offer -> offer-pending transition. Accepted offers are
// stored, broadcast to the other members, and may complete readiness.
// A second offer during a cycle is a silent no-op.
func (rr *RoomRegistry) Offer(roomID, senderID string, env Envelope) bool {
	var dead []Peer
	defer rr.closeAll(&dead)

	rr.mu.Lock()
	defer rr.mu.Unlock()

	room, ok := rr.rooms[roomID]
	if !ok || !room.hasMember(senderID) {
		return false
	}
	if !room.acceptOffer(env) {
		rr.metrics.Inc(metrics.EventDroppedProtocolViolation)
		return false
	}
	dead = append(dead, room.broadcast(senderID, env)...)
	dead = append(dead, rr.checkReadinessLocked(room)...)
	return true
}

// Answer runs the offer-pending -> answered transition.
func (rr *RoomRegistry) Answer(roomID, senderID string, env Envelope) bool {
	var dead []Peer
	defer rr.closeAll(&dead)

	rr.mu.Lock()
	defer rr.mu.Unlock()

	room, ok := rr.rooms[roomID]
	if !ok || !room.hasMember(senderID) {
		return false
	}
	if !room.acceptAnswer(env) {
		rr.metrics.Inc(metrics.EventDroppedProtocolViolation)
		return false
	}
	dead = append(dead, room.broadcast(senderID, env)...)
	dead = append(dead, rr.checkReadinessLocked(room)...)
	return true
}

// Candidate relays a connectivity candidate to the other members, gated on a
// negotiation being in flight (see Room.candidatesAllowed).
func (rr *RoomRegistry) Candidate(roomID, senderID string, env Envelope) bool {
	var dead []Peer
	defer rr.closeAll(&dead)

	rr.mu.Lock()
	defer rr.mu.Unlock()

	room, ok := rr.rooms[roomID]
	if !ok || !room.hasMember(senderID) {
		return false
	}
	if !room.candidatesAllowed() {
		rr.metrics.Inc(metrics.EventDroppedProtocolViolation)
		return false
	}
	dead = append(dead, room.broadcast(senderID, env)...)
	return true
}

// Broadcast relays a generic envelope to the other members without touching
// negotiation state. Below quorum the envelope is buffered and replayed to
// all members once quorum is met.
func (rr *RoomRegistry) Broadcast(roomID, senderID string, env Envelope) bool {
	var dead []Peer
	defer rr.closeAll(&dead)

	rr.mu.Lock()
	defer rr.mu.Unlock()

	room, ok := rr.rooms[roomID]
	if !ok || !room.hasMember(senderID) {
		return false
	}
	if !room.quorumMet() {
		if len(room.buffered) >= maxBufferedSignals {
			rr.metrics.Inc(metrics.EventDroppedBufferFull)
			return false
		}
		room.buffered = append(room.buffered, env)
		return true
	}
	dead = append(dead, room.broadcast(senderID, env)...)
	return true
}

// CheckReadiness announces moment-ready if membership has quorum and a full
// offer/answer pair exists. Idempotent: at most one announcement per
// negotiation cycle.
func (rr *RoomRegistry) CheckReadiness(roomID string) {
	var dead []Peer
	defer rr.closeAll(&dead)

	rr.mu.Lock()
	defer rr.mu.Unlock()

	if room, ok := rr.rooms[roomID]; ok {
		dead = append(dead, rr.checkReadinessLocked(room)...)
	}
}

func (rr *RoomRegistry) checkReadinessLocked(room *Room) (dead []Peer) {
	if room.ready || !room.quorumMet() || room.negotiationState() != stateAnswered {
		return nil
	}
	room.ready = true
	rr.metrics.Inc(metrics.EventMomentReady)
	rr.log.Debug("room ready", "room", room.id, "members", len(room.members))
	return room.broadcast("", Envelope{Type: TypeMomentReady, Room: room.id})
}

// Has reports whether a room currently exists.
func (rr *RoomRegistry) Has(roomID string) bool {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	_, ok := rr.rooms[roomID]
	return ok
}

// Members returns the current membership size (0 when the room is gone).
func (rr *RoomRegistry) Members(roomID string) int {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	room, ok := rr.rooms[roomID]
	if !ok {
		return 0
	}
	return len(room.members)
}

// closeAll closes peers whose send queue rejected a broadcast. Deferred
// before the mutex so it runs after the lock is released; the transport close
// feeds the disconnect back through the router's normal leave path, so a slow
// consumer only ever takes itself down.
func (rr *RoomRegistry) closeAll(dead *[]Peer) {
	for _, p := range *dead {
		rr.metrics.Inc(metrics.EventDroppedSlowConsumer)
		rr.log.Warn("evicting unresponsive member", "conn", p.ID())
		p.Close()
	}
}
