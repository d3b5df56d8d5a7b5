package relay

// maxBufferedSignals bounds the pre-quorum signal buffer so a lone member
// cannot grow room state without bound.
const maxBufferedSignals = 64

// Room is a rendezvous point. It exists in the registry iff its member set is
// non-empty; all mutation happens under the RoomRegistry mutex.
type Room struct {
	id      string
	quorum  int
	members map[string]Peer

	// Negotiation state. ready records that moment-ready has been announced
	// for the current negotiation cycle.
	ready      bool
	lastOffer  *Envelope
	lastAnswer *Envelope

	// Generic envelopes that arrived before quorum, replayed in arrival order
	// to all members once quorum is first met.
	buffered []Envelope
}

func newRoom(id string, quorum int) *Room {
	return &Room{
		id:      id,
		quorum:  quorum,
		members: make(map[string]Peer),
	}
}

func (r *Room) hasMember(id string) bool {
	_, ok := r.members[id]
	return ok
}

func (r *Room) quorumMet() bool {
	return len(r.members) >= r.quorum
}

// broadcast queues env to every member except the sender (empty senderID
// means everyone). Peers whose send queue rejected the envelope are returned
// so the caller can evict them after releasing the registry lock.
func (r *Room) broadcast(senderID string, env Envelope) (dead []Peer) {
	for id, member := range r.members {
		if id == senderID {
			continue
		}
		if !member.Send(env) {
			dead = append(dead, member)
		}
	}
	return dead
}
