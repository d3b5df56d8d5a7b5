package relay

// The negotiation state machine per room:
//
//	no-offer --offer--> offer-pending --answer--> answered
//
// Exactly one offer and one matching answer per cycle. The only way back to
// no-offer is a member leaving, which always invalidates in-flight
// negotiation so a stale offer is never answered against changed membership.

type negotiationState int

const (
	stateNoOffer negotiationState = iota
	stateOfferPending
	stateAnswered
)

func (r *Room) negotiationState() negotiationState {
	switch {
	case r.lastOffer == nil:
		return stateNoOffer
	case r.lastAnswer == nil:
		return stateOfferPending
	default:
		return stateAnswered
	}
}

// acceptOffer stores an offer while none is in flight. A second offer during
// a cycle is rejected; renegotiation mid-flight is deliberately unsupported.
func (r *Room) acceptOffer(env Envelope) bool {
	if r.lastOffer != nil {
		return false
	}
	r.lastOffer = &env
	r.lastAnswer = nil
	return true
}

// acceptAnswer stores the answer matching the pending offer. Answers without
// an offer, or after an answer already exists, are rejected.
func (r *Room) acceptAnswer(env Envelope) bool {
	if r.lastOffer == nil || r.lastAnswer != nil {
		return false
	}
	r.lastAnswer = &env
	return true
}

// candidatesAllowed gates connectivity-candidate relay: candidates are only
// forwarded while an offer is in flight or answered. A candidate with no
// offer would qualify a session description that does not exist yet.
func (r *Room) candidatesAllowed() bool {
	return r.lastOffer != nil
}

// resetNegotiation clears offer, answer and readiness. It reports whether a
// negotiation was actually in flight (used to decide on moment-collapsed).
func (r *Room) resetNegotiation() bool {
	inFlight := r.lastOffer != nil || r.ready
	r.lastOffer = nil
	r.lastAnswer = nil
	r.ready = false
	return inFlight
}
