package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType tags a signaling envelope.
type MessageType string

const (
	// Client-originated types.
	TypeJoin      MessageType = "join"
	TypeOffer     MessageType = "offer"
	TypeAnswer    MessageType = "answer"
	TypeCandidate MessageType = "candidate"

	// Server-originated types.
	TypeRole            MessageType = "role"
	TypePeerPresent     MessageType = "peer-present"
	TypePeerLeft        MessageType = "peer-left"
	TypeMomentReady     MessageType = "moment-ready"
	TypeMomentCollapsed MessageType = "moment-collapsed"
	TypeError           MessageType = "error"
)

// serverOriginated reports whether t may only be produced by the server.
// Receiving one of these from a client is a protocol violation.
func serverOriginated(t MessageType) bool {
	switch t {
	case TypeRole, TypePeerPresent, TypePeerLeft, TypeMomentReady, TypeMomentCollapsed, TypeError:
		return true
	}
	return false
}

// Envelope is the flat wire message exchanged with clients. Payload is opaque
// to the server; for offer/answer it is expected to carry a session
// description and for candidate a connectivity candidate, but the server
// never parses either.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var (
	errMissingType = errors.New("envelope missing type")
	errMissingRoom = errors.New("envelope missing room")
)

// ParseEnvelope decodes an inbound envelope. Every client-originated message
// must carry both a type and a room.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, errMissingType
	}
	if env.Room == "" {
		return Envelope{}, errMissingRoom
	}
	return env, nil
}

// joinPayload is the only payload the server looks inside: an optional
// positive quorum requested by the first joiner.
type joinPayload struct {
	Quorum int `json:"quorum"`
}

// requestedQuorum extracts the quorum from a join payload. Malformed or
// non-positive values are treated as "no request" and fall back to the
// server default.
func requestedQuorum(payload json.RawMessage) int {
	if len(payload) == 0 {
		return 0
	}
	var p joinPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return 0
	}
	if p.Quorum < 1 {
		return 0
	}
	return p.Quorum
}

type rolePayload struct {
	Initiator bool `json:"initiator"`
}

type peerPayload struct {
	Peer string `json:"peer"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func roleEnvelope(room string, initiator bool) Envelope {
	return Envelope{Type: TypeRole, Room: room, Payload: mustJSON(rolePayload{Initiator: initiator})}
}

func peerEnvelope(t MessageType, room, peerID string) Envelope {
	return Envelope{Type: t, Room: room, Payload: mustJSON(peerPayload{Peer: peerID})}
}

func errorEnvelope(room, code, message string) Envelope {
	return Envelope{Type: TypeError, Room: room, Payload: mustJSON(errorPayload{Code: code, Message: message})}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// All callers marshal plain structs of strings and bools.
		panic(err)
	}
	return b
}
