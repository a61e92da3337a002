package domain

import "encoding/json"

// EventKind tags a signaling message on the wire.
type EventKind string

const (
	EventConnected  EventKind = "connected"
	EventJoin       EventKind = "join"
	EventJoined     EventKind = "joined"
	EventUserJoined EventKind = "user_joined"
	EventOffer      EventKind = "offer"
	EventAnswer     EventKind = "answer"
	EventCandidate  EventKind = "ice-candidate"
	EventLeave      EventKind = "leave"
	EventUserLeft   EventKind = "user_left"
	EventChat       EventKind = "chat_message"
	EventError      EventKind = "error"
)

// SignalMessage is the envelope carried over the relay. SenderID is assigned
// by the relay; inbound messages from clients have it re-stamped server side.
type SignalMessage struct {
	Type     EventKind       `json:"type"`
	RoomID   RoomID          `json:"room_id,omitempty"`
	SenderID PeerID          `json:"sender_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type ConnectedPayload struct {
	SenderID PeerID `json:"sender_id"`
}

type JoinPayload struct {
	Password string `json:"password,omitempty"`
	ChatOnly bool   `json:"chat_only,omitempty"`
}

type JoinedPayload struct {
	RoomID RoomID `json:"room_id"`
}

type DescriptionPayload struct {
	Description SessionDescription `json:"description"`
}

type CandidatePayload struct {
	Candidate Candidate `json:"candidate"`
}

type ChatPayload struct {
	Message string `json:"message"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// NewSignalMessage marshals the payload into an envelope. Marshal failures
// are impossible for the fixed payload types above, so they are swallowed
// into an empty payload rather than returned.
func NewSignalMessage(kind EventKind, roomID RoomID, payload interface{}) SignalMessage {
	msg := SignalMessage{Type: kind, RoomID: roomID}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			msg.Payload = data
		}
	}
	return msg
}

// SessionDescription mirrors the browser-shaped offer/answer JSON so the
// core stays independent of the transport library's types.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is one trickled connectivity candidate.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// ChatMessage is an inbound chat event as delivered to the consumer, with
// the sender already classified against the local relay-assigned id.
type ChatMessage struct {
	RoomID   RoomID
	SenderID PeerID
	Text     string
	Self     bool
}
