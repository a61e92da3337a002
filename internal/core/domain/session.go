package domain

import "time"

// ParticipantRole is derived once per peer-connection lifetime: the party
// that observes the peer joining initiates, the party that receives the
// offer answers.
type ParticipantRole string

const (
	RoleNone      ParticipantRole = ""
	RoleInitiator ParticipantRole = "initiator"
	RoleResponder ParticipantRole = "responder"
)

// NegotiationState tracks one peer connection through the offer/answer
// exchange and into the transport-reported states.
type NegotiationState string

const (
	NegotiationEmpty         NegotiationState = "empty"
	NegotiationCreating      NegotiationState = "creating"
	NegotiationOfferSent     NegotiationState = "offer_sent"
	NegotiationOfferReceived NegotiationState = "offer_received"
	NegotiationNegotiating   NegotiationState = "negotiating"
	NegotiationConnected     NegotiationState = "connected"
	NegotiationDisconnected  NegotiationState = "disconnected"
	NegotiationFailed        NegotiationState = "failed"
	NegotiationClosed        NegotiationState = "closed"
)

// Terminal reports whether the state admits no further transitions.
// Disconnected is not terminal: the underlying transport may recover.
func (s NegotiationState) Terminal() bool {
	return s == NegotiationFailed || s == NegotiationClosed
}

// RoomSessionState is the authoritative per-room state the UI layer observes.
type RoomSessionState string

const (
	SessionIdle            RoomSessionState = "idle"
	SessionAwaitingConnect RoomSessionState = "awaiting_connect"
	SessionAwaitingJoinAck RoomSessionState = "awaiting_join_ack"
	SessionWaitingForPeer  RoomSessionState = "waiting_for_peer"
	SessionNegotiating     RoomSessionState = "negotiating"
	SessionConnected       RoomSessionState = "connected"
	SessionDisconnected    RoomSessionState = "disconnected"
	SessionFailed          RoomSessionState = "failed"
	SessionClosed          RoomSessionState = "closed"
)

// StatusCode classifies a status update for machine consumption; Detail on
// the update itself is the human-readable half.
type StatusCode string

const (
	StatusOK                  StatusCode = "ok"
	StatusChannelUnreachable  StatusCode = "channel_unreachable"
	StatusChannelTimeout      StatusCode = "channel_timeout"
	StatusChannelDisconnected StatusCode = "channel_disconnected"
	StatusChannelClosed       StatusCode = "channel_closed"
	StatusRoomNotFound        StatusCode = "room_not_found"
	StatusInvalidPassword     StatusCode = "invalid_password"
	StatusRoomFull            StatusCode = "room_full"
	StatusNegotiationIssue    StatusCode = "negotiation_issue"
	StatusMediaUnavailable    StatusCode = "media_unavailable"
)

// StatusUpdate is one entry on the session's observable status channel.
type StatusUpdate struct {
	State  RoomSessionState
	Code   StatusCode
	Detail string
	At     time.Time
}

// TrackInfo describes a remote media track surfaced to the consumer; the
// actual rendering belongs to the UI layer.
type TrackInfo struct {
	ID       string
	StreamID string
	Kind     string
	MimeType string
}
