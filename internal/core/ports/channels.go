package ports

import (
	"context"

	"pairlink/internal/core/domain"
)

// SignalChannel is the client-side transport abstraction over the relay.
// Send is fire-and-forget: it silently drops messages while the channel is
// not connected (the join handshake is retried at the session level by user
// action, so at-most-once delivery is sufficient). Handlers registered via
// Subscribe are invoked in arrival order and must not block.
type SignalChannel interface {
	// Connect dials the relay and blocks until the connection is
	// established and the relay has assigned a sender id, or the context
	// or the channel's own dial timeout expires.
	Connect(ctx context.Context) error

	Send(msg domain.SignalMessage)
	Subscribe(kind domain.EventKind, handler func(domain.SignalMessage))

	// OnDisconnect registers a handler invoked when the underlying
	// connection drops; remote reports whether the relay closed it (the
	// session treats that as failure) versus a local close (transient).
	OnDisconnect(handler func(remote bool))

	Connected() bool

	// LocalID returns the relay-assigned sender id, empty before Connect.
	LocalID() domain.PeerID

	Close() error
}

// RoomRegistry is the REST collaborator used before and outside the
// signaling exchange.
type RoomRegistry interface {
	CreateRoom(ctx context.Context, password string) (domain.RoomID, string, error)
	RoomExists(ctx context.Context, id domain.RoomID) (exists bool, passwordProtected bool, err error)
	VerifyPassword(ctx context.Context, id domain.RoomID, password string) (bool, error)

	// ICEConfig fetches relay connectivity credentials. Implementations
	// fall back to domain.DefaultICEConfig on failure or absence.
	ICEConfig(ctx context.Context) domain.ICEConfig
}

// PeerTransport wraps one underlying peer connection object. Exactly one
// transport exists per negotiation session; the negotiation engine owns it
// exclusively and drops every reference on Close.
type PeerTransport interface {
	// CreateOffer produces and installs the local offer description.
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	// CreateAnswer produces and installs the local answer description.
	// Valid only after SetRemoteDescription accepted an offer.
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetRemoteDescription(desc domain.SessionDescription) error
	AddCandidate(cand domain.Candidate) error

	OnCandidate(handler func(domain.Candidate))
	OnTrack(handler func(domain.TrackInfo))
	// OnStateChange reports transport connectivity mapped onto the
	// negotiation states Connected, Disconnected, Failed and Closed.
	OnStateChange(handler func(domain.NegotiationState))

	Close() error
}

// PeerTransportFactory creates a fresh transport per negotiation session.
// withMedia is false in chat-only mode (no local tracks attached).
type PeerTransportFactory func(ice domain.ICEConfig, withMedia bool) (PeerTransport, error)
