package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"pairlink/internal/core/domain"
	apperrors "pairlink/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mu           sync.Mutex
	handlers     map[domain.EventKind][]func(domain.SignalMessage)
	onDisconnect func(remote bool)
	connected    bool
	closed       bool
	connectErr   error
	localID      domain.PeerID

	sent chan domain.SignalMessage
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		handlers: make(map[domain.EventKind][]func(domain.SignalMessage)),
		localID:  "local-peer",
		sent:     make(chan domain.SignalMessage, 32),
	}
}

func (c *fakeChannel) Connect(ctx context.Context) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Send(msg domain.SignalMessage) {
	c.sent <- msg
}

func (c *fakeChannel) Subscribe(kind domain.EventKind, handler func(domain.SignalMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], handler)
}

func (c *fakeChannel) OnDisconnect(handler func(remote bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = handler
}

func (c *fakeChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeChannel) LocalID() domain.PeerID {
	return c.localID
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
	return nil
}

// deliver dispatches an inbound message the way the real channel's read
// loop would.
func (c *fakeChannel) deliver(msg domain.SignalMessage) {
	c.mu.Lock()
	handlers := c.handlers[msg.Type]
	c.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (c *fakeChannel) dropConnection(remote bool) {
	c.mu.Lock()
	c.connected = false
	handler := c.onDisconnect
	c.mu.Unlock()
	if handler != nil {
		handler(remote)
	}
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeRegistry struct {
	exists        bool
	protected     bool
	existsErr     error
	passwordValid bool
	verifyErr     error
}

func (r *fakeRegistry) CreateRoom(ctx context.Context, password string) (domain.RoomID, string, error) {
	return "room-1", "token", nil
}

func (r *fakeRegistry) RoomExists(ctx context.Context, id domain.RoomID) (bool, bool, error) {
	return r.exists, r.protected, r.existsErr
}

func (r *fakeRegistry) VerifyPassword(ctx context.Context, id domain.RoomID, password string) (bool, error) {
	return r.passwordValid, r.verifyErr
}

func (r *fakeRegistry) ICEConfig(ctx context.Context) domain.ICEConfig {
	return domain.DefaultICEConfig()
}

type sessionHarness struct {
	channel  *fakeChannel
	registry *fakeRegistry
	factory  *fakeFactory
	session  *RoomSession
}

func newSessionHarness(t *testing.T) *sessionHarness {
	t.Helper()

	h := &sessionHarness{
		channel:  newFakeChannel(),
		registry: &fakeRegistry{exists: true, passwordValid: true},
		factory:  &fakeFactory{},
	}
	h.session = NewRoomSession(RoomSessionConfig{
		Channel:     h.channel,
		Registry:    h.registry,
		Transports:  h.factory.new,
		JoinTimeout: time.Second,
	})
	return h
}

// join runs the handshake, acknowledging the join message from a relay
// stand-in goroutine.
func (h *sessionHarness) join(t *testing.T) {
	t.Helper()

	go func() {
		msg := h.waitSent(t, domain.EventJoin)
		h.channel.deliver(domain.SignalMessage{
			Type:   domain.EventJoined,
			RoomID: msg.RoomID,
		})
	}()

	require.NoError(t, h.session.Join(context.Background(), "room-1", ""))
	require.Equal(t, domain.SessionWaitingForPeer, h.session.State())
}

func (h *sessionHarness) waitSent(t *testing.T, kind domain.EventKind) domain.SignalMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-h.channel.sent:
			if msg.Type == kind {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s message", kind)
		}
	}
}

func (h *sessionHarness) waitSessionState(t *testing.T, want domain.RoomSessionState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case update, ok := <-h.session.Status():
			if !ok {
				t.Fatalf("status channel closed while waiting for %s", want)
			}
			if update.State == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for session state %s (current %s)", want, h.session.State())
		}
	}
}

func descriptionPayload(desc domain.SessionDescription) json.RawMessage {
	data, _ := json.Marshal(domain.DescriptionPayload{Description: desc})
	return data
}

func candidatePayload(cand domain.Candidate) json.RawMessage {
	data, _ := json.Marshal(domain.CandidatePayload{Candidate: cand})
	return data
}

func TestRoomSession_JoinThenInitiateOnPeerPresence(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t)

	// The remote peer arrives; this side observes the presence and offers.
	h.channel.deliver(domain.SignalMessage{Type: domain.EventUserJoined, RoomID: "room-1", SenderID: "remote-peer"})

	offer := h.waitSent(t, domain.EventOffer)
	assert.Equal(t, domain.RoomID("room-1"), offer.RoomID)
	h.waitSessionState(t, domain.SessionNegotiating)

	h.channel.deliver(domain.SignalMessage{
		Type:     domain.EventAnswer,
		RoomID:   "room-1",
		SenderID: "remote-peer",
		Payload:  descriptionPayload(domain.SessionDescription{Type: "answer", SDP: "v=0 remote"}),
	})

	h.factory.transport(0).fireState(domain.NegotiationConnected)
	h.waitSessionState(t, domain.SessionConnected)
}

func TestRoomSession_RespondsToIncomingOffer(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t)

	h.channel.deliver(domain.SignalMessage{
		Type:     domain.EventOffer,
		RoomID:   "room-1",
		SenderID: "remote-peer",
		Payload:  descriptionPayload(domain.SessionDescription{Type: "offer", SDP: "v=0 remote"}),
	})

	answer := h.waitSent(t, domain.EventAnswer)
	assert.Equal(t, domain.RoomID("room-1"), answer.RoomID)
	h.waitSessionState(t, domain.SessionNegotiating)
}

// A candidate can arrive before both the presence notice and the offer; it
// must be buffered, not dropped.
func TestRoomSession_CandidateBeforeOfferIsBuffered(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t)

	early := domain.Candidate{Candidate: "candidate:0"}
	h.channel.deliver(domain.SignalMessage{
		Type:     domain.EventCandidate,
		RoomID:   "room-1",
		SenderID: "remote-peer",
		Payload:  candidatePayload(early),
	})

	h.channel.deliver(domain.SignalMessage{
		Type:     domain.EventOffer,
		RoomID:   "room-1",
		SenderID: "remote-peer",
		Payload:  descriptionPayload(domain.SessionDescription{Type: "offer", SDP: "v=0 remote"}),
	})

	h.waitSent(t, domain.EventAnswer)
	h.waitSessionState(t, domain.SessionNegotiating)

	applied := h.factory.transport(0).appliedCandidates()
	require.Len(t, applied, 1)
	assert.Equal(t, early, applied[0])
}

func TestRoomSession_JoinRoomNotFound(t *testing.T) {
	h := newSessionHarness(t)
	h.registry.exists = false

	err := h.session.Join(context.Background(), "missing", "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeRoomNotFound, apperrors.CodeOf(err))
	assert.Equal(t, domain.SessionFailed, h.session.State())
}

// The password check happens against the registry before any join message
// reaches the relay.
func TestRoomSession_JoinInvalidPasswordNeverSendsJoin(t *testing.T) {
	h := newSessionHarness(t)
	h.registry.protected = true
	h.registry.passwordValid = false

	err := h.session.Join(context.Background(), "room-1", "wrong")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeRoomInvalidPassword, apperrors.CodeOf(err))

	select {
	case msg := <-h.channel.sent:
		t.Fatalf("expected no message on channel, got %s", msg.Type)
	default:
	}
}

func TestRoomSession_JoinRejectedByRelay(t *testing.T) {
	h := newSessionHarness(t)

	go func() {
		h.waitSent(t, domain.EventJoin)
		payload, _ := json.Marshal(domain.ErrorPayload{Message: "Room is full"})
		h.channel.deliver(domain.SignalMessage{Type: domain.EventError, Payload: payload})
	}()

	err := h.session.Join(context.Background(), "room-1", "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeRoomFull, apperrors.CodeOf(err))
	assert.Equal(t, domain.SessionFailed, h.session.State())
}

func TestRoomSession_JoinAckTimeout(t *testing.T) {
	h := newSessionHarness(t)
	h.session.cfg.JoinTimeout = 50 * time.Millisecond

	err := h.session.Join(context.Background(), "room-1", "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeChannelTimeout, apperrors.CodeOf(err))
}

func TestRoomSession_PeerLeftReturnsToWaiting(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t)

	h.channel.deliver(domain.SignalMessage{Type: domain.EventUserJoined, RoomID: "room-1", SenderID: "remote-peer"})
	h.waitSent(t, domain.EventOffer)

	h.channel.deliver(domain.SignalMessage{Type: domain.EventUserLeft, RoomID: "room-1", SenderID: "remote-peer"})
	h.waitSessionState(t, domain.SessionWaitingForPeer)
	assert.True(t, h.factory.transport(0).isClosed())

	// A returning peer starts a fresh negotiation.
	h.channel.deliver(domain.SignalMessage{Type: domain.EventUserJoined, RoomID: "room-1", SenderID: "remote-peer-2"})
	h.waitSent(t, domain.EventOffer)
	assert.Equal(t, 2, h.factory.count())
}

func TestRoomSession_DuplicatePresenceSingleOffer(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t)

	h.channel.deliver(domain.SignalMessage{Type: domain.EventUserJoined, RoomID: "room-1", SenderID: "remote-peer"})
	h.waitSent(t, domain.EventOffer)
	h.channel.deliver(domain.SignalMessage{Type: domain.EventUserJoined, RoomID: "room-1", SenderID: "remote-peer"})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.factory.count())
}

func TestRoomSession_LeaveIsIdempotent(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t)

	h.channel.deliver(domain.SignalMessage{Type: domain.EventUserJoined, RoomID: "room-1", SenderID: "remote-peer"})
	h.waitSent(t, domain.EventOffer)

	h.session.Leave()
	leave := h.waitSent(t, domain.EventLeave)
	assert.Equal(t, domain.RoomID("room-1"), leave.RoomID)
	assert.True(t, h.channel.isClosed())
	assert.True(t, h.factory.transport(0).isClosed())
	assert.Equal(t, domain.SessionClosed, h.session.State())

	h.session.Leave()
	select {
	case msg := <-h.channel.sent:
		t.Fatalf("second leave must not send, got %s", msg.Type)
	default:
	}
}

func TestRoomSession_LeaveBeforeJoinClosesCleanly(t *testing.T) {
	h := newSessionHarness(t)

	h.session.Leave()

	assert.Equal(t, domain.SessionClosed, h.session.State())
	select {
	case msg := <-h.channel.sent:
		t.Fatalf("leave without a joined room must not send, got %s", msg.Type)
	default:
	}

	h.session.Leave()
	assert.Equal(t, domain.SessionClosed, h.session.State())

	// A closed session refuses a later join.
	err := h.session.Join(context.Background(), "room-1", "")
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestRoomSession_ChatEchoAndDelivery(t *testing.T) {
	h := newSessionHarness(t)

	var mu sync.Mutex
	var received []domain.ChatMessage
	h.session.OnChatMessage(func(msg domain.ChatMessage) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg)
	})

	h.join(t)

	require.NoError(t, h.session.SendChatMessage("hello"))
	sent := h.waitSent(t, domain.EventChat)
	assert.Equal(t, domain.RoomID("room-1"), sent.RoomID)

	// The relay broadcast includes our own message; it must not be
	// delivered twice.
	ownPayload, _ := json.Marshal(domain.ChatPayload{Message: "hello"})
	h.channel.deliver(domain.SignalMessage{
		Type: domain.EventChat, RoomID: "room-1", SenderID: h.channel.localID, Payload: ownPayload,
	})

	remotePayload, _ := json.Marshal(domain.ChatPayload{Message: "hi there"})
	h.channel.deliver(domain.SignalMessage{
		Type: domain.EventChat, RoomID: "room-1", SenderID: "remote-peer", Payload: remotePayload,
	})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.True(t, received[0].Self)
	assert.Equal(t, "hello", received[0].Text)
	assert.False(t, received[1].Self)
	assert.Equal(t, "hi there", received[1].Text)
	assert.Equal(t, domain.PeerID("remote-peer"), received[1].SenderID)
}

func TestRoomSession_ChatRequiresJoinedRoom(t *testing.T) {
	h := newSessionHarness(t)

	err := h.session.SendChatMessage("too early")
	assert.True(t, errors.Is(err, domain.ErrChannelNotConnected))
}

func TestRoomSession_RemoteDisconnectFailsSession(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t)

	h.channel.deliver(domain.SignalMessage{Type: domain.EventUserJoined, RoomID: "room-1", SenderID: "remote-peer"})
	h.waitSent(t, domain.EventOffer)

	h.channel.dropConnection(true)
	h.waitSessionState(t, domain.SessionFailed)
	assert.True(t, h.factory.transport(0).isClosed())
}

func TestRoomSession_LocalDisconnectIsRecoverable(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t)

	h.channel.dropConnection(false)
	h.waitSessionState(t, domain.SessionDisconnected)

	err := h.session.SendChatMessage("while disconnected")
	assert.True(t, errors.Is(err, domain.ErrChannelNotConnected))
}

func TestRoomSession_NegotiationFailureFailsSession(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t)

	h.channel.deliver(domain.SignalMessage{Type: domain.EventUserJoined, RoomID: "room-1", SenderID: "remote-peer"})
	h.waitSent(t, domain.EventOffer)

	h.factory.transport(0).fireState(domain.NegotiationFailed)
	h.waitSessionState(t, domain.SessionFailed)
}
