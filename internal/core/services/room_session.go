package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	apperrors "pairlink/pkg/errors"

	"go.uber.org/zap"
)

// RoomSessionConfig assembles a session's collaborators.
type RoomSessionConfig struct {
	Channel    ports.SignalChannel
	Registry   ports.RoomRegistry
	Transports ports.PeerTransportFactory

	JoinTimeout        time.Duration
	NegotiationTimeout time.Duration
	CandidateBufferCap int
	StatusBuffer       int

	// ChatOnly disables local media on the peer transport; the session
	// still negotiates a data path for chat.
	ChatOnly bool

	Logger *zap.SugaredLogger
}

type joinResult struct {
	err error
}

// RoomSession is the top-level per-room orchestrator. One instance serves
// one join/leave lifecycle; it owns the signaling channel subscription, at
// most one Negotiation at any time, and the status emitter the UI layer
// observes. All inbound signaling events funnel through the dispatch table
// registered in NewRoomSession.
type RoomSession struct {
	cfg RoomSessionConfig

	mu          sync.Mutex
	state       domain.RoomSessionState
	roomID      domain.RoomID
	negotiation *Negotiation
	ice         domain.ICEConfig
	joined      bool
	closed      bool
	joinAck     chan joinResult

	status  *StatusEmitter
	onChat  func(domain.ChatMessage)
	onTrack func(domain.TrackInfo)

	logger *zap.SugaredLogger
}

func NewRoomSession(cfg RoomSessionConfig) *RoomSession {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &RoomSession{
		cfg:    cfg,
		state:  domain.SessionIdle,
		status: NewStatusEmitter(cfg.StatusBuffer),
		logger: logger,
	}

	// Dispatch table: one subscription per inbound event kind.
	cfg.Channel.Subscribe(domain.EventJoined, s.handleJoined)
	cfg.Channel.Subscribe(domain.EventError, s.handleRoomError)
	cfg.Channel.Subscribe(domain.EventUserJoined, s.handleUserJoined)
	cfg.Channel.Subscribe(domain.EventOffer, s.handleOffer)
	cfg.Channel.Subscribe(domain.EventAnswer, s.handleAnswer)
	cfg.Channel.Subscribe(domain.EventCandidate, s.handleCandidate)
	cfg.Channel.Subscribe(domain.EventUserLeft, s.handleUserLeft)
	cfg.Channel.Subscribe(domain.EventChat, s.handleChat)
	cfg.Channel.OnDisconnect(s.handleChannelDisconnect)

	return s
}

// Status returns the observable status channel.
func (s *RoomSession) Status() <-chan domain.StatusUpdate {
	return s.status.Updates()
}

// State returns the authoritative session state.
func (s *RoomSession) State() domain.RoomSessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnChatMessage registers the chat observer. Must be set before Join.
func (s *RoomSession) OnChatMessage(handler func(domain.ChatMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChat = handler
}

// OnRemoteTrack registers the remote media observer. Must be set before Join.
func (s *RoomSession) OnRemoteTrack(handler func(domain.TrackInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTrack = handler
}

// Join connects the signaling channel, verifies the password against the
// registry when one is supplied (before any Join message reaches the relay),
// and waits for the join acknowledgement.
func (s *RoomSession) Join(ctx context.Context, roomID domain.RoomID, password string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.state != domain.SessionIdle {
		s.mu.Unlock()
		return fmt.Errorf("join attempted in state %s", s.state)
	}
	s.roomID = roomID
	ack := make(chan joinResult, 1)
	s.joinAck = ack
	s.mu.Unlock()

	s.setState(domain.SessionAwaitingConnect, domain.StatusOK, "connecting")

	if err := s.cfg.Channel.Connect(ctx); err != nil {
		s.setState(domain.SessionFailed, statusCodeFor(err), "signaling connect failed")
		return fmt.Errorf("signaling connect: %w", err)
	}

	exists, _, err := s.cfg.Registry.RoomExists(ctx, roomID)
	if err != nil {
		s.setState(domain.SessionFailed, domain.StatusChannelUnreachable, "room lookup failed")
		return fmt.Errorf("room lookup: %w", err)
	}
	if !exists {
		s.setState(domain.SessionFailed, domain.StatusRoomNotFound, "room not found")
		return apperrors.NewRoomNotFound(string(roomID))
	}

	// Password is verified out of band before the Join message so the
	// relay's room broadcast group is never entered unauthorized.
	if password != "" {
		valid, err := s.cfg.Registry.VerifyPassword(ctx, roomID, password)
		if err != nil {
			s.setState(domain.SessionFailed, domain.StatusChannelUnreachable, "password verification failed")
			return fmt.Errorf("password verification: %w", err)
		}
		if !valid {
			s.setState(domain.SessionFailed, domain.StatusInvalidPassword, "invalid password")
			return apperrors.NewInvalidPassword()
		}
	}

	s.mu.Lock()
	s.ice = s.cfg.Registry.ICEConfig(ctx)
	s.mu.Unlock()

	s.setState(domain.SessionAwaitingJoinAck, domain.StatusOK, "joining room")
	s.cfg.Channel.Send(domain.NewSignalMessage(domain.EventJoin, roomID, domain.JoinPayload{
		Password: password,
		ChatOnly: s.cfg.ChatOnly,
	}))

	select {
	case res := <-ack:
		if res.err != nil {
			s.setState(domain.SessionFailed, statusCodeFor(res.err), res.err.Error())
			return res.err
		}
	case <-time.After(s.cfg.JoinTimeout):
		s.setState(domain.SessionFailed, domain.StatusChannelTimeout, "join acknowledgement timed out")
		return apperrors.NewChannelTimeout("join acknowledgement timed out")
	case <-ctx.Done():
		s.setState(domain.SessionFailed, domain.StatusChannelTimeout, "join cancelled")
		return ctx.Err()
	}

	s.mu.Lock()
	s.joined = true
	s.mu.Unlock()
	s.setState(domain.SessionWaitingForPeer, domain.StatusOK, "waiting for peer")
	return nil
}

// Leave tears everything down. Idempotent and safe from any state,
// including before a join ever succeeded. Signaling events resolving after
// teardown are no-ops.
func (s *RoomSession) Leave() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	joined := s.joined
	s.joined = false
	roomID := s.roomID
	neg := s.negotiation
	s.negotiation = nil
	s.mu.Unlock()

	if joined {
		s.cfg.Channel.Send(domain.NewSignalMessage(domain.EventLeave, roomID, nil))
	}
	if neg != nil {
		neg.Close()
	}
	if err := s.cfg.Channel.Close(); err != nil {
		s.logger.Debugw("channel close", "error", err)
	}

	s.setState(domain.SessionClosed, domain.StatusOK, "left room")
	s.status.Close()
}

// SendChatMessage emits a chat event and locally echoes it to the chat
// observer tagged as self.
func (s *RoomSession) SendChatMessage(text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if !s.joined {
		s.mu.Unlock()
		return domain.ErrChannelNotConnected
	}
	roomID := s.roomID
	onChat := s.onChat
	s.mu.Unlock()

	s.cfg.Channel.Send(domain.NewSignalMessage(domain.EventChat, roomID, domain.ChatPayload{Message: text}))

	if onChat != nil {
		onChat(domain.ChatMessage{
			RoomID:   roomID,
			SenderID: s.cfg.Channel.LocalID(),
			Text:     text,
			Self:     true,
		})
	}
	return nil
}

// --- inbound dispatch ---

func (s *RoomSession) handleJoined(msg domain.SignalMessage) {
	s.deliverJoinResult(nil)
}

func (s *RoomSession) handleRoomError(msg domain.SignalMessage) {
	var payload domain.ErrorPayload
	unmarshalPayload(msg, &payload)

	err := classifyRoomError(payload.Message)
	if s.deliverJoinResult(err) {
		return
	}

	// Errors outside the join handshake surface through status only.
	s.logger.Warnw("relay error", "room_id", msg.RoomID, "message", payload.Message)
	s.status.Emit(s.State(), statusCodeFor(err), payload.Message)
}

func (s *RoomSession) handleUserJoined(msg domain.SignalMessage) {
	s.mu.Lock()
	if s.closed || !s.joined {
		s.mu.Unlock()
		return
	}
	neg := s.ensureNegotiationLocked()
	s.mu.Unlock()

	neg.HandlePeerPresent(context.Background())
}

func (s *RoomSession) handleOffer(msg domain.SignalMessage) {
	var payload domain.DescriptionPayload
	if !unmarshalPayload(msg, &payload) {
		return
	}

	s.mu.Lock()
	if s.closed || !s.joined {
		s.mu.Unlock()
		return
	}
	neg := s.ensureNegotiationLocked()
	s.mu.Unlock()

	neg.HandleOffer(context.Background(), payload.Description)
}

func (s *RoomSession) handleAnswer(msg domain.SignalMessage) {
	var payload domain.DescriptionPayload
	if !unmarshalPayload(msg, &payload) {
		return
	}

	s.mu.Lock()
	neg := s.negotiation
	s.mu.Unlock()
	if neg == nil {
		return
	}

	neg.HandleAnswer(context.Background(), payload.Description)
}

func (s *RoomSession) handleCandidate(msg domain.SignalMessage) {
	var payload domain.CandidatePayload
	if !unmarshalPayload(msg, &payload) {
		return
	}

	s.mu.Lock()
	if s.closed || !s.joined {
		s.mu.Unlock()
		return
	}
	// A candidate can outrun both the presence notice and the offer; the
	// session is created early so the buffer catches it.
	neg := s.ensureNegotiationLocked()
	s.mu.Unlock()

	neg.HandleCandidate(payload.Candidate)
}

func (s *RoomSession) handleUserLeft(msg domain.SignalMessage) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	neg := s.negotiation
	s.negotiation = nil
	joined := s.joined
	s.mu.Unlock()

	if neg != nil {
		neg.HandlePeerLeft()
	}
	if joined {
		s.setState(domain.SessionWaitingForPeer, domain.StatusOK, "peer left")
	}
}

func (s *RoomSession) handleChat(msg domain.SignalMessage) {
	var payload domain.ChatPayload
	if !unmarshalPayload(msg, &payload) {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	onChat := s.onChat
	s.mu.Unlock()

	self := msg.SenderID == s.cfg.Channel.LocalID()
	if self {
		// Own messages were already echoed locally on send.
		return
	}
	if onChat != nil {
		onChat(domain.ChatMessage{
			RoomID:   msg.RoomID,
			SenderID: msg.SenderID,
			Text:     payload.Message,
			Self:     false,
		})
	}
}

func (s *RoomSession) handleChannelDisconnect(remote bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.joined = false
	neg := s.negotiation
	s.negotiation = nil
	s.mu.Unlock()

	if neg != nil {
		neg.Close()
	}

	if remote {
		// Server-initiated disconnect: the session is over.
		s.setState(domain.SessionFailed, domain.StatusChannelClosed, "disconnected by relay")
	} else {
		// Transient; a reconnect requires an explicit re-join.
		s.setState(domain.SessionDisconnected, domain.StatusChannelDisconnected, "signaling disconnected")
	}
}

// --- negotiation wiring ---

// ensureNegotiationLocked returns the live negotiation, creating it if
// needed. At most one exists per session; callers hold s.mu.
func (s *RoomSession) ensureNegotiationLocked() *Negotiation {
	if s.negotiation != nil {
		return s.negotiation
	}

	s.negotiation = NewNegotiation(NegotiationConfig{
		RoomID:        s.roomID,
		Transports:    s.cfg.Transports,
		ICE:           s.ice,
		WithMedia:     !s.cfg.ChatOnly,
		BufferCap:     s.cfg.CandidateBufferCap,
		Timeout:       s.cfg.NegotiationTimeout,
		Send:          s.cfg.Channel.Send,
		OnStateChange: s.handleNegotiationState,
		OnTrack:       s.forwardTrack,
		Logger:        s.logger,
	})
	return s.negotiation
}

func (s *RoomSession) handleNegotiationState(state domain.NegotiationState, detail string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	switch state {
	case domain.NegotiationCreating, domain.NegotiationOfferSent,
		domain.NegotiationOfferReceived, domain.NegotiationNegotiating:
		s.setState(domain.SessionNegotiating, domain.StatusOK, detail)
	case domain.NegotiationConnected:
		s.setState(domain.SessionConnected, domain.StatusOK, detail)
	case domain.NegotiationDisconnected:
		s.setState(domain.SessionDisconnected, domain.StatusNegotiationIssue, detail)
	case domain.NegotiationFailed:
		s.mu.Lock()
		s.negotiation = nil
		s.mu.Unlock()
		s.setState(domain.SessionFailed, domain.StatusNegotiationIssue, detail)
	case domain.NegotiationClosed:
		// Teardown is driven by the session itself; state follows there.
	}
}

func (s *RoomSession) forwardTrack(track domain.TrackInfo) {
	s.mu.Lock()
	onTrack := s.onTrack
	closed := s.closed
	s.mu.Unlock()

	if closed || onTrack == nil {
		return
	}
	onTrack(track)
}

// --- helpers ---

func (s *RoomSession) deliverJoinResult(err error) bool {
	s.mu.Lock()
	ack := s.joinAck
	awaiting := ack != nil && s.state == domain.SessionAwaitingJoinAck && !s.joined
	if awaiting {
		s.joinAck = nil
	}
	s.mu.Unlock()

	if !awaiting {
		return false
	}
	ack <- joinResult{err: err}
	return true
}

func (s *RoomSession) setState(state domain.RoomSessionState, code domain.StatusCode, detail string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.status.Emit(state, code, detail)
}

func unmarshalPayload(msg domain.SignalMessage, out interface{}) bool {
	if len(msg.Payload) == 0 {
		return false
	}
	return json.Unmarshal(msg.Payload, out) == nil
}

// classifyRoomError maps the relay's free-form error messages onto the
// room error taxonomy.
func classifyRoomError(message string) error {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "not found"):
		return apperrors.New(apperrors.ErrCodeRoomNotFound, message, 0)
	case strings.Contains(lower, "password"):
		return apperrors.New(apperrors.ErrCodeRoomInvalidPassword, message, 0)
	case strings.Contains(lower, "full"):
		return apperrors.New(apperrors.ErrCodeRoomFull, message, 0)
	default:
		return apperrors.New(apperrors.ErrCodeRoomMalformed, message, 0)
	}
}

func statusCodeFor(err error) domain.StatusCode {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeRoomNotFound:
		return domain.StatusRoomNotFound
	case apperrors.ErrCodeRoomInvalidPassword:
		return domain.StatusInvalidPassword
	case apperrors.ErrCodeRoomFull:
		return domain.StatusRoomFull
	case apperrors.ErrCodeChannelTimeout:
		return domain.StatusChannelTimeout
	case apperrors.ErrCodeChannelUnreachable:
		return domain.StatusChannelUnreachable
	case apperrors.ErrCodeChannelDisconnected:
		return domain.StatusChannelDisconnected
	default:
		return domain.StatusNegotiationIssue
	}
}
