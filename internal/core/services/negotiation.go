package services

import (
	"context"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"

	"go.uber.org/zap"
)

// NegotiationConfig wires one negotiation session into its room session.
// Send emits signaling messages through the channel; OnStateChange and
// OnTrack are invoked without any engine lock held.
type NegotiationConfig struct {
	RoomID     domain.RoomID
	Transports ports.PeerTransportFactory
	ICE        domain.ICEConfig
	WithMedia  bool
	BufferCap  int
	Timeout    time.Duration

	Send          func(domain.SignalMessage)
	OnStateChange func(state domain.NegotiationState, detail string)
	OnTrack       func(domain.TrackInfo)

	Logger *zap.SugaredLogger
}

// Negotiation owns the peer-connection state machine for a single remote
// peer. It is created on the first peer-presence, offer or early candidate,
// and discarded on peer departure, transport failure or leave. The role is
// fixed per transport lifetime: re-creating the transport (glare) re-derives
// it.
//
// All inbound handlers are safe to call from the channel dispatch goroutine
// while offer/answer production is still in flight; stale completions are
// discarded via a transport generation counter.
type Negotiation struct {
	cfg NegotiationConfig

	mu            sync.Mutex
	state         domain.NegotiationState
	role          domain.ParticipantRole
	transport     ports.PeerTransport
	gen           int
	remoteDescSet bool
	buffer        *CandidateBuffer
	timer         *time.Timer
	closed        bool

	logger *zap.SugaredLogger
}

func NewNegotiation(cfg NegotiationConfig) *Negotiation {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Negotiation{
		cfg:    cfg,
		state:  domain.NegotiationEmpty,
		buffer: NewCandidateBuffer(cfg.BufferCap),
		logger: logger.With("room_id", cfg.RoomID),
	}
}

func (n *Negotiation) State() domain.NegotiationState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Negotiation) Role() domain.ParticipantRole {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// Buffer exposes the candidate buffer for observability and tests.
func (n *Negotiation) Buffer() *CandidateBuffer {
	return n.buffer
}

// HandlePeerPresent reacts to a user_joined notice: the observer becomes
// Initiator and produces the offer. Duplicate presence notices past Empty
// are ignored (first-presence wins).
func (n *Negotiation) HandlePeerPresent(ctx context.Context) {
	n.mu.Lock()
	if n.closed || n.state != domain.NegotiationEmpty {
		n.mu.Unlock()
		n.logger.Debugw("ignoring duplicate peer presence", "state", n.state)
		return
	}

	n.role = domain.RoleInitiator
	if err := n.createTransportLocked(); err != nil {
		notify := n.failLocked("transport creation failed: " + err.Error())
		n.mu.Unlock()
		notify()
		return
	}
	notify := n.setStateLocked(domain.NegotiationCreating, "creating offer")
	gen := n.gen
	n.mu.Unlock()
	notify()

	go n.produceOffer(ctx, gen)
}

func (n *Negotiation) produceOffer(ctx context.Context, gen int) {
	transport := n.transportFor(gen)
	if transport == nil {
		return
	}

	offer, err := transport.CreateOffer(ctx)

	n.mu.Lock()
	if n.closed || n.gen != gen {
		n.mu.Unlock()
		return
	}
	if err != nil {
		notify := n.failLocked("offer creation failed: " + err.Error())
		n.mu.Unlock()
		notify()
		return
	}
	notify := n.setStateLocked(domain.NegotiationOfferSent, "offer sent")
	n.mu.Unlock()
	notify()

	n.cfg.Send(domain.NewSignalMessage(domain.EventOffer, n.cfg.RoomID, domain.DescriptionPayload{Description: offer}))
}

// HandleOffer reacts to a remote offer: the receiver becomes Responder. An
// offer colliding with a half-built initiator session (glare) wins — the
// local session is discarded and rebuilt as Responder.
func (n *Negotiation) HandleOffer(ctx context.Context, desc domain.SessionDescription) {
	n.mu.Lock()
	if n.closed || n.state.Terminal() {
		n.mu.Unlock()
		return
	}

	if n.role == domain.RoleInitiator &&
		(n.state == domain.NegotiationCreating || n.state == domain.NegotiationOfferSent) {
		n.logger.Infow("offer collision, deferring to remote offer", "state", n.state)
		n.discardTransportLocked()
		n.state = domain.NegotiationEmpty
		n.role = domain.RoleNone
		n.remoteDescSet = false
	}

	if n.state != domain.NegotiationEmpty {
		n.mu.Unlock()
		n.logger.Debugw("ignoring offer in state", "state", n.state)
		return
	}

	n.role = domain.RoleResponder
	if err := n.createTransportLocked(); err != nil {
		notify := n.failLocked("transport creation failed: " + err.Error())
		n.mu.Unlock()
		notify()
		return
	}
	notify := n.setStateLocked(domain.NegotiationCreating, "answering offer")
	gen := n.gen
	n.mu.Unlock()
	notify()

	go n.produceAnswer(ctx, gen, desc)
}

func (n *Negotiation) produceAnswer(ctx context.Context, gen int, desc domain.SessionDescription) {
	transport := n.transportFor(gen)
	if transport == nil {
		return
	}

	if err := transport.SetRemoteDescription(desc); err != nil {
		n.failAsync(gen, "remote offer rejected: "+err.Error())
		return
	}

	if !n.acceptRemoteDescription(gen, transport) {
		return
	}

	answer, err := transport.CreateAnswer(ctx)
	if err != nil {
		n.failAsync(gen, "answer creation failed: "+err.Error())
		return
	}

	n.mu.Lock()
	if n.closed || n.gen != gen {
		n.mu.Unlock()
		return
	}
	notify := n.setStateLocked(domain.NegotiationOfferReceived, "answer sent")
	n.mu.Unlock()
	notify()

	n.cfg.Send(domain.NewSignalMessage(domain.EventAnswer, n.cfg.RoomID, domain.DescriptionPayload{Description: answer}))

	n.mu.Lock()
	if n.closed || n.gen != gen {
		n.mu.Unlock()
		return
	}
	notify = n.setStateLocked(domain.NegotiationNegotiating, "negotiating")
	n.mu.Unlock()
	notify()
}

// HandleAnswer applies the remote answer and flushes buffered candidates.
// Answers arriving outside OfferSent are stale and ignored.
func (n *Negotiation) HandleAnswer(ctx context.Context, desc domain.SessionDescription) {
	n.mu.Lock()
	if n.closed || n.state != domain.NegotiationOfferSent {
		n.mu.Unlock()
		n.logger.Debugw("ignoring answer in state", "state", n.state)
		return
	}
	gen := n.gen
	transport := n.transport
	n.mu.Unlock()

	if err := transport.SetRemoteDescription(desc); err != nil {
		n.failAsync(gen, "remote answer rejected: "+err.Error())
		return
	}

	if !n.acceptRemoteDescription(gen, transport) {
		return
	}

	n.mu.Lock()
	if n.closed || n.gen != gen {
		n.mu.Unlock()
		return
	}
	notify := n.setStateLocked(domain.NegotiationNegotiating, "negotiating")
	n.mu.Unlock()
	notify()
}

// HandleCandidate applies a trickled candidate, or buffers it while the
// remote description is still absent.
func (n *Negotiation) HandleCandidate(cand domain.Candidate) {
	n.mu.Lock()
	if n.closed || n.state.Terminal() {
		n.mu.Unlock()
		return
	}
	if !n.remoteDescSet {
		// Push under the session lock: a candidate observed before
		// remoteDescSet is guaranteed to land in the buffer before the
		// flush that follows the description.
		kept := n.buffer.Push(cand)
		n.mu.Unlock()
		if !kept {
			n.logger.Warnw("candidate buffer overflow, dropped oldest", "dropped", n.buffer.Dropped())
		}
		return
	}
	transport := n.transport
	n.mu.Unlock()

	if err := transport.AddCandidate(cand); err != nil {
		n.logger.Warnw("candidate rejected", "error", err)
	}
}

// HandlePeerLeft tears the session down after the remote side departed.
func (n *Negotiation) HandlePeerLeft() {
	n.Close()
}

// Close releases the transport and ends the session. Idempotent; events
// arriving afterwards are no-ops.
func (n *Negotiation) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.discardTransportLocked()
	notify := n.setStateLocked(domain.NegotiationClosed, "closed")
	n.mu.Unlock()
	notify()
}

// acceptRemoteDescription marks the remote description applied and drains
// the candidate buffer, both under the session lock: a candidate arriving
// concurrently either lands in the buffer before the drain or applies
// directly after it, never in between. Returns false for a stale generation.
func (n *Negotiation) acceptRemoteDescription(gen int, transport ports.PeerTransport) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || n.gen != gen {
		return false
	}
	n.remoteDescSet = true

	applied, err := n.buffer.Flush(transport.AddCandidate)
	if err != nil {
		n.logger.Warnw("buffered candidate rejected during flush", "applied", applied, "error", err)
	} else if applied > 0 {
		n.logger.Debugw("flushed buffered candidates", "applied", applied)
	}
	return true
}

// createTransportLocked builds a fresh transport and registers the egress
// callbacks. Callbacks capture the generation so events from a discarded
// transport are ignored.
func (n *Negotiation) createTransportLocked() error {
	transport, err := n.cfg.Transports(n.cfg.ICE, n.cfg.WithMedia)
	if err != nil {
		return err
	}
	n.gen++
	gen := n.gen
	n.transport = transport

	transport.OnCandidate(func(cand domain.Candidate) {
		if n.transportFor(gen) == nil {
			return
		}
		n.cfg.Send(domain.NewSignalMessage(domain.EventCandidate, n.cfg.RoomID, domain.CandidatePayload{Candidate: cand}))
	})

	transport.OnTrack(func(track domain.TrackInfo) {
		if n.transportFor(gen) == nil {
			return
		}
		if n.cfg.OnTrack != nil {
			n.cfg.OnTrack(track)
		}
	})

	transport.OnStateChange(func(state domain.NegotiationState) {
		n.handleTransportState(gen, state)
	})

	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.cfg.Timeout, func() {
		n.handleTimeout(gen)
	})

	return nil
}

func (n *Negotiation) handleTransportState(gen int, state domain.NegotiationState) {
	n.mu.Lock()
	if n.closed || n.gen != gen || n.state.Terminal() {
		n.mu.Unlock()
		return
	}

	var notify func()
	switch state {
	case domain.NegotiationConnected:
		if n.timer != nil {
			n.timer.Stop()
		}
		notify = n.setStateLocked(domain.NegotiationConnected, "transport connected")
	case domain.NegotiationDisconnected:
		notify = n.setStateLocked(domain.NegotiationDisconnected, "transport disconnected")
	case domain.NegotiationFailed:
		notify = n.failLocked("transport failed")
	default:
		// Transport-closed events originate from our own teardown.
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()
	notify()
}

func (n *Negotiation) handleTimeout(gen int) {
	n.mu.Lock()
	if n.closed || n.gen != gen ||
		n.state == domain.NegotiationConnected || n.state.Terminal() {
		n.mu.Unlock()
		return
	}
	notify := n.failLocked("negotiation timed out")
	n.mu.Unlock()
	notify()
}

func (n *Negotiation) failAsync(gen int, detail string) {
	n.mu.Lock()
	if n.closed || n.gen != gen {
		n.mu.Unlock()
		return
	}
	notify := n.failLocked(detail)
	n.mu.Unlock()
	notify()
}

// failLocked discards the transport and moves to the terminal Failed state.
// Failure is never retried here; restarting is a user-level room re-join.
func (n *Negotiation) failLocked(detail string) func() {
	n.discardTransportLocked()
	return n.setStateLocked(domain.NegotiationFailed, detail)
}

func (n *Negotiation) discardTransportLocked() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	if n.transport != nil {
		if err := n.transport.Close(); err != nil {
			n.logger.Debugw("transport close", "error", err)
		}
		n.transport = nil
	}
	n.gen++
}

// setStateLocked records the transition and returns the deferred state
// notification, to be invoked after the lock is released.
func (n *Negotiation) setStateLocked(state domain.NegotiationState, detail string) func() {
	if n.state == state {
		return func() {}
	}
	n.logger.Debugw("negotiation state", "from", n.state, "to", state, "role", n.role)
	n.state = state
	cb := n.cfg.OnStateChange
	if cb == nil {
		return func() {}
	}
	return func() { cb(state, detail) }
}

func (n *Negotiation) transportFor(gen int) ports.PeerTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || n.gen != gen {
		return nil
	}
	return n.transport
}
