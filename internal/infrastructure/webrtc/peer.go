package webrtc

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const pliInterval = 3 * time.Second

// PeerTransport wraps one pion PeerConnection behind the negotiation
// engine's transport port. Local tracks are attached at construction when
// media is enabled; in chat-only mode a data channel keeps the SDP
// negotiable without any media section.
type PeerTransport struct {
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu          sync.Mutex
	onCandidate func(domain.Candidate)
	onTrack     func(domain.TrackInfo)
	onState     func(domain.NegotiationState)
	closed      bool
}

var _ ports.PeerTransport = (*PeerTransport)(nil)

// NewFactory builds the transport factory used by negotiation sessions.
func NewFactory(logger *zap.SugaredLogger) ports.PeerTransportFactory {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return func(ice domain.ICEConfig, withMedia bool) (ports.PeerTransport, error) {
		return newPeerTransport(ice, withMedia, logger)
	}
}

func newPeerTransport(ice domain.ICEConfig, withMedia bool, logger *zap.SugaredLogger) (*PeerTransport, error) {
	cfg := webrtc.Configuration{}
	if !ice.Empty() {
		cfg.ICEServers = []webrtc.ICEServer{{
			URLs:       ice.URLs,
			Username:   ice.Username,
			Credential: ice.Credential,
		}}
	}

	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	t := &PeerTransport{pc: pc, logger: logger}

	if withMedia {
		if err := t.attachLocalTracks(); err != nil {
			pc.Close()
			return nil, err
		}
	} else {
		// No media sections in chat-only mode; a data channel gives the
		// offer something to negotiate.
		if _, err := pc.CreateDataChannel("chat", nil); err != nil {
			pc.Close()
			return nil, fmt.Errorf("create data channel: %w", err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		t.mu.Lock()
		handler := t.onCandidate
		t.mu.Unlock()
		if handler != nil {
			handler(domain.Candidate{
				Candidate:     init.Candidate,
				SDPMid:        init.SDPMid,
				SDPMLineIndex: init.SDPMLineIndex,
			})
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.mu.Lock()
		handler := t.onState
		t.mu.Unlock()
		if handler == nil {
			return
		}
		switch state {
		case webrtc.PeerConnectionStateConnected:
			handler(domain.NegotiationConnected)
		case webrtc.PeerConnectionStateDisconnected:
			handler(domain.NegotiationDisconnected)
		case webrtc.PeerConnectionStateFailed:
			handler(domain.NegotiationFailed)
		case webrtc.PeerConnectionStateClosed:
			handler(domain.NegotiationClosed)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		t.mu.Lock()
		handler := t.onTrack
		t.mu.Unlock()
		if handler != nil {
			handler(domain.TrackInfo{
				ID:       track.ID(),
				StreamID: track.StreamID(),
				Kind:     track.Kind().String(),
				MimeType: track.Codec().MimeType,
			})
		}

		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go t.keyframeLoop(track)
		}
		go t.consumeTrack(track)
	})

	return t, nil
}

func (t *PeerTransport) attachLocalTracks() error {
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "pairlink",
	)
	if err != nil {
		return fmt.Errorf("create audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "pairlink",
	)
	if err != nil {
		return fmt.Errorf("create video track: %w", err)
	}

	for _, track := range []*webrtc.TrackLocalStaticRTP{audio, video} {
		sender, err := t.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add local track: %w", err)
		}
		go t.drainRTCP(sender)
	}
	return nil
}

// drainRTCP keeps the sender's feedback stream flowing so interceptors run.
func (t *PeerTransport) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// consumeTrack reads the remote RTP stream until the track ends. Media is
// delivered to the application layer elsewhere; this loop keeps the jitter
// buffer serviced.
func (t *PeerTransport) consumeTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if err != io.EOF {
				t.logger.Debugw("remote track closed", "track_id", track.ID(), "error", err)
			}
			return
		}
		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			t.logger.Debugw("malformed rtp packet", "track_id", track.ID(), "error", err)
			continue
		}
	}
}

// keyframeLoop periodically requests a keyframe for the remote video track
// so a late-starting renderer recovers quickly.
func (t *PeerTransport) keyframeLoop(track *webrtc.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for range ticker.C {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		err := t.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		})
		if err != nil {
			return
		}
	}
}

func (t *PeerTransport) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (t *PeerTransport) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (t *PeerTransport) SetRemoteDescription(desc domain.SessionDescription) error {
	sdpType := webrtc.NewSDPType(desc.Type)
	if sdpType == webrtc.SDPType(webrtc.Unknown) {
		return fmt.Errorf("unknown sdp type %q", desc.Type)
	}
	err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP})
	if err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (t *PeerTransport) AddCandidate(cand domain.Candidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	}
	if err := t.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (t *PeerTransport) OnCandidate(handler func(domain.Candidate)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCandidate = handler
}

func (t *PeerTransport) OnTrack(handler func(domain.TrackInfo)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTrack = handler
}

func (t *PeerTransport) OnStateChange(handler func(domain.NegotiationState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = handler
}

func (t *PeerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.pc.Close()
}
