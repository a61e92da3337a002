package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Relay errors surfaced to clients verbatim. Clients classify on these
// strings, so they are part of the wire contract.
const (
	errRoomNotFound    = "Room not found"
	errInvalidPassword = "Invalid password"
	errRoomFull        = "Room is full"
)

// Metrics receives connection and traffic counters; the prometheus
// collector implements it. A nil Metrics disables instrumentation.
// Negotiation duration is measured relay-side, from a room reaching two
// participants to the answer being relayed between them.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	MessageRouted(kind string)
	RecordNegotiationDuration(d time.Duration)
}

// client is one connected websocket. Writes are serialized per connection;
// the relay's read loop is the only reader.
type client struct {
	id      domain.PeerID
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	roomID domain.RoomID
}

func (c *client) room() domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *client) setRoom(id domain.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = id
}

func (c *client) writeJSON(v interface{}, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(v)
}

// RelayServer fans signaling messages out between the two participants of a
// room. It assigns every connection an opaque sender id, stamps that id onto
// every forwarded message, and never inspects descriptions or candidates
// beyond envelope validation.
type RelayServer struct {
	rooms ports.RoomService

	mu               sync.RWMutex
	clients          map[domain.PeerID]*client
	members          map[domain.RoomID]map[domain.PeerID]*client
	negotiationStart map[domain.RoomID]time.Time

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	metrics Metrics
	logger  *zap.SugaredLogger
}

func NewRelayServer(rooms ports.RoomService, metrics Metrics, logger *zap.SugaredLogger) *RelayServer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RelayServer{
		rooms:            rooms,
		clients:          make(map[domain.PeerID]*client),
		members:          make(map[domain.RoomID]map[domain.PeerID]*client),
		negotiationStart: make(map[domain.RoomID]time.Time),
		pingInterval:     30 * time.Second,
		pongTimeout:      60 * time.Second,
		writeTimeout:     10 * time.Second,
		metrics:          metrics,
		logger:           logger,
	}
}

func (s *RelayServer) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
}

func (s *RelayServer) SetPongTimeout(timeout time.Duration) {
	s.pongTimeout = timeout
}

func (s *RelayServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &client{
		id:   domain.PeerID(utils.GeneratePeerID()),
		conn: conn,
	}

	// Greet the connection with its assigned sender id before anything else.
	greeting := domain.SignalMessage{Type: domain.EventConnected, SenderID: c.id}
	greeting.Payload, _ = json.Marshal(domain.ConnectedPayload{SenderID: c.id})
	if err := c.writeJSON(greeting, s.writeTimeout); err != nil {
		s.logger.Warnw("greeting write failed", "peer_id", c.id, "error", err)
		return
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}
	s.logger.Infow("peer connected", "peer_id", c.id)

	conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan domain.SignalMessage, 10)
	errorChan := make(chan error, 1)
	// Closed when the select loop exits so a reader blocked on a full
	// messageChan does not outlive the connection.
	readerDone := make(chan struct{})
	defer close(readerDone)

	go func() {
		for {
			var msg domain.SignalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
			select {
			case messageChan <- msg:
			case <-readerDone:
				return
			}
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if err := s.handleMessage(r.Context(), c, msg); err != nil {
				s.logger.Infow("error handling message", "peer_id", c.id, "type", msg.Type, "error", err)
				s.sendError(c, err.Error())
			}

		case <-pingTicker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "peer_id", c.id, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading message", "peer_id", c.id, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.disconnect(c)
}

func (s *RelayServer) disconnect(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	s.leaveRoom(context.Background(), c)

	if s.metrics != nil {
		s.metrics.ConnectionClosed()
	}
	s.logger.Infow("peer disconnected", "peer_id", c.id)
}

func (s *RelayServer) handleMessage(ctx context.Context, c *client, msg domain.SignalMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}
	if s.metrics != nil {
		s.metrics.MessageRouted(string(msg.Type))
	}

	switch msg.Type {
	case domain.EventJoin:
		return s.handleJoin(ctx, c, msg)
	case domain.EventLeave:
		s.leaveRoom(ctx, c)
		return nil
	case domain.EventOffer, domain.EventAnswer, domain.EventCandidate:
		return s.forwardToPeer(c, msg)
	case domain.EventChat:
		return s.broadcastToRoom(c, msg)
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (s *RelayServer) handleJoin(ctx context.Context, c *client, msg domain.SignalMessage) error {
	if msg.RoomID == "" {
		return fmt.Errorf("room_id is required")
	}
	if c.room() != "" {
		return fmt.Errorf("already in a room")
	}

	var payload domain.JoinPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("invalid join payload: %w", err)
		}
	}

	if err := s.rooms.Join(ctx, msg.RoomID, payload.Password, c.id); err != nil {
		switch {
		case errors.Is(err, domain.ErrRoomNotFound):
			return errors.New(errRoomNotFound)
		case errors.Is(err, domain.ErrInvalidPassword):
			return errors.New(errInvalidPassword)
		case errors.Is(err, domain.ErrRoomFull):
			return errors.New(errRoomFull)
		default:
			return fmt.Errorf("join failed: %w", err)
		}
	}

	c.setRoom(msg.RoomID)
	s.mu.Lock()
	if s.members[msg.RoomID] == nil {
		s.members[msg.RoomID] = make(map[domain.PeerID]*client)
	}
	s.members[msg.RoomID][c.id] = c
	// A second participant starts the negotiation clock; it stops when the
	// answer is relayed back.
	if len(s.members[msg.RoomID]) == 2 {
		s.negotiationStart[msg.RoomID] = time.Now()
	}
	s.mu.Unlock()

	s.logger.Infow("peer joined room", "peer_id", c.id, "room_id", msg.RoomID)

	ack := domain.NewSignalMessage(domain.EventJoined, msg.RoomID, domain.JoinedPayload{RoomID: msg.RoomID})
	ack.SenderID = c.id
	if err := c.writeJSON(ack, s.writeTimeout); err != nil {
		return fmt.Errorf("joined ack write: %w", err)
	}

	// The peer already present learns about the newcomer; the newcomer
	// stays silent and waits for the resulting offer.
	presence := domain.SignalMessage{Type: domain.EventUserJoined, RoomID: msg.RoomID, SenderID: c.id}
	s.sendToOthers(msg.RoomID, c.id, presence)
	return nil
}

func (s *RelayServer) leaveRoom(ctx context.Context, c *client) {
	roomID := c.room()
	if roomID == "" {
		return
	}
	c.setRoom("")

	s.mu.Lock()
	if peers, ok := s.members[roomID]; ok {
		delete(peers, c.id)
		if len(peers) == 0 {
			delete(s.members, roomID)
		}
	}
	delete(s.negotiationStart, roomID)
	s.mu.Unlock()

	if err := s.rooms.Leave(ctx, roomID, c.id); err != nil {
		s.logger.Warnw("room leave failed", "peer_id", c.id, "room_id", roomID, "error", err)
	}

	departure := domain.SignalMessage{Type: domain.EventUserLeft, RoomID: roomID, SenderID: c.id}
	s.sendToOthers(roomID, c.id, departure)
	s.logger.Infow("peer left room", "peer_id", c.id, "room_id", roomID)
}

// forwardToPeer stamps the sender id and relays the envelope to the other
// participant. Descriptions and candidates pass through untouched.
func (s *RelayServer) forwardToPeer(c *client, msg domain.SignalMessage) error {
	roomID := c.room()
	if roomID == "" {
		return fmt.Errorf("not in a room")
	}
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%s payload is required", msg.Type)
	}

	msg.RoomID = roomID
	msg.SenderID = c.id
	s.sendToOthers(roomID, c.id, msg)

	if msg.Type == domain.EventAnswer {
		s.mu.Lock()
		start, ok := s.negotiationStart[roomID]
		delete(s.negotiationStart, roomID)
		s.mu.Unlock()
		if ok && s.metrics != nil {
			s.metrics.RecordNegotiationDuration(time.Since(start))
		}
	}
	return nil
}

// broadcastToRoom delivers chat to every participant including the sender;
// clients classify their own messages by sender id.
func (s *RelayServer) broadcastToRoom(c *client, msg domain.SignalMessage) error {
	roomID := c.room()
	if roomID == "" {
		return fmt.Errorf("not in a room")
	}

	msg.RoomID = roomID
	msg.SenderID = c.id

	s.mu.RLock()
	peers := make([]*client, 0, len(s.members[roomID]))
	for _, peer := range s.members[roomID] {
		peers = append(peers, peer)
	}
	s.mu.RUnlock()

	for _, peer := range peers {
		if err := peer.writeJSON(msg, s.writeTimeout); err != nil {
			s.logger.Warnw("broadcast write failed", "peer_id", peer.id, "room_id", roomID, "error", err)
		}
	}
	return nil
}

func (s *RelayServer) sendToOthers(roomID domain.RoomID, from domain.PeerID, msg domain.SignalMessage) {
	s.mu.RLock()
	peers := make([]*client, 0, len(s.members[roomID]))
	for id, peer := range s.members[roomID] {
		if id != from {
			peers = append(peers, peer)
		}
	}
	s.mu.RUnlock()

	for _, peer := range peers {
		if err := peer.writeJSON(msg, s.writeTimeout); err != nil {
			s.logger.Warnw("relay write failed", "peer_id", peer.id, "room_id", roomID, "error", err)
		}
	}
}

func (s *RelayServer) sendError(c *client, message string) {
	msg := domain.NewSignalMessage(domain.EventError, c.room(), domain.ErrorPayload{Message: message})
	if err := c.writeJSON(msg, s.writeTimeout); err != nil {
		s.logger.Debugw("error write failed", "peer_id", c.id, "error", err)
	}
}

func (s *RelayServer) ConnectedPeers() []domain.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]domain.PeerID, 0, len(s.clients))
	for id := range s.clients {
		peers = append(peers, id)
	}
	return peers
}

func (s *RelayServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	connections := len(s.clients)
	rooms := len(s.members)
	s.mu.RUnlock()

	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": connections,
		"rooms":       rooms,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
