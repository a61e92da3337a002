package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config tunes the client channel. ReconnectAttempts bounds the dial retry
// loop inside Connect; once the read loop has started, a dropped connection
// is reported to the session and never redialed implicitly.
type Config struct {
	URL               string
	ConnectTimeout    time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	WriteTimeout      time.Duration

	Logger *zap.SugaredLogger
}

// WebSocketChannel implements ports.SignalChannel over a gorilla websocket
// connection to the relay. One reader goroutine owns the connection's read
// side and dispatches to subscribers in arrival order; writes are serialized
// by writeMu.
type WebSocketChannel struct {
	cfg Config

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	localID   domain.PeerID

	writeMu sync.Mutex

	handlersMu   sync.RWMutex
	handlers     map[domain.EventKind][]func(domain.SignalMessage)
	onDisconnect func(remote bool)

	logger *zap.SugaredLogger
}

var _ ports.SignalChannel = (*WebSocketChannel)(nil)

func New(cfg Config) *WebSocketChannel {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReconnectAttempts < 0 {
		cfg.ReconnectAttempts = 0
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WebSocketChannel{
		cfg:      cfg,
		handlers: make(map[domain.EventKind][]func(domain.SignalMessage)),
		logger:   logger,
	}
}

// Connect dials the relay, waits for the connected event carrying the
// relay-assigned sender id, then starts the read loop. Dial failures are
// retried a fixed number of times with a fixed delay.
func (c *WebSocketChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	policy := retry.FixedConfig(c.cfg.ReconnectAttempts, c.cfg.ReconnectDelay)
	err := retry.Do(ctx, policy, func() error {
		return c.dial(ctx)
	})
	if err != nil {
		return fmt.Errorf("connect to relay %s: %w", c.cfg.URL, err)
	}
	return nil
}

func (c *WebSocketChannel) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return err
	}

	// The relay greets every connection with its assigned sender id before
	// any other traffic.
	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ConnectTimeout)); err != nil {
		conn.Close()
		return err
	}
	var greeting domain.SignalMessage
	if err := conn.ReadJSON(&greeting); err != nil {
		conn.Close()
		return fmt.Errorf("read greeting: %w", err)
	}
	if greeting.Type != domain.EventConnected {
		conn.Close()
		return fmt.Errorf("unexpected greeting event %q", greeting.Type)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return err
	}

	conn.SetPongHandler(func(string) error { return nil })

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return domain.ErrSessionClosed
	}
	c.conn = conn
	c.connected = true
	c.localID = greeting.SenderID
	c.mu.Unlock()

	c.logger.Infow("signaling channel connected", "url", c.cfg.URL, "local_id", greeting.SenderID)
	go c.readLoop(conn)
	return nil
}

func (c *WebSocketChannel) readLoop(conn *websocket.Conn) {
	for {
		var msg domain.SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.handleReadError(conn, err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *WebSocketChannel) dispatch(msg domain.SignalMessage) {
	c.handlersMu.RLock()
	handlers := c.handlers[msg.Type]
	c.handlersMu.RUnlock()

	if len(handlers) == 0 {
		c.logger.Debugw("unhandled signaling event", "type", msg.Type)
		return
	}
	for _, h := range handlers {
		h(msg)
	}
}

func (c *WebSocketChannel) handleReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A Close already swapped the connection out.
		c.mu.Unlock()
		return
	}
	wasClosed := c.closed
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	conn.Close()
	if wasClosed {
		return
	}

	remote := websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.ClosePolicyViolation,
	)
	c.logger.Warnw("signaling channel dropped", "remote", remote, "error", err)

	c.handlersMu.RLock()
	onDisconnect := c.onDisconnect
	c.handlersMu.RUnlock()
	if onDisconnect != nil {
		onDisconnect(remote)
	}
}

// Send marshals and writes the message. Messages sent while disconnected
// are dropped silently.
func (c *WebSocketChannel) Send(msg domain.SignalMessage) {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.logger.Debugw("dropping message on disconnected channel", "type", msg.Type)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		c.logger.Warnw("signaling write failed", "type", msg.Type, "error", err)
	}
}

func (c *WebSocketChannel) Subscribe(kind domain.EventKind, handler func(domain.SignalMessage)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], handler)
}

func (c *WebSocketChannel) OnDisconnect(handler func(remote bool)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onDisconnect = handler
}

func (c *WebSocketChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *WebSocketChannel) LocalID() domain.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID
}

// Close shuts the connection down without notifying the disconnect handler.
func (c *WebSocketChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	return conn.Close()
}
