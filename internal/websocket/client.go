// internal/websocket/client.go
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	wstypes "condo-session/internal/domain/websocket"
	"condo-session/internal/service/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512KB
	sendBuffer     = 64
)

// Session is what the realtime client needs from the session manager.
type Session interface {
	State() session.State
	Subscribe(fn func(session.State)) func()
	EnsureFreshToken(ctx context.Context) string
}

type Config struct {
	URL          string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	// PingPeriod overrides the keepalive interval; zero uses the default.
	PingPeriod time.Duration
}

// Client holds one outbound realtime connection for the signed-in user and
// keeps it up while the session is online. Messages are routed to the
// handlers in its registry.
type Client struct {
	cfg      Config
	session  Session
	dialer   *websocket.Dialer
	registry *HandlerRegistry
	logger   *zap.Logger

	kick chan struct{}

	mu     sync.Mutex
	active *connection
}

// connection is one dialled socket; send is drained by its write pump,
// the only goroutine that writes to ws.
type connection struct {
	ws     *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

func NewClient(cfg Config, sess Session, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = pingPeriod
	}
	return &Client{
		cfg:     cfg,
		session: sess,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		registry: NewHandlerRegistry(),
		logger:   logger,
		kick:     make(chan struct{}, 1),
	}
}

// RegisterHandler registers a message handler
func (c *Client) RegisterHandler(handler MessageHandler) {
	c.registry.Register(handler)
}

// Connected reports whether a socket is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// ========== Connection loop ==========

// Run keeps the connection up until ctx ends. It only dials while a user is
// signed in and the session is online, and drops the socket as soon as
// either stops being true.
func (c *Client) Run(ctx context.Context) {
	unsubscribe := c.session.Subscribe(func(st session.State) {
		if !wantConnection(st) {
			c.drop()
		}
		c.nudge()
	})
	defer unsubscribe()

	backoff := c.cfg.ReconnectMin
	for {
		if ctx.Err() != nil {
			c.drop()
			return
		}
		if !wantConnection(c.session.State()) {
			select {
			case <-ctx.Done():
			case <-c.kick:
			}
			continue
		}

		connected, err := c.serve(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = c.cfg.ReconnectMin
		}
		if err != nil {
			c.logger.Warn("realtime connection ended",
				zap.Error(err),
				zap.Duration("retry_in", backoff),
			)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff *= 2
		if backoff > c.cfg.ReconnectMax {
			backoff = c.cfg.ReconnectMax
		}
	}
}

func wantConnection(st session.State) bool {
	return st.User != nil && !st.Loading && !st.IsOffline()
}

// serve dials once and blocks until the connection ends. connected reports
// whether the handshake succeeded.
func (c *Client) serve(ctx context.Context) (connected bool, err error) {
	token := c.session.EnsureFreshToken(ctx)
	if token == "" {
		return false, ErrNoToken
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return false, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		}
		return false, fmt.Errorf("failed to dial realtime channel: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	conn := &connection{ws: ws, send: make(chan []byte, sendBuffer), cancel: cancel}
	c.mu.Lock()
	c.active = conn
	c.mu.Unlock()
	c.logger.Info("realtime channel connected", zap.String("url", c.cfg.URL))

	written := make(chan struct{})
	go func() {
		defer close(written)
		c.writePump(connCtx, conn)
	}()

	err = c.readPump(connCtx, conn)
	cancel()
	<-written

	c.mu.Lock()
	if c.active == conn {
		c.active = nil
	}
	c.mu.Unlock()

	if connCtx.Err() != nil && ctx.Err() == nil {
		// Dropped on purpose.
		return true, nil
	}
	return true, err
}

// readPump handles incoming messages from the server
func (c *Client) readPump(ctx context.Context, conn *connection) error {
	conn.ws.SetReadLimit(maxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(ctx, conn, data)
	}
}

// writePump handles outgoing messages; it closes the socket on exit.
func (c *Client) writePump(ctx context.Context, conn *connection) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			conn.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("realtime write failed", zap.Error(err))
				conn.cancel()
				return
			}

		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.cancel()
				return
			}
		}
	}
}

// handleMessage processes incoming messages from the server
func (c *Client) handleMessage(ctx context.Context, conn *connection, data []byte) {
	msg, err := wstypes.ParseMessage(data)
	if err != nil {
		c.logger.Warn("unparseable realtime message", zap.Error(err))
		return
	}

	if handler, ok := c.registry.GetHandler(msg.Type); ok {
		if err := handler.HandleMessage(ctx, conn, msg); err != nil {
			c.logger.Warn("realtime handler failed",
				zap.String("type", string(msg.Type)),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			conn.SendMessage(wstypes.NewMessage(wstypes.EventTypeError, wstypes.ErrorData{
				Code:    "handler_error",
				Message: "Failed to process message",
				Details: msg.ID,
			}))
		}
		return
	}

	// Built-in message handling
	switch msg.Type {
	case wstypes.EventTypePing:
		conn.SendMessage(wstypes.NewMessage(wstypes.EventTypePong, nil))
	case wstypes.EventTypeConnected, wstypes.EventTypePong:
	case wstypes.EventTypeError:
		var e wstypes.ErrorData
		_ = DecodeData(msg.Data, &e)
		c.logger.Warn("realtime server error", zap.String("code", e.Code), zap.String("message", e.Message))
	default:
		c.logger.Debug("ignoring realtime message", zap.String("type", string(msg.Type)))
	}
}

// SendMessage queues msg on the current connection. It reports false when
// there is no connection or its buffer is full.
func (c *Client) SendMessage(msg *wstypes.WSMessage) bool {
	c.mu.Lock()
	conn := c.active
	c.mu.Unlock()
	if conn == nil {
		return false
	}
	return conn.SendMessage(msg)
}

func (conn *connection) SendMessage(msg *wstypes.WSMessage) bool {
	data, err := msg.ToJSON()
	if err != nil {
		return false
	}
	select {
	case conn.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) drop() {
	c.mu.Lock()
	conn := c.active
	c.mu.Unlock()
	if conn != nil {
		conn.cancel()
	}
}

func (c *Client) nudge() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}
