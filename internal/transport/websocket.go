package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer opens gorilla/websocket sockets.
type WebSocketDialer struct {
	logger *slog.Logger
}

// NewWebSocketDialer creates a new WebSocket dialer.
func NewWebSocketDialer(logger *slog.Logger) *WebSocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketDialer{logger: logger}
}

// Open starts dialing rawURL in the background.
func (d *WebSocketDialer) Open(rawURL string, opts Options, h Handler) (Socket, error) {
	if len(opts.Transports) > 0 && !slices.Contains(opts.Transports, NameWebSocket) {
		return nil, &TransportError{Op: "open", Err: ErrNoTransport}
	}
	if slices.Contains(opts.Transports, NamePolling) {
		d.logger.Debug("polling fallback not available, using websocket only")
	}

	target, err := withPath(rawURL, opts.Path)
	if err != nil {
		return nil, &TransportError{Op: "open", Err: err}
	}

	s := &wsSocket{
		opts:    opts,
		handler: h,
		logger:  d.logger,
		url:     target,
		done:    make(chan struct{}),
	}
	go s.run()

	return s, nil
}

// withPath sets the request path when the URL carries none.
func withPath(rawURL, path string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if path != "" && (u.Path == "" || u.Path == "/") {
		u.Path = path
	}
	return u.String(), nil
}

// wsSocket implements Socket over one gorilla connection.
type wsSocket struct {
	opts    Options
	handler Handler
	logger  *slog.Logger
	url     string

	conn *websocket.Conn
	done chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	open       bool
	closed     bool
	lastPongAt time.Time

	closeOnce sync.Once
}

// run dials, then becomes the read loop.
func (s *wsSocket) run() {
	ctx := context.Background()
	if s.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.HandshakeTimeout)
		defer cancel()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: s.opts.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, s.url, s.opts.Header)

	s.mu.Lock()
	closed := s.closed
	if err == nil && !closed {
		s.conn = conn
		s.open = true
		s.lastPongAt = time.Now()
	}
	s.mu.Unlock()

	if closed {
		// Close() raced the dial.
		if conn != nil {
			conn.Close()
		}
		s.emitClose()
		return
	}
	if err != nil {
		s.handler.OnError(&TransportError{Op: "dial", Err: err})
		return
	}

	conn.SetPongHandler(func(string) error {
		s.mu.Lock()
		s.lastPongAt = time.Now()
		s.mu.Unlock()
		return nil
	})

	s.logger.Debug("websocket connected", "url", s.url)
	s.handler.OnOpen()

	if s.opts.PingInterval > 0 {
		go s.heartbeatLoop()
	}
	s.readLoop()
}

// readLoop delivers frames until the connection fails or is closed.
func (s *wsSocket) readLoop() {
	defer s.emitClose()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// Closed by us.
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.handler.OnError(err)
				}
			}
			return
		}
		s.handler.OnMessage(data)
	}
}

// heartbeatLoop pings the server and detects stale links.
func (s *wsSocket) heartbeatLoop() {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
			}

			s.mu.RLock()
			lastPong := s.lastPongAt
			s.mu.RUnlock()

			if s.opts.PingTimeout > 0 && time.Since(lastPong) > s.opts.PingTimeout {
				s.logger.Warn("no pong received, connection stale",
					"last_pong", lastPong,
					"timeout", s.opts.PingTimeout,
				)
				s.handler.OnError(ErrStaleConnection)
				s.conn.Close()
				return
			}
		}
	}
}

// emitClose marks the socket closed and reports OnClose once.
func (s *wsSocket) emitClose() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.open = false
		s.closed = true
		s.mu.Unlock()
		s.handler.OnClose()
	})
}

// Send writes a text frame.
func (s *wsSocket) Send(data []byte) error {
	s.mu.RLock()
	open := s.open
	s.mu.RUnlock()
	if !open {
		return ErrNotOpen
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.opts.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close gracefully closes the link.
func (s *wsSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	wasOpen := s.open
	s.open = false
	conn := s.conn
	s.mu.Unlock()

	close(s.done)

	if !wasOpen || conn == nil {
		// Dial still in flight; run() reports the close.
		return nil
	}

	s.writeMu.Lock()
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.logger.Debug("failed to send close frame", "error", err)
	}

	return conn.Close()
}

// IsOpen reports whether the link is established.
func (s *wsSocket) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}
