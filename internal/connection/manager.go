package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/socket-client/internal/protocol"
	"github.com/rickgao/socket-client/internal/transport"
)

// Manager owns the connection to the server.
type Manager struct {
	cfg    Config
	dialer transport.Dialer
	logger *slog.Logger

	mu           sync.Mutex
	state        State
	host         string
	secure       bool
	secret       string
	token        string
	clientID     string
	connectionID string
	socket       transport.Socket
	gen          uint64 // Socket generation; bumped whenever a socket is replaced
	retryCount   int
	timer        *time.Timer
	timerSeq     uint64
	authorizing  bool

	obsMu          sync.RWMutex
	stateObservers []func(StateChange)
	msgObservers   []func(protocol.Message)
	errObservers   []func(error)

	reconnects     atomic.Int64
	framesReceived atomic.Int64
	framesDropped  atomic.Int64
	framesSent     atomic.Int64
}

// NewManager creates a Manager. Nothing is opened until Connect is called.
func NewManager(cfg Config, dialer transport.Dialer, log *slog.Logger) *Manager {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = time.Second
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	host, secure := splitHost(cfg.Host, cfg.Secure)
	return &Manager{
		cfg:      cfg,
		dialer:   dialer,
		logger:   logger(log).With("component", "connection"),
		state:    StateInitialized,
		host:     host,
		secure:   secure,
		secret:   cfg.Secret,
		token:    cfg.Token,
		clientID: cfg.ClientID,
	}
}

// OnStateChange registers a state observer.
func (m *Manager) OnStateChange(fn func(StateChange)) {
	m.obsMu.Lock()
	m.stateObservers = append(m.stateObservers, fn)
	m.obsMu.Unlock()
}

// OnMessage registers an observer for every decoded frame except CONNECTED.
// Observers run on the transport read goroutine, in delivery order.
func (m *Manager) OnMessage(fn func(protocol.Message)) {
	m.obsMu.Lock()
	m.msgObservers = append(m.msgObservers, fn)
	m.obsMu.Unlock()
}

// OnError registers an observer for transport errors that do not change state.
func (m *Manager) OnError(fn func(error)) {
	m.obsMu.Lock()
	m.errObservers = append(m.errObservers, fn)
	m.obsMu.Unlock()
}

// Connect opens the link. It returns once the transport open is requested;
// the outcome is reported through OnStateChange.
func (m *Manager) Connect() error {
	m.mu.Lock()
	switch {
	case m.state == StateConnected && m.socket != nil && m.socket.IsOpen():
		m.mu.Unlock()
		return nil
	case m.state == StateConnecting && m.socket != nil:
		m.mu.Unlock()
		return nil
	}

	if m.secret == "" && m.token == "" {
		if m.cfg.AuthCallback == nil {
			change, ok := m.setStateLocked(StateFailed, ErrNoCredentials)
			m.mu.Unlock()
			if ok {
				m.emitState(change)
			}
			m.logger.Error("cannot connect", "error", ErrNoCredentials)
			return ErrNoCredentials
		}
		if !m.authorizing {
			m.authorizing = true
			go m.authorize()
		}
		m.mu.Unlock()
		return nil
	}

	change, ok := m.setStateLocked(StateConnecting, nil)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("connect from %s: %w", m.state, ErrNotConnected)
	}
	m.gen++
	gen := m.gen
	old := m.socket
	m.socket = nil
	rawURL := buildURL(m.host, m.secure, m.secret, m.token, m.clientID)
	m.mu.Unlock()

	m.emitState(change)
	if old != nil {
		old.Close()
	}

	m.logger.Info("connecting", "host", m.host, "secure", m.secure, "retry", m.RetryCount())
	sock, err := m.dialer.Open(rawURL, m.cfg.Transport, &socketHandler{m: m, gen: gen})
	if err != nil {
		m.handleError(gen, &transport.TransportError{Op: "open", Err: err})
		return err
	}

	m.mu.Lock()
	if m.gen != gen {
		// Closed or replaced while the dial was being set up.
		m.mu.Unlock()
		sock.Close()
		return nil
	}
	m.socket = sock
	m.mu.Unlock()
	return nil
}

// authorize runs the credential callback and connects with the token.
func (m *Manager) authorize() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AuthTimeout)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := m.cfg.AuthCallback(ctx)
		done <- result{v, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ErrAuthTimeout
	}

	token := ""
	if res.err == nil {
		token = tokenFrom(res.v)
		if token == "" {
			res.err = ErrNoToken
		}
	}

	m.mu.Lock()
	m.authorizing = false
	if m.state.terminal() {
		m.mu.Unlock()
		return
	}
	if res.err != nil {
		change, ok := m.setStateLocked(StateFailed, res.err)
		m.mu.Unlock()
		m.logger.Error("credential callback failed", "error", res.err)
		if ok {
			m.emitState(change)
		}
		return
	}
	m.token = token
	if d, ok := res.v.(TokenDetails); ok && d.ClientID != "" {
		m.clientID = d.ClientID
	}
	m.mu.Unlock()

	if err := m.Connect(); err != nil {
		m.logger.Warn("connect after authorization failed", "error", err)
	}
}

// Close closes the link. No reconnect follows.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state.terminal() {
		m.mu.Unlock()
		return nil
	}
	m.stopTimerLocked()

	var changes []StateChange
	if c, ok := m.setStateLocked(StateClosing, nil); ok {
		changes = append(changes, c)
	}
	sock := m.socket
	open := sock != nil && sock.IsOpen()
	if !open {
		m.gen++
		m.socket = nil
		if c, ok := m.setStateLocked(StateClosed, nil); ok {
			changes = append(changes, c)
		}
	}
	m.mu.Unlock()

	for _, c := range changes {
		m.emitState(c)
	}
	m.logger.Info("closing connection")
	if sock == nil {
		return nil
	}
	if err := sock.Close(); err != nil {
		m.logger.Warn("close failed", "error", err)
		m.finalizeClose()
		return err
	}
	return nil
}

// finalizeClose completes a close whose socket cannot report it.
func (m *Manager) finalizeClose() {
	m.mu.Lock()
	if m.state != StateClosing {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.socket = nil
	change, ok := m.setStateLocked(StateClosed, nil)
	m.mu.Unlock()
	if ok {
		m.emitState(change)
	}
}

// Send writes one message. Strings and []byte go through unchanged; anything
// else is JSON-encoded. Nothing is queued while disconnected.
func (m *Manager) Send(msg any) error {
	m.mu.Lock()
	sock := m.socket
	m.mu.Unlock()
	if sock == nil || !sock.IsOpen() {
		return ErrNotConnected
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := sock.Send(data); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	m.framesSent.Add(1)
	return nil
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the state is connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// ClientID returns the server-assigned (or configured) client id.
func (m *Manager) ClientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientID
}

func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectionID
}

func (m *Manager) RetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryCount
}

// URL returns the connect URL for the current credentials.
func (m *Manager) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return buildURL(m.host, m.secure, m.secret, m.token, m.clientID)
}

// RestURL returns the HTTP URL for postfix on the same host.
func (m *Manager) RestURL(postfix string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return buildRestURL(m.host, m.secure, postfix)
}

// CredentialHeaders returns the headers that authenticate REST calls.
func (m *Manager) CredentialHeaders() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return protocol.CredentialHeaders(m.secret, m.token)
}

// Stats returns current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	state, retries := m.state, m.retryCount
	m.mu.Unlock()
	return Stats{
		State:             state,
		RetryCount:        retries,
		ReconnectAttempts: m.reconnects.Load(),
		FramesReceived:    m.framesReceived.Load(),
		FramesDropped:     m.framesDropped.Load(),
		FramesSent:        m.framesSent.Load(),
	}
}

// setStateLocked applies a transition if the table allows it. Caller holds mu.
func (m *Manager) setStateLocked(to State, err error) (StateChange, bool) {
	from := m.state
	if !CanTransition(from, to) {
		m.logger.Warn("illegal state transition rejected", "from", from, "to", to)
		return StateChange{}, false
	}
	m.state = to
	return StateChange{From: from, To: to, Err: err}, true
}

// scheduleReconnectLocked arms the reconnect timer. At most one timer is
// outstanding. Caller holds mu.
func (m *Manager) scheduleReconnectLocked() {
	m.stopTimerLocked()
	if !m.cfg.AutoReconnect {
		return
	}
	if m.retryCount >= m.cfg.MaxRetries {
		m.logger.Warn("reconnect attempts exhausted", "retries", m.retryCount)
		return
	}
	seq := m.timerSeq
	m.timer = time.AfterFunc(m.cfg.ReconnectInterval, func() { m.reconnect(seq) })
}

func (m *Manager) stopTimerLocked() {
	m.timerSeq++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) reconnect(seq uint64) {
	m.mu.Lock()
	if seq != m.timerSeq {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	switch m.state {
	case StateConnected:
		m.retryCount = 0
		m.mu.Unlock()
		return
	case StateConnecting, StateClosing, StateClosed:
		m.mu.Unlock()
		return
	}
	m.retryCount++
	retry := m.retryCount
	m.mu.Unlock()

	m.reconnects.Add(1)
	m.logger.Info("attempting reconnection", "attempt", retry, "max", m.cfg.MaxRetries)
	if err := m.Connect(); err != nil {
		m.logger.Warn("reconnection failed", "attempt", retry, "error", err)
	}
}

func (m *Manager) handleOpen(gen uint64) {
	m.mu.Lock()
	current := gen == m.gen
	m.mu.Unlock()
	if current {
		m.logger.Debug("transport open")
	}
}

func (m *Manager) handleMessage(gen uint64, data []byte) {
	m.framesReceived.Add(1)

	m.mu.Lock()
	current := gen == m.gen
	m.mu.Unlock()
	if !current {
		m.framesDropped.Add(1)
		return
	}

	msg, ok := protocol.Decode(data)
	if !ok {
		m.framesDropped.Add(1)
		m.logger.Debug("dropping undecodable frame", "size", len(data))
		return
	}

	if msg.Action == protocol.ActionConnected {
		m.handleConnected(gen, msg)
		return
	}

	m.obsMu.RLock()
	observers := m.msgObservers
	m.obsMu.RUnlock()
	for _, fn := range observers {
		fn(msg)
	}
}

func (m *Manager) handleConnected(gen uint64, msg protocol.Message) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if msg.ClientID != "" {
		m.clientID = msg.ClientID
	}
	m.connectionID = msg.ConnectionID
	change, ok := m.setStateLocked(StateConnected, nil)
	if ok {
		m.retryCount = 0
		m.stopTimerLocked()
	}
	clientID := m.clientID
	m.mu.Unlock()

	if ok {
		m.logger.Info("connected", "client_id", clientID, "connection_id", msg.ConnectionID)
		m.emitState(change)
	}
}

func (m *Manager) handleError(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	var terr *transport.TransportError
	if errors.As(err, &terr) && m.state == StateConnecting {
		change, ok := m.setStateLocked(StateFailed, err)
		m.socket = nil
		m.gen++
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		m.logger.Warn("transport failed while connecting", "error", err)
		if ok {
			m.emitState(change)
		}
		return
	}
	m.mu.Unlock()

	m.logger.Warn("transport error", "error", err)
	m.obsMu.RLock()
	observers := m.errObservers
	m.obsMu.RUnlock()
	for _, fn := range observers {
		fn(err)
	}
}

func (m *Manager) handleClose(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.socket = nil

	var change StateChange
	var ok bool
	if m.state == StateClosing {
		change, ok = m.setStateLocked(StateClosed, nil)
		m.stopTimerLocked()
	} else {
		change, ok = m.setStateLocked(StateDisconnected, nil)
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()

	m.logger.Info("transport closed", "state", change.To)
	if ok {
		m.emitState(change)
	}
}

func (m *Manager) emitState(change StateChange) {
	m.obsMu.RLock()
	observers := m.stateObservers
	m.obsMu.RUnlock()
	for _, fn := range observers {
		fn(change)
	}
}

// socketHandler binds transport events to one socket generation.
type socketHandler struct {
	m   *Manager
	gen uint64
}

func (h *socketHandler) OnOpen()               { h.m.handleOpen(h.gen) }
func (h *socketHandler) OnMessage(data []byte) { h.m.handleMessage(h.gen, data) }
func (h *socketHandler) OnClose()              { h.m.handleClose(h.gen) }
func (h *socketHandler) OnError(err error)     { h.m.handleError(h.gen, err) }
