// Package auth implements the auth token broker: token requests sent over the
// connection and correlated with their responses by request id.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/socket-client/internal/protocol"
)

type result struct {
	resp TokenResponse
	err  error
}

// Broker correlates TOKEN requests and responses.
type Broker struct {
	conn   Conn
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan result
}

// NewBroker creates a Broker.
func NewBroker(conn Conn, cfg Config, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	return &Broker{
		conn:    conn,
		cfg:     cfg,
		logger:  logger.With("component", "auth"),
		pending: make(map[string]chan result),
	}
}

// newReqID returns 32 random hex characters.
func newReqID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateTokenRequest asks the server for a token and waits for the answer.
// ErrRequestTimeout means the server never answered.
func (b *Broker) CreateTokenRequest(ctx context.Context, opts TokenRequestOptions) (TokenResponse, error) {
	if b.conn == nil || !b.conn.IsConnected() {
		return TokenResponse{}, ErrNotConnected
	}

	reqID := newReqID()
	ch := make(chan result, 1)

	b.mu.Lock()
	b.pending[reqID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, reqID)
		b.mu.Unlock()
	}()

	if err := b.conn.Send(protocol.TokenRequest(reqID, opts.ClientID)); err != nil {
		return TokenResponse{}, fmt.Errorf("send token request: %w", err)
	}
	b.logger.Debug("token requested", "req_id", reqID, "client_id", opts.ClientID)

	select {
	case <-ctx.Done():
		return TokenResponse{}, ctx.Err()
	case <-time.After(b.cfg.RequestTimeout):
		b.logger.Warn("token request unanswered", "req_id", reqID)
		return TokenResponse{}, ErrRequestTimeout
	case res := <-ch:
		return res.resp, res.err
	}
}

// OnResponse resolves the request named by msg.ReqID. Unknown or missing
// ids are ignored.
func (b *Broker) OnResponse(msg protocol.Message) bool {
	return b.resolve(msg.ReqID, result{resp: TokenResponse{
		ReqID:    msg.ReqID,
		Token:    msg.Token,
		ClientID: msg.ClientID,
		Message:  msg,
	}})
}

// OnError fails the request named by msg.ReqID with the server error.
func (b *Broker) OnError(msg protocol.Message) bool {
	return b.resolve(msg.ReqID, result{err: protocol.ServerErrorFrom(msg)})
}

// resolve delivers res at most once per request id.
func (b *Broker) resolve(reqID string, res result) bool {
	if reqID == "" {
		return false
	}
	b.mu.Lock()
	ch, ok := b.pending[reqID]
	delete(b.pending, reqID)
	b.mu.Unlock()
	if !ok {
		return false
	}
	ch <- res
	return true
}

// Pending returns the number of unanswered requests.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
