package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/socket-client/internal/api"
	"github.com/rickgao/socket-client/internal/auth"
	"github.com/rickgao/socket-client/internal/channel"
	"github.com/rickgao/socket-client/internal/connection"
	"github.com/rickgao/socket-client/internal/metrics"
	"github.com/rickgao/socket-client/internal/presence"
	"github.com/rickgao/socket-client/internal/protocol"
	"github.com/rickgao/socket-client/internal/queue"
	"github.com/rickgao/socket-client/internal/router"
	"github.com/rickgao/socket-client/internal/transport"
)

// Config configures a Client.
type Config struct {
	Connection     connection.Config
	RequestTimeout time.Duration // Attach, detach and token request bound

	APITimeout      time.Duration
	APIMaxRetries   int
	APIRetryBackoff time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Connection:      connection.DefaultConfig(),
		RequestTimeout:  10 * time.Second,
		APITimeout:      30 * time.Second,
		APIMaxRetries:   3,
		APIRetryBackoff: time.Second,
	}
}

// Option configures optional collaborators.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	dialer  transport.Dialer
	metrics *metrics.Metrics
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithMetrics records client activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Client is one realtime client instance.
type Client struct {
	conn       *connection.Manager
	channels   *channel.Registry
	auth       *auth.Broker
	router     *router.Router
	api        *api.Client
	dispatcher *queue.Dispatcher
	logger     *slog.Logger

	mu             sync.RWMutex
	stateListeners []func(connection.StateChange)
	closed         chan struct{}
	closedOnce     sync.Once
	shutdownOnce   sync.Once
	done           chan struct{}
}

// closeWait bounds how long Close waits for the transport to confirm.
const closeWait = 2 * time.Second

// New wires a client. Nothing connects until Connect is called.
func New(cfg Config, opts ...Option) *Client {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := o.dialer
	if dialer == nil {
		dialer = transport.NewWebSocketDialer(logger)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}

	c := &Client{
		dispatcher: queue.NewDispatcher(logger.With("component", "dispatcher")),
		logger:     logger,
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.conn = connection.NewManager(cfg.Connection, dialer, logger)

	apiOpts := []api.ClientOption{
		api.WithHeaders(c.conn.CredentialHeaders),
		api.WithLogger(logger.With("component", "api")),
	}
	if cfg.APITimeout > 0 {
		apiOpts = append(apiOpts, api.WithTimeout(cfg.APITimeout))
	}
	if cfg.APIRetryBackoff > 0 {
		apiOpts = append(apiOpts, api.WithRetries(cfg.APIMaxRetries, cfg.APIRetryBackoff))
	}
	c.api = api.NewClient(c.conn.RestURL(""), apiOpts...)

	c.channels = channel.NewRegistry(c.conn, channel.Config{
		RequestTimeout: cfg.RequestTimeout,
		Executor:       c.dispatcher.Run,
		Fetcher:        presence.FetcherFunc(c.fetchPresence),
		Logger:         logger,
	})
	c.auth = auth.NewBroker(c.conn, auth.Config{RequestTimeout: cfg.RequestTimeout}, logger)
	c.router = router.New(c.channels, c.auth, logger)

	c.conn.OnMessage(c.router.Handle)
	c.conn.OnStateChange(c.channels.HandleConnectionState)
	c.conn.OnStateChange(c.deliverState)

	if m := o.metrics; m != nil {
		c.conn.OnStateChange(m.ObserveState)
		c.router.AddTap(m.ObserveFrame)
		m.RegisterConnection(c.conn.Stats)
		m.RegisterChannels(c.channels.Len)
	}
	return c
}

func (c *Client) fetchPresence(ctx context.Context, channel string, q presence.Query) ([]protocol.Member, error) {
	return c.api.GetPresence(ctx, channel, api.PresenceQuery{
		ClientID:     q.ClientID,
		ConnectionID: q.ConnectionID,
	})
}

// Connect opens the connection.
func (c *Client) Connect() error {
	return c.conn.Connect()
}

// deliverState runs user state listeners on the dispatcher.
func (c *Client) deliverState(change connection.StateChange) {
	c.dispatcher.Run(func() {
		c.mu.RLock()
		listeners := c.stateListeners
		c.mu.RUnlock()
		for _, fn := range listeners {
			fn(change)
		}
		if change.To == connection.StateClosed {
			c.closedOnce.Do(func() { close(c.closed) })
		}
	})
}

// Close closes the connection and starts the shutdown of the client. It
// does not block, so it is safe to call from a listener. Use Wait or Done
// to learn when queued listener deliveries have finished. The client cannot
// be reused afterwards.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.shutdownOnce.Do(func() { go c.shutdown() })
	return err
}

// shutdown waits for the close to be confirmed, then drains the dispatcher.
// It never runs on the dispatcher worker.
func (c *Client) shutdown() {
	select {
	case <-c.closed:
	case <-time.After(closeWait):
		c.logger.Warn("close not confirmed by transport", "wait", closeWait)
	}
	c.dispatcher.Stop()
	close(c.done)
}

// Done is closed once Close has finished shutting the client down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the shutdown started by Close has finished or ctx ends.
// It must not be called from a listener.
func (c *Client) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Channel returns the channel for name, creating it on first use.
func (c *Client) Channel(name string) *channel.Channel {
	return c.channels.Get(name)
}

// CreateTokenRequest asks the server for a token for opts.ClientID.
func (c *Client) CreateTokenRequest(ctx context.Context, opts auth.TokenRequestOptions) (auth.TokenResponse, error) {
	return c.auth.CreateTokenRequest(ctx, opts)
}

// OnStateChange registers a connection state listener. Listeners run on the
// dispatcher, in order.
func (c *Client) OnStateChange(fn func(connection.StateChange)) {
	c.mu.Lock()
	c.stateListeners = append(c.stateListeners, fn)
	c.mu.Unlock()
}

// OnError registers a listener for transport errors that did not change the
// connection state.
func (c *Client) OnError(fn func(error)) {
	c.conn.OnError(func(err error) {
		c.dispatcher.Run(func() { fn(err) })
	})
}

// WaitConnected blocks until the connection is connected or ctx ends.
func (c *Client) WaitConnected(ctx context.Context) error {
	if c.conn.IsConnected() {
		return nil
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.conn.IsConnected() {
				return nil
			}
			if s := c.conn.State(); s == connection.StateClosed {
				return connection.ErrNotConnected
			}
		}
	}
}

// Connection returns the connection manager.
func (c *Client) Connection() *connection.Manager { return c.conn }

// Channels returns the channel registry.
func (c *Client) Channels() *channel.Registry { return c.channels }

// Auth returns the token broker.
func (c *Client) Auth() *auth.Broker { return c.auth }

// Router returns the message router.
func (c *Client) Router() *router.Router { return c.router }

// API returns the REST client.
func (c *Client) API() *api.Client { return c.api }

// Subscribe binds l to each of events on the named channel, or to every
// message when events is empty. The channel attaches on first subscription.
func (c *Client) Subscribe(name string, events []string, l channel.Listener) (*channel.Channel, error) {
	ch := c.channels.Get(name)
	if ch == nil {
		return nil, protocol.ErrNoChannel
	}
	if len(events) == 0 {
		return ch, ch.SubscribeAll(l)
	}
	for _, event := range events {
		if err := ch.Subscribe(event, l); err != nil {
			return ch, err
		}
	}
	return ch, nil
}
