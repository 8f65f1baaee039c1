package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rickgao/socket-client/internal/channel"
	"github.com/rickgao/socket-client/internal/presence"
	"github.com/rickgao/socket-client/internal/protocol"
)

// ChannelSource provides the channels to resync. *channel.Registry
// satisfies it.
type ChannelSource interface {
	Names() []string
	Lookup(name string) (*channel.Channel, bool)
}

// SnapshotHandler receives fetched presence snapshots.
type SnapshotHandler interface {
	HandleSnapshot(channel string, members []protocol.Member) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(channel string, members []protocol.Member) error

func (f SnapshotHandlerFunc) HandleSnapshot(channel string, members []protocol.Member) error {
	return f(channel, members)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Resync interval (default: 1m)
	Concurrency int           // Max concurrent fetches (default: 4)
	Timeout     time.Duration // Per-fetch timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		Concurrency: 4,
		Timeout:     10 * time.Second,
	}
}

// Result summarizes one resync cycle.
type Result struct {
	Channels int
	Fetched  int64
	Errors   int64
	Skipped  int64 // Channels that were not attached
}

// Poller periodically reloads presence for registered channels.
type Poller struct {
	cfg      Config
	channels ChannelSource
	handler  SnapshotHandler
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, channels ChannelSource, handler SnapshotHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:      cfg,
		channels: channels,
		handler:  handler,
		logger:   logger.With("component", "poller"),
	}
}

// Start begins the resync loop.
func (p *Poller) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("presence poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("presence poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main loop. The first cycle waits one interval so channels have
// time to attach.
func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollAll(ctx)
		}
	}
}

// PollAll reloads presence for every attached channel concurrently.
func (p *Poller) PollAll(ctx context.Context) Result {
	start := time.Now()

	names := p.channels.Names()
	res := Result{Channels: len(names)}
	if len(names) == 0 {
		p.logger.Debug("no channels to resync")
		return res
	}

	sem := semaphore.NewWeighted(int64(p.cfg.Concurrency))
	var g errgroup.Group
	var fetched, errs, skipped atomic.Int64

	for _, name := range names {
		ch, ok := p.channels.Lookup(name)
		if !ok || ch.State() != channel.StateAttached {
			skipped.Add(1)
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)

			if err := p.pollChannel(ctx, ch); err != nil {
				p.logger.Warn("failed to resync presence",
					"channel", ch.Name(),
					"err", err,
				)
				errs.Add(1)
				return nil
			}
			fetched.Add(1)
			return nil
		})
	}
	g.Wait()

	res.Fetched = fetched.Load()
	res.Errors = errs.Load()
	res.Skipped = skipped.Load()

	p.logger.Info("resync cycle complete",
		"channels", res.Channels,
		"fetched", res.Fetched,
		"errors", res.Errors,
		"skipped", res.Skipped,
		"duration", time.Since(start),
	)
	return res
}

// pollChannel reloads one channel's presence and hands it to the handler.
func (p *Poller) pollChannel(ctx context.Context, ch *channel.Channel) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	members, err := ch.Presence().Get(ctx, presence.GetOptions{ForceReload: true})
	if err != nil {
		return err
	}

	if p.handler != nil {
		if err := p.handler.HandleSnapshot(ch.Name(), members); err != nil {
			return err
		}
	}
	return nil
}
