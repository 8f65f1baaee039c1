package writer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/socket-client/internal/protocol"
)

const insertMessage = `
	INSERT INTO channel_messages (id, received_at, channel, event, msg_type, payload)
	VALUES ($1, $2, $3, $4, $5, $6)
`

const insertPresence = `
	INSERT INTO presence_events (id, received_at, channel, action, client_id, connection_id, data, source)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// Archiver writes channel messages and presence events to Postgres.
type Archiver struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	messages *tableWriter[messageRow]
	presence *tableWriter[presenceRow]

	// Lifecycle
	cancel      context.CancelFunc
	flushTicker *time.Ticker
	consumers   sync.WaitGroup
	flusher     sync.WaitGroup
	stopOnce    sync.Once
}

// NewArchiver creates an Archiver. A nil m disables metrics.
func NewArchiver(cfg Config, db DB, m Metrics, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = noopMetrics{}
	}
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	logger = logger.With("component", "archive")

	return &Archiver{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		messages: newTableWriter(TableMessages, insertMessage, messageArgs, cfg, db, m, logger),
		presence: newTableWriter(TablePresence, insertPresence, presenceArgs, cfg, db, m, logger),
	}
}

func messageArgs(r messageRow) []any {
	return []any{r.ID, r.ReceivedAt, r.Channel, r.Event, r.Type, nullJSON(r.Payload)}
}

func presenceArgs(r presenceRow) []any {
	return []any{r.ID, r.ReceivedAt, r.Channel, r.Action, r.ClientID, r.ConnectionID, nullJSON(r.Data), r.Source}
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// Start begins consuming rows and flushing batches.
func (a *Archiver) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.flushTicker = time.NewTicker(a.cfg.FlushInterval)

	a.consumers.Add(2)
	go func() {
		defer a.consumers.Done()
		a.messages.consumeLoop(ctx)
	}()
	go func() {
		defer a.consumers.Done()
		a.presence.consumeLoop(ctx)
	}()

	a.flusher.Add(1)
	go a.flushLoop(ctx)

	a.logger.Info("archive writer started",
		"batch_size", a.cfg.BatchSize,
		"flush_interval", a.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued rows, flushes them and shuts down.
func (a *Archiver) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.logger.Info("stopping archive writer")

		a.messages.input.Close()
		a.presence.input.Close()

		// Wait for consumers to drain
		done := make(chan struct{})
		go func() {
			a.consumers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.logger.Warn("archive writer drain timed out")
		}

		if a.cancel != nil {
			a.cancel()
		}
		if a.flushTicker != nil {
			a.flushTicker.Stop()
		}
		a.flusher.Wait()

		// Final flush
		a.messages.flush(ctx)
		a.presence.flush(ctx)
		a.logger.Info("archive writer stopped")
	})
	return nil
}

func (a *Archiver) flushLoop(ctx context.Context) {
	defer a.flusher.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.flushTicker.C:
			a.messages.flush(ctx)
			a.presence.flush(ctx)
		}
	}
}

// Tap archives MESSAGE and PRESENCE frames. Register it with
// router.AddTap.
func (a *Archiver) Tap(msg protocol.Message) {
	switch msg.Action {
	case protocol.ActionMessage:
		if msg.Message == nil {
			return
		}
		a.messages.push(messageRow{
			ID:         uuid.New(),
			ReceivedAt: a.now(),
			Channel:    msg.Channel,
			Event:      eventName(msg.Message.Name),
			Type:       msg.Message.Type,
			Payload:    msg.Message.Data,
		})
	case protocol.ActionPresence:
		if msg.Presence == nil {
			return
		}
		a.presence.push(presenceRow{
			ID:           uuid.New(),
			ReceivedAt:   a.now(),
			Channel:      msg.Channel,
			Action:       msg.Presence.Action.Event(),
			ClientID:     msg.Presence.ClientID,
			ConnectionID: msg.Presence.ConnectionID,
			Data:         msg.Presence.Data,
			Source:       SourceLive,
		})
	}
}

// RecordSnapshot archives a presence resync: one row per present member.
func (a *Archiver) RecordSnapshot(channel string, members []protocol.Member) {
	now := a.now()
	for _, m := range members {
		a.presence.push(presenceRow{
			ID:           uuid.New(),
			ReceivedAt:   now,
			Channel:      channel,
			Action:       protocol.EventEnter,
			ClientID:     m.ClientID,
			ConnectionID: m.ConnectionID,
			Data:         m.Data,
			Source:       SourceResync,
		})
	}
}

// Stats returns counters per table.
func (a *Archiver) Stats() map[string]Stats {
	return map[string]Stats{
		TableMessages: a.messages.snapshot(),
		TablePresence: a.presence.snapshot(),
	}
}

func eventName(name string) string {
	if name == "" {
		return protocol.Wildcard
	}
	return name
}
