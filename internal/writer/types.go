package writer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Table names.
const (
	TableMessages = "channel_messages"
	TablePresence = "presence_events"
)

// Presence row sources.
const (
	SourceLive   = "live"
	SourceResync = "resync"
)

// Config contains configuration for batch writers.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize caps rows waiting to be batched. Rows beyond it are dropped.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// DB is the subset of *pgxpool.Pool the writers use.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Metrics receives archive outcomes. *metrics.Metrics satisfies it.
type Metrics interface {
	Inserted(table string, rows int)
	Failed(table string)
}

type noopMetrics struct{}

func (noopMetrics) Inserted(string, int) {}
func (noopMetrics) Failed(string)        {}

// Stats holds counters for one table writer.
type Stats struct {
	Inserts int64
	Errors  int64
	Flushes int64
	Dropped int64
}

// messageRow is a row of channel_messages.
type messageRow struct {
	ID         uuid.UUID
	ReceivedAt time.Time
	Channel    string
	Event      string
	Type       string
	Payload    json.RawMessage
}

// presenceRow is a row of presence_events.
type presenceRow struct {
	ID           uuid.UUID
	ReceivedAt   time.Time
	Channel      string
	Action       string
	ClientID     string
	ConnectionID string
	Data         json.RawMessage
	Source       string
}
