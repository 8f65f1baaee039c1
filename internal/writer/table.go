package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/socket-client/internal/queue"
)

// tableWriter batches rows of one table and inserts them with pgx.Batch.
type tableWriter[R any] struct {
	table   string
	insert  string
	args    func(R) []any
	cfg     Config
	db      DB
	metrics Metrics
	logger  *slog.Logger

	input *queue.Queue[R]

	batchMu sync.Mutex
	batch   []R
	stats   Stats
}

func newTableWriter[R any](table, insert string, args func(R) []any, cfg Config, db DB, m Metrics, logger *slog.Logger) *tableWriter[R] {
	return &tableWriter[R]{
		table:   table,
		insert:  insert,
		args:    args,
		cfg:     cfg,
		db:      db,
		metrics: m,
		logger:  logger.With("table", table),
		input:   queue.New[R](min(cfg.BufferSize, 1024)),
		batch:   make([]R, 0, cfg.BatchSize),
	}
}

// push queues a row. It reports false when the row was dropped.
func (w *tableWriter[R]) push(r R) bool {
	if w.input.Len() >= w.cfg.BufferSize || !w.input.Push(r) {
		w.batchMu.Lock()
		w.stats.Dropped++
		dropped := w.stats.Dropped
		w.batchMu.Unlock()
		if dropped == 1 || dropped%1000 == 0 {
			w.logger.Warn("archive buffer full, dropping rows", "dropped", dropped)
		}
		return false
	}
	return true
}

// consumeLoop moves queued rows into the batch until the queue is closed
// and drained.
func (w *tableWriter[R]) consumeLoop(ctx context.Context) {
	for {
		r, ok := w.input.Pop()
		if !ok {
			return
		}
		w.batchMu.Lock()
		w.batch = append(w.batch, r)
		shouldFlush := len(w.batch) >= w.cfg.BatchSize
		w.batchMu.Unlock()

		if shouldFlush {
			w.flush(ctx)
		}
	}
}

// flush writes the current batch to the database.
func (w *tableWriter[R]) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]R, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		w.metrics.Failed(w.table)
		return
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch))
	w.stats.Flushes++
	w.batchMu.Unlock()
	w.metrics.Inserted(w.table, len(batch))

	w.logger.Debug("flushed rows",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

func (w *tableWriter[R]) batchInsert(ctx context.Context, rows []R) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(w.insert, w.args(r)...)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (w *tableWriter[R]) snapshot() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}
