package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/socket-client/internal/config"
)

// Schema creates the archive tables when they do not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS channel_messages (
    id          UUID PRIMARY KEY,
    received_at TIMESTAMPTZ NOT NULL,
    channel     TEXT NOT NULL,
    event       TEXT NOT NULL,
    msg_type    TEXT NOT NULL DEFAULT '',
    payload     JSONB
);
CREATE INDEX IF NOT EXISTS channel_messages_channel_time
    ON channel_messages (channel, received_at);

CREATE TABLE IF NOT EXISTS presence_events (
    id            UUID PRIMARY KEY,
    received_at   TIMESTAMPTZ NOT NULL,
    channel       TEXT NOT NULL,
    action        TEXT NOT NULL,
    client_id     TEXT NOT NULL,
    connection_id TEXT NOT NULL DEFAULT '',
    data          JSONB,
    source        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS presence_events_channel_time
    ON presence_events (channel, received_at);
`

// Archive holds the archive connection pool.
type Archive struct {
	Pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to the archive database.
func Open(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect archive: %w", err)
	}
	logger.Info("archive database connected", "host", cfg.Host, "name", cfg.Name)
	return &Archive{Pool: pool, logger: logger.With("component", "database")}, nil
}

// Connect creates a single connection pool.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the archive tables.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if _, err := a.Pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create archive schema: %w", err)
	}
	a.logger.Debug("archive schema ready")
	return nil
}

// Ping verifies the connection is healthy.
func (a *Archive) Ping(ctx context.Context) error {
	if err := a.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping archive: %w", err)
	}
	return nil
}

// Close closes the pool.
func (a *Archive) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
