package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/socket-client/internal/channel"
	"github.com/rickgao/socket-client/internal/client"
	"github.com/rickgao/socket-client/internal/config"
	"github.com/rickgao/socket-client/internal/database"
	"github.com/rickgao/socket-client/internal/metrics"
	"github.com/rickgao/socket-client/internal/poller"
	"github.com/rickgao/socket-client/internal/protocol"
	"github.com/rickgao/socket-client/internal/version"
	"github.com/rickgao/socket-client/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/archiver.local.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if !cfg.Archive.Enabled {
		slog.Error("archive.enabled must be true for the archiver")
		os.Exit(1)
	}

	// Set up structured logging
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting archiver", append(version.Fields(), "config", *configPath)...)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Archive.Database.Host,
		"port", cfg.Archive.Database.Port,
		"database", cfg.Archive.Database.Name,
	)
	db, err := database.Open(ctx, cfg.Archive.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		logger.Error("failed to prepare schema", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// Start archive writer before any frame can arrive
	archive := writer.NewArchiver(writer.Config{
		BatchSize:     cfg.Archive.BatchSize,
		FlushInterval: cfg.Archive.FlushInterval,
		BufferSize:    cfg.Archive.BufferSize,
	}, db.Pool, m, logger)
	if err := archive.Start(ctx); err != nil {
		logger.Error("failed to start archive writer", "error", err)
		os.Exit(1)
	}

	c := client.New(cfg.ClientConfig(), client.WithLogger(logger), client.WithMetrics(m))
	c.Router().AddTap(archive.Tap)

	resync := poller.New(poller.Config{
		Interval:    cfg.Presence.ResyncInterval,
		Concurrency: cfg.Presence.Concurrency,
		Timeout:     cfg.API.Timeout,
	}, c.Channels(), poller.SnapshotHandlerFunc(func(ch string, members []protocol.Member) error {
		archive.RecordSnapshot(ch, members)
		return nil
	}), logger)

	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createHandler(cfg.Metrics.Path, reg, db, c, archive),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	logger.Info("connecting", "url", c.Connection().URL())
	if err := c.Connect(); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 30*time.Second)
	err = c.WaitConnected(waitCtx)
	waitCancel()
	if err != nil {
		logger.Error("connection not established", "error", err, "state", c.Connection().State())
		c.Close()
		os.Exit(1)
	}

	// Channels attach on subscription and again after every reconnect. The
	// archive sees every frame through the router tap, so listeners only log.
	for _, chCfg := range cfg.Channels {
		if _, err := c.Subscribe(chCfg.Name, chCfg.Events, func(msg channel.Message) {
			logger.Debug("message", "channel", msg.Channel, "event", msg.Name)
		}); err != nil {
			logger.Error("failed to subscribe", "channel", chCfg.Name, "error", err)
		}
	}

	if err := resync.Start(gctx); err != nil {
		logger.Error("failed to start presence poller", "error", err)
		os.Exit(1)
	}

	logger.Info("archiver running",
		"channels", len(cfg.Channels),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		resync.Stop(shutdownCtx)
		c.Close()
		if err := c.Wait(shutdownCtx); err != nil {
			logger.Warn("client shutdown incomplete", "error", err)
		}
		archive.Stop(shutdownCtx)
		return healthServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("archiver stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("archiver stopped")
}

// createHandler serves /health and the metrics endpoint.
func createHandler(metricsPath string, reg *prometheus.Registry, db *database.Archive, c *client.Client, archive *writer.Archiver) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, metrics.Handler(reg))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Check database
		if err := db.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["database"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["database"] = "connected"
		}

		// Check realtime connection
		state := c.Connection().State()
		health.Components["connection"] = state.String()
		if !c.Connection().IsConnected() && health.Status == "healthy" {
			health.Status = "degraded"
		}

		channels := make(map[string]string)
		for _, name := range c.Channels().Names() {
			if ch, ok := c.Channels().Lookup(name); ok {
				channels[name] = ch.State().String()
			}
		}
		health.Components["channels"] = channels
		health.Components["archive"] = archive.Stats()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
