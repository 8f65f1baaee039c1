// listen connects to a realtime server and prints channel messages and
// presence events to the console.
// Usage: go run ./cmd/listen --config configs/listen.example.yaml
//
// Credentials come from the config file, typically through ${VAR}
// references such as ${RT_SECRET}.
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

	"github.com/rickgao/socket-client/internal/auth"
	"github.com/rickgao/socket-client/internal/channel"
	"github.com/rickgao/socket-client/internal/client"
	"github.com/rickgao/socket-client/internal/config"
	"github.com/rickgao/socket-client/internal/connection"
	"github.com/rickgao/socket-client/internal/metrics"
	"github.com/rickgao/socket-client/internal/presence"
	"github.com/rickgao/socket-client/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/listen.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	tokenFor := flag.String("token-for", "", "request a token for this client id after connecting")
	flag.Parse()

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	logger.Info("starting listener", version.Fields()...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	reg := prometheus.NewRegistry()
	c := client.New(cfg.ClientConfig(),
		client.WithLogger(logger),
		client.WithMetrics(metrics.New(reg)),
	)
	c.OnStateChange(func(change connection.StateChange) {
		fmt.Printf("[CONNECTION] %s -> %s\n", change.From, change.To)
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

	for _, chCfg := range cfg.Channels {
		ch, err := c.Subscribe(chCfg.Name, chCfg.Events, printMessage(*verbose))
		if err != nil {
			logger.Error("failed to subscribe", "channel", chCfg.Name, "error", err)
			continue
		}
		ch.Presence().Subscribe(printPresence)
		ch.OnStateChange(func(change channel.StateChange) {
			logger.Info("channel state", "channel", change.Channel, "from", change.From, "to", change.To)
		})
	}

	if *tokenFor != "" {
		resp, err := c.CreateTokenRequest(ctx, auth.TokenRequestOptions{ClientID: *tokenFor})
		if err != nil {
			logger.Error("token request failed", "client_id", *tokenFor, "error", err)
		} else {
			fmt.Printf("[TOKEN] client=%s token=%s\n", resp.ClientID, resp.Token)
		}
	}

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: metricsMux(cfg.Metrics.Path, reg),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving metrics", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Stats printer
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				connStats := c.Connection().Stats()
				routerStats := c.Router().Stats()
				logger.Info("stats",
					"state", connStats.State,
					"reconnects", connStats.ReconnectAttempts,
					"frames_received", connStats.FramesReceived,
					"frames_dropped", connStats.FramesDropped,
					"router_routed", routerStats.MessagesRouted,
					"router_ignored", routerStats.MessagesIgnored,
					"channels", c.Channels().Len(),
				)
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()

		// Graceful shutdown
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		logger.Info("shutting down...")
		c.Close()
		if err := c.Wait(shutdownCtx); err != nil {
			logger.Warn("client shutdown incomplete", "error", err)
		}
		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info("listening - press Ctrl+C to stop")
	if err := g.Wait(); err != nil {
		logger.Error("listener stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func metricsMux(path string, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler(reg))
	return mux
}

func printMessage(verbose bool) channel.Listener {
	return func(m channel.Message) {
		if verbose {
			data, _ := json.MarshalIndent(m, "", "  ")
			fmt.Printf("[MESSAGE] %s\n", data)
			return
		}
		fmt.Printf("[MESSAGE] channel=%s event=%s type=%s data=%v\n", m.Channel, m.Name, m.Type, m.Data)
	}
}

func printPresence(e presence.Event) {
	fmt.Printf("[PRESENCE] channel=%s action=%s client=%s connection=%s\n",
		e.Channel, e.Kind.Event(), e.Member.ClientID, e.Member.ConnectionID)
}
