package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/oddslab/bookmon/internal/aggregate"
	"github.com/oddslab/bookmon/internal/archive"
	"github.com/oddslab/bookmon/internal/catalog"
	"github.com/oddslab/bookmon/internal/config"
	"github.com/oddslab/bookmon/internal/engine"
	"github.com/oddslab/bookmon/internal/feed"
	"github.com/oddslab/bookmon/internal/ledger"
	"github.com/oddslab/bookmon/internal/metrics"
	"github.com/oddslab/bookmon/internal/subs"
	"github.com/oddslab/bookmon/internal/version"
)

// managerSource lets the transport and subscription manager reference each
// other: the transport is built against this indirection, the manager is
// bound before the transport starts.
type managerSource struct {
	m *subs.Manager
}

func (s *managerSource) DesiredAssets() []string {
	if s.m == nil {
		return nil
	}
	return s.m.DesiredAssets()
}

func main() {
	configPath := flag.String("config", "configs/bookmon.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting bookmon",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"ws_url", cfg.Feed.WSURL,
		"catalog_url", cfg.Catalog.BaseURL,
		"events", len(cfg.Events),
	)

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

	metrics.Register()

	// Catalog client
	catalogClient := catalog.NewClient(
		cfg.Catalog.BaseURL,
		catalog.WithLogger(logger),
		catalog.WithTimeout(cfg.Catalog.Timeout),
		catalog.WithRetries(cfg.Catalog.MaxRetries, time.Second),
	)

	// Core components
	led := ledger.New(ledger.Config{HistoryDepth: cfg.Ledger.HistoryDepth}, logger)
	agg := aggregate.New(led, logger)

	src := &managerSource{}
	transport := feed.NewTransport(feed.Config{
		URL:                cfg.Feed.WSURL,
		PingInterval:       cfg.Feed.PingInterval,
		PingTimeout:        cfg.Feed.PingTimeout,
		WriteTimeout:       cfg.Feed.WriteTimeout,
		ReconnectBaseDelay: cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Feed.ReconnectMaxDelay,
		BufferSize:         cfg.Feed.BufferSize,
	}, src, logger)

	manager := subs.NewManager(catalogClient, transport, agg, led, logger)
	src.m = manager

	eng := engine.New(transport, led, agg, manager, logger)

	// Optional record archive
	var archiveWriter *archive.Writer
	if cfg.Archive.Enabled {
		logger.Info("connecting to archive database",
			"host", cfg.Archive.Database.Host,
			"database", cfg.Archive.Database.Name,
		)

		pool, err := archive.Connect(ctx, cfg.Archive.Database)
		if err != nil {
			logger.Error("failed to connect to archive database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		archiveWriter = archive.NewWriter(cfg.Archive, pool, logger)
		if err := archiveWriter.Start(ctx); err != nil {
			logger.Error("failed to start archive writer", "error", err)
			os.Exit(1)
		}
		eng.AddRecordListener(archiveWriter.Add)
	}

	// Start the engine (transport + processing)
	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	// Initial subscriptions. Failures are non-fatal: the operator can retry
	// once the catalog is reachable again.
	for _, ref := range cfg.Events {
		if err := eng.Subscribe(ctx, ref); err != nil {
			logger.Warn("initial subscribe failed", "event", ref, "error", err)
		}
	}

	// Health and metrics server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createHealthHandler(cfg.Metrics.Path, eng, logger),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	logger.Info("bookmon running",
		"health_url", fmt.Sprintf("http://localhost:%d/healthz", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Warn("engine stop", "error", err)
	}
	if archiveWriter != nil {
		if err := archiveWriter.Stop(shutdownCtx); err != nil {
			logger.Warn("archive writer stop", "error", err)
		}
	}

	if err := g.Wait(); err != nil {
		logger.Warn("health server", "error", err)
	}

	logger.Info("bookmon stopped")
}

// createHealthHandler creates the HTTP handler for health checks and metrics.
func createHealthHandler(metricsPath string, eng *engine.Engine, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(metricsPath, promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		stats := eng.Stats()

		status := "healthy"
		if stats.TransportState != feed.StateConnected {
			status = "degraded"
		}

		health := struct {
			Status       string `json:"status"`
			Transport    string `json:"transport"`
			Reconnects   int64  `json:"reconnects"`
			Processed    int64  `json:"processed"`
			DecodeErrors int64  `json:"decode_errors"`
			StalenessMS  int64  `json:"staleness_ms"`
			AvgLatencyUS int64  `json:"avg_latency_us"`
		}{
			Status:       status,
			Transport:    string(stats.TransportState),
			Reconnects:   stats.Reconnects,
			Processed:    stats.Processed,
			DecodeErrors: stats.DecodeErrors,
			StalenessMS:  stats.Staleness.Milliseconds(),
			AvgLatencyUS: stats.AvgLatency.Microseconds(),
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Warn("health response", "error", err)
		}
	})

	return mux
}
