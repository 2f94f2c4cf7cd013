package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mini-profiler/internal/api"
	"mini-profiler/internal/config"
	"mini-profiler/internal/metrics"
	"mini-profiler/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.LogLevel)

	logConfig(logger, cfg)

	m := metrics.New()

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "err", err)
		os.Exit(2)
	}
	defer store.Close()

	if cfg.SeedFile != "" {
		if err := seed(store, cfg); err != nil {
			logger.Error("failed to load seed file", "file", cfg.SeedFile, "err", err)
			os.Exit(2)
		}
	}
	if n, err := store.Len(); err == nil {
		m.UpdateRelayStored(n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go storage.RunJanitor(ctx, store, janitorInterval(cfg.DataExpiry), logger, m.UpdateRelayStored)

	hub := api.NewHub(cfg.StreamBuffer, m)
	relay := api.NewServer(store, cfg, hub, logger, m)

	mux := http.NewServeMux()
	mux.Handle(cfg.BasePath, relay)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting mini-profiler relay", "listen", cfg.ListenAddr, "base_path", cfg.BasePath)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	// Stream handlers exit once their subscription closes.
	hub.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func openStore(cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage {
	case config.StorageSQLite:
		s, err := storage.NewSQLiteStore(cfg.StoragePath, cfg.StorageMaxRows, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return storage.NewMemoryStore(cfg.StorageMaxRows), nil
	}
}

func seed(store storage.Store, cfg config.Config) error {
	entries, err := storage.LoadSeed(cfg.SeedFile, cfg.DataExpiry, time.Now())
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := store.Put(e); err != nil {
			return fmt.Errorf("store %s: %w", e.ID, err)
		}
	}
	return nil
}

// janitorInterval sweeps a few times per expiry window, at most once a second.
func janitorInterval(expiry time.Duration) time.Duration {
	d := expiry / 3
	if d < time.Second {
		d = time.Second
	}
	return d
}

func newLogger(level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	switch level {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "info":
		lvl.Set(slog.LevelInfo)
	case "warn", "warning":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	default:
		lvl.Set(slog.LevelInfo)
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

func logConfig(logger *slog.Logger, cfg config.Config) {
	logger.Info("configuration",
		"listen_addr", cfg.ListenAddr,
		"base_path", cfg.BasePath,
		"storage", string(cfg.Storage),
		"storage_path", cfg.StoragePath,
		"storage_max_rows", cfg.StorageMaxRows,
		"data_expiry", cfg.DataExpiry,
		"seed_file", cfg.SeedFile,
		"rate_limit_rps", cfg.RateLimitRPS,
		"rate_limit_burst", cfg.RateLimitBurst,
		"trust_proxy_headers", cfg.TrustProxyHeaders,
		"cors_allow_origin", cfg.CORSAllowOrigin,
		"request_body_max_bytes", cfg.RequestBodyMaxBytes,
		"stream_buffer", cfg.StreamBuffer,
		"max_stack_frames", cfg.MaxStackFrames,
		"log_level", cfg.LogLevel,
	)
}
