// groupcald runs the shared-calendar server over the in-memory store.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyp0633/groupcal/server"
	"github.com/cyp0633/groupcal/storage/memory"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))

	cfg := server.DefaultConfig()
	if addr := os.Getenv("GROUPCAL_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if timeout := os.Getenv("GROUPCAL_IDLE_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			logger.Error("invalid GROUPCAL_IDLE_TIMEOUT", "value", timeout, "error", err)
			os.Exit(1)
		}
		cfg.IdleTimeout = d
	}

	store := memory.New(memory.WithLogger(logger))
	srv := server.New(store, cfg, server.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting server", "addr", cfg.Addr)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	switch os.Getenv("GROUPCAL_LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
