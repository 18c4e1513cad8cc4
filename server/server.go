// Package server implements the line-protocol front end: a TCP listener, the
// connection registry, and the per-connection dispatcher that routes tokenized
// requests through the command grammar into the authorization engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cyp0633/groupcal/engine"
	"github.com/cyp0633/groupcal/storage"
)

// Config carries the server settings.
type Config struct {
	// Addr is the listen address, e.g. ":8017".
	Addr string
	// IdleTimeout closes a connection that sends nothing for this long.
	IdleTimeout time.Duration
	// SessionTTL is the sliding session lifetime.
	SessionTTL time.Duration
}

// DefaultConfig returns the stock settings: 60 s idle timeout, engine default TTL.
func DefaultConfig() Config {
	return Config{
		Addr:        ":80",
		IdleTimeout: 60 * time.Second,
		SessionTTL:  engine.DefaultSessionTTL,
	}
}

// Server accepts client connections and serves the calendar protocol.
type Server struct {
	cfg      Config
	store    storage.Store
	engine   *engine.Engine
	registry *Registry
	logger   *slog.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// New creates a server over the given store.
func New(store storage.Store, cfg Config, opts ...Option) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	s := &Server{
		cfg:      cfg,
		store:    store,
		registry: NewRegistry(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.engine = engine.New(store,
		engine.WithLogger(s.logger),
		engine.WithSessionTTL(cfg.SessionTTL),
		engine.WithPresence(s.registry.IsLoggedIn),
	)

	return s
}

// Option represents a configuration option for the Server
type Option func(*Server)

// WithLogger sets the logger for the server
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Registry exposes the connection registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Engine exposes the authorization engine.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// ListenAndServe binds the configured address and serves until ctx is done.
// A bind failure is returned as-is; the caller treats it as fatal.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts clients on ln until ctx is done or the listener fails. On
// return every connection has been closed, then the listener, then the store.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("accepting clients", "addr", ln.Addr().String())

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
	}()

	var acceptErr error
	for {
		rwc, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				acceptErr = fmt.Errorf("accept: %w", err)
			}
			break
		}

		s.logger.Info("client connected, awaiting identification",
			"remote_addr", rwc.RemoteAddr().String())

		c := newConn(s, rwc)
		s.registry.Add(c)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.serve()
		}()
	}
	close(stop)

	// Shutdown order: connections, listener (already closed above), store.
	s.registry.CloseAll()
	s.wg.Wait()

	if err := s.store.Close(); err != nil {
		s.logger.Error("failed to close store", "error", err)
		if acceptErr == nil {
			acceptErr = fmt.Errorf("close store: %w", err)
		}
	}

	s.logger.Info("server down")
	return acceptErr
}
