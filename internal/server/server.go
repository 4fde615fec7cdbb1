package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"llmgate/internal/config"
	"llmgate/internal/handlers"
	"llmgate/internal/middleware"
	"llmgate/internal/registry"
	"llmgate/internal/stream"
)

type Server struct {
	config   *config.Manager
	registry *registry.Registry
	sessions *stream.Store
	logger   *slog.Logger
	server   *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger) (*Server, error) {
	cfg, err := configManager.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	reg, err := config.BuildRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("build model registry: %w", err)
	}

	return &Server{
		config:   configManager,
		registry: reg,
		sessions: stream.NewStore(cfg.SessionTTL()),
		logger:   logger,
	}, nil
}

// Start serves until SIGINT or SIGTERM, reloading the model registry on
// config file changes.
func (s *Server) Start() error {
	cfg := s.config.Get()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()

	go func() {
		err := s.config.Watch(watchCtx, s.applyConfig)
		if err != nil && watchCtx.Err() == nil {
			s.logger.Warn("config watcher stopped", "error", err)
		}
	}()

	s.logger.Info("starting server", "address", addr, "models", s.registry.Models())

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("server is shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.sessions.Close()
	s.logger.Info("server exited")

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.sessions.Close()

	return s.server.Shutdown(ctx)
}

// applyConfig swaps in the bindings from a freshly validated config
// without dropping in-flight requests.
func (s *Server) applyConfig(cfg *config.Config) {
	bindings, err := config.BuildBindings(cfg)
	if err != nil {
		s.logger.Warn("config reload rejected", "error", err)
		return
	}

	s.registry.Replace(bindings)
	s.logger.Info("model registry reloaded", "models", s.registry.Models())
}

// Handler builds the full route tree with middleware applied. Start uses
// it for the listener; embedders can mount it on their own server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	proxyHandler := handlers.NewProxyHandler(s.config, s.registry, s.sessions, s.logger)
	healthHandler := handlers.NewHealthHandler(s.registry, s.sessions, s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)

	mux.Handle("/health", middlewareSet.HealthChain().Handler(healthHandler))
	mux.Handle("/v1/messages", middlewareSet.DefaultChain().Handler(proxyHandler))
	mux.Handle("/v1/chat/completions", middlewareSet.DefaultChain().Handler(proxyHandler))

	return mux
}
