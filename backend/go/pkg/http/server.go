package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/pkg/circuitbreaker"
	"LegisGraph/backend/go/pkg/httpmiddleware"
	"LegisGraph/backend/go/pkg/logger"
	"LegisGraph/backend/go/pkg/ratelimiter"

	"github.com/gin-gonic/gin"
)

// Server wraps http.Server around a gin engine that already carries the
// middleware enabled in the configuration.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	log        *logger.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddress sets the listen address.
func WithAddress(addr string) ServerOption {
	return func(s *Server) {
		s.httpServer.Addr = addr
	}
}

// WithTimeouts sets the read and write timeouts.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(s *Server) {
		s.httpServer.ReadTimeout = read
		s.httpServer.WriteTimeout = write
	}
}

// NewServer builds the engine with recovery, request logging, rate limiting
// and circuit breaking as configured.
func NewServer(cfg *config.AppConfig, log *logger.Logger, opts ...ServerOption) (*Server, error) {
	engine := gin.New()
	engine.Use(gin.Recovery(), httpmiddleware.RequestLogger(log))

	limiter, err := ratelimiter.FromConfig(cfg.Middleware.RateLimiter)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}
	if limiter != nil {
		log.WithField("algorithm", cfg.Middleware.RateLimiter.Algorithm).Info("rate limiter enabled")
		engine.Use(httpmiddleware.RateLimit(limiter))
	}

	breaker, err := circuitbreaker.FromConfig(cfg.Middleware.CircuitBreaker)
	if err != nil {
		return nil, fmt.Errorf("failed to create circuit breaker: %w", err)
	}
	if breaker != nil {
		log.Info("circuit breaker enabled")
		engine.Use(httpmiddleware.CircuitBreak(breaker))
	}

	srv := &Server{
		httpServer: &http.Server{Handler: engine},
		engine:     engine,
		log:        log,
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.httpServer.Addr == "" {
		srv.httpServer.Addr = ":8080"
	}
	return srv, nil
}

// Engine returns the gin engine for route registration.
func (s *Server) Engine() *gin.Engine { return s.engine }

// ListenAndServe serves until Shutdown. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.log.WithField("address", s.httpServer.Addr).Info("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
