package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/pkg/circuitbreaker"
	"LegisGraph/backend/go/pkg/grpcinterceptor"
	"LegisGraph/backend/go/pkg/logger"
	"LegisGraph/backend/go/pkg/ratelimiter"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check 是一个后端健康检查函数。
type Check func(ctx context.Context) error

// Server 封装了 grpc.Server，内置限流、熔断拦截器和标准健康检查服务。
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	address    string
	log        *logger.Logger
}

// ServerOption 定义了用于配置 Server 的函数。
type ServerOption func(*Server)

// WithAddress 设置服务器监听的地址。
func WithAddress(addr string) ServerOption {
	return func(s *Server) {
		s.address = addr
	}
}

// NewServer 根据配置创建服务器，并注册 grpc.health.v1 服务。
func NewServer(cfg *config.AppConfig, log *logger.Logger, opts ...ServerOption) (*Server, error) {
	var interceptors []grpc.UnaryServerInterceptor

	limiter, err := ratelimiter.FromConfig(cfg.Middleware.RateLimiter)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}
	if limiter != nil {
		interceptors = append(interceptors, grpcinterceptor.RateLimitUnaryInterceptor(limiter))
	}
	breaker, err := circuitbreaker.FromConfig(cfg.Middleware.CircuitBreaker)
	if err != nil {
		return nil, fmt.Errorf("failed to create circuit breaker: %w", err)
	}
	if breaker != nil {
		interceptors = append(interceptors, grpcinterceptor.CircuitBreakUnaryInterceptor(breaker))
	}

	srv := &Server{
		grpcServer: grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...)),
		health:     health.NewServer(),
		log:        log.Component("grpc"),
	}
	healthpb.RegisterHealthServer(srv.grpcServer, srv.health)
	for _, opt := range opts {
		opt(srv)
	}
	if srv.address == "" {
		srv.address = ":9090"
	}
	return srv, nil
}

// RegisterService 注册服务实现。
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	s.grpcServer.RegisterService(desc, impl)
}

// SetServing 设置某个服务（空字符串表示整体）的健康状态。
func (s *Server) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, st)
}

// WatchHealth 周期性执行检查，任何一个失败时整体状态为 NOT_SERVING。
func (s *Server) WatchHealth(ctx context.Context, interval time.Duration, checks map[string]Check) {
	refresh := func() {
		all := true
		for name, check := range checks {
			cctx, cancel := context.WithTimeout(ctx, interval)
			err := check(cctx)
			cancel()
			s.SetServing(name, err == nil)
			if err != nil {
				all = false
				s.log.WithField("backend", name).WithField("error", err.Error()).Warn("health check failed")
			}
		}
		s.SetServing("", all)
	}
	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// ListenAndServe 开始监听并提供 gRPC 服务。
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	s.log.WithField("address", s.address).Info("grpc server listening")
	return s.grpcServer.Serve(lis)
}

// GracefulStop 将健康状态置为 NOT_SERVING 后优雅地停止服务器。
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
