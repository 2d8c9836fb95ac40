package grpcinterceptor

import (
	"context"
	"errors"

	"LegisGraph/backend/go/pkg/circuitbreaker"
	"LegisGraph/backend/go/pkg/ratelimiter"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RateLimitUnaryInterceptor 在限流时返回 ResourceExhausted。
func RateLimitUnaryInterceptor(limiter ratelimiter.RateLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !limiter.Allow() {
			return nil, status.Errorf(codes.ResourceExhausted, "request rejected due to rate limiting")
		}
		return handler(ctx, req)
	}
}

// CircuitBreakUnaryInterceptor 在熔断器打开时返回 Unavailable。
func CircuitBreakUnaryInterceptor(breaker circuitbreaker.CircuitBreaker) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		var resp interface{}
		err := breaker.Do(func() error {
			var err error
			resp, err = handler(ctx, req)
			return err
		})
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return nil, status.Errorf(codes.Unavailable, "service unavailable: circuit breaker is open")
		}
		return resp, err
	}
}
