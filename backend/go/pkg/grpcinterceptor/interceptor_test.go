package grpcinterceptor

import (
	"context"
	"errors"
	"testing"
	"time"

	"LegisGraph/backend/go/pkg/circuitbreaker"
	"LegisGraph/backend/go/pkg/ratelimiter"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var info = &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

func TestRateLimitUnaryInterceptor(t *testing.T) {
	ic := RateLimitUnaryInterceptor(ratelimiter.NewTokenBucket(0.001, 1))
	ok := func(ctx context.Context, req interface{}) (interface{}, error) { return "pong", nil }

	if resp, err := ic(context.Background(), nil, info, ok); err != nil || resp != "pong" {
		t.Fatalf("first call should pass, got %v %v", resp, err)
	}
	if _, err := ic(context.Background(), nil, info, ok); status.Code(err) != codes.ResourceExhausted {
		t.Errorf("expected ResourceExhausted, got %v", err)
	}
}

func TestCircuitBreakUnaryInterceptor(t *testing.T) {
	ic := CircuitBreakUnaryInterceptor(circuitbreaker.New(1, 1, time.Hour))
	failing := func(ctx context.Context, req interface{}) (interface{}, error) { return nil, errors.New("down") }

	if _, err := ic(context.Background(), nil, info, failing); err == nil || status.Code(err) == codes.Unavailable {
		t.Fatalf("handler error should pass through, got %v", err)
	}
	if _, err := ic(context.Background(), nil, info, failing); status.Code(err) != codes.Unavailable {
		t.Errorf("expected Unavailable once open, got %v", err)
	}
}
