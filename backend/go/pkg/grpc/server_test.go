package grpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/testutil"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestWatchHealthReportsFailingBackend(t *testing.T) {
	srv, err := NewServer(&config.AppConfig{}, testutil.Logger(t))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	srv.WatchHealth(ctx, time.Second, map[string]Check{
		"ledger": func(context.Context) error { return nil },
		"graph":  func(context.Context) error { return errors.New("neo4j down") },
	})

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := srv.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q): %v", service, err)
		}
		return resp.Status
	}
	if check("ledger") != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("ledger should be serving")
	}
	if check("graph") != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("graph should not be serving")
	}
	if check("") != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("overall status should reflect the failing backend")
	}
}
