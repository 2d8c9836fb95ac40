package redis

import (
	"context"
	"testing"
	"time"

	"LegisGraph/backend/go/internal/config"
)

func TestOptionsSplitsAddresses(t *testing.T) {
	opts := Options(&config.RedisConfig{Address: "a:6379, b:6379,,", PoolSize: 8})
	if len(opts.Addrs) != 2 || opts.Addrs[0] != "a:6379" || opts.Addrs[1] != "b:6379" {
		t.Errorf("unexpected addrs %v", opts.Addrs)
	}
	if opts.PoolSize != 8 || opts.DialTimeout != 5*time.Second {
		t.Errorf("unexpected options %+v", opts)
	}
}

func TestHealthCheckWithoutClient(t *testing.T) {
	if client != nil {
		t.Skip("client already initialised")
	}
	if err := HealthCheck(context.Background()); err == nil {
		t.Errorf("expected an error before GetClient")
	}
}
