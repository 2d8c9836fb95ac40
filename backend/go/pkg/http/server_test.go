package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/testutil"
	"LegisGraph/backend/go/pkg/circuitbreaker"

	"github.com/gin-gonic/gin"
)

func newTestConfig() *config.AppConfig {
	return &config.AppConfig{
		Middleware: config.MiddlewareConfig{
			RateLimiter: config.RateLimiterConfig{
				Enabled:     true,
				Algorithm:   "tokenBucket",
				TokenBucket: config.TokenBucketConfig{Rate: 10, Capacity: 5},
			},
			CircuitBreaker: config.CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 2,
				SuccessThreshold: 2,
				Timeout:          "10s",
			},
		},
	}
}

func init() { gin.SetMode(gin.TestMode) }

func TestNewServer_WithAddress(t *testing.T) {
	srv, err := NewServer(newTestConfig(), testutil.Logger(t), WithAddress(":9999"))
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if srv.httpServer.Addr != ":9999" {
		t.Errorf("Expected server address to be :9999, but got %s", srv.httpServer.Addr)
	}
}

func TestNewServer_InvalidBreakerTimeout(t *testing.T) {
	cfg := newTestConfig()
	cfg.Middleware.CircuitBreaker.Timeout = "later"
	if _, err := NewServer(cfg, testutil.Logger(t)); err == nil {
		t.Errorf("expected an error for an invalid timeout")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	cfg := newTestConfig()
	cfg.Middleware.RateLimiter.TokenBucket.Capacity = 2
	cfg.Middleware.RateLimiter.TokenBucket.Rate = 0.01

	srv, err := NewServer(cfg, testutil.Logger(t))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	srv.Engine().GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	for i := 0; i < 2; i++ {
		resp, err := http.Get(ts.URL)
		if err != nil {
			t.Fatalf("Request %d failed: %v", i+1, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected status OK on request %d, got %d", i+1, resp.StatusCode)
		}
	}
	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("Request 3 failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected status TooManyRequests on request 3, got %d", resp.StatusCode)
	}
}

func TestCircuitBreakerMiddleware(t *testing.T) {
	cfg := newTestConfig()
	cfg.Middleware.RateLimiter.Enabled = false

	srv, err := NewServer(cfg, testutil.Logger(t))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	srv.Engine().GET("/fail", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
	})

	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	for i := 0; i < 2; i++ {
		resp, err := http.Get(ts.URL + "/fail")
		if err != nil {
			t.Fatalf("Request %d failed: %v", i+1, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("Expected status InternalServerError on request %d, got %d", i+1, resp.StatusCode)
		}
	}

	resp, err := http.Get(ts.URL + "/fail")
	if err != nil {
		t.Fatalf("Request 3 failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status ServiceUnavailable on request 3, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "circuit breaker is open") {
		t.Errorf("Expected body to mention the open circuit, got '%s'", string(body))
	}
}

func TestClientOpensCircuit(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c, err := NewClient(config.CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, SuccessThreshold: 1, Timeout: "1h"}, time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	resp, err := c.Do(req)
	if err != nil || resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("first call should return the server response, got %v %v", resp, err)
	}
	resp.Body.Close()
	if _, err := c.Do(req); err != circuitbreaker.ErrCircuitOpen {
		t.Errorf("expected open circuit, got %v", err)
	}
	if calls != 1 {
		t.Errorf("open circuit must not reach the server, got %d calls", calls)
	}
}
