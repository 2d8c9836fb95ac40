package http

import (
	"fmt"
	"net/http"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/pkg/circuitbreaker"
)

// Client is an http.Client guarded by an optional circuit breaker.
type Client struct {
	httpClient *http.Client
	breaker    circuitbreaker.CircuitBreaker
}

// NewClient creates a client. The breaker is only installed when enabled.
func NewClient(cfg config.CircuitBreakerConfig, timeout time.Duration) (*Client, error) {
	breaker, err := circuitbreaker.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}, breaker: breaker}, nil
}

// Do sends req. Transport errors and responses with status >= 500 count as
// breaker failures; the response is still returned in the latter case.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.httpClient.Do(req)
	}
	var resp *http.Response
	err := c.breaker.Do(func() error {
		var err error
		resp, err = c.httpClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("server error: received status code %d", resp.StatusCode)
		}
		return nil
	})
	if resp != nil && err != nil && resp.StatusCode >= http.StatusInternalServerError {
		return resp, nil
	}
	return resp, err
}
