// Package kgclient talks to the knowledge graph HTTP API.
package kgclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/kg/projector"
	"LegisGraph/backend/go/internal/kg/query"
	"LegisGraph/backend/go/internal/kg/resolver"
	"LegisGraph/backend/go/internal/kg/vectorsync"
	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
	kghttp "LegisGraph/backend/go/pkg/http"
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Kind    string `json:"kind"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// Client calls the /api/v1 endpoints of one service instance.
type Client struct {
	base string
	http *kghttp.Client
}

// New creates a client for baseURL, e.g. http://localhost:8080.
func New(baseURL string, breaker config.CircuitBreakerConfig, timeout time.Duration) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", baseURL, err)
	}
	hc, err := kghttp.NewClient(breaker, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}, nil
}

// Get decodes the JSON answer of GET path?params into out.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out interface{}) error {
	target := c.base + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// Post sends body as JSON and decodes the answer into out. A nil body sends
// no payload.
func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return kgerrors.Transient(err, "call "+req.URL.Path)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return kgerrors.Transient(err, "read response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if msg, ok := out.(*json.RawMessage); ok {
		*msg = append((*msg)[:0], raw...)
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", req.URL.Path, err)
	}
	return nil
}

func entityPath(id, suffix string) string {
	return "/api/v1/entities/" + url.PathEscape(id) + suffix
}

// GetCurrentEntity fetches the current view of an entity.
func (c *Client) GetCurrentEntity(ctx context.Context, id string) (query.Entity, error) {
	var e query.Entity
	err := c.Get(ctx, entityPath(id, ""), nil, &e)
	return e, err
}

// GetEntityAsOf fetches the entity as it was at validAt, optionally as known at knownAt.
func (c *Client) GetEntityAsOf(ctx context.Context, id string, validAt time.Time, knownAt *time.Time) (query.Entity, error) {
	params := url.Values{"t": {validAt.UTC().Format(time.RFC3339Nano)}}
	if knownAt != nil {
		params.Set("knownAt", knownAt.UTC().Format(time.RFC3339Nano))
	}
	var e query.Entity
	err := c.Get(ctx, entityPath(id, "/asof"), params, &e)
	return e, err
}

// History lists the facts of a slot, or of the entity when slot is empty.
func (c *Client) History(ctx context.Context, id, slot string) ([]models.Fact, error) {
	params := url.Values{}
	if slot != "" {
		params.Set("slot", slot)
	}
	var out struct {
		Facts []models.Fact `json:"facts"`
	}
	err := c.Get(ctx, entityPath(id, "/history"), params, &out)
	return out.Facts, err
}

// SearchEntities finds entities by name.
func (c *Client) SearchEntities(ctx context.Context, name string, t models.EntityType, limit int) ([]resolver.NameMatch, error) {
	params := url.Values{"q": {name}}
	if t != "" {
		params.Set("type", string(t))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Matches []resolver.NameMatch `json:"matches"`
	}
	err := c.Get(ctx, "/api/v1/entities/search", params, &out)
	return out.Matches, err
}

// EntityTypes counts canonical entities per type.
func (c *Client) EntityTypes(ctx context.Context) (map[models.EntityType]int64, error) {
	var out struct {
		Types map[models.EntityType]int64 `json:"types"`
	}
	err := c.Get(ctx, "/api/v1/entities/types", nil, &out)
	return out.Types, err
}

// SemanticSearch runs a similarity search.
func (c *Client) SemanticSearch(ctx context.Context, req vectorsync.SearchRequest) ([]models.SearchHit, error) {
	params := url.Values{"q": {req.Query}}
	if req.K > 0 {
		params.Set("k", strconv.Itoa(req.K))
	}
	for _, t := range req.EntityTypes {
		params.Add("type", string(t))
	}
	for _, a := range req.Attributes {
		params.Add("attribute", a)
	}
	if req.AsOf != nil {
		params.Set("asOf", req.AsOf.UTC().Format(time.RFC3339Nano))
	}
	var out struct {
		Hits []models.SearchHit `json:"hits"`
	}
	err := c.Get(ctx, "/api/v1/search", params, &out)
	return out.Hits, err
}

// Neighborhood fetches the projected neighbours of an entity.
func (c *Client) Neighborhood(ctx context.Context, id string, limit int) (projector.Neighborhood, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var nb projector.Neighborhood
	err := c.Get(ctx, entityPath(id, "/neighborhood"), params, &nb)
	return nb, err
}

// Stats fetches the service statistics.
func (c *Client) Stats(ctx context.Context) (query.Stats, error) {
	var st query.Stats
	err := c.Get(ctx, "/api/v1/stats", nil, &st)
	return st, err
}
