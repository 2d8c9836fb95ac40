package kgclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/kg/vectorsync"
	"LegisGraph/backend/go/internal/models"
)

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, config.CircuitBreakerConfig{}, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestGetEntityAsOfSendsTimes(t *testing.T) {
	var gotPath, gotT, gotKnown string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotT, gotKnown = r.URL.EscapedPath(), r.URL.Query().Get("t"), r.URL.Query().Get("knownAt")
		_, _ = w.Write([]byte(`{"requestedId":"a b","entity":{"id":"a b","type":"Legislator"},"view":{"entityId":"a b","facts":{"party":{"value":"Democrat"}}}}`))
	})

	at := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	known := at.AddDate(0, 1, 0)
	e, err := c.GetEntityAsOf(context.Background(), "a b", at, &known)
	if err != nil {
		t.Fatalf("GetEntityAsOf: %v", err)
	}
	if gotPath != "/api/v1/entities/a%20b/asof" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotT != "2023-06-01T00:00:00Z" || gotKnown != "2023-07-01T00:00:00Z" {
		t.Errorf("unexpected times t=%s knownAt=%s", gotT, gotKnown)
	}
	if e.Entity.Type != models.Legislator || e.View.Facts["party"].Value != "Democrat" {
		t.Errorf("unexpected entity %+v", e)
	}
}

func TestSearchEncodesFilters(t *testing.T) {
	var types, attrs []string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		types, attrs = r.URL.Query()["type"], r.URL.Query()["attribute"]
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"query": r.URL.Query().Get("q"),
			"hits":  []models.SearchHit{{EntityID: "bill-1", Score: 0.9}},
		})
	})
	hits, err := c.SemanticSearch(context.Background(), vectorsync.SearchRequest{
		Query: "health care", K: 3, EntityTypes: []models.EntityType{models.Bill}, Attributes: []string{"summary", "title"},
	})
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(hits) != 1 || hits[0].EntityID != "bill-1" {
		t.Errorf("unexpected hits %+v", hits)
	}
	if len(types) != 1 || types[0] != "Bill" || len(attrs) != 2 {
		t.Errorf("filters not sent: types=%v attributes=%v", types, attrs)
	}
}

func TestErrorsCarryKind(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"entity missing not found","kind":"not_found"}`))
	})
	_, err := c.GetCurrentEntity(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Kind != "not_found" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestPostRawResponse(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"projections": []string{body["projection"].(string)}})
	})
	var raw json.RawMessage
	if err := c.Post(context.Background(), "/api/v1/admin/rebuild", map[string]interface{}{"projection": "graph"}, &raw); err != nil {
		t.Fatalf("Post: %v", err)
	}
	var out struct {
		Projections []string `json:"projections"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || len(out.Projections) != 1 || out.Projections[0] != "graph" {
		t.Errorf("unexpected raw response %s (%v)", raw, err)
	}
}

func TestNewRejectsBadAddress(t *testing.T) {
	if _, err := New("not a url", config.CircuitBreakerConfig{}, 0); err == nil {
		t.Errorf("expected an error for a relative address")
	}
}

func TestSearchEntitiesEncodesQuery(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.Query()
		_, _ = w.Write([]byte(`{"query":"sanders","matches":[{"entityId":"leg-1","type":"Legislator","name":"bernard sanders","score":0.9}]}`))
	})

	matches, err := c.SearchEntities(context.Background(), "sanders", models.Legislator, 3)
	if err != nil {
		t.Fatalf("SearchEntities: %v", err)
	}
	if gotPath != "/api/v1/entities/search" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotQuery["q"][0] != "sanders" || gotQuery["type"][0] != "Legislator" || gotQuery["limit"][0] != "3" {
		t.Errorf("unexpected query %v", gotQuery)
	}
	if len(matches) != 1 || matches[0].EntityID != "leg-1" || matches[0].Type != models.Legislator {
		t.Errorf("unexpected matches %+v", matches)
	}
}
