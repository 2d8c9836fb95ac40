package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/kg/coordinator"
	"LegisGraph/backend/go/internal/kg/ledger"
	"LegisGraph/backend/go/internal/kg/query"
	"LegisGraph/backend/go/internal/kg/resolver"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/internal/testutil"

	"github.com/mark3labs/mcp-go/mcp"
)

var (
	t1 = time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
)

// newTools seeds a legislator who switched from Democrat to Independent at t2.
func newTools(t *testing.T) (*Tools, string) {
	t.Helper()
	ctx := context.Background()
	db := testutil.DB(t)
	store := ledger.NewGormStore(db)
	coord := coordinator.New(store, coordinator.NewLocalLocker(), nil, testutil.Logger(t))
	r := resolver.New(resolver.NewGormStore(db), nil, config.ResolverConfig{MaxCandidates: 50}, testutil.Logger(t))

	res, err := r.Resolve(ctx, resolver.Request{
		Type: models.Legislator, NaturalKey: "bioguideId:S000033", SourceID: "test",
		Hints: &models.ResolutionHints{Name: "Bernard Sanders"},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for _, p := range []struct {
		value string
		at    time.Time
	}{{"Democrat", t1}, {"Independent", t2}} {
		_, err := coord.Apply(ctx, res.EntityID, []coordinator.Proposal{{
			Kind: models.AttributeFact, Attribute: "party", Slot: "party", Value: p.value,
			SourceID: "govinfo", ValidFrom: p.at, ContentHash: p.value,
		}})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}
	return NewTools(query.New(store, r, testutil.Logger(t)), testutil.Logger(t)), res.EntityID
}

func call(name string, args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) != 1 {
		t.Fatalf("expected one content item, got %+v", res)
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return tc.Text
}

func TestGetEntityAsOfTool(t *testing.T) {
	tools, id := newTools(t)
	res, err := tools.HandleGetEntityAsOf(context.Background(), call("get_entity_as_of", map[string]interface{}{
		"id": id, "valid_at": "2023-06-01",
	}))
	if err != nil {
		t.Fatalf("HandleGetEntityAsOf: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", text(t, res))
	}
	var e query.Entity
	if err := json.Unmarshal([]byte(text(t, res)), &e); err != nil {
		t.Fatalf("result is not an entity: %v", err)
	}
	if e.View.Facts["party"].Value != "Democrat" {
		t.Errorf("expected Democrat in mid 2023, got %q", e.View.Facts["party"].Value)
	}

	res, _ = tools.HandleGetEntity(context.Background(), call("get_entity", map[string]interface{}{"id": id}))
	if !strings.Contains(text(t, res), "Independent") {
		t.Errorf("current view should be Independent: %s", text(t, res))
	}
}

func TestHistoryTool(t *testing.T) {
	tools, id := newTools(t)
	res, err := tools.HandleHistory(context.Background(), call("entity_history", map[string]interface{}{"id": id, "slot": "party"}))
	if err != nil || res.IsError {
		t.Fatalf("HandleHistory: %v %+v", err, res)
	}
	var out struct {
		Facts []models.Fact `json:"facts"`
	}
	if err := json.Unmarshal([]byte(text(t, res)), &out); err != nil || len(out.Facts) != 2 {
		t.Fatalf("expected two party facts, got %d (%v)", len(out.Facts), err)
	}
}

func TestToolErrorsAreReported(t *testing.T) {
	tools, id := newTools(t)
	ctx := context.Background()

	if _, err := tools.HandleGetEntity(ctx, call("get_entity", map[string]interface{}{})); err == nil {
		t.Errorf("missing id should fail the call")
	}

	res, err := tools.HandleGetEntity(ctx, call("get_entity", map[string]interface{}{"id": "missing"}))
	if err != nil || !res.IsError {
		t.Errorf("unknown entity should be a tool error, got %v %+v", err, res)
	}

	res, _ = tools.HandleGetEntityAsOf(ctx, call("get_entity_as_of", map[string]interface{}{"id": id, "valid_at": "yesterday"}))
	if !res.IsError {
		t.Errorf("unparseable time should be a tool error")
	}

	res, _ = tools.HandleSearch(ctx, call("semantic_search", map[string]interface{}{"query": "health care", "k": float64(3)}))
	if !res.IsError || !strings.Contains(text(t, res), "not configured") {
		t.Errorf("search without an index should report unavailability, got %s", text(t, res))
	}

	res, _ = tools.HandleSearch(ctx, call("semantic_search", map[string]interface{}{"query": "x", "types": "Bill,Senator"}))
	if !res.IsError {
		t.Errorf("unknown entity type should be a tool error")
	}
}

func TestStatsTool(t *testing.T) {
	tools, _ := newTools(t)
	res, err := tools.HandleStats(context.Background(), call("graph_stats", nil))
	if err != nil || res.IsError {
		t.Fatalf("HandleStats: %v %+v", err, res)
	}
	var st query.Stats
	if err := json.Unmarshal([]byte(text(t, res)), &st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.Entities[models.Legislator] != 1 || st.Ledger.TotalFacts != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" Bill, ,SocialPost,")
	if len(got) != 2 || got[0] != "Bill" || got[1] != "SocialPost" {
		t.Errorf("unexpected split %v", got)
	}
	if splitList("") != nil {
		t.Errorf("empty input should give nil")
	}
}

func TestNewServerRegistersTools(t *testing.T) {
	tools, _ := newTools(t)
	if s := NewServer("kg", "test", tools); s == nil {
		t.Fatalf("NewServer returned nil")
	}
}

func TestSearchEntitiesTool(t *testing.T) {
	tools, id := newTools(t)
	ctx := context.Background()
	res, err := tools.HandleSearchEntities(ctx, call("search_entities", map[string]interface{}{"name": "sanders", "type": "legislator"}))
	if err != nil || res.IsError {
		t.Fatalf("HandleSearchEntities: %v %+v", err, res)
	}
	var out struct {
		Matches []resolver.NameMatch `json:"matches"`
	}
	if err := json.Unmarshal([]byte(text(t, res)), &out); err != nil {
		t.Fatalf("decode matches: %v", err)
	}
	if len(out.Matches) != 1 || out.Matches[0].EntityID != id {
		t.Errorf("expected %s, got %+v", id, out.Matches)
	}

	res, _ = tools.HandleSearchEntities(ctx, call("search_entities", map[string]interface{}{"name": "sanders", "type": "Senator"}))
	if !res.IsError {
		t.Errorf("unknown entity type should be a tool error")
	}
	res, _ = tools.HandleSearchEntities(ctx, call("search_entities", map[string]interface{}{"name": "  "}))
	if !res.IsError {
		t.Errorf("blank name should be a tool error")
	}
}
