// Package mcp exposes the read side of the knowledge graph as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"LegisGraph/backend/go/internal/kg/projector"
	"LegisGraph/backend/go/internal/kg/query"
	"LegisGraph/backend/go/internal/kg/resolver"
	"LegisGraph/backend/go/internal/kg/vectorsync"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/pkg/logger"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Querier is satisfied by query.Service and by the HTTP client in kgclient.
type Querier interface {
	GetCurrentEntity(ctx context.Context, id string) (query.Entity, error)
	GetEntityAsOf(ctx context.Context, id string, validAt time.Time, knownAt *time.Time) (query.Entity, error)
	History(ctx context.Context, id, slot string) ([]models.Fact, error)
	SearchEntities(ctx context.Context, name string, t models.EntityType, limit int) ([]resolver.NameMatch, error)
	SemanticSearch(ctx context.Context, req vectorsync.SearchRequest) ([]models.SearchHit, error)
	Neighborhood(ctx context.Context, id string, limit int) (projector.Neighborhood, error)
	Stats(ctx context.Context) (query.Stats, error)
}

// Tools handles MCP tool calls. Every tool is read-only.
type Tools struct {
	q   Querier
	log *logger.Logger
}

func NewTools(q Querier, log *logger.Logger) *Tools {
	return &Tools{q: q, log: log.Component("mcp")}
}

// NewServer registers every tool on a fresh MCP server.
func NewServer(name, version string, t *Tools) *server.MCPServer {
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("get_entity",
		mcp.WithDescription("Returns the current facts of a knowledge graph entity. Merged ids resolve to the surviving entity."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Canonical entity id.")),
	), t.HandleGetEntity)

	s.AddTool(mcp.NewTool("get_entity_as_of",
		mcp.WithDescription("Returns what was true about an entity at a point in time."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Canonical entity id.")),
		mcp.WithString("valid_at", mcp.Required(), mcp.Description("RFC 3339 time or YYYY-MM-DD.")),
		mcp.WithString("known_at", mcp.Description("Optional. Ignore facts recorded after this time.")),
	), t.HandleGetEntityAsOf)

	s.AddTool(mcp.NewTool("entity_history",
		mcp.WithDescription("Lists every recorded fact of an entity, optionally for one slot such as 'party'."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Canonical entity id.")),
		mcp.WithString("slot", mcp.Description("Optional attribute name or LABEL->targetId edge slot.")),
	), t.HandleHistory)

	s.AddTool(mcp.NewTool("search_entities",
		mcp.WithDescription("Finds entities by name and returns their canonical ids, best match first."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Full or partial name, e.g. 'Sanders'.")),
		mcp.WithString("type", mcp.Description("Optional entity type, e.g. 'Legislator'.")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of matches. Defaults to 10.")),
	), t.HandleSearchEntities)

	s.AddTool(mcp.NewTool("semantic_search",
		mcp.WithDescription("Finds bill summaries, posts and other text passages similar to a query."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural language query.")),
		mcp.WithNumber("k", mcp.Description("Maximum number of hits. Defaults to 10.")),
		mcp.WithString("types", mcp.Description("Optional comma separated entity types, e.g. 'Bill,SocialPost'.")),
		mcp.WithString("attributes", mcp.Description("Optional comma separated attribute names, e.g. 'summary'.")),
		mcp.WithString("as_of", mcp.Description("Optional. Search the text as it was at this time.")),
	), t.HandleSearch)

	s.AddTool(mcp.NewTool("neighborhood",
		mcp.WithDescription("Returns an entity and its adjacent entities in the graph."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Canonical entity id.")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of neighbours. Defaults to 25.")),
	), t.HandleNeighborhood)

	s.AddTool(mcp.NewTool("graph_stats",
		mcp.WithDescription("Summarises entity counts, ledger size, vector counts and projection lag."),
	), t.HandleStats)

	return s
}

func (t *Tools) HandleGetEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return nil, err
	}
	e, err := t.q.GetCurrentEntity(ctx, id)
	return t.result("get_entity", e, err)
}

func (t *Tools) HandleGetEntityAsOf(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return nil, err
	}
	raw, err := req.RequireString("valid_at")
	if err != nil {
		return nil, err
	}
	validAt, err := models.ParseTime(raw)
	if err != nil || validAt == nil {
		return mcp.NewToolResultError(fmt.Sprintf("valid_at must be an RFC 3339 time, got %q", raw)), nil
	}
	knownAt, err := models.ParseTime(req.GetString("known_at", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := t.q.GetEntityAsOf(ctx, id, *validAt, knownAt)
	return t.result("get_entity_as_of", e, err)
}

func (t *Tools) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return nil, err
	}
	facts, err := t.q.History(ctx, id, req.GetString("slot", ""))
	return t.result("entity_history", map[string]interface{}{"entityId": id, "facts": facts}, err)
}

func (t *Tools) HandleSearchEntities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return nil, err
	}
	var et models.EntityType
	if raw := req.GetString("type", ""); raw != "" {
		if et, err = models.ParseEntityType(raw); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	matches, err := t.q.SearchEntities(ctx, name, et, req.GetInt("limit", 0))
	return t.result("search_entities", map[string]interface{}{"name": name, "matches": matches}, err)
}

func (t *Tools) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return nil, err
	}
	sr := vectorsync.SearchRequest{Query: q, K: req.GetInt("k", 0), Attributes: splitList(req.GetString("attributes", ""))}
	for _, raw := range splitList(req.GetString("types", "")) {
		et, err := models.ParseEntityType(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sr.EntityTypes = append(sr.EntityTypes, et)
	}
	if sr.AsOf, err = models.ParseTime(req.GetString("as_of", "")); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := t.q.SemanticSearch(ctx, sr)
	return t.result("semantic_search", map[string]interface{}{"query": q, "hits": hits}, err)
}

func (t *Tools) HandleNeighborhood(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return nil, err
	}
	nb, err := t.q.Neighborhood(ctx, id, req.GetInt("limit", 0))
	return t.result("neighborhood", nb, err)
}

func (t *Tools) HandleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := t.q.Stats(ctx)
	return t.result("graph_stats", st, err)
}

// result reports query errors inside the tool result so the model can react.
func (t *Tools) result(tool string, v interface{}, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		t.log.WithField("tool", tool).WithField("error", err.Error()).Warn("tool call failed")
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", tool, err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
