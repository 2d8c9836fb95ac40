// Package projector keeps the graph store in step with entities' current views.
package projector

import (
	"context"
	"strings"

	"LegisGraph/backend/go/internal/kg/ledger"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/pkg/logger"
)

// DefaultNeighborhoodLimit caps Neighborhood when no limit is given.
const DefaultNeighborhoodLimit = 25

// EntityLookup resolves an entity's type.
type EntityLookup interface {
	GetEntity(ctx context.Context, id string) (models.CanonicalEntity, error)
}

// Projector is the follower handler that writes current views to the graph.
type Projector struct {
	ledger   ledger.Store
	entities EntityLookup
	graph    GraphStore
	log      *logger.Logger
}

func New(store ledger.Store, entities EntityLookup, graph GraphStore, log *logger.Logger) *Projector {
	return &Projector{ledger: store, entities: entities, graph: graph, log: log.Component("projector")}
}

// Name implements follower.Handler.
func (p *Projector) Name() string { return "graph" }

// Handle implements follower.Handler. Each touched entity is projected once
// per batch from its current view, so replays converge on the same graph.
func (p *Projector) Handle(ctx context.Context, facts []models.Fact) error {
	seen := make(map[string]bool)
	applied := 0
	for _, f := range facts {
		if seen[f.EntityID] {
			continue
		}
		seen[f.EntityID] = true
		ok, err := p.Project(ctx, f.EntityID)
		if err != nil {
			return err
		}
		if ok {
			applied++
		}
	}
	p.log.WithPayload(map[string]interface{}{
		"facts":    len(facts),
		"entities": len(seen),
		"applied":  applied,
		"to":       facts[len(facts)-1].Offset,
	}).Debug("graph batch projected")
	return nil
}

// Project writes the entity's current view. It reports false when the graph
// already holds this or a newer version.
func (p *Projector) Project(ctx context.Context, entityID string) (bool, error) {
	e, err := p.entities.GetEntity(ctx, entityID)
	if err != nil {
		return false, err
	}
	view, err := p.ledger.CurrentView(ctx, entityID)
	if err != nil {
		return false, err
	}
	return p.graph.UpsertNode(ctx, NodeFromView(e.Type, view))
}

// Reset implements follower.Handler.
func (p *Projector) Reset(ctx context.Context) error {
	p.log.Warn("resetting graph projection")
	return p.graph.Reset(ctx)
}

// Neighborhood returns the entity and its neighbours as projected.
func (p *Projector) Neighborhood(ctx context.Context, entityID string, limit int) (Neighborhood, error) {
	if limit <= 0 {
		limit = DefaultNeighborhoodLimit
	}
	return p.graph.Neighborhood(ctx, entityID, limit)
}

// NodeFromView maps a view onto a graph node. Free-text attributes stay in the
// vector index; a merged entity gets a MERGED_INTO edge to its winner.
func NodeFromView(t models.EntityType, view models.EntityView) Node {
	n := Node{ID: view.EntityID, Type: string(t), Seq: view.Seq, Props: make(map[string]string)}
	for name, f := range view.Attributes() {
		if models.IsSystemAttribute(name) || models.IsTextAttribute(t, name) {
			continue
		}
		n.Props[name] = f.Value
	}
	for _, f := range view.Edges() {
		if f.TargetEntityID == nil {
			continue
		}
		n.Edges = append(n.Edges, Edge{Label: strings.ToUpper(f.Attribute), Target: *f.TargetEntityID, Slot: f.Slot})
	}
	if winner, ok := view.MergedInto(); ok {
		n.Edges = append(n.Edges, Edge{Label: "MERGED_INTO", Target: winner, Slot: models.AttrMergedInto})
	}
	return n
}
