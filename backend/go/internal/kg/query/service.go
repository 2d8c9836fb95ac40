// Package query answers read requests against the ledger and the derived
// stores. Reads never take the per-entity write token.
package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"LegisGraph/backend/go/internal/kg/follower"
	"LegisGraph/backend/go/internal/kg/ledger"
	"LegisGraph/backend/go/internal/kg/projector"
	"LegisGraph/backend/go/internal/kg/resolver"
	"LegisGraph/backend/go/internal/kg/vectorsync"
	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/pkg/logger"
)

// VectorSearcher is the semantic side of the query service.
type VectorSearcher interface {
	Search(ctx context.Context, req vectorsync.SearchRequest) ([]models.SearchHit, error)
	Stats(ctx context.Context) (vectorsync.Stats, error)
}

// GraphReader reads the projected graph.
type GraphReader interface {
	Neighborhood(ctx context.Context, entityID string, limit int) (projector.Neighborhood, error)
}

// ReceiptCounter reports ingest receipts by status.
type ReceiptCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// Entity is an entity together with one resolved view of its facts.
// RequestedID differs from Entity.ID when the requested entity was merged.
// Absorbed lists the merged entities whose history an as-of view includes.
type Entity struct {
	RequestedID string                 `json:"requestedId"`
	Entity      models.CanonicalEntity `json:"entity"`
	ValidAt     *time.Time             `json:"validAt,omitempty"`
	KnownAt     *time.Time             `json:"knownAt,omitempty"`
	Absorbed    []string               `json:"absorbed,omitempty"`
	View        models.EntityView      `json:"view"`
}

// Stats is the service-wide summary.
type Stats struct {
	Entities  map[models.EntityType]int64 `json:"entities"`
	Ledger    ledger.Stats                `json:"ledger"`
	Vectors   *vectorsync.Stats           `json:"vectors,omitempty"`
	Receipts  map[string]int64            `json:"receipts,omitempty"`
	Followers []follower.Status           `json:"followers"`
}

// Service implements the read operations. Vectors, graph and receipts may be
// nil when the corresponding backend is disabled.
type Service struct {
	ledger    ledger.Store
	resolver  *resolver.Resolver
	vectors   VectorSearcher
	graph     GraphReader
	receipts  ReceiptCounter
	followers []*follower.Follower
	log       *logger.Logger
}

// Option configures optional backends.
type Option func(*Service)

func WithVectors(v VectorSearcher) Option { return func(s *Service) { s.vectors = v } }
func WithGraph(g GraphReader) Option { return func(s *Service) { s.graph = g } }
func WithReceipts(r ReceiptCounter) Option { return func(s *Service) { s.receipts = r } }
func WithFollowers(fs ...*follower.Follower) Option {
	return func(s *Service) { s.followers = append(s.followers, fs...) }
}

func New(store ledger.Store, r *resolver.Resolver, log *logger.Logger, opts ...Option) *Service {
	s := &Service{ledger: store, resolver: r, log: log.Component("query")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetCurrentEntity returns the open facts of the entity. A merged id resolves
// to the surviving entity.
func (s *Service) GetCurrentEntity(ctx context.Context, id string) (Entity, error) {
	e, err := s.canonical(ctx, id)
	if err != nil {
		return Entity{}, err
	}
	e.View, err = s.ledger.CurrentView(ctx, e.Entity.ID)
	return e, err
}

// GetEntityAsOf returns what was true at validAt. With knownAt set, facts
// recorded after knownAt are ignored.
func (s *Service) GetEntityAsOf(ctx context.Context, id string, validAt time.Time, knownAt *time.Time) (Entity, error) {
	if validAt.IsZero() {
		return Entity{}, kgerrors.InvalidArgument("a point in time is required")
	}
	if knownAt != nil && knownAt.IsZero() {
		knownAt = nil
	}
	e, err := s.canonical(ctx, id)
	if err != nil {
		return Entity{}, err
	}
	at := models.UTC(validAt)
	e.ValidAt = &at
	if knownAt != nil {
		k := models.UTC(*knownAt)
		knownAt, e.KnownAt = &k, &k
	}
	if e.Absorbed, err = s.absorbed(ctx, e.Entity.ID, knownAt); err != nil {
		return Entity{}, err
	}
	e.View, err = s.ledger.AsOf(ctx, e.Entity.ID, at, knownAt, e.Absorbed...)
	return e, err
}

// History lists every fact of a slot, or of the whole entity when slot is
// empty. Facts of entities merged into it are included.
func (s *Service) History(ctx context.Context, id, slot string) ([]models.Fact, error) {
	e, err := s.canonical(ctx, id)
	if err != nil {
		return nil, err
	}
	absorbed, err := s.absorbed(ctx, e.Entity.ID, nil)
	if err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, e.Entity.ID, slot, absorbed...)
}

// SearchEntities finds unmerged entities by name.
func (s *Service) SearchEntities(ctx context.Context, name string, t models.EntityType, limit int) ([]resolver.NameMatch, error) {
	return s.resolver.SearchByName(ctx, name, t, limit)
}

// EntityTypes counts canonical entities per type.
func (s *Service) EntityTypes(ctx context.Context) (map[models.EntityType]int64, error) {
	return s.resolver.Store().CountByType(ctx)
}

// absorbed walks the merge markers of id and returns every entity folded into
// it, directly or through earlier merges. With knownAt set, merges recorded
// later are left out.
func (s *Service) absorbed(ctx context.Context, id string, knownAt *time.Time) ([]string, error) {
	var out []string
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		view, err := s.ledger.CurrentView(ctx, cur)
		if err != nil {
			return nil, err
		}
		for slot, f := range view.Facts {
			if f.Kind != models.SystemFact || !strings.HasPrefix(slot, models.AttrMergedFromPrefix) {
				continue
			}
			if knownAt != nil && f.RecordedAt.After(*knownAt) {
				continue
			}
			if seen[f.Value] {
				continue
			}
			seen[f.Value] = true
			out = append(out, f.Value)
			queue = append(queue, f.Value)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SemanticSearch ranks text chunks by similarity to the query.
func (s *Service) SemanticSearch(ctx context.Context, req vectorsync.SearchRequest) ([]models.SearchHit, error) {
	if s.vectors == nil {
		return nil, kgerrors.Unavailable("semantic search")
	}
	return s.vectors.Search(ctx, req)
}

// Neighborhood returns the entity and its adjacent entities from the graph.
func (s *Service) Neighborhood(ctx context.Context, id string, limit int) (projector.Neighborhood, error) {
	if s.graph == nil {
		return projector.Neighborhood{}, kgerrors.Unavailable("graph projection")
	}
	e, err := s.canonical(ctx, id)
	if err != nil {
		return projector.Neighborhood{}, err
	}
	return s.graph.Neighborhood(ctx, e.Entity.ID, limit)
}

// Followers returns the registered projection followers.
func (s *Service) Followers() []*follower.Follower { return s.followers }

// Follower looks a follower up by name.
func (s *Service) Follower(name string) (*follower.Follower, error) {
	for _, f := range s.followers {
		if f.Name() == name {
			return f, nil
		}
	}
	return nil, kgerrors.NotFound("projection", name)
}

// RebuildProjection rewinds the named projection, or every projection when
// name is empty, to the given ledger offset. It returns the rewound names.
func (s *Service) RebuildProjection(ctx context.Context, name string, from int64) ([]string, error) {
	if from < 0 {
		return nil, kgerrors.InvalidArgument("fromCursor must not be negative")
	}
	targets := s.followers
	if name != "" {
		f, err := s.Follower(name)
		if err != nil {
			return nil, err
		}
		targets = []*follower.Follower{f}
	}
	names := make([]string, 0, len(targets))
	for _, f := range targets {
		if err := f.Rebuild(ctx, from); err != nil {
			return names, err
		}
		names = append(names, f.Name())
	}
	s.log.WithField("projections", names).WithField("from", from).Info("projection rebuild requested")
	return names, nil
}

// Stats summarises entities, facts, vectors, receipts and projection lag.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	var err error
	if out.Entities, err = s.resolver.Store().CountByType(ctx); err != nil {
		return out, err
	}
	if out.Ledger, err = s.ledger.Stats(ctx); err != nil {
		return out, err
	}
	if s.vectors != nil {
		vs, err := s.vectors.Stats(ctx)
		if err != nil {
			return out, err
		}
		out.Vectors = &vs
	}
	if s.receipts != nil {
		if out.Receipts, err = s.receipts.CountByStatus(ctx); err != nil {
			return out, err
		}
	}
	out.Followers = make([]follower.Status, 0, len(s.followers))
	for _, f := range s.followers {
		st, err := f.Status(ctx)
		if err != nil {
			return out, err
		}
		out.Followers = append(out.Followers, st)
	}
	return out, nil
}

func (s *Service) canonical(ctx context.Context, id string) (Entity, error) {
	if id == "" {
		return Entity{}, kgerrors.InvalidArgument("entity id is required")
	}
	cid, err := s.resolver.Canonical(ctx, id)
	if err != nil {
		return Entity{}, err
	}
	e, err := s.resolver.Store().GetEntity(ctx, cid)
	if err != nil {
		return Entity{}, err
	}
	if cid != id {
		s.log.WithField("requested", id).WithField("canonical", cid).Debug("followed merge")
	}
	return Entity{RequestedID: id, Entity: e}, nil
}
