package query

import (
	"context"
	"testing"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/kg/coordinator"
	"LegisGraph/backend/go/internal/kg/follower"
	"LegisGraph/backend/go/internal/kg/ledger"
	"LegisGraph/backend/go/internal/kg/projector"
	"LegisGraph/backend/go/internal/kg/resolver"
	"LegisGraph/backend/go/internal/kg/vectorsync"
	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/internal/testutil"
)

type fixture struct {
	svc      *Service
	coord    *coordinator.Coordinator
	resolver *resolver.Resolver
}

type stubGraph struct{ asked string }

func (g *stubGraph) Neighborhood(_ context.Context, id string, limit int) (projector.Neighborhood, error) {
	g.asked = id
	return projector.Neighborhood{Node: &projector.Node{ID: id}}, nil
}

type countingHandler struct{}

func (countingHandler) Name() string { return "graph" }
func (countingHandler) Handle(context.Context, []models.Fact) error { return nil }
func (countingHandler) Reset(context.Context) error { return nil }

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	db := testutil.DB(t)
	store := ledger.NewGormStore(db)
	coord := coordinator.New(store, coordinator.NewLocalLocker(), nil, testutil.Logger(t))
	r := resolver.New(resolver.NewGormStore(db), nil, config.ResolverConfig{MaxCandidates: 50}, testutil.Logger(t))
	return fixture{svc: New(store, r, testutil.Logger(t), opts...), coord: coord, resolver: r}
}

func (fx fixture) legislator(t *testing.T, key string) string {
	t.Helper()
	res, err := fx.resolver.Resolve(context.Background(), resolver.Request{Type: models.Legislator, NaturalKey: key, SourceID: "test"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return res.EntityID
}

func (fx fixture) set(t *testing.T, entity, attr, value string, at time.Time) {
	t.Helper()
	_, err := fx.coord.Apply(context.Background(), entity, []coordinator.Proposal{{
		Kind: models.AttributeFact, Attribute: attr, Slot: attr, Value: value,
		SourceID: "govinfo", ValidFrom: at, ContentHash: attr + value + at.String(),
	}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

func TestCurrentAndAsOf(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	id := fx.legislator(t, "bioguideId:S000033")
	t1 := time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)
	fx.set(t, id, "party", "Democrat", t1)
	fx.set(t, id, "party", "Independent", t1.AddDate(1, 0, 0))

	cur, err := fx.svc.GetCurrentEntity(ctx, id)
	if err != nil {
		t.Fatalf("GetCurrentEntity: %v", err)
	}
	if cur.View.Facts["party"].Value != "Independent" || cur.Entity.Type != models.Legislator {
		t.Errorf("unexpected current entity %+v", cur)
	}

	past, err := fx.svc.GetEntityAsOf(ctx, id, t1.AddDate(0, 6, 0), nil)
	if err != nil {
		t.Fatalf("GetEntityAsOf: %v", err)
	}
	if past.View.Facts["party"].Value != "Democrat" {
		t.Errorf("expected Democrat in mid-term, got %q", past.View.Facts["party"].Value)
	}

	history, err := fx.svc.History(ctx, id, "party")
	if err != nil || len(history) != 2 {
		t.Fatalf("expected two party facts, got %d (%v)", len(history), err)
	}

	if _, err := fx.svc.GetEntityAsOf(ctx, id, time.Time{}, nil); !kgerrors.IsInvalidArgument(err) {
		t.Errorf("zero time should be rejected, got %v", err)
	}
	if _, err := fx.svc.GetCurrentEntity(ctx, "missing"); !kgerrors.IsNotFound(err) {
		t.Errorf("unknown id should be not found, got %v", err)
	}
}

func TestMergedEntityRedirects(t *testing.T) {
	ctx := context.Background()
	graph := &stubGraph{}
	fx := newFixture(t, WithGraph(graph))
	winner := fx.legislator(t, "bioguideId:S000033")
	loser := fx.legislator(t, "fecId:S4VT00033")
	fx.set(t, loser, "state", "VT", time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC))

	if _, err := resolver.NewMerger(fx.resolver, fx.coord).Merge(ctx, winner, loser, "analyst"); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	got, err := fx.svc.GetCurrentEntity(ctx, loser)
	if err != nil {
		t.Fatalf("GetCurrentEntity: %v", err)
	}
	if got.Entity.ID != winner || got.RequestedID != loser {
		t.Errorf("expected redirect to %s, got %+v", winner, got.Entity)
	}
	if got.View.Facts["state"].Value != "VT" {
		t.Errorf("merged facts should be visible on the winner, got %+v", got.View.Facts)
	}

	if _, err := fx.svc.Neighborhood(ctx, loser, 0); err != nil || graph.asked != winner {
		t.Errorf("neighbourhood should be read for the winner, asked %q err %v", graph.asked, err)
	}
}

func TestDisabledBackends(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	if _, err := fx.svc.SemanticSearch(ctx, vectorsync.SearchRequest{Query: "health care"}); !kgerrors.IsUnavailable(err) {
		t.Errorf("search without an index should be unavailable, got %v", err)
	}
	if _, err := fx.svc.Neighborhood(ctx, "x", 5); !kgerrors.IsUnavailable(err) {
		t.Errorf("neighbourhood without a graph should be unavailable, got %v", err)
	}
	if _, err := fx.svc.Follower("graph"); !kgerrors.IsNotFound(err) {
		t.Errorf("unknown follower should be not found, got %v", err)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	store := ledger.NewGormStore(db)
	coord := coordinator.New(store, coordinator.NewLocalLocker(), nil, testutil.Logger(t))
	r := resolver.New(resolver.NewGormStore(db), nil, config.ResolverConfig{MaxCandidates: 50}, testutil.Logger(t))
	f := follower.New(store, follower.NewGormCursorStore(db), countingHandler{}, config.FollowerConfig{BatchSize: 10}, nil, testutil.Logger(t))
	fx := fixture{svc: New(store, r, testutil.Logger(t), WithFollowers(f)), coord: coord, resolver: r}

	id := fx.legislator(t, "bioguideId:S000033")
	fx.set(t, id, "name", "Bernard Sanders", time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC))
	fx.set(t, id, "party", "Independent", time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC))

	st, err := fx.svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Entities[models.Legislator] != 1 || st.Ledger.TotalFacts != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
	if len(st.Followers) != 1 || st.Followers[0].Lag != st.Ledger.MaxOffset {
		t.Errorf("follower should lag by the whole ledger, got %+v", st.Followers)
	}
	if err := f.CatchUp(ctx); err != nil {
		t.Fatalf("CatchUp: %v", err)
	}
	st, _ = fx.svc.Stats(ctx)
	if st.Followers[0].Lag != 0 {
		t.Errorf("expected no lag after catch-up, got %d", st.Followers[0].Lag)
	}
}

func TestAsOfIncludesMergedHistory(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	winner := fx.legislator(t, "bioguideId:S000033")
	loser := fx.legislator(t, "fecId:S4VT00033")
	fx.set(t, loser, "party", "Democrat", time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC))
	fx.set(t, loser, "party", "Independent", time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC))

	if _, err := resolver.NewMerger(fx.resolver, fx.coord).Merge(ctx, winner, loser, "analyst"); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	y2012 := time.Date(2012, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{winner, loser} {
		got, err := fx.svc.GetEntityAsOf(ctx, id, y2012, nil)
		if err != nil {
			t.Fatalf("GetEntityAsOf(%s): %v", id, err)
		}
		if got.Entity.ID != winner || got.View.Facts["party"].Value != "Democrat" {
			t.Errorf("party as of 2012 via %s = %+v, want Democrat on %s", id, got.View.Facts["party"], winner)
		}
		if len(got.Absorbed) != 1 || got.Absorbed[0] != loser {
			t.Errorf("expected %s to be absorbed, got %v", loser, got.Absorbed)
		}
	}

	current, _ := fx.svc.GetCurrentEntity(ctx, winner)
	if current.View.Facts["party"].Value != "Independent" {
		t.Errorf("current party = %+v, want Independent", current.View.Facts["party"])
	}

	history, err := fx.svc.History(ctx, winner, "party")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 || history[0].Value != "Democrat" || history[0].EntityID != loser {
		t.Errorf("history should start with the loser's facts, got %+v", history)
	}

	before := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	known, err := fx.svc.GetEntityAsOf(ctx, winner, y2012, &before)
	if err != nil {
		t.Fatalf("GetEntityAsOf: %v", err)
	}
	if len(known.Absorbed) != 0 {
		t.Errorf("a merge recorded after knownAt must not be applied, got %v", known.Absorbed)
	}
}

func TestSearchEntitiesAndTypes(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	res, err := fx.resolver.Resolve(ctx, resolver.Request{
		Type: models.Legislator, NaturalKey: "bioguideId:S000033", SourceID: "test",
		Hints: &models.ResolutionHints{Name: "Bernard Sanders"},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	fx.legislator(t, "bioguideId:W000817")

	hits, err := fx.svc.SearchEntities(ctx, "bernard", "", 0)
	if err != nil {
		t.Fatalf("SearchEntities: %v", err)
	}
	if len(hits) != 1 || hits[0].EntityID != res.EntityID {
		t.Errorf("expected %s, got %+v", res.EntityID, hits)
	}
	if _, err := fx.svc.SearchEntities(ctx, "", "", 0); !kgerrors.IsInvalidArgument(err) {
		t.Errorf("empty search should be rejected, got %v", err)
	}

	types, err := fx.svc.EntityTypes(ctx)
	if err != nil {
		t.Fatalf("EntityTypes: %v", err)
	}
	if types[models.Legislator] != 2 {
		t.Errorf("expected 2 legislators, got %v", types)
	}
}
