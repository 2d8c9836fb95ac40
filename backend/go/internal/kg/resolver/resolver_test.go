package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/kg/coordinator"
	"LegisGraph/backend/go/internal/kg/ledger"
	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/internal/testutil"

	"gorm.io/gorm"
)

type recordingSignaler struct {
	mu       sync.Mutex
	requests []models.DisambiguationRequest
	resolved map[string]string
}

func (s *recordingSignaler) Signal(_ context.Context, req models.DisambiguationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return nil
}

func (s *recordingSignaler) MarkResolved(_ context.Context, entityID, with string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved == nil {
		s.resolved = make(map[string]string)
	}
	s.resolved[entityID] = with
	return nil
}

func newResolver(t *testing.T, db *gorm.DB, threshold float64) (*Resolver, *recordingSignaler) {
	t.Helper()
	sig := &recordingSignaler{}
	cfg := config.ResolverConfig{FuzzyThreshold: threshold, MaxCandidates: 50}
	return New(NewGormStore(db), sig, cfg, testutil.Logger(t)), sig
}

func legislator(key, name string, ext ...string) Request {
	return Request{
		Type:       models.Legislator,
		NaturalKey: key,
		SourceID:   "congress.gov",
		Hints:      &models.ResolutionHints{Name: name, Jurisdiction: "VT", ExternalIDs: ext},
	}
}

func TestResolveExactKeyIsStable(t *testing.T) {
	ctx := context.Background()
	r, _ := newResolver(t, testutil.DB(t), 0)

	first, err := r.Resolve(ctx, legislator("bioguideId:S000033", "Bernard Sanders"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first.Confidence != Fresh || !first.Created {
		t.Fatalf("expected a new entity, got %+v", first)
	}
	second, err := r.Resolve(ctx, legislator("BIOGUIDEID:S000033", "Bernie Sanders"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if second.EntityID != first.EntityID || second.Confidence != Exact {
		t.Errorf("expected exact match on %s, got %+v", first.EntityID, second)
	}
}

func TestConcurrentResolutionCreatesOneEntity(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	// Two resolvers share nothing but the database, like two ingest processes.
	a, _ := newResolver(t, db, 0)
	b, _ := newResolver(t, db, 0)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]int)
	)
	for i := 0; i < 24; i++ {
		r := a
		if i%2 == 1 {
			r = b
		}
		wg.Add(1)
		go func(r *Resolver) {
			defer wg.Done()
			res, err := r.Resolve(ctx, legislator("bioguideId:A000360", "Lamar Alexander"))
			if err != nil {
				t.Errorf("Resolve: %v", err)
				return
			}
			mu.Lock()
			ids[res.EntityID]++
			mu.Unlock()
		}(r)
	}
	wg.Wait()

	if len(ids) != 1 {
		t.Fatalf("expected one entity id, got %v", ids)
	}
	var count int64
	db.Model(&models.CanonicalEntity{}).Count(&count)
	if count != 1 {
		t.Errorf("expected 1 canonical entity row, got %d", count)
	}
}

func TestFuzzyMatchNeedsConfirmation(t *testing.T) {
	ctx := context.Background()
	r, sig := newResolver(t, testutil.DB(t), 0.85)

	orig, err := r.Resolve(ctx, legislator("bioguideId:S000033", "Bernard Sanders", "fec:S4VT00033"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Same person, different key scheme, shared external id.
	confirmed, err := r.Resolve(ctx, legislator("twitter:sensanders", "Sanders, Bernard", "fec:S4VT00033"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if confirmed.Confidence != Confirmed || confirmed.EntityID != orig.EntityID {
		t.Fatalf("expected confirmed match on %s, got %+v", orig.EntityID, confirmed)
	}

	// Similar name without corroboration.
	prov, err := r.Resolve(ctx, legislator("twitter:berniesanders", "Bernard Sandars"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if prov.Confidence != Provisional || prov.EntityID == orig.EntityID {
		t.Fatalf("expected a provisional entity, got %+v", prov)
	}
	if len(sig.requests) != 1 || sig.requests[0].Candidates[0].EntityID != orig.EntityID {
		t.Fatalf("expected one disambiguation request naming %s, got %+v", orig.EntityID, sig.requests)
	}
	pending, _ := r.ListPending(ctx, 10)
	if len(pending) != 1 || pending[0].ID != prov.EntityID {
		t.Errorf("expected provisional entity to be pending, got %+v", pending)
	}
}

func TestFuzzyMatchingRespectsBlocking(t *testing.T) {
	ctx := context.Background()
	r, sig := newResolver(t, testutil.DB(t), 0.8)

	if _, err := r.Resolve(ctx, legislator("bioguideId:S000033", "Bernard Sanders")); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	other := legislator("bioguideId:X000001", "Bernard Sanders")
	other.Hints.Jurisdiction = "NY"
	res, err := r.Resolve(ctx, other)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Confidence != Fresh {
		t.Errorf("different jurisdiction must not match, got %s", res.Confidence)
	}
	if len(sig.requests) != 0 {
		t.Errorf("unexpected disambiguation requests: %+v", sig.requests)
	}
}

func TestZeroThresholdDisablesFuzzyMatching(t *testing.T) {
	ctx := context.Background()
	r, _ := newResolver(t, testutil.DB(t), 0)

	a, _ := r.Resolve(ctx, legislator("bioguideId:S000033", "Bernard Sanders", "fec:1"))
	b, err := r.Resolve(ctx, legislator("twitter:sensanders", "Bernard Sanders", "fec:1"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b.EntityID == a.EntityID || b.Confidence != Fresh {
		t.Errorf("fuzzy matching should be off, got %+v", b)
	}
}

func TestResolveRejectsMalformedKeys(t *testing.T) {
	r, _ := newResolver(t, testutil.DB(t), 0)
	_, err := r.Resolve(context.Background(), Request{Type: models.Bill, NaturalKey: "hr-1234"})
	if !kgerrors.IsInvalid(err) {
		t.Fatalf("expected invalid candidate error, got %v", err)
	}
}

func TestMergeMovesKeysAndFacts(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	r, sig := newResolver(t, db, 0)
	store := ledger.NewGormStore(db)
	coord := coordinator.New(store, coordinator.NewLocalLocker(), nil, testutil.Logger(t))
	m := NewMerger(r, coord)

	winner, _ := r.Resolve(ctx, legislator("bioguideId:S000033", "Bernard Sanders"))
	loser, _ := r.Resolve(ctx, legislator("twitter:sensanders", "Bernie Sanders"))
	at := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := coord.Apply(ctx, loser.EntityID, []coordinator.Proposal{{
		Kind: models.AttributeFact, Attribute: "state", Slot: "state", Value: "VT",
		SourceID: "twitter", ValidFrom: at, ContentHash: "h1",
	}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	res, err := m.Merge(ctx, winner.EntityID, loser.EntityID, "")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.CopiedFacts != 1 {
		t.Errorf("expected 1 copied fact, got %d", res.CopiedFacts)
	}

	again, _ := r.Resolve(ctx, legislator("twitter:sensanders", ""))
	if again.EntityID != winner.EntityID {
		t.Errorf("loser key should resolve to winner, got %s", again.EntityID)
	}
	wv, _ := store.CurrentView(ctx, winner.EntityID)
	if wv.Facts["state"].Value != "VT" {
		t.Errorf("winner should carry copied state, got %+v", wv.Facts["state"])
	}
	if _, ok := wv.Facts[models.AttrMergedFromPrefix+loser.EntityID]; !ok {
		t.Errorf("winner missing merge marker")
	}
	lv, _ := store.CurrentView(ctx, loser.EntityID)
	if into, ok := lv.MergedInto(); !ok || into != winner.EntityID {
		t.Errorf("loser should point at winner, got %q", into)
	}
	if sig.resolved[loser.EntityID] != winner.EntityID {
		t.Errorf("disambiguation request not marked resolved")
	}

	if _, err := m.Merge(ctx, winner.EntityID, loser.EntityID, ""); !kgerrors.IsInvalid(err) {
		t.Errorf("second merge should be rejected, got %v", err)
	}
}
