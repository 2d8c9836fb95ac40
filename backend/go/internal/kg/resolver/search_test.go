package resolver

import (
	"context"
	"testing"

	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/internal/testutil"
)

func TestSearchByName(t *testing.T) {
	ctx := context.Background()
	fx := newMergeFixture(t, 0, nil)

	sanders, _ := fx.r.Resolve(ctx, legislator("bioguideId:S000033", "Bernard Sanders"))
	bernie, _ := fx.r.Resolve(ctx, legislator("twitter:sensanders", "Bernie Sanders"))
	if _, err := fx.r.Resolve(ctx, legislator("bioguideId:W000817", "Elizabeth Warren")); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	finance := Request{Type: models.Committee, NaturalKey: "thomas:SSFI", Hints: &models.ResolutionHints{Name: "Senate Committee on Finance"}}
	if _, err := fx.r.Resolve(ctx, finance); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	hits, err := fx.r.SearchByName(ctx, "sanders", "", 0)
	if err != nil {
		t.Fatalf("SearchByName: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected two matches, got %+v", hits)
	}

	hits, _ = fx.r.SearchByName(ctx, "SANDERS, Bernard", models.Legislator, 5)
	if len(hits) != 1 || hits[0].EntityID != sanders.EntityID || hits[0].Score != 1 {
		t.Errorf("expected an exact match on %s, got %+v", sanders.EntityID, hits)
	}

	hits, _ = fx.r.SearchByName(ctx, "finance", models.Legislator, 5)
	if len(hits) != 0 {
		t.Errorf("type filter ignored: %+v", hits)
	}
	hits, _ = fx.r.SearchByName(ctx, "finance", models.Committee, 5)
	if len(hits) != 1 || hits[0].Type != models.Committee {
		t.Errorf("expected the committee, got %+v", hits)
	}

	if _, err := fx.m.Merge(ctx, sanders.EntityID, bernie.EntityID, ""); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	hits, _ = fx.r.SearchByName(ctx, "sanders", "", 0)
	if len(hits) != 1 || hits[0].EntityID != sanders.EntityID {
		t.Errorf("merged entities must not be listed, got %+v", hits)
	}
}

func TestSearchByNameRejectsBadInput(t *testing.T) {
	r, _ := newResolver(t, testutil.DB(t), 0)
	if _, err := r.SearchByName(context.Background(), " ,. ", "", 0); !kgerrors.IsInvalidArgument(err) {
		t.Errorf("expected invalid argument for an empty name, got %v", err)
	}
	if _, err := r.SearchByName(context.Background(), "sanders", "Senator", 0); !kgerrors.IsInvalidArgument(err) {
		t.Errorf("expected invalid argument for an unknown type, got %v", err)
	}
}
