package resolver

import (
	"context"
	"sort"
	"strings"

	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	// searchWindow bounds how many token matches are scored per result slot.
	searchWindow = 5
)

// NameMatch is one entity found by name.
type NameMatch struct {
	EntityID     string            `json:"entityId"`
	Type         models.EntityType `json:"type"`
	Name         string            `json:"name"`
	Jurisdiction string            `json:"jurisdiction,omitempty"`
	Score        float64           `json:"score"`
}

// SearchByName returns unmerged entities whose normalized name contains every
// token of name, best match first.
func (r *Resolver) SearchByName(ctx context.Context, name string, t models.EntityType, limit int) ([]NameMatch, error) {
	tokens := strings.Fields(NormalizeName(name))
	if len(tokens) == 0 {
		return nil, kgerrors.InvalidArgument("a name to search for is required")
	}
	if t != "" && !t.Valid() {
		return nil, kgerrors.InvalidArgument("unknown entity type %q", t)
	}
	switch {
	case limit <= 0:
		limit = defaultSearchLimit
	case limit > maxSearchLimit:
		limit = maxSearchLimit
	}

	profiles, err := r.store.SearchProfiles(ctx, tokens, t, limit*searchWindow)
	if err != nil {
		return nil, err
	}
	key := matchKey(name)
	out := make([]NameMatch, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, NameMatch{
			EntityID:     p.EntityID,
			Type:         p.Type,
			Name:         p.NormalizedName,
			Jurisdiction: p.Jurisdiction,
			Score:        similarity(key, p.NormalizedName),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].EntityID < out[j].EntityID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
