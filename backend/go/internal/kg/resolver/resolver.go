// Package resolver maps candidate identities onto canonical entities.
//
// Exact natural keys are decided by compare-and-register on the identity key
// table. Fuzzy matches never merge on their own: without a shared external id
// they yield a provisional entity and a disambiguation request.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Confidence says how a resolution was reached.
type Confidence string

const (
	Exact       Confidence = "exact"
	Confirmed   Confidence = "confirmed"
	Provisional Confidence = "provisional"
	Fresh       Confidence = "new"
)

const maxMergeHops = 16

// Request identifies the subject of a candidate or the target of an edge.
type Request struct {
	Type       models.EntityType
	NaturalKey string
	SourceID   string
	Hints      *models.ResolutionHints
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	EntityID   string                  `json:"entityId"`
	Confidence Confidence              `json:"confidence"`
	Score      float64                 `json:"score,omitempty"`
	Created    bool                    `json:"created"`
	Candidates []models.MatchCandidate `json:"candidates,omitempty"`
}

// Signaler receives disambiguation requests for provisional entities.
type Signaler interface {
	Signal(ctx context.Context, req models.DisambiguationRequest) error
}

// Resolver implements the entity resolution pipeline.
type Resolver struct {
	store    IdentityStore
	signaler Signaler
	cfg      config.ResolverConfig
	log      *logger.Logger
	group    singleflight.Group
	now      func() time.Time
}

// New creates a resolver. signaler may be nil, in which case provisional
// entities are only discoverable through ListPending.
func New(store IdentityStore, signaler Signaler, cfg config.ResolverConfig, log *logger.Logger) *Resolver {
	return &Resolver{store: store, signaler: signaler, cfg: cfg, log: log.Component("resolver"), now: time.Now}
}

// Store exposes the identity registry.
func (r *Resolver) Store() IdentityStore { return r.store }

// Resolve maps req onto a canonical entity, creating one when needed.
// Ambiguity is never an error; only storage failures are.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolution, error) {
	nk, err := models.NormalizeNaturalKey(req.NaturalKey)
	if err != nil {
		return Resolution{}, kgerrors.Invalid(err)
	}
	if !req.Type.Valid() {
		return Resolution{}, kgerrors.Invalid(fmt.Errorf("unknown entity type %q", req.Type))
	}
	req.NaturalKey = nk
	key := models.IdentityKeyFor(req.Type, nk)

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.resolve(ctx, key, req)
	})
	if err != nil {
		return Resolution{}, err
	}
	res := v.(Resolution)
	if req.Hints != nil {
		if err := r.store.UpsertProfile(ctx, profileFor(res.EntityID, req)); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, key string, req Request) (Resolution, error) {
	existing, err := r.store.LookupKey(ctx, key)
	if err != nil {
		return Resolution{}, err
	}
	if existing != nil {
		id, err := r.Canonical(ctx, existing.EntityID)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{EntityID: id, Confidence: Exact, Score: 1}, nil
	}

	ik := models.IdentityKey{Key: key, EntityType: req.Type, NaturalKey: req.NaturalKey, CreatedAt: models.UTC(r.now())}

	matches, err := r.fuzzyMatches(ctx, req)
	if err != nil {
		return Resolution{}, err
	}
	if len(matches) > 0 {
		best := matches[0]
		if best.confirmed {
			ik.EntityID = best.profile.EntityID
			owner, err := r.store.RegisterKey(ctx, ik)
			if err != nil {
				return Resolution{}, err
			}
			id, err := r.Canonical(ctx, owner)
			if err != nil {
				return Resolution{}, err
			}
			conf := Confirmed
			if owner != best.profile.EntityID {
				conf = Exact
			}
			return Resolution{EntityID: id, Confidence: conf, Score: best.score}, nil
		}
		return r.provisional(ctx, ik, req, matches)
	}

	e := models.CanonicalEntity{ID: uuid.NewString(), Type: req.Type, CreatedAt: models.UTC(r.now())}
	id, created, err := r.store.CreateEntity(ctx, e, ik)
	if err != nil {
		return Resolution{}, err
	}
	if !created {
		id, err = r.Canonical(ctx, id)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{EntityID: id, Confidence: Exact, Score: 1}, nil
	}
	return Resolution{EntityID: id, Confidence: Fresh, Created: true}, nil
}

func (r *Resolver) provisional(ctx context.Context, ik models.IdentityKey, req Request, matches []scored) (Resolution, error) {
	e := models.CanonicalEntity{ID: uuid.NewString(), Type: req.Type, CreatedAt: models.UTC(r.now()), PendingMerge: true}
	id, created, err := r.store.CreateEntity(ctx, e, ik)
	if err != nil {
		return Resolution{}, err
	}
	if !created {
		id, err = r.Canonical(ctx, id)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{EntityID: id, Confidence: Exact, Score: 1}, nil
	}

	cands := make([]models.MatchCandidate, 0, len(matches))
	for _, m := range matches {
		cands = append(cands, models.MatchCandidate{EntityID: m.profile.EntityID, Name: m.profile.NormalizedName, Score: m.score})
	}
	res := Resolution{EntityID: id, Confidence: Provisional, Score: matches[0].score, Created: true, Candidates: cands}

	signal := models.DisambiguationRequest{
		ID:          uuid.NewString(),
		EntityID:    id,
		EntityType:  req.Type,
		IdentityKey: ik.Key,
		SourceID:    req.SourceID,
		Name:        req.Hints.Name,
		Candidates:  cands,
		Status:      models.DisambiguationOpen,
		CreatedAt:   models.UTC(r.now()),
	}
	log := r.log.WithPayload(map[string]interface{}{
		"kind":       kgerrors.Kind(kgerrors.ErrAmbiguousResolution),
		"entity_id":  id,
		"key":        ik.Key,
		"best_match": matches[0].profile.EntityID,
		"score":      matches[0].score,
	})
	log.Info("provisional entity created")
	if r.signaler != nil {
		if err := r.signaler.Signal(ctx, signal); err != nil {
			// The entity stays PendingMerge and is still listed by ListPending.
			log.WithError(models.ErrorInfo{Message: err.Error(), Type: kgerrors.Kind(err)}).Warn("disambiguation signal failed")
		}
	}
	return res, nil
}

type scored struct {
	profile   models.EntityProfile
	score     float64
	confirmed bool
}

// fuzzyMatches scores the bounded block of req's type and name initial.
// Results at or above the threshold are returned best first.
func (r *Resolver) fuzzyMatches(ctx context.Context, req Request) ([]scored, error) {
	if r.cfg.FuzzyThreshold <= 0 || req.Hints == nil || strings.TrimSpace(req.Hints.Name) == "" {
		return nil, nil
	}
	name := matchKey(req.Hints.Name)
	if name == "" {
		return nil, nil
	}
	profiles, err := r.store.BlockCandidates(ctx, req.Type, nameInitial(name), r.cfg.MaxCandidates)
	if err != nil {
		return nil, err
	}

	var out []scored
	at := make(map[string]int)
	for _, p := range profiles {
		if !compatible(p, req.Hints) {
			continue
		}
		s := similarity(name, p.NormalizedName)
		if s < r.cfg.FuzzyThreshold {
			continue
		}
		id, err := r.Canonical(ctx, p.EntityID)
		if err != nil {
			return nil, err
		}
		p.EntityID = id
		m := scored{profile: p, score: s, confirmed: sharesExternalID(p, req.Hints)}
		if i, ok := at[id]; ok {
			// Profiles of merged entities count for the survivor once.
			if better(m, out[i]) {
				out[i] = m
			}
			continue
		}
		at[id] = len(out)
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].confirmed != out[j].confirmed || out[i].score != out[j].score {
			return better(out[i], out[j])
		}
		return out[i].profile.EntityID < out[j].profile.EntityID
	})
	return out, nil
}

// better orders confirmed matches first, then by score.
func better(a, b scored) bool {
	if a.confirmed != b.confirmed {
		return a.confirmed
	}
	return a.score > b.score
}

// compatible filters on jurisdiction and overlapping activity windows.
func compatible(p models.EntityProfile, h *models.ResolutionHints) bool {
	if p.Jurisdiction != "" && h.Jurisdiction != "" && !strings.EqualFold(p.Jurisdiction, h.Jurisdiction) {
		return false
	}
	if p.ActiveTo != nil && h.ActiveFrom != nil && p.ActiveTo.Before(*h.ActiveFrom) {
		return false
	}
	if h.ActiveTo != nil && p.ActiveFrom != nil && h.ActiveTo.Before(*p.ActiveFrom) {
		return false
	}
	return true
}

func sharesExternalID(p models.EntityProfile, h *models.ResolutionHints) bool {
	if len(h.ExternalIDs) == 0 {
		return false
	}
	have := make(map[string]bool)
	for _, id := range decodeIDs(p.ExternalIDs) {
		have[strings.ToLower(id)] = true
	}
	for _, id := range h.ExternalIDs {
		if have[strings.ToLower(strings.TrimSpace(id))] {
			return true
		}
	}
	return false
}

func profileFor(entityID string, req Request) models.EntityProfile {
	h := req.Hints
	name := matchKey(h.Name)
	p := models.EntityProfile{
		EntityID:       entityID,
		Type:           req.Type,
		NormalizedName: name,
		NameInitial:    nameInitial(name),
		Jurisdiction:   strings.TrimSpace(h.Jurisdiction),
		ActiveFrom:     h.ActiveFrom,
		ActiveTo:       h.ActiveTo,
	}
	ids := append([]string{req.NaturalKey}, h.ExternalIDs...)
	for i := range ids {
		ids[i] = strings.TrimSpace(ids[i])
	}
	if b, err := json.Marshal(unionIDs(nil, ids)); err == nil {
		p.ExternalIDs = b
	}
	return p
}

// Canonical follows MergedInto links to the surviving entity id.
func (r *Resolver) Canonical(ctx context.Context, id string) (string, error) {
	cur := id
	for i := 0; i < maxMergeHops; i++ {
		e, err := r.store.GetEntity(ctx, cur)
		if err != nil {
			return "", err
		}
		if e.MergedInto == nil || *e.MergedInto == "" {
			return cur, nil
		}
		cur = *e.MergedInto
	}
	return "", kgerrors.Invariant("merge chain from %s is longer than %d hops", id, maxMergeHops)
}

// ListPending returns provisional entities awaiting disambiguation.
func (r *Resolver) ListPending(ctx context.Context, limit int) ([]models.CanonicalEntity, error) {
	return r.store.ListPending(ctx, limit)
}
