// Package vectorsync keeps the semantic index in step with free-text facts.
//
// Entries are never deleted: when a text fact is closed its entries are
// retired at the fact's ValidTo, so point-in-time search still finds them.
package vectorsync

import (
	"context"
	"strconv"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/embedding"
	"LegisGraph/backend/go/internal/kg/ledger"
	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxK = 100

var entryNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("legisgraph/vector-entry"))

// EntryID derives the id of chunk i of a fact.
func EntryID(factID string, chunk int) string {
	return uuid.NewSHA1(entryNamespace, []byte(factID+"#"+strconv.Itoa(chunk))).String()
}

// EntityLookup resolves an entity's type.
type EntityLookup interface {
	GetEntity(ctx context.Context, id string) (models.CanonicalEntity, error)
}

// SearchRequest is a semantic query. K defaults to the configured DefaultK.
type SearchRequest struct {
	Query       string
	K           int
	EntityTypes []models.EntityType
	Attributes  []string
	AsOf        *time.Time
}

// Stats counts vector entries.
type Stats struct {
	Active  int64 `json:"active"`
	Retired int64 `json:"retired"`
}

// Syncer is the follower handler that maintains vector entries.
type Syncer struct {
	ledger   ledger.Store
	entities EntityLookup
	db       *gorm.DB
	embedder embedding.Embedding
	index    Index
	chunker  *Chunker
	cfg      config.VectorConfig
	log      *logger.Logger
}

func New(store ledger.Store, entities EntityLookup, db *gorm.DB, embedder embedding.Embedding, index Index, chunker *Chunker, cfg config.VectorConfig, log *logger.Logger) *Syncer {
	return &Syncer{
		ledger:   store,
		entities: entities,
		db:       db,
		embedder: embedder,
		index:    index,
		chunker:  chunker,
		cfg:      cfg,
		log:      log.Component("vectorsync").WithField("model", embedder.Model()),
	}
}

// Name implements follower.Handler.
func (s *Syncer) Name() string { return "vector" }

// Handle implements follower.Handler.
func (s *Syncer) Handle(ctx context.Context, facts []models.Fact) error {
	for _, f := range facts {
		if err := s.syncFact(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Sync brings the entries of one fact up to date. It is idempotent.
func (s *Syncer) Sync(ctx context.Context, factID string) error {
	f, err := s.ledger.GetFact(ctx, factID)
	if err != nil {
		return err
	}
	return s.syncFact(ctx, f)
}

func (s *Syncer) syncFact(ctx context.Context, f models.Fact) error {
	if f.Kind != models.AttributeFact {
		return nil
	}
	e, err := s.entities.GetEntity(ctx, f.EntityID)
	if err != nil {
		return err
	}
	if !models.IsTextAttribute(e.Type, f.Attribute) {
		return nil
	}
	if !f.Retracted {
		if err := s.syncEntries(ctx, e.Type, f); err != nil {
			return err
		}
	}
	if f.SupersedesFactID == nil {
		return nil
	}
	prior, err := s.ledger.GetFact(ctx, *f.SupersedesFactID)
	if err != nil {
		return err
	}
	if prior.Retracted {
		return nil
	}
	return s.syncEntries(ctx, e.Type, prior)
}

// syncEntries creates the fact's entries on first sight and retires them once the
// fact is closed. The index is written before vector_entries, so a row in
// vector_entries implies the index already holds it.
func (s *Syncer) syncEntries(ctx context.Context, t models.EntityType, f models.Fact) error {
	var entries []models.VectorEntry
	if err := s.db.WithContext(ctx).Where("fact_id = ?", f.ID).Order("chunk_index").Find(&entries).Error; err != nil {
		return kgerrors.Transient(err, "read vector entries")
	}
	if len(entries) > 0 && upToDate(entries, f.ValidTo) {
		return nil
	}
	if len(entries) == 0 {
		for i, chunk := range s.chunker.Split(f.Value) {
			entries = append(entries, models.VectorEntry{
				ID:          EntryID(f.ID, i),
				FactID:      f.ID,
				EntityID:    f.EntityID,
				EntityType:  t,
				Attribute:   f.Attribute,
				ChunkIndex:  i,
				TextChunk:   chunk,
				ContentHash: embedding.Key(s.embedder.Model(), chunk),
				Model:       s.embedder.Model(),
				ValidFrom:   f.ValidFrom,
			})
		}
		if len(entries) == 0 {
			return nil
		}
	}

	texts := make([]string, len(entries))
	for i := range entries {
		entries[i].RetiredAt = f.ValidTo
		texts[i] = entries[i].TextChunk
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	rows := make([]Row, len(entries))
	for i, en := range entries {
		rows[i] = Row{
			ID:         en.ID,
			EntityID:   en.EntityID,
			EntityType: string(en.EntityType),
			FactID:     en.FactID,
			Attribute:  en.Attribute,
			ValidFrom:  en.ValidFrom,
			RetiredAt:  en.RetiredAt,
			Vector:     vectors[i],
		}
	}
	if err := s.index.Upsert(ctx, rows); err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"retired_at"}),
	}).Create(&entries).Error
	if err != nil {
		return kgerrors.Transient(err, "write vector entries")
	}

	l := s.log.WithField("fact", f.ID).WithField("chunks", len(entries))
	if f.ValidTo != nil {
		l.WithField("retiredAt", f.ValidTo).Debug("vector entries retired")
	} else {
		l.Debug("vector entries indexed")
	}
	return nil
}

func upToDate(entries []models.VectorEntry, retiredAt *time.Time) bool {
	for _, e := range entries {
		switch {
		case retiredAt == nil && e.RetiredAt != nil:
			return false
		case retiredAt != nil && (e.RetiredAt == nil || !e.RetiredAt.Equal(*retiredAt)):
			return false
		}
	}
	return true
}

// Search embeds the query and returns the nearest entries.
func (s *Syncer) Search(ctx context.Context, req SearchRequest) ([]models.SearchHit, error) {
	if req.Query == "" {
		return nil, kgerrors.InvalidArgument("query is required")
	}
	k := req.K
	if k <= 0 {
		k = s.cfg.DefaultK
	}
	if k > maxK {
		k = maxK
	}
	vec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	filter := Filter{Attributes: req.Attributes, AsOf: req.AsOf}
	for _, t := range req.EntityTypes {
		filter.EntityTypes = append(filter.EntityTypes, string(t))
	}
	hits, err := s.index.Search(ctx, vec, k, filter)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []models.SearchHit{}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	var entries []models.VectorEntry
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&entries).Error; err != nil {
		return nil, kgerrors.Transient(err, "load vector entries")
	}
	byID := make(map[string]models.VectorEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	out := make([]models.SearchHit, 0, len(hits))
	for _, h := range hits {
		e, ok := byID[h.ID]
		if !ok {
			continue
		}
		out = append(out, models.SearchHit{
			EntryID:    e.ID,
			EntityID:   e.EntityID,
			EntityType: e.EntityType,
			FactID:     e.FactID,
			Attribute:  e.Attribute,
			TextChunk:  e.TextChunk,
			Score:      h.Score,
			RetiredAt:  e.RetiredAt,
		})
	}
	return out, nil
}

// Reset implements follower.Handler.
func (s *Syncer) Reset(ctx context.Context) error {
	s.log.Warn("resetting vector index")
	if err := s.index.Reset(ctx); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.VectorEntry{}).Error
	return kgerrors.Transient(err, "clear vector entries")
}

// Stats counts active and retired entries.
func (s *Syncer) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx).Model(&models.VectorEntry{})
	if err := db.Where("retired_at IS NULL").Count(&st.Active).Error; err != nil {
		return Stats{}, kgerrors.Transient(err, "count vector entries")
	}
	db = s.db.WithContext(ctx).Model(&models.VectorEntry{})
	if err := db.Where("retired_at IS NOT NULL").Count(&st.Retired).Error; err != nil {
		return Stats{}, kgerrors.Transient(err, "count vector entries")
	}
	return st, nil
}
