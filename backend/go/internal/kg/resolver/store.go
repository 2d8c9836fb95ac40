package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IdentityStore is the authoritative registry of entities and identity keys.
type IdentityStore interface {
	LookupKey(ctx context.Context, key string) (*models.IdentityKey, error)
	GetEntity(ctx context.Context, id string) (models.CanonicalEntity, error)
	// CreateEntity inserts e and registers key for it atomically. When the key
	// is already registered nothing is written and the registered entity id is
	// returned with created=false.
	CreateEntity(ctx context.Context, e models.CanonicalEntity, key models.IdentityKey) (entityID string, created bool, err error)
	// RegisterKey is compare-and-register for an extra key of an existing entity.
	RegisterKey(ctx context.Context, key models.IdentityKey) (entityID string, err error)
	// BlockCandidates returns profiles sharing type and name initial. Profiles
	// of merged entities are included; callers map them to the survivor.
	BlockCandidates(ctx context.Context, t models.EntityType, initial string, limit int) ([]models.EntityProfile, error)
	UpsertProfile(ctx context.Context, p models.EntityProfile) error
	// Repoint moves every key of loser to winner and marks loser merged.
	Repoint(ctx context.Context, loser, winner string) error
	// Unrepoint clears loser's merge into winner and moves keys held by
	// winner back to the surviving entity of their owner.
	Unrepoint(ctx context.Context, loser, winner string) error
	// SearchProfiles returns profiles of unmerged entities whose normalized
	// name contains every token, optionally restricted to one type.
	SearchProfiles(ctx context.Context, tokens []string, t models.EntityType, limit int) ([]models.EntityProfile, error)
	ListPending(ctx context.Context, limit int) ([]models.CanonicalEntity, error)
	CountByType(ctx context.Context) (map[models.EntityType]int64, error)
}

// GormStore implements IdentityStore on the ledger database.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// LookupKey implements IdentityStore.
func (s *GormStore) LookupKey(ctx context.Context, key string) (*models.IdentityKey, error) {
	var k models.IdentityKey
	if err := s.db.WithContext(ctx).Where(&models.IdentityKey{Key: key}).Limit(1).Find(&k).Error; err != nil {
		return nil, kgerrors.Transient(err, "lookup identity key")
	}
	if k.Key == "" {
		return nil, nil
	}
	return &k, nil
}

// GetEntity implements IdentityStore.
func (s *GormStore) GetEntity(ctx context.Context, id string) (models.CanonicalEntity, error) {
	var e models.CanonicalEntity
	if err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&e).Error; err != nil {
		return e, kgerrors.Transient(err, "load entity")
	}
	if e.ID == "" {
		return e, kgerrors.NotFound("entity", id)
	}
	return e, nil
}

// CreateEntity implements IdentityStore.
func (s *GormStore) CreateEntity(ctx context.Context, e models.CanonicalEntity, key models.IdentityKey) (string, bool, error) {
	key.EntityID, key.OwnerEntityID = e.ID, e.ID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&e).Error; err != nil {
			return err
		}
		return tx.Create(&key).Error
	})
	if err == nil {
		return e.ID, true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return "", false, kgerrors.Transient(err, "register identity")
	}
	// Lost the compare-and-register race; the transaction was rolled back.
	winner, lookupErr := s.LookupKey(ctx, key.Key)
	if lookupErr != nil {
		return "", false, lookupErr
	}
	if winner == nil {
		return "", false, kgerrors.Invariant("identity key %s conflicted but is not registered", key.Key)
	}
	return winner.EntityID, false, nil
}

// RegisterKey implements IdentityStore.
func (s *GormStore) RegisterKey(ctx context.Context, key models.IdentityKey) (string, error) {
	if key.OwnerEntityID == "" {
		key.OwnerEntityID = key.EntityID
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&key)
	if res.Error != nil {
		return "", kgerrors.Transient(res.Error, "register identity key")
	}
	if res.RowsAffected == 1 {
		return key.EntityID, nil
	}
	existing, err := s.LookupKey(ctx, key.Key)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return "", kgerrors.Invariant("identity key %s conflicted but is not registered", key.Key)
	}
	return existing.EntityID, nil
}

// BlockCandidates implements IdentityStore. Merged entities are excluded.
func (s *GormStore) BlockCandidates(ctx context.Context, t models.EntityType, initial string, limit int) ([]models.EntityProfile, error) {
	var out []models.EntityProfile
	err := s.db.WithContext(ctx).
		Select("entity_profiles.*").
		Joins("JOIN canonical_entities ON canonical_entities.id = entity_profiles.entity_id").
		Where("entity_profiles.type = ? AND entity_profiles.name_initial = ?", t, initial).
		Order("entity_profiles.entity_id").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, kgerrors.Transient(err, "load blocking candidates")
	}
	return out, nil
}

// UpsertProfile implements IdentityStore. External ids are unioned with the stored ones.
func (s *GormStore) UpsertProfile(ctx context.Context, p models.EntityProfile) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.EntityProfile
		if err := tx.Where("entity_id = ?", p.EntityID).Limit(1).Find(&cur).Error; err != nil {
			return err
		}
		if cur.EntityID != "" {
			ids := unionIDs(decodeIDs(cur.ExternalIDs), decodeIDs(p.ExternalIDs))
			p.ExternalIDs = encodeIDs(ids)
			if p.NormalizedName == "" {
				p.NormalizedName, p.NameInitial = cur.NormalizedName, cur.NameInitial
			}
			if p.Jurisdiction == "" {
				p.Jurisdiction = cur.Jurisdiction
			}
			if p.ActiveFrom == nil {
				p.ActiveFrom = cur.ActiveFrom
			}
			if p.ActiveTo == nil {
				p.ActiveTo = cur.ActiveTo
			}
		}
		p.UpdatedAt = time.Now().UTC()
		return tx.Save(&p).Error
	})
	return kgerrors.Transient(err, "upsert entity profile")
}

// Repoint implements IdentityStore. The loser's profile is kept, so its names
// and external ids keep matching through the survivor and an unmerge needs no
// profile rebuild.
func (s *GormStore) Repoint(ctx context.Context, loser, winner string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CanonicalEntity{}).
			Where("id = ? AND merged_into IS NULL", loser).
			Updates(map[string]interface{}{"merged_into": winner, "pending_merge": false})
		if res.Error != nil {
			return kgerrors.Transient(res.Error, "mark merged entity")
		}
		if res.RowsAffected != 1 {
			return kgerrors.Invariant("entity %s is already merged", loser)
		}
		if err := tx.Model(&models.CanonicalEntity{}).Where("id = ?", winner).
			Update("pending_merge", false).Error; err != nil {
			return kgerrors.Transient(err, "clear pending merge")
		}
		return kgerrors.Transient(tx.Model(&models.IdentityKey{}).Where("entity_id = ?", loser).
			Update("entity_id", winner).Error, "repoint identity keys")
	})
}

// Unrepoint implements IdentityStore.
func (s *GormStore) Unrepoint(ctx context.Context, loser, winner string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CanonicalEntity{}).
			Where("id = ? AND merged_into = ?", loser, winner).
			Update("merged_into", nil)
		if res.Error != nil {
			return kgerrors.Transient(res.Error, "clear merge")
		}
		if res.RowsAffected != 1 {
			return kgerrors.Invariant("entity %s is not merged into %s", loser, winner)
		}

		var keys []models.IdentityKey
		if err := tx.Where("entity_id = ? AND owner_entity_id <> ? AND owner_entity_id <> ''", winner, winner).
			Find(&keys).Error; err != nil {
			return kgerrors.Transient(err, "load merged keys")
		}
		for _, k := range keys {
			target, err := survivor(tx, k.OwnerEntityID)
			if err != nil {
				return err
			}
			if target == winner {
				continue
			}
			if err := tx.Model(&models.IdentityKey{Key: k.Key}).
				Update("entity_id", target).Error; err != nil {
				return kgerrors.Transient(err, "restore identity key")
			}
		}
		return nil
	})
}

// survivor follows merged_into inside tx.
func survivor(tx *gorm.DB, id string) (string, error) {
	cur := id
	for i := 0; i < maxMergeHops; i++ {
		var e models.CanonicalEntity
		if err := tx.Where("id = ?", cur).Limit(1).Find(&e).Error; err != nil {
			return "", kgerrors.Transient(err, "load entity")
		}
		if e.ID == "" || e.MergedInto == nil || *e.MergedInto == "" {
			return cur, nil
		}
		cur = *e.MergedInto
	}
	return "", kgerrors.Invariant("merge chain from %s is longer than %d hops", id, maxMergeHops)
}

// SearchProfiles implements IdentityStore.
func (s *GormStore) SearchProfiles(ctx context.Context, tokens []string, t models.EntityType, limit int) ([]models.EntityProfile, error) {
	q := s.db.WithContext(ctx).
		Select("entity_profiles.*").
		Joins("JOIN canonical_entities ON canonical_entities.id = entity_profiles.entity_id").
		Where("canonical_entities.merged_into IS NULL")
	if t != "" {
		q = q.Where("entity_profiles.type = ?", t)
	}
	for _, tok := range tokens {
		q = q.Where("entity_profiles.normalized_name LIKE ?", "%"+tok+"%")
	}
	var out []models.EntityProfile
	if err := q.Order("entity_profiles.entity_id").Limit(limit).Find(&out).Error; err != nil {
		return nil, kgerrors.Transient(err, "search profiles")
	}
	return out, nil
}

// ListPending implements IdentityStore.
func (s *GormStore) ListPending(ctx context.Context, limit int) ([]models.CanonicalEntity, error) {
	var out []models.CanonicalEntity
	if err := s.db.WithContext(ctx).Where("pending_merge = ? AND merged_into IS NULL", true).
		Order("created_at").Limit(limit).Find(&out).Error; err != nil {
		return nil, kgerrors.Transient(err, "list pending entities")
	}
	return out, nil
}

// CountByType implements IdentityStore. Merged entities are not counted.
func (s *GormStore) CountByType(ctx context.Context) (map[models.EntityType]int64, error) {
	var rows []struct {
		Type  models.EntityType
		Count int64
	}
	if err := s.db.WithContext(ctx).Model(&models.CanonicalEntity{}).
		Select("type, COUNT(*) AS count").
		Where("merged_into IS NULL").
		Group("type").
		Scan(&rows).Error; err != nil {
		return nil, kgerrors.Transient(err, "count entities")
	}
	out := make(map[models.EntityType]int64, len(rows))
	for _, r := range rows {
		out[r.Type] = r.Count
	}
	return out, nil
}

func decodeIDs(raw datatypes.JSON) []string {
	var ids []string
	if len(raw) == 0 {
		return nil
	}
	_ = json.Unmarshal(raw, &ids)
	return ids
}

func encodeIDs(ids []string) datatypes.JSON {
	if len(ids) == 0 {
		return nil
	}
	b, _ := json.Marshal(ids)
	return datatypes.JSON(b)
}

func unionIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, id := range append(append([]string(nil), a...), b...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
