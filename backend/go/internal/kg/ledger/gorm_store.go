package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errDuplicate = errors.New("duplicate idempotency key")

// GormStore keeps the ledger in a relational database through gorm.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates a ledger over db. Tables are migrated by mysql.AutoMigrate.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

// WithClock replaces the system-time source; used by tests.
func (s *GormStore) WithClock(now func() time.Time) *GormStore {
	s.now = now
	return s
}

// AppendFact implements Store.
func (s *GormStore) AppendFact(ctx context.Context, f models.Fact, closeFactID string) (models.Fact, bool, error) {
	if f.EntityID == "" || f.Slot == "" || f.IdempotencyKey == "" {
		return models.Fact{}, false, fmt.Errorf("append fact: entity, slot and idempotency key are required")
	}
	f.ValidFrom = models.UTC(f.ValidFrom)
	if f.ValidTo != nil {
		v := models.UTC(*f.ValidTo)
		f.ValidTo = &v
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.Offset = 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Fact
		err := tx.Where("idempotency_key = ?", f.IdempotencyKey).Limit(1).Find(&existing).Error
		if err != nil {
			return kgerrors.Transient(err, "lookup idempotency key")
		}
		if existing.ID != "" {
			f = existing
			return errDuplicate
		}

		var maxSeq int64
		if err := tx.Model(&models.Fact{}).
			Where("entity_id = ?", f.EntityID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return kgerrors.Transient(err, "read entity sequence")
		}
		f.Seq = maxSeq + 1

		now := models.UTC(s.now())
		if f.RecordedAt.IsZero() {
			f.RecordedAt = now
		}
		if f.ValidTo != nil && f.ClosedAt == nil {
			closed := f.RecordedAt
			f.ClosedAt = &closed
		}

		if closeFactID != "" {
			res := tx.Model(&models.Fact{}).
				Where("id = ? AND entity_id = ? AND valid_to IS NULL", closeFactID, f.EntityID).
				Updates(map[string]interface{}{"valid_to": f.ValidFrom, "closed_at": now, "superseded_by_fact_id": f.ID})
			if res.Error != nil {
				return kgerrors.Transient(res.Error, "close superseded fact")
			}
			if res.RowsAffected != 1 {
				return kgerrors.Stale("fact %s of entity %s is no longer open", closeFactID, f.EntityID)
			}
			f.SupersedesFactID = &closeFactID
		}

		if f.ValidTo == nil {
			var open int64
			if err := s.locking(tx).Model(&models.Fact{}).
				Where("entity_id = ? AND slot = ? AND valid_to IS NULL", f.EntityID, f.Slot).
				Count(&open).Error; err != nil {
				return kgerrors.Transient(err, "count open facts")
			}
			if open != 0 {
				return kgerrors.Invariant("slot %q of entity %s already has %d open fact(s)", f.Slot, f.EntityID, open)
			}
		}

		if err := tx.Create(&f).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return kgerrors.Invariant("concurrent append to entity %s detected: %v", f.EntityID, err)
			}
			return kgerrors.Transient(err, "insert fact")
		}
		return nil
	})

	switch {
	case errors.Is(err, errDuplicate):
		return f, false, nil
	case kgerrors.IsInvariantViolation(err):
		// A concurrent writer with the same key may have won the race.
		if dup, lookupErr := s.FindByIdempotencyKey(ctx, f.IdempotencyKey); lookupErr == nil && dup != nil {
			return *dup, false, nil
		}
		return models.Fact{}, false, err
	case err != nil:
		return models.Fact{}, false, err
	}
	return f, true, nil
}

// locking adds SELECT ... FOR UPDATE where the dialect supports it, so
// concurrent first writers of a slot serialize on the index range.
func (s *GormStore) locking(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "mysql" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// FindByIdempotencyKey implements Store.
func (s *GormStore) FindByIdempotencyKey(ctx context.Context, key string) (*models.Fact, error) {
	var f models.Fact
	if err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).Limit(1).Find(&f).Error; err != nil {
		return nil, kgerrors.Transient(err, "lookup idempotency key")
	}
	if f.ID == "" {
		return nil, nil
	}
	return &f, nil
}

// OpenFact implements Store.
func (s *GormStore) OpenFact(ctx context.Context, entityID, slot string) (*models.Fact, error) {
	var facts []models.Fact
	if err := s.db.WithContext(ctx).
		Where("entity_id = ? AND slot = ? AND valid_to IS NULL", entityID, slot).
		Find(&facts).Error; err != nil {
		return nil, kgerrors.Transient(err, "load open fact")
	}
	switch len(facts) {
	case 0:
		return nil, nil
	case 1:
		return &facts[0], nil
	default:
		return nil, kgerrors.Invariant("slot %q of entity %s has %d open facts", slot, entityID, len(facts))
	}
}

// CurrentView implements Store.
func (s *GormStore) CurrentView(ctx context.Context, entityID string) (models.EntityView, error) {
	var (
		facts []models.Fact
		seq   int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("entity_id = ? AND valid_to IS NULL", entityID).Order("seq").Find(&facts).Error; err != nil {
			return err
		}
		return tx.Model(&models.Fact{}).Where("entity_id = ?", entityID).Select("COALESCE(MAX(seq), 0)").Scan(&seq).Error
	})
	if err != nil {
		return models.EntityView{}, kgerrors.Transient(err, "load current view")
	}

	view := models.EntityView{EntityID: entityID, Seq: seq, Facts: make(map[string]models.Fact, len(facts))}
	seen := make(map[string]bool, len(facts))
	for _, f := range facts {
		if seen[f.Slot] {
			return models.EntityView{}, kgerrors.Invariant("slot %q of entity %s has more than one open fact", f.Slot, entityID)
		}
		seen[f.Slot] = true
		if !f.Retracted {
			view.Facts[f.Slot] = f
		}
	}
	return view, nil
}

// AsOf implements Store.
func (s *GormStore) AsOf(ctx context.Context, entityID string, validAt time.Time, knownAt *time.Time, absorbed ...string) (models.EntityView, error) {
	validAt = models.UTC(validAt)
	q := s.db.WithContext(ctx).Where("entity_id IN ? AND valid_from <= ?", append([]string{entityID}, absorbed...), validAt)
	if knownAt != nil {
		k := models.UTC(*knownAt)
		q = q.Where("recorded_at <= ?", k).
			Where("(valid_to IS NULL OR valid_to > ? OR closed_at > ?)", validAt, k)
	} else {
		q = q.Where("(valid_to IS NULL OR valid_to > ?)", validAt)
	}

	var facts []models.Fact
	if err := q.Order("ledger_offset").Find(&facts).Error; err != nil {
		return models.EntityView{}, kgerrors.Transient(err, "load as-of view")
	}
	own := facts[:0]
	var seq int64
	for _, f := range facts {
		if f.EntityID != entityID {
			if f.Kind == models.SystemFact {
				continue
			}
		} else if f.Seq > seq {
			seq = f.Seq
		}
		own = append(own, f)
	}
	view := resolveSlots(entityID, own)
	view.Seq = seq
	return view, nil
}

// History implements Store.
func (s *GormStore) History(ctx context.Context, entityID, slot string, absorbed ...string) ([]models.Fact, error) {
	q := s.db.WithContext(ctx).Where("entity_id IN ?", append([]string{entityID}, absorbed...))
	if slot != "" {
		q = q.Where("slot = ?", slot)
	}
	var facts []models.Fact
	if err := q.Order("ledger_offset").Find(&facts).Error; err != nil {
		return nil, kgerrors.Transient(err, "load history")
	}
	return facts, nil
}

// GetFact implements Store.
func (s *GormStore) GetFact(ctx context.Context, id string) (models.Fact, error) {
	var f models.Fact
	if err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&f).Error; err != nil {
		return models.Fact{}, kgerrors.Transient(err, "load fact")
	}
	if f.ID == "" {
		return models.Fact{}, kgerrors.NotFound("fact", id)
	}
	return f, nil
}

// Since implements Store.
func (s *GormStore) Since(ctx context.Context, offset int64, limit int) ([]models.Fact, error) {
	var facts []models.Fact
	if err := s.db.WithContext(ctx).
		Where("ledger_offset > ?", offset).
		Order("ledger_offset").
		Limit(limit).
		Find(&facts).Error; err != nil {
		return nil, kgerrors.Transient(err, "read change stream")
	}
	return facts, nil
}

// MaxOffset implements Store.
func (s *GormStore) MaxOffset(ctx context.Context) (int64, error) {
	var max int64
	if err := s.db.WithContext(ctx).Model(&models.Fact{}).
		Select("COALESCE(MAX(ledger_offset), 0)").Scan(&max).Error; err != nil {
		return 0, kgerrors.Transient(err, "read max offset")
	}
	return max, nil
}

// Stats implements Store.
func (s *GormStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx).Model(&models.Fact{})
	if err := db.Count(&st.TotalFacts).Error; err != nil {
		return st, kgerrors.Transient(err, "count facts")
	}
	if err := s.db.WithContext(ctx).Model(&models.Fact{}).Where("valid_to IS NULL AND retracted = ?", false).Count(&st.OpenFacts).Error; err != nil {
		return st, kgerrors.Transient(err, "count open facts")
	}
	if err := s.db.WithContext(ctx).Model(&models.Fact{}).Where("retracted = ?", true).Count(&st.RetractedFacts).Error; err != nil {
		return st, kgerrors.Transient(err, "count retractions")
	}
	max, err := s.MaxOffset(ctx)
	if err != nil {
		return st, err
	}
	st.MaxOffset = max
	return st, nil
}
