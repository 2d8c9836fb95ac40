package follower

import (
	"context"
	"time"

	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CursorStore keeps the durable ledger offset of each follower.
type CursorStore interface {
	Load(ctx context.Context, name string) (int64, error)
	Save(ctx context.Context, name string, offset int64) error
}

// GormCursorStore stores cursors in the projection_cursors table.
type GormCursorStore struct {
	db *gorm.DB
}

func NewGormCursorStore(db *gorm.DB) *GormCursorStore {
	return &GormCursorStore{db: db}
}

// Load returns 0 for a follower that never saved a cursor.
func (s *GormCursorStore) Load(ctx context.Context, name string) (int64, error) {
	var c models.ProjectionCursor
	if err := s.db.WithContext(ctx).Where("name = ?", name).Limit(1).Find(&c).Error; err != nil {
		return 0, kgerrors.Transient(err, "load cursor")
	}
	return c.Offset, nil
}

// Save upserts the cursor.
func (s *GormCursorStore) Save(ctx context.Context, name string, offset int64) error {
	c := models.ProjectionCursor{Name: name, Offset: offset, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"ledger_offset", "updated_at"}),
	}).Create(&c).Error
	return kgerrors.Transient(err, "save cursor")
}
