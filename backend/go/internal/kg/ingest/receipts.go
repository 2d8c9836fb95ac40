package ingest

import (
	"context"
	"errors"

	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReceiptStore is the durable record of accepted submissions.
type ReceiptStore interface {
	// Claim inserts r and reports false when the key was already taken.
	Claim(ctx context.Context, r models.IngestReceipt) (bool, error)
	// Release removes a queued receipt whose publish failed.
	Release(ctx context.Context, key string) error
	// Finish records the processing outcome of a receipt.
	Finish(ctx context.Context, key, status, entityID, lastError string) error
	Get(ctx context.Context, key string) (models.IngestReceipt, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// GormReceiptStore keeps receipts in ingest_receipts.
type GormReceiptStore struct {
	db *gorm.DB
}

func NewGormReceiptStore(db *gorm.DB) *GormReceiptStore {
	return &GormReceiptStore{db: db}
}

func (s *GormReceiptStore) Claim(ctx context.Context, r models.IngestReceipt) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&r)
	if res.Error != nil {
		return false, kgerrors.Transient(res.Error, "claim receipt")
	}
	return res.RowsAffected == 1, nil
}

func (s *GormReceiptStore) Release(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Where(&models.IngestReceipt{Key: key, Status: models.ReceiptQueued}).
		Delete(&models.IngestReceipt{}).Error
	return kgerrors.Transient(err, "release receipt")
}

func (s *GormReceiptStore) Finish(ctx context.Context, key, status, entityID, lastError string) error {
	err := s.db.WithContext(ctx).Model(&models.IngestReceipt{}).Where(&models.IngestReceipt{Key: key}).
		Updates(map[string]interface{}{
			"status":     status,
			"entity_id":  entityID,
			"last_error": lastError,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error
	return kgerrors.Transient(err, "finish receipt")
}

func (s *GormReceiptStore) Get(ctx context.Context, key string) (models.IngestReceipt, error) {
	var r models.IngestReceipt
	err := s.db.WithContext(ctx).Where(&models.IngestReceipt{Key: key}).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r, kgerrors.NotFound("receipt", key)
	}
	return r, kgerrors.Transient(err, "get receipt")
}

func (s *GormReceiptStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&models.IngestReceipt{}).
		Select("status, count(*) AS n").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, kgerrors.Transient(err, "count receipts")
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
