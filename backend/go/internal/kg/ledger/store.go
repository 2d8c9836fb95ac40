// Package ledger is the bi-temporal, append-only fact store.
//
// Facts are only inserted. Supersession closes the prior open fact of a slot
// by setting its ValidTo and successor link once; nothing else about a stored
// fact ever changes.
package ledger

import (
	"context"
	"time"

	"LegisGraph/backend/go/internal/models"
)

// Store is the fact ledger. Implementations must be safe for concurrent readers.
type Store interface {
	// AppendFact inserts f, closing closeFactID (if set) at f.ValidFrom in the
	// same transaction. It is idempotent on f.IdempotencyKey: a repeated key
	// returns the stored fact with created=false.
	AppendFact(ctx context.Context, f models.Fact, closeFactID string) (stored models.Fact, created bool, err error)
	// FindByIdempotencyKey returns nil when the key is unknown.
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Fact, error)
	// OpenFact returns the current fact of a slot, nil when there is none.
	// Retractions are returned too, since they occupy the slot.
	OpenFact(ctx context.Context, entityID, slot string) (*models.Fact, error)
	// CurrentView returns every open, non-retracted fact of the entity.
	CurrentView(ctx context.Context, entityID string) (models.EntityView, error)
	// AsOf resolves the entity at validAt. With knownAt set, only what the
	// ledger knew at knownAt is considered. Facts of absorbed entities (merged
	// into entityID) compete in the same slots; their system facts do not.
	AsOf(ctx context.Context, entityID string, validAt time.Time, knownAt *time.Time, absorbed ...string) (models.EntityView, error)
	// History lists facts of one slot (or all slots when slot is empty) in
	// ledger order, including those of absorbed entities.
	History(ctx context.Context, entityID, slot string, absorbed ...string) ([]models.Fact, error)
	GetFact(ctx context.Context, id string) (models.Fact, error)
	// Since returns facts with Offset > offset in offset order.
	Since(ctx context.Context, offset int64, limit int) ([]models.Fact, error)
	MaxOffset(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (Stats, error)
}

// Stats summarises the ledger.
type Stats struct {
	TotalFacts     int64 `json:"totalFacts"`
	OpenFacts      int64 `json:"openFacts"`
	RetractedFacts int64 `json:"retractedFacts"`
	MaxOffset      int64 `json:"maxOffset"`
}
