package models

import "time"

// Receipt statuses.
const (
	ReceiptQueued   = "queued"
	ReceiptApplied  = "applied"
	ReceiptRejected = "rejected"
)

// IngestReceipt records that a (sourceId, contentHash) submission was accepted.
type IngestReceipt struct {
	Key         string    `gorm:"primaryKey;size:64" json:"key"`
	SourceID    string    `gorm:"size:255" json:"sourceId"`
	ContentHash string    `gorm:"size:128" json:"contentHash"`
	Status      string    `gorm:"size:16;index" json:"status"`
	EntityID    string    `gorm:"size:36" json:"entityId,omitempty"`
	Attempts    int       `json:"attempts"`
	LastError   string    `gorm:"type:text" json:"lastError,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableName 指定表名。
func (IngestReceipt) TableName() string { return "ingest_receipts" }

// ProjectionCursor is the durable ledger offset of one follower.
type ProjectionCursor struct {
	Name      string    `gorm:"primaryKey;size:64" json:"name"`
	Offset    int64     `gorm:"column:ledger_offset" json:"offset"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名。
func (ProjectionCursor) TableName() string { return "projection_cursors" }

// EmbeddingRecord is a content-addressed embedding: one row per (model, text) hash.
type EmbeddingRecord struct {
	ContentHash string    `gorm:"primaryKey;size:64" json:"contentHash"`
	Model       string    `gorm:"size:128" json:"model"`
	Dim         int       `json:"dim"`
	Vector      []byte    `gorm:"type:blob" json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TableName 指定表名。
func (EmbeddingRecord) TableName() string { return "embedding_cache" }

// AllTables lists every relational model for migration.
func AllTables() []interface{} {
	return []interface{}{
		&CanonicalEntity{},
		&IdentityKey{},
		&EntityProfile{},
		&Fact{},
		&IngestReceipt{},
		&ProjectionCursor{},
		&EmbeddingRecord{},
		&VectorEntry{},
	}
}

// Disambiguation request statuses.
const (
	DisambiguationOpen     = "open"
	DisambiguationResolved = "resolved"
)

// DisambiguationRequest is emitted when a fuzzy match could not be confirmed.
// It is stored outside the ledger, in the disambiguation side channel.
type DisambiguationRequest struct {
	ID           string           `bson:"_id" json:"id"`
	EntityID     string           `bson:"entity_id" json:"entityId"`
	EntityType   EntityType       `bson:"entity_type" json:"entityType"`
	IdentityKey  string           `bson:"identity_key" json:"identityKey"`
	SourceID     string           `bson:"source_id" json:"sourceId"`
	Name         string           `bson:"name" json:"name"`
	Candidates   []MatchCandidate `bson:"candidates" json:"candidates"`
	Status       string           `bson:"status" json:"status"`
	ResolvedWith string           `bson:"resolved_with,omitempty" json:"resolvedWith,omitempty"`
	CreatedAt    time.Time        `bson:"created_at" json:"createdAt"`
	ResolvedAt   *time.Time       `bson:"resolved_at,omitempty" json:"resolvedAt,omitempty"`
}

// MatchCandidate is an existing entity that scored above the fuzzy threshold.
type MatchCandidate struct {
	EntityID string  `bson:"entity_id" json:"entityId"`
	Name     string  `bson:"name" json:"name"`
	Score    float64 `bson:"score" json:"score"`
}
