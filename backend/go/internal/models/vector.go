package models

import "time"

// VectorEntry is one embedded chunk of a text fact.
// Entries are retired, never deleted, so point-in-time search keeps working.
type VectorEntry struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	FactID      string     `gorm:"size:36;index" json:"factId"`
	EntityID    string     `gorm:"size:36;index" json:"entityId"`
	EntityType  EntityType `gorm:"size:32" json:"entityType"`
	Attribute   string     `gorm:"size:128" json:"attribute"`
	ChunkIndex  int        `json:"chunkIndex"`
	TextChunk   string     `gorm:"type:text" json:"textChunk"`
	ContentHash string     `gorm:"size:64;index" json:"contentHash"`
	Model       string     `gorm:"size:128" json:"model"`
	ValidFrom   time.Time  `json:"validFrom"`
	RetiredAt   *time.Time `gorm:"index" json:"retiredAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// TableName 指定表名。
func (VectorEntry) TableName() string { return "vector_entries" }

// VisibleAt reports whether the entry answers a point-in-time query at t.
func (e VectorEntry) VisibleAt(t time.Time) bool {
	if e.ValidFrom.After(t) {
		return false
	}
	return e.RetiredAt == nil || e.RetiredAt.After(t)
}

// SearchHit is one ranked semantic search result.
type SearchHit struct {
	EntryID    string     `json:"entryId"`
	EntityID   string     `json:"entityId"`
	EntityType EntityType `json:"entityType"`
	FactID     string     `json:"factId"`
	Attribute  string     `json:"attribute"`
	TextChunk  string     `json:"textChunk"`
	Score      float32    `json:"score"`
	RetiredAt  *time.Time `json:"retiredAt,omitempty"`
}
