package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// FactKind distinguishes node properties, relationships and ledger bookkeeping.
type FactKind string

const (
	AttributeFact FactKind = "attribute"
	EdgeFact      FactKind = "edge"
	SystemFact    FactKind = "system"
)

// System attributes written by merges.
const (
	AttrMergedInto       = "_merged_into"
	AttrMergedFromPrefix = "_merged_from:"
)

// Fact is one bi-temporal assertion in the ledger.
// ValidFrom/ValidTo is world time, RecordedAt/ClosedAt is system time.
// Rows are only ever inserted; closing a fact sets ValidTo, ClosedAt and
// SupersededByFactID once. A backfilled fact is inserted already closed and
// links the fact that outranked it through SupersededByFactID.
type Fact struct {
	Offset             int64      `gorm:"column:ledger_offset;primaryKey;autoIncrement" json:"offset"`
	ID                 string     `gorm:"size:36;uniqueIndex" json:"id"`
	EntityID           string     `gorm:"size:36;not null;uniqueIndex:idx_fact_entity_seq,priority:1;index:idx_fact_slot,priority:1" json:"entityId"`
	Seq                int64      `gorm:"not null;uniqueIndex:idx_fact_entity_seq,priority:2" json:"seq"`
	Kind               FactKind   `gorm:"size:16" json:"kind"`
	Attribute          string     `gorm:"size:128" json:"attribute"`
	Slot               string     `gorm:"size:255;index:idx_fact_slot,priority:2" json:"slot"`
	Value              string     `gorm:"type:text" json:"value,omitempty"`
	TargetEntityID     *string    `gorm:"size:36;index" json:"targetEntityId,omitempty"`
	Retracted          bool       `json:"retracted,omitempty"`
	SourceID           string     `gorm:"size:255" json:"sourceId"`
	SourceRank         int        `json:"sourceRank"`
	ValidFrom          time.Time  `gorm:"index" json:"validFrom"`
	ValidTo            *time.Time `gorm:"index:idx_fact_slot,priority:3" json:"validTo,omitempty"`
	RecordedAt         time.Time  `json:"recordedAt"`
	ClosedAt           *time.Time `json:"closedAt,omitempty"`
	SupersedesFactID   *string    `gorm:"size:36" json:"supersedesFactId,omitempty"`
	SupersededByFactID *string    `gorm:"size:36" json:"supersededByFactId,omitempty"`
	IdempotencyKey     string     `gorm:"size:64;uniqueIndex" json:"idempotencyKey"`
}

// TableName 指定表名。
func (Fact) TableName() string { return "facts" }

// Open reports whether the fact is current (no ValidTo).
func (f Fact) Open() bool { return f.ValidTo == nil }

// EdgeSlot is the slot key of an edge fact. Edges are single-valued per (label, target).
func EdgeSlot(label, targetEntityID string) string {
	return label + "->" + targetEntityID
}

// FactIdempotencyKey derives the dedupe key for a fact from its source, content and slot.
func FactIdempotencyKey(sourceID, contentHash, slot string) string {
	h := sha256.New()
	h.Write([]byte(sourceID))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	h.Write([]byte{0})
	h.Write([]byte(slot))
	return hex.EncodeToString(h.Sum(nil))
}

// UTC normalizes timestamps before they reach the ledger. MySQL keeps microseconds.
func UTC(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// ParseTime accepts RFC 3339 or a plain date. An empty string yields nil.
func ParseTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("cannot parse time %q", raw)
}

// EntityView is the per-slot resolution of an entity's facts at some instant.
// Seq is the entity's ledger high-water mark when the view was read.
type EntityView struct {
	EntityID string          `json:"entityId"`
	Seq      int64           `json:"seq"`
	Facts    map[string]Fact `json:"facts"`
}

// Attributes returns attribute facts keyed by attribute name.
func (v EntityView) Attributes() map[string]Fact {
	out := make(map[string]Fact)
	for _, f := range v.Facts {
		if f.Kind == AttributeFact {
			out[f.Attribute] = f
		}
	}
	return out
}

// Edges returns edge facts ordered by slot.
func (v EntityView) Edges() []Fact {
	var out []Fact
	for _, f := range v.Facts {
		if f.Kind == EdgeFact {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// MergedInto returns the winner id if the view carries a merge marker.
func (v EntityView) MergedInto() (string, bool) {
	f, ok := v.Facts[AttrMergedInto]
	if !ok || f.Value == "" {
		return "", false
	}
	return f.Value, true
}

// IsSystemAttribute reports whether name is reserved for ledger bookkeeping.
func IsSystemAttribute(name string) bool {
	return strings.HasPrefix(name, "_")
}
