package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// EntityType is the closed set of kinds the graph knows about.
type EntityType string

const (
	Legislator EntityType = "Legislator"
	Bill       EntityType = "Bill"
	Committee  EntityType = "Committee"
	Vote       EntityType = "Vote"
	Topic      EntityType = "Topic"
	SocialPost EntityType = "SocialPost"
)

// EntityTypes lists every valid EntityType in a fixed order.
var EntityTypes = []EntityType{Legislator, Bill, Committee, Vote, Topic, SocialPost}

// ParseEntityType accepts the canonical spelling case-insensitively.
func ParseEntityType(s string) (EntityType, error) {
	for _, t := range EntityTypes {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// Valid reports whether t is one of the known types.
func (t EntityType) Valid() bool {
	_, err := ParseEntityType(string(t))
	return err == nil && string(t) != ""
}

// CanonicalEntity is the single deduplicated identity for a real-world actor.
// Rows are never deleted. MergedInto is set once when the entity loses a merge.
type CanonicalEntity struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Type         EntityType `gorm:"size:32;index" json:"type"`
	CreatedAt    time.Time  `json:"createdAt"`
	PendingMerge bool       `gorm:"index" json:"pendingMerge"`
	MergedInto   *string    `gorm:"size:36;index" json:"mergedInto,omitempty"`
}

// TableName 指定表名。
func (CanonicalEntity) TableName() string { return "canonical_entities" }

// IdentityKey maps a (type, normalized natural key) pair to an entity id.
// Key is the primary key, so registration is a compare-and-register.
// OwnerEntityID is the entity the key was first registered for: merges move
// EntityID, an unmerge moves it back to the owner's surviving entity.
type IdentityKey struct {
	Key           string     `gorm:"primaryKey;size:255" json:"key"`
	EntityType    EntityType `gorm:"size:32" json:"entityType"`
	NaturalKey    string     `gorm:"size:255" json:"naturalKey"`
	EntityID      string     `gorm:"size:36;index" json:"entityId"`
	OwnerEntityID string     `gorm:"size:36;index" json:"ownerEntityId"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// TableName 指定表名。
func (IdentityKey) TableName() string { return "identity_keys" }

// EntityProfile is the blocking index used for bounded fuzzy matching.
type EntityProfile struct {
	EntityID       string         `gorm:"primaryKey;size:36" json:"entityId"`
	Type           EntityType     `gorm:"size:32;index:idx_profile_block,priority:1" json:"type"`
	NameInitial    string         `gorm:"size:8;index:idx_profile_block,priority:2" json:"nameInitial"`
	NormalizedName string         `gorm:"size:255" json:"normalizedName"`
	Jurisdiction   string         `gorm:"size:64" json:"jurisdiction,omitempty"`
	ActiveFrom     *time.Time     `json:"activeFrom,omitempty"`
	ActiveTo       *time.Time     `json:"activeTo,omitempty"`
	ExternalIDs    datatypes.JSON `json:"externalIds,omitempty"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// TableName 指定表名。
func (EntityProfile) TableName() string { return "entity_profiles" }

// NormalizeNaturalKey lowercases the scheme of a "scheme:value" key and trims both halves.
func NormalizeNaturalKey(raw string) (string, error) {
	scheme, value, ok := strings.Cut(strings.TrimSpace(raw), ":")
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	value = strings.Join(strings.Fields(value), " ")
	if !ok || scheme == "" || value == "" {
		return "", fmt.Errorf("natural key %q must have the form scheme:value", raw)
	}
	return scheme + ":" + value, nil
}

// IdentityKeyFor builds the registry key for an already-normalized natural key.
func IdentityKeyFor(t EntityType, normalizedKey string) string {
	return string(t) + "|" + normalizedKey
}

// StableID derives a deterministic identifier from a document URL.
func StableID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
