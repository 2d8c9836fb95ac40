package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Candidate is one extraction result emitted by an upstream producer.
// It is validated against the schema of its Type before resolution.
type Candidate struct {
	Type        EntityType           `json:"type"`
	NaturalKey  string               `json:"naturalKey,omitempty"`
	SourceURL   string               `json:"sourceUrl,omitempty"`
	SourceID    string               `json:"sourceId"`
	ObservedAt  time.Time            `json:"observedAt"`
	ContentHash string               `json:"contentHash,omitempty"`
	Attributes  []AttributeAssertion `json:"attributes,omitempty"`
	Edges       []EdgeAssertion      `json:"edges,omitempty"`
	Hints       *ResolutionHints     `json:"hints,omitempty"`
}

// AttributeAssertion sets (or retracts) one attribute.
// ValidFrom defaults to the candidate's ObservedAt.
type AttributeAssertion struct {
	Name      string     `json:"name"`
	Value     string     `json:"value,omitempty"`
	ValidFrom *time.Time `json:"validFrom,omitempty"`
	Retract   bool       `json:"retract,omitempty"`
}

// EdgeAssertion asserts (or retracts) a relationship to another entity.
type EdgeAssertion struct {
	Label     string     `json:"label"`
	Target    TargetRef  `json:"target"`
	ValidFrom *time.Time `json:"validFrom,omitempty"`
	Retract   bool       `json:"retract,omitempty"`
}

// TargetRef identifies the far end of an edge by natural key.
type TargetRef struct {
	Type       EntityType `json:"type"`
	NaturalKey string     `json:"naturalKey"`
	Name       string     `json:"name,omitempty"`
}

// ResolutionHints carries the optional fuzzy attributes used by the resolver.
type ResolutionHints struct {
	Name         string     `json:"name,omitempty"`
	Jurisdiction string     `json:"jurisdiction,omitempty"`
	ActiveFrom   *time.Time `json:"activeFrom,omitempty"`
	ActiveTo     *time.Time `json:"activeTo,omitempty"`
	ExternalIDs  []string   `json:"externalIds,omitempty"`
}

// Normalize fills derived fields in place: a url-derived natural key, the
// normalized key forms, UTC timestamps and a content hash when none was given.
func (c *Candidate) Normalize() error {
	if c.NaturalKey == "" && c.SourceURL != "" {
		c.NaturalKey = "url:" + StableID(c.SourceURL)
	}
	key, err := NormalizeNaturalKey(c.NaturalKey)
	if err != nil {
		return err
	}
	c.NaturalKey = key
	if !c.ObservedAt.IsZero() {
		c.ObservedAt = UTC(c.ObservedAt)
	}
	for i := range c.Attributes {
		c.Attributes[i].Name = strings.TrimSpace(c.Attributes[i].Name)
		if c.Attributes[i].ValidFrom != nil {
			t := UTC(*c.Attributes[i].ValidFrom)
			c.Attributes[i].ValidFrom = &t
		}
	}
	for i := range c.Edges {
		e := &c.Edges[i]
		e.Label = strings.ToUpper(strings.TrimSpace(e.Label))
		tk, err := NormalizeNaturalKey(e.Target.NaturalKey)
		if err != nil {
			return fmt.Errorf("edge %d target: %w", i, err)
		}
		e.Target.NaturalKey = tk
		if e.ValidFrom != nil {
			t := UTC(*e.ValidFrom)
			e.ValidFrom = &t
		}
	}
	if c.ContentHash == "" {
		c.ContentHash = c.computeContentHash()
	}
	return nil
}

// computeContentHash hashes everything that makes two submissions the same observation.
func (c *Candidate) computeContentHash() string {
	payload, _ := json.Marshal(struct {
		Type       EntityType           `json:"t"`
		NaturalKey string               `json:"k"`
		ObservedAt time.Time            `json:"o"`
		Attributes []AttributeAssertion `json:"a"`
		Edges      []EdgeAssertion      `json:"e"`
	}{c.Type, c.NaturalKey, c.ObservedAt, c.Attributes, c.Edges})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Validate checks the candidate against the closed schema of its type.
// Call Normalize first.
func (c *Candidate) Validate() error {
	schema, ok := SchemaFor(c.Type)
	if !ok {
		return fmt.Errorf("unknown entity type %q", c.Type)
	}
	if strings.TrimSpace(c.SourceID) == "" {
		return fmt.Errorf("sourceId is required")
	}
	if c.ObservedAt.IsZero() {
		return fmt.Errorf("observedAt is required")
	}
	if c.ContentHash == "" {
		return fmt.Errorf("contentHash is required")
	}
	seen := make(map[string]bool)
	for _, a := range c.Attributes {
		if IsSystemAttribute(a.Name) {
			return fmt.Errorf("attribute %q is reserved", a.Name)
		}
		if _, ok := schema.Attributes[a.Name]; !ok {
			return fmt.Errorf("attribute %q is not allowed on %s", a.Name, c.Type)
		}
		if seen[a.Name] {
			return fmt.Errorf("attribute %q asserted twice", a.Name)
		}
		seen[a.Name] = true
		if a.Retract && a.Value != "" {
			return fmt.Errorf("retraction of %q must not carry a value", a.Name)
		}
	}
	for _, e := range c.Edges {
		if !schema.AllowsEdge(e.Label, e.Target.Type) {
			return fmt.Errorf("edge %s from %s to %q is not allowed", e.Label, c.Type, e.Target.Type)
		}
	}
	if c.Hints != nil && c.Hints.ActiveFrom != nil && c.Hints.ActiveTo != nil &&
		c.Hints.ActiveTo.Before(*c.Hints.ActiveFrom) {
		return fmt.Errorf("hints.activeTo precedes hints.activeFrom")
	}
	return nil
}

// ReceiptKey is the submission-level idempotency key (sourceId + contentHash).
func (c *Candidate) ReceiptKey() string {
	h := sha256.New()
	h.Write([]byte(c.SourceID))
	h.Write([]byte{0})
	h.Write([]byte(c.ContentHash))
	return hex.EncodeToString(h.Sum(nil))
}

// IdentityKey returns the registry key of the candidate's subject.
func (c *Candidate) IdentityKey() string {
	return IdentityKeyFor(c.Type, c.NaturalKey)
}
