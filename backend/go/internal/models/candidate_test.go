package models

import (
	"strings"
	"testing"
	"time"
)

func validCandidate() Candidate {
	return Candidate{
		Type:       Legislator,
		NaturalKey: " BioguideID : A000360 ",
		SourceID:   "govinfo:member/A000360",
		ObservedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Attributes: []AttributeAssertion{{Name: "party", Value: "Democrat"}},
		Edges: []EdgeAssertion{{
			Label:  "sponsored",
			Target: TargetRef{Type: Bill, NaturalKey: "billId:hr1-118"},
		}},
	}
}

func TestNormalizeCandidate(t *testing.T) {
	c := validCandidate()
	if err := c.Normalize(); err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if c.NaturalKey != "bioguideid:A000360" {
		t.Errorf("unexpected natural key %q", c.NaturalKey)
	}
	if c.Edges[0].Label != "SPONSORED" {
		t.Errorf("expected edge label to be upper-cased, got %q", c.Edges[0].Label)
	}
	if len(c.ContentHash) != 64 {
		t.Errorf("expected a sha256 content hash, got %q", c.ContentHash)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate returned error: %v", err)
	}
}

func TestContentHashIsStable(t *testing.T) {
	a, b := validCandidate(), validCandidate()
	_ = a.Normalize()
	_ = b.Normalize()
	if a.ContentHash != b.ContentHash {
		t.Errorf("identical candidates produced different hashes")
	}
	c := validCandidate()
	c.ObservedAt = c.ObservedAt.Add(time.Hour)
	_ = c.Normalize()
	if c.ContentHash == a.ContentHash {
		t.Errorf("a later observation must not hash like the earlier one")
	}
	if a.ReceiptKey() != b.ReceiptKey() {
		t.Errorf("receipt keys differ for identical candidates")
	}
}

func TestNormalizeDerivesKeyFromURL(t *testing.T) {
	c := Candidate{Type: SocialPost, SourceURL: "https://example.org/post/1", SourceID: "crawler", ObservedAt: time.Now()}
	if err := c.Normalize(); err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if !strings.HasPrefix(c.NaturalKey, "url:") || len(c.NaturalKey) != len("url:")+64 {
		t.Errorf("unexpected url-derived key %q", c.NaturalKey)
	}
}

func TestValidateRejectsOutOfSchemaPayloads(t *testing.T) {
	cases := map[string]func(*Candidate){
		"unknown attribute": func(c *Candidate) { c.Attributes = append(c.Attributes, AttributeAssertion{Name: "shoe_size", Value: "9"}) },
		"reserved":          func(c *Candidate) { c.Attributes = []AttributeAssertion{{Name: "_merged_into", Value: "x"}} },
		"duplicate":         func(c *Candidate) { c.Attributes = append(c.Attributes, AttributeAssertion{Name: "party", Value: "x"}) },
		"bad edge target":   func(c *Candidate) { c.Edges[0].Target.Type = Topic },
		"missing source":    func(c *Candidate) { c.SourceID = "" },
		"retract with value": func(c *Candidate) {
			c.Attributes = []AttributeAssertion{{Name: "party", Value: "x", Retract: true}}
		},
	}
	for name, mutate := range cases {
		c := validCandidate()
		mutate(&c)
		if err := c.Normalize(); err != nil {
			t.Fatalf("%s: Normalize returned error: %v", name, err)
		}
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestNormalizeNaturalKeyRequiresScheme(t *testing.T) {
	for _, raw := range []string{"A000360", ":A000360", "bioguideId:", ""} {
		if _, err := NormalizeNaturalKey(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestVectorEntryVisibleAt(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(48 * time.Hour)
	e := VectorEntry{ValidFrom: t1, RetiredAt: &t2}
	if !e.VisibleAt(t1.Add(time.Hour)) {
		t.Errorf("entry should be visible between validFrom and retiredAt")
	}
	if e.VisibleAt(t2) {
		t.Errorf("entry should not be visible at its retirement instant")
	}
	if e.VisibleAt(t1.Add(-time.Hour)) {
		t.Errorf("entry should not be visible before validFrom")
	}
}
