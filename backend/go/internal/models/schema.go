package models

// AttributeSpec describes one allowed attribute of an entity type.
type AttributeSpec struct {
	// Text marks free-text attributes that are embedded into the vector index.
	Text bool
}

// EdgeSpec lists the entity types an edge label may point at.
type EdgeSpec struct {
	Targets []EntityType
}

// TypeSchema is the closed payload shape accepted for an entity type.
type TypeSchema struct {
	Attributes map[string]AttributeSpec
	Edges      map[string]EdgeSpec
}

var specPlain = AttributeSpec{}
var specText = AttributeSpec{Text: true}

var schemas = map[EntityType]TypeSchema{
	Legislator: {
		Attributes: map[string]AttributeSpec{
			"name": specPlain, "party": specPlain, "state": specPlain, "district": specPlain,
			"chamber": specPlain, "bioguide_id": specPlain, "biography": specText,
		},
		Edges: map[string]EdgeSpec{
			"SPONSORED":   {Targets: []EntityType{Bill}},
			"COSPONSORED": {Targets: []EntityType{Bill}},
			"MEMBER_OF":   {Targets: []EntityType{Committee}},
			"CAST_VOTE":   {Targets: []EntityType{Vote}},
			"AUTHORED":    {Targets: []EntityType{SocialPost}},
		},
	},
	Bill: {
		Attributes: map[string]AttributeSpec{
			"number": specPlain, "title": specPlain, "congress": specPlain, "status": specPlain,
			"introduced_at": specPlain, "url": specPlain, "summary": specText, "content": specText,
		},
		Edges: map[string]EdgeSpec{
			"REFERRED_TO": {Targets: []EntityType{Committee}},
			"ABOUT":       {Targets: []EntityType{Topic}},
			"AMENDS":      {Targets: []EntityType{Bill}},
		},
	},
	Committee: {
		Attributes: map[string]AttributeSpec{
			"name": specPlain, "chamber": specPlain, "code": specPlain, "jurisdiction": specText,
		},
		Edges: map[string]EdgeSpec{
			"SUBCOMMITTEE_OF": {Targets: []EntityType{Committee}},
		},
	},
	Vote: {
		Attributes: map[string]AttributeSpec{
			"roll_call": specPlain, "question": specPlain, "result": specPlain, "held_at": specPlain,
			"chamber": specPlain, "position": specPlain,
		},
		Edges: map[string]EdgeSpec{
			"ON_BILL": {Targets: []EntityType{Bill}},
		},
	},
	Topic: {
		Attributes: map[string]AttributeSpec{
			"label": specPlain, "description": specText,
		},
		Edges: map[string]EdgeSpec{
			"RELATED_TO": {Targets: []EntityType{Topic}},
		},
	},
	SocialPost: {
		Attributes: map[string]AttributeSpec{
			"platform": specPlain, "post_id": specPlain, "posted_at": specPlain, "url": specPlain,
			"sentiment": specPlain, "stance": specPlain, "content": specText,
		},
		Edges: map[string]EdgeSpec{
			"MENTIONS": {Targets: []EntityType{Legislator, Bill, Committee}},
			"ABOUT":    {Targets: []EntityType{Topic}},
		},
	},
}

// SchemaFor returns the schema of t and whether t is known.
func SchemaFor(t EntityType) (TypeSchema, bool) {
	s, ok := schemas[t]
	return s, ok
}

// IsTextAttribute reports whether attr holds free text for entities of type t.
func IsTextAttribute(t EntityType, attr string) bool {
	s, ok := schemas[t]
	if !ok {
		return false
	}
	return s.Attributes[attr].Text
}

// AllowsEdge reports whether label may point from t to target.
func (s TypeSchema) AllowsEdge(label string, target EntityType) bool {
	spec, ok := s.Edges[label]
	if !ok {
		return false
	}
	for _, t := range spec.Targets {
		if t == target {
			return true
		}
	}
	return false
}
