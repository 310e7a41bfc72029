// Package skillcache builds and exposes the process-wide, read-only index
// of every curriculum skill. It is populated once at startup from the
// persistence adapter's raw skill documents and never mutated afterward.
package skillcache

// Skill is a single curriculum skill node. Immutable after load.
type Skill struct {
	ID            string
	Name          string
	GradeLevel    int // K=0 .. 12
	Prerequisites []string
	ForgettingRate float64
	Difficulty    float64
}

// RawSkillDoc is the shape of a curriculum document as returned by the
// persistence adapter's ListSkillDocuments, before flattening. Subject
// documents may nest grade -> topic -> concept -> exercise; Children holds
// the nested tree. A leaf (Children == nil) is a skill node, and its own
// Breadcrumb is used verbatim as the skill_id suffix.
type RawSkillDoc struct {
	Subject       string
	Breadcrumb    string // a leaf's full dotted breadcrumb, e.g. "1.2.3.4"; unused on intermediate nodes
	GradeLevel    int
	Name          string
	ForgettingRate float64
	Difficulty    float64
	Prerequisites []string // breadcrumbs, relative to this node's subject+grade
	Children      []RawSkillDoc
}
