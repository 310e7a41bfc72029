package skillcache

import "strings"

// Breadcrumb is the parsed dotted suffix of a skill_id: topic.concept.
// subconcept.exercise. Breadcrumbs with fewer than 4 segments are still
// valid skill identifiers (the skill still participates as a primary) but
// disable the topical cascade, per the wire contract.
type Breadcrumb struct {
	Subject    string
	Grade      int
	Topic      string
	Concept    string
	Subconcept string
	Exercise   string
	OK         bool // true iff all four segments were present
}

// ParseSkillID splits a skill_id of the form "<subject>_<grade>_<breadcrumb>"
// into its subject, grade, and breadcrumb segments. Segments are treated as
// opaque string tokens, not required to be numeric — only the wire format's
// separators are interpreted. Returns ok=false if the id doesn't have all
// three components (e.g. "math_3").
func ParseSkillID(id string) (subject string, grade string, breadcrumb string, ok bool) {
	parts := strings.SplitN(id, "_", 3)
	if len(parts) < 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// ParseBreadcrumb parses the dotted breadcrumb suffix of a skill_id into
// its hierarchy segments. OK is false when fewer than four dot-separated
// segments are present; the caller should still use the skill as a
// primary but skip the topical-neighbour cascade for it.
func ParseBreadcrumb(skillID string, gradeLevel int) Breadcrumb {
	subject, _, breadcrumb, ok := ParseSkillID(skillID)
	if !ok {
		return Breadcrumb{}
	}
	segs := strings.Split(breadcrumb, ".")
	b := Breadcrumb{Subject: subject, Grade: gradeLevel}
	if len(segs) > 0 {
		b.Topic = segs[0]
	}
	if len(segs) > 1 {
		b.Concept = segs[1]
	}
	if len(segs) > 2 {
		b.Subconcept = segs[2]
	}
	if len(segs) > 3 {
		b.Exercise = segs[3]
	}
	b.OK = len(segs) >= 4
	return b
}
