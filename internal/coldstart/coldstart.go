// Package coldstart implements the cold-start stratification applied when
// a new user is created: per-skill memory_strength is assigned based on
// the skill's grade relative to the student's declared grade.
package coldstart

import (
	"github.com/abhisek/dashsystem/internal/memorymodel"
	"github.com/abhisek/dashsystem/internal/persistence"
	"github.com/abhisek/dashsystem/internal/skillcache"
)

const (
	// BelowGradeStrength is assigned to skills below the student's grade:
	// assumed mastered, still decayable and revisable downward.
	BelowGradeStrength = 0.9
	// AtGradeStrength is the default for skills at the student's grade:
	// ready to learn.
	AtGradeStrength = 0.0
)

// SyntheticQuestionID is the attempt appended to history after cold start.
const SyntheticQuestionID = "cold_start_init"

// Plan is the result of computing cold-start strengths: per-skill updates
// to write (below- and above-grade skills only — at-grade skills already
// hold the document's zero-value default and need no write) plus the
// synthetic attempt to append.
type Plan struct {
	Updates []persistence.SkillUpdate
	Attempt persistence.QuestionAttempt
}

// Strengths collapses Updates into the map[string]float64 shape expected by
// persistence.Adapter.SetSkillStrengths, the write path that leaves
// practice_count and last_practice_time untouched (§4.5).
func (p Plan) Strengths() map[string]float64 {
	out := make(map[string]float64, len(p.Updates))
	for _, u := range p.Updates {
		out[u.SkillID] = u.MemoryStrength
	}
	return out
}

// Compute builds the cold-start plan for a student entering at userGrade,
// given every skill in the cache.
func Compute(skills []skillcache.Skill, userGrade int) Plan {
	var updates []persistence.SkillUpdate
	var touchedIDs []string

	for _, s := range skills {
		switch {
		case s.GradeLevel < userGrade:
			updates = append(updates, persistence.SkillUpdate{SkillID: s.ID, MemoryStrength: BelowGradeStrength})
			touchedIDs = append(touchedIDs, s.ID)
		case s.GradeLevel > userGrade:
			updates = append(updates, persistence.SkillUpdate{SkillID: s.ID, MemoryStrength: memorymodel.Locked})
			touchedIDs = append(touchedIDs, s.ID)
		default:
			// At grade: stays at the document default (0.0). No write needed.
		}
	}

	return Plan{
		Updates: updates,
		Attempt: persistence.QuestionAttempt{
			QuestionID:          SyntheticQuestionID,
			SkillIDs:            touchedIDs,
			IsCorrect:           true,
			ResponseTimeSeconds: 0,
			TimePenaltyApplied:  false,
		},
	}
}
