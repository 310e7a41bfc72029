// Package updateengine implements record_attempt: the atomic multi-skill
// update applied after a student answers a question. Directly tested
// skills get the full learning-rate update; their prerequisite closure
// gets a small boost (on a correct answer only); breadcrumb-adjacent
// skills get a smaller topical cascade. All three phases are assembled
// into a single bulk write so a reader of the profile never observes a
// partially-applied answer.
package updateengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/abhisek/dashsystem/internal/dasherr"
	"github.com/abhisek/dashsystem/internal/memorymodel"
	"github.com/abhisek/dashsystem/internal/persistence"
	"github.com/abhisek/dashsystem/internal/skillcache"
)

// Engine applies record_attempt against a skill cache and persistence
// adapter.
type Engine struct {
	cache   *skillcache.Cache
	adapter persistence.Adapter
	logger  *slog.Logger

	params memorymodel.Params
}

// New creates an Engine backed by cache and adapter, defaulting its
// tunables to memorymodel.Default(). Use SetParams to apply an
// internal/config override.
func New(cache *skillcache.Cache, adapter persistence.Adapter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cache: cache, adapter: adapter, logger: logger, params: memorymodel.Default()}
}

// SetParams overrides the engine's tunable thresholds and rates.
func (e *Engine) SetParams(p memorymodel.Params) { e.params = p }

// Result is the set of skill ids touched by a record_attempt call, split
// by the phase that touched them, for logging and tests.
type Result struct {
	Direct     []string
	Prereq     []string
	Breadcrumb []string
}

// All returns every affected skill id across all three phases, in the
// order they were computed.
func (r Result) All() []string {
	out := make([]string, 0, len(r.Direct)+len(r.Prereq)+len(r.Breadcrumb))
	out = append(out, r.Direct...)
	out = append(out, r.Prereq...)
	out = append(out, r.Breadcrumb...)
	return out
}

// RecordAttempt applies the three-phase update for a question answered at
// now, touching skillIDs directly. Returns the empty Result and nil error
// if the user doesn't exist (a no-op, not a failure).
func (e *Engine) RecordAttempt(ctx context.Context, userID, questionID string, skillIDs []string, isCorrect bool, responseTimeSeconds float64, now time.Time) (Result, error) {
	profile, err := e.adapter.GetUser(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("get user: %w", err)
	}
	if profile == nil {
		return Result{}, nil
	}
	if err := profile.Validate(); err != nil {
		return Result{}, dasherr.IntegrityViolation("RecordAttempt", "%v", err)
	}

	decayed := make(map[string]float64, e.cache.Len())
	for _, s := range e.cache.All() {
		decayed[s.ID] = decayedStrength(e.cache, profile, s.ID, now)
	}

	updates := make(map[string]float64)
	var result Result

	// Phase 1: directly tested skills, full learning-rate update.
	directSet := make(map[string]bool, len(skillIDs))
	for _, id := range skillIDs {
		directSet[id] = true
		if _, ok := e.cache.Get(id); !ok {
			continue
		}
		updates[id] = memorymodel.UpdateAfterAnswer(decayed[id], isCorrect, responseTimeSeconds, e.params)
		result.Direct = append(result.Direct, id)
	}

	// Phase 2: transitive prerequisite closure of each directly tested
	// skill, smaller boost on correct. On incorrect the strength keeps its
	// decayed value but is still written, so last_practice_time and
	// practice_count are updated.
	for _, id := range skillIDs {
		for _, prereqID := range transitivePrerequisites(e.cache, id) {
			if directSet[prereqID] {
				continue
			}
			if _, already := updates[prereqID]; already {
				continue
			}
			strength := decayed[prereqID]
			if strength < 0 {
				continue // locked prerequisites are never cascaded into
			}
			var newStrength float64
			if isCorrect {
				newStrength = memorymodel.PrereqBoostStrength(strength, e.params)
			} else {
				newStrength = strength // wrong answers don't penalize prerequisites
			}
			updates[prereqID] = newStrength
			result.Prereq = append(result.Prereq, prereqID)
		}
	}

	// Phase 3: breadcrumb topical-neighbour cascade, computed from each
	// directly tested skill against every other skill sharing its subject.
	for _, id := range skillIDs {
		skill, ok := e.cache.Get(id)
		if !ok {
			continue
		}
		related := breadcrumbRelated(e.cache, skill, e.params)
		for relatedID, rate := range related {
			if _, already := updates[relatedID]; already {
				continue
			}
			strength := decayed[relatedID]
			if strength < 0 {
				continue
			}
			updates[relatedID] = memorymodel.CascadeStrength(strength, rate, isCorrect)
			result.Breadcrumb = append(result.Breadcrumb, relatedID)
		}
	}

	if len(updates) == 0 {
		return result, nil
	}

	skillUpdates := make([]persistence.SkillUpdate, 0, len(updates))
	for id, strength := range updates {
		skillUpdates = append(skillUpdates, persistence.SkillUpdate{
			SkillID:        id,
			MemoryStrength: strength,
			DirectlyTested: directSet[id],
		})
	}

	attempt := persistence.QuestionAttempt{
		QuestionID:          questionID,
		SkillIDs:            skillIDs,
		IsCorrect:           isCorrect,
		ResponseTimeSeconds: responseTimeSeconds,
		TimePenaltyApplied:  memorymodel.TimePenaltyApplied(responseTimeSeconds, e.params),
		Timestamp:           now,
	}

	if err := e.adapter.BulkUpdateSkillStates(ctx, userID, skillUpdates, attempt); err != nil {
		return Result{}, fmt.Errorf("bulk update skill states: %w", err)
	}

	e.logger.Info("attempt recorded",
		slog.String("user_id", userID),
		slog.String("question_id", questionID),
		slog.Bool("is_correct", isCorrect),
		slog.Int("direct_count", len(result.Direct)),
		slog.Int("prereq_count", len(result.Prereq)),
		slog.Int("breadcrumb_count", len(result.Breadcrumb)))

	return result, nil
}

// decayedStrength computes the current decayed strength of skillID for
// profile at now, mirroring scheduler.strengthsFor for a single skill.
func decayedStrength(cache *skillcache.Cache, profile *persistence.UserProfile, skillID string, now time.Time) float64 {
	skill, ok := cache.Get(skillID)
	if !ok {
		return 0
	}
	state, ok := profile.SkillStates[skillID]
	if !ok {
		return 0
	}
	var elapsed *float64
	if state.LastPracticeTime != nil {
		e := now.Sub(*state.LastPracticeTime).Seconds()
		elapsed = &e
	}
	return memorymodel.Decayed(state.MemoryStrength, elapsed, skill.ForgettingRate)
}

// transitivePrerequisites returns every prerequisite reachable from
// skillID, including prerequisites-of-prerequisites, deduplicated. The
// cache's cycle-free invariant (enforced at build time) guarantees this
// terminates.
func transitivePrerequisites(cache *skillcache.Cache, skillID string) []string {
	skill, ok := cache.Get(skillID)
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	var walk func(id string)
	walk = func(id string) {
		s, ok := cache.Get(id)
		if !ok {
			return
		}
		for _, prereqID := range s.Prerequisites {
			if seen[prereqID] {
				continue
			}
			seen[prereqID] = true
			out = append(out, prereqID)
			walk(prereqID)
		}
	}
	walk(skill.ID)
	return out
}

// breadcrumbRelated returns every other skill sharing skill's subject,
// mapped to its topical cascade rate, per the hierarchy match rules:
// same concept > same topic > same grade > lower-grade same path.
// Skills without a four-segment breadcrumb never participate, on either
// side of the comparison.
func breadcrumbRelated(cache *skillcache.Cache, skill skillcache.Skill, p memorymodel.Params) map[string]float64 {
	related := map[string]float64{}

	subject, _, _, ok := skillcache.ParseSkillID(skill.ID)
	if !ok {
		return related
	}
	bc := skillcache.ParseBreadcrumb(skill.ID, skill.GradeLevel)
	if !bc.OK {
		return related
	}

	for _, other := range cache.All() {
		if other.ID == skill.ID {
			continue
		}
		otherSubject, _, _, ok := skillcache.ParseSkillID(other.ID)
		if !ok || otherSubject != subject {
			continue
		}
		otherBC := skillcache.ParseBreadcrumb(other.ID, other.GradeLevel)
		if !otherBC.OK {
			continue
		}

		switch {
		case otherBC.Grade == bc.Grade && otherBC.Topic == bc.Topic && otherBC.Concept == bc.Concept && otherBC.Subconcept == bc.Subconcept:
			related[other.ID] = p.CascadeSameConcept
		case otherBC.Grade == bc.Grade && otherBC.Topic == bc.Topic && otherBC.Concept == bc.Concept:
			related[other.ID] = p.CascadeSameTopic
		case otherBC.Grade == bc.Grade:
			related[other.ID] = p.CascadeSameGrade
		case otherBC.Grade < bc.Grade && otherBC.Topic == bc.Topic && otherBC.Concept == bc.Concept && otherBC.Subconcept == bc.Subconcept:
			related[other.ID] = p.CascadeLowerGrade
		}
	}

	return related
}
