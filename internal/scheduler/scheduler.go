// Package scheduler implements next_question: computing current
// strengths, filtering by threshold and met prerequisites, ordering by
// weakness then grade, checking grade unlock, and picking an unseen
// question for the top candidate skill.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/abhisek/dashsystem/internal/dasherr"
	"github.com/abhisek/dashsystem/internal/memorymodel"
	"github.com/abhisek/dashsystem/internal/persistence"
	"github.com/abhisek/dashsystem/internal/skillcache"
)

// Scheduler selects the next question for a student.
type Scheduler struct {
	cache   *skillcache.Cache
	adapter persistence.Adapter
	logger  *slog.Logger

	params        memorymodel.Params
	maxTimesShown int
}

// New creates a Scheduler backed by cache and adapter, defaulting its
// tunables to memorymodel.Default() and persistence.MaxTimesShown. Use
// SetParams/SetMaxTimesShown to apply an internal/config override.
func New(cache *skillcache.Cache, adapter persistence.Adapter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cache:         cache,
		adapter:       adapter,
		logger:        logger,
		params:        memorymodel.Default(),
		maxTimesShown: persistence.MaxTimesShown,
	}
}

// SetParams overrides the scheduler's tunable thresholds.
func (s *Scheduler) SetParams(p memorymodel.Params) { s.params = p }

// SetMaxTimesShown overrides the per-question exposure cap.
func (s *Scheduler) SetMaxTimesShown(n int) { s.maxTimesShown = n }

// candidate is a skill in the practice window, paired with its decayed
// strength for sorting.
type candidate struct {
	skill    skillcache.Skill
	strength float64
}

// strengthsFor computes M(s, now) for every skill in the cache against a
// user's per-skill states. Skills present in the cache but absent from
// the profile (a curriculum change after the user was created) get
// strength 0 (ready to learn), with no decay.
func strengthsFor(cache *skillcache.Cache, profile *persistence.UserProfile, now time.Time) map[string]float64 {
	strengths := make(map[string]float64, cache.Len())
	for _, s := range cache.All() {
		state, ok := profile.SkillStates[s.ID]
		if !ok {
			strengths[s.ID] = 0
			continue
		}
		var elapsed *float64
		if state.LastPracticeTime != nil {
			e := now.Sub(*state.LastPracticeTime).Seconds()
			elapsed = &e
		}
		strengths[s.ID] = memorymodel.Decayed(state.MemoryStrength, elapsed, s.ForgettingRate)
	}
	return strengths
}

// prerequisitesMet reports whether every prerequisite of skill has decayed
// strength >= recallThreshold. A locked prerequisite (strength < 0) blocks
// the candidate just like any other below-threshold prerequisite.
func prerequisitesMet(skill skillcache.Skill, strengths map[string]float64, recallThreshold float64) bool {
	for _, prereqID := range skill.Prerequisites {
		if strengths[prereqID] < recallThreshold {
			return false
		}
	}
	return true
}

// classify bins every skill into locked, above-threshold, or candidate
// sets, per step 3 of the algorithm.
func classify(cache *skillcache.Cache, strengths map[string]float64, recallThreshold float64) (locked []skillcache.Skill, candidates []candidate) {
	for _, s := range cache.All() {
		strength := strengths[s.ID]
		switch {
		case strength < 0:
			locked = append(locked, s)
		case strength >= recallThreshold:
			// above threshold; not eligible for scheduling
		default:
			if prerequisitesMet(s, strengths, recallThreshold) {
				candidates = append(candidates, candidate{skill: s, strength: strength})
			}
		}
	}
	return locked, candidates
}

// orderCandidates sorts ascending by strength (weakest first), then
// descending by grade_level, then by skill_id for stability.
func orderCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.strength != b.strength {
			return a.strength < b.strength
		}
		if a.skill.GradeLevel != b.skill.GradeLevel {
			return a.skill.GradeLevel > b.skill.GradeLevel
		}
		return a.skill.ID < b.skill.ID
	})
}

// NextQuestion returns the next question for userID, or nil if the user
// doesn't exist or no eligible question can be found. A nil Question with
// a nil error is the expected "exhausted" steady state, not a failure.
func (s *Scheduler) NextQuestion(ctx context.Context, userID string, now time.Time) (*persistence.Question, error) {
	profile, err := s.adapter.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if profile == nil {
		return nil, nil
	}
	if err := profile.Validate(); err != nil {
		return nil, dasherr.IntegrityViolation("NextQuestion", "%v", err)
	}

	strengths := strengthsFor(s.cache, profile, now)
	locked, candidates := classify(s.cache, strengths, s.params.RecallThreshold)

	if len(candidates) == 0 && len(locked) > 0 {
		unlocked, err := TryUnlockGrade(ctx, s.cache, s.adapter, profile, strengths, s.params, s.logger)
		if err != nil {
			return nil, fmt.Errorf("grade unlock: %w", err)
		}
		if unlocked {
			// Recompute once; no further retries in this request.
			profile, err = s.adapter.GetUser(ctx, userID)
			if err != nil {
				return nil, fmt.Errorf("get user after unlock: %w", err)
			}
			strengths = strengthsFor(s.cache, profile, now)
			_, candidates = classify(s.cache, strengths, s.params.RecallThreshold)
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	orderCandidates(candidates)

	answered, err := s.adapter.GetAnsweredQuestionIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get answered question ids: %w", err)
	}

	for _, c := range candidates {
		q, err := s.adapter.FindUnansweredQuestion(ctx, []string{c.skill.ID}, answered, s.maxTimesShown)
		if err != nil {
			return nil, fmt.Errorf("find unanswered question for skill %q: %w", c.skill.ID, err)
		}
		if q != nil {
			return q, nil
		}
	}
	return nil, nil
}
