// Package persistence defines the typed contract the DashSystem core
// requires of the store: fetch user, fetch one unseen question with usage
// counter increment, bulk update skill-state subfields and append to a
// bounded question-history list, create user with initialized per-skill
// states, and enumerate curriculum skill documents for cache build.
//
// internal/persistence/mongo implements this against MongoDB (the
// MongoDBHandler); internal/persistence/memstore implements it in-memory
// for tests.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/abhisek/dashsystem/internal/skillcache"
)

// HistoryCap bounds question_history: older records are dropped on write.
const HistoryCap = 1000

// MaxTimesShown is the hard ceiling on a question's exposure; at the cap
// a question is ineligible for selection.
const MaxTimesShown = 100

// PerSkillState is a student's mutable per-skill record.
type PerSkillState struct {
	MemoryStrength   float64
	LastPracticeTime *time.Time
	PracticeCount    int
	CorrectCount     int
	LastUpdated      time.Time
}

// QuestionAttempt is a record appended to a student's history.
type QuestionAttempt struct {
	QuestionID          string
	SkillIDs            []string
	IsCorrect           bool
	ResponseTimeSeconds float64
	TimePenaltyApplied  bool
	Timestamp           time.Time
}

// UserProfile is a read-only snapshot of a student's state for the
// duration of one request.
type UserProfile struct {
	UserID          string
	CreatedAt       time.Time
	LastUpdated     time.Time
	Age             *int
	GradeLevel      string // wire token, e.g. "GRADE_3"
	SkillStates     map[string]PerSkillState
	QuestionHistory []QuestionAttempt
}

// AnsweredQuestionIDs derives the set of question_ids already recorded in
// the profile's history.
func (p *UserProfile) AnsweredQuestionIDs() map[string]bool {
	out := make(map[string]bool, len(p.QuestionHistory))
	for _, a := range p.QuestionHistory {
		out[a.QuestionID] = true
	}
	return out
}

// Validate checks §3 invariants 1-2 over every per-skill state: correct_count
// never exceeds practice_count, and memory_strength is either the locked
// sentinel or within [0,1]. Callers at the engine boundary surface a
// violation as dasherr.IntegrityViolation and abort without writing.
func (p *UserProfile) Validate() error {
	for id, st := range p.SkillStates {
		if st.CorrectCount < 0 || st.CorrectCount > st.PracticeCount {
			return fmt.Errorf("skill %q: correct_count %d exceeds practice_count %d", id, st.CorrectCount, st.PracticeCount)
		}
		if st.MemoryStrength != -1 && (st.MemoryStrength < 0 || st.MemoryStrength > 1) {
			return fmt.Errorf("skill %q: memory_strength %v outside {-1} ∪ [0,1]", id, st.MemoryStrength)
		}
	}
	return nil
}

// Question is the opaque-payload question record; only SkillIDs and
// TimesShown matter for scheduling.
type Question struct {
	QuestionID string
	SkillIDs   []string
	Payload    any
	TimesShown int
}

// SkillUpdate is one skill's contribution to a bulk write: the new
// (already-computed) memory strength, and whether this skill was a
// directly-tested skill of the triggering attempt (controls whether
// correct_count increments).
type SkillUpdate struct {
	SkillID        string
	MemoryStrength float64
	DirectlyTested bool
}

// Adapter is the persistence contract the core depends on. Each operation
// is a single logical step; bulk_update_skill_states and
// find_unanswered_question must each commit atomically, or the engine's
// at-most-once question delivery invariant breaks.
type Adapter interface {
	// GetUser returns a profile snapshot, or nil if the user doesn't exist.
	GetUser(ctx context.Context, userID string) (*UserProfile, error)

	// CreateUser inserts a new user document with all per-skill states
	// defaulted. age and gradeLevel are optional (age may be nil).
	CreateUser(ctx context.Context, userID string, skillIDs []string, age *int, gradeLevel string) error

	// BulkUpdateSkillStates performs the atomic set/inc/push composite
	// write of record_attempt phase 4: sets memory_strength/
	// last_practice_time/last_updated and increments practice_count (and
	// correct_count where DirectlyTested && attempt.IsCorrect) for every
	// update, then appends attempt to question_history, capped at
	// HistoryCap newest entries.
	BulkUpdateSkillStates(ctx context.Context, userID string, updates []SkillUpdate, attempt QuestionAttempt) error

	// SetSkillStrengths sets memory_strength only for each skill in
	// strengths, leaving last_practice_time, practice_count, and
	// correct_count untouched, then appends attempt to question_history
	// (capped at HistoryCap). Used by cold start (§4.5) and grade unlock
	// (§4.4), where a skill's initial or newly-unlocked state is not yet a
	// practiced one.
	SetSkillStrengths(ctx context.Context, userID string, strengths map[string]float64, attempt QuestionAttempt) error

	// FindUnansweredQuestion returns the eligible question (skill_ids
	// intersects skillIDs, question_id not in answeredIDs, times_shown <
	// maxTimesShown) with the smallest times_shown, and atomically
	// increments its times_shown by 1. Returns nil, nil if none exists.
	FindUnansweredQuestion(ctx context.Context, skillIDs []string, answeredIDs map[string]bool, maxTimesShown int) (*Question, error)

	// GetAnsweredQuestionIDs returns the projection over
	// question_history.question_id for a user.
	GetAnsweredQuestionIDs(ctx context.Context, userID string) (map[string]bool, error)

	// ListSkillDocuments returns the raw curriculum documents for cache
	// build.
	ListSkillDocuments(ctx context.Context) ([]skillcache.RawSkillDoc, error)
}
