package scheduler

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abhisek/dashsystem/internal/dasherr"
	"github.com/abhisek/dashsystem/internal/memorymodel"
	"github.com/abhisek/dashsystem/internal/persistence"
	"github.com/abhisek/dashsystem/internal/persistence/memstore"
	"github.com/abhisek/dashsystem/internal/skillcache"
)

func buildCache(t *testing.T, skills []skillcache.Skill) *skillcache.Cache {
	t.Helper()
	// Build via the public constructor path so cache invariants hold:
	// wrap skills as single-level RawSkillDoc leaves per subject.
	docsBySubjectGrade := map[string][]skillcache.RawSkillDoc{}
	for _, s := range skills {
		subject, _, breadcrumb, ok := skillcache.ParseSkillID(s.ID)
		require.True(t, ok)
		key := subject
		docsBySubjectGrade[key] = append(docsBySubjectGrade[key], skillcache.RawSkillDoc{
			Breadcrumb:     breadcrumb,
			GradeLevel:     s.GradeLevel,
			Name:           s.Name,
			ForgettingRate: s.ForgettingRate,
			Difficulty:     s.Difficulty,
			Prerequisites:  rawPrereqBreadcrumbs(s),
		})
	}
	var docs []skillcache.RawSkillDoc
	for subject, leaves := range docsBySubjectGrade {
		docs = append(docs, skillcache.RawSkillDoc{Subject: subject, Children: leaves})
	}
	for i := range docs {
		for j := range docs[i].Children {
			docs[i].Children[j].Subject = docs[i].Subject
		}
	}
	cache, err := skillcache.BuildFromDocs(withSubject(docs), slog.Default())
	require.NoError(t, err)
	return cache
}

func withSubject(docs []skillcache.RawSkillDoc) []skillcache.RawSkillDoc {
	out := make([]skillcache.RawSkillDoc, len(docs))
	for i, d := range docs {
		d.Children = append([]skillcache.RawSkillDoc(nil), d.Children...)
		for j := range d.Children {
			d.Children[j].Subject = d.Subject
		}
		out[i] = d
	}
	return out
}

// rawPrereqBreadcrumbs extracts the breadcrumb suffix of each prerequisite
// id, assuming a shared subject+grade with s (true for this test's fixtures).
func rawPrereqBreadcrumbs(s skillcache.Skill) []string {
	var out []string
	for _, p := range s.Prerequisites {
		_, _, breadcrumb, ok := skillcache.ParseSkillID(p)
		if ok {
			out = append(out, breadcrumb)
		}
	}
	return out
}

func TestNextQuestion_UserAbsent(t *testing.T) {
	cache := buildCache(t, nil)
	store := memstore.New()
	s := New(cache, store, nil)
	q, err := s.NextQuestion(context.Background(), "ghost", time.Now())
	require.NoError(t, err)
	require.Nil(t, q)
}

func TestNextQuestion_PicksWeakestCandidate(t *testing.T) {
	skills := []skillcache.Skill{
		{ID: "math_3_1.1.1.1", Name: "A", GradeLevel: 3, ForgettingRate: 0.01},
		{ID: "math_3_1.1.1.2", Name: "B", GradeLevel: 3, ForgettingRate: 0.01},
	}
	cache := buildCache(t, skills)
	store := memstore.New()
	store.PutUser(&persistence.UserProfile{
		UserID:     "u1",
		GradeLevel: "GRADE_3",
		SkillStates: map[string]persistence.PerSkillState{
			"math_3_1.1.1.1": {MemoryStrength: 0.6},
			"math_3_1.1.1.2": {MemoryStrength: 0.2},
		},
	})
	store.AddQuestion(persistence.Question{QuestionID: "q1", SkillIDs: []string{"math_3_1.1.1.2"}})
	store.AddQuestion(persistence.Question{QuestionID: "q2", SkillIDs: []string{"math_3_1.1.1.1"}})

	s := New(cache, store, nil)
	q, err := s.NextQuestion(context.Background(), "u1", time.Now())
	require.NoError(t, err)
	require.NotNil(t, q)
	require.Equal(t, "q1", q.QuestionID) // weaker skill (0.2) wins over 0.6
}

func TestNextQuestion_PrerequisiteBlocksCandidate(t *testing.T) {
	skills := []skillcache.Skill{
		{ID: "math_3_1.1.1.1", Name: "A", GradeLevel: 3, ForgettingRate: 0.01},
		{ID: "math_3_1.1.1.2", Name: "B", GradeLevel: 3, ForgettingRate: 0.01, Prerequisites: []string{"math_3_1.1.1.1"}},
	}
	cache := buildCache(t, skills)
	store := memstore.New()
	store.PutUser(&persistence.UserProfile{
		UserID:     "u1",
		GradeLevel: "GRADE_3",
		SkillStates: map[string]persistence.PerSkillState{
			"math_3_1.1.1.1": {MemoryStrength: 0.2}, // prereq not met
			"math_3_1.1.1.2": {MemoryStrength: 0.1},
		},
	})
	store.AddQuestion(persistence.Question{QuestionID: "qb", SkillIDs: []string{"math_3_1.1.1.2"}})
	store.AddQuestion(persistence.Question{QuestionID: "qa", SkillIDs: []string{"math_3_1.1.1.1"}})

	s := New(cache, store, nil)
	q, err := s.NextQuestion(context.Background(), "u1", time.Now())
	require.NoError(t, err)
	require.NotNil(t, q)
	require.Equal(t, "qa", q.QuestionID) // B blocked by unmet prereq A
}

func TestNextQuestion_GradeUnlockThenServesHigherGrade(t *testing.T) {
	skills := []skillcache.Skill{
		{ID: "math_3_1.1.1.1", Name: "A3", GradeLevel: 3, ForgettingRate: 0.01},
		{ID: "math_4_1.1.1.1", Name: "A4", GradeLevel: 4, ForgettingRate: 0.01},
	}
	cache := buildCache(t, skills)
	store := memstore.New()
	store.PutUser(&persistence.UserProfile{
		UserID:     "u1",
		GradeLevel: "GRADE_3",
		SkillStates: map[string]persistence.PerSkillState{
			"math_3_1.1.1.1": {MemoryStrength: 0.85}, // mastered
			"math_4_1.1.1.1": {MemoryStrength: -1},   // locked
		},
	})
	store.AddQuestion(persistence.Question{QuestionID: "q4", SkillIDs: []string{"math_4_1.1.1.1"}})

	s := New(cache, store, nil)
	q, err := s.NextQuestion(context.Background(), "u1", time.Now())
	require.NoError(t, err)
	require.NotNil(t, q)
	require.Equal(t, "q4", q.QuestionID)

	profile, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, profile.QuestionHistory, 1)
	require.Equal(t, "grade_unlock_4", profile.QuestionHistory[0].QuestionID)
}

func TestNextQuestion_ExhaustionFallsThroughThenNil(t *testing.T) {
	skills := []skillcache.Skill{
		{ID: "math_3_1.1.1.1", Name: "A", GradeLevel: 3, ForgettingRate: 0.01},
		{ID: "math_3_1.1.1.2", Name: "B", GradeLevel: 3, ForgettingRate: 0.01},
	}
	cache := buildCache(t, skills)
	store := memstore.New()
	store.PutUser(&persistence.UserProfile{
		UserID:     "u1",
		GradeLevel: "GRADE_3",
		SkillStates: map[string]persistence.PerSkillState{
			"math_3_1.1.1.1": {MemoryStrength: 0.1},
			"math_3_1.1.1.2": {MemoryStrength: 0.2},
		},
		QuestionHistory: []persistence.QuestionAttempt{{QuestionID: "qa"}},
	})
	store.AddQuestion(persistence.Question{QuestionID: "qa", SkillIDs: []string{"math_3_1.1.1.1"}})
	store.AddQuestion(persistence.Question{QuestionID: "qb", SkillIDs: []string{"math_3_1.1.1.2"}})

	s := New(cache, store, nil)
	q, err := s.NextQuestion(context.Background(), "u1", time.Now())
	require.NoError(t, err)
	require.NotNil(t, q)
	require.Equal(t, "qb", q.QuestionID) // qa already answered, falls through to next candidate
}

func TestNextQuestion_AllExhaustedReturnsNil(t *testing.T) {
	skills := []skillcache.Skill{
		{ID: "math_3_1.1.1.1", Name: "A", GradeLevel: 3, ForgettingRate: 0.01},
	}
	cache := buildCache(t, skills)
	store := memstore.New()
	store.PutUser(&persistence.UserProfile{
		UserID:     "u1",
		GradeLevel: "GRADE_3",
		SkillStates: map[string]persistence.PerSkillState{
			"math_3_1.1.1.1": {MemoryStrength: 0.1},
		},
		QuestionHistory: []persistence.QuestionAttempt{{QuestionID: "qa"}},
	})
	store.AddQuestion(persistence.Question{QuestionID: "qa", SkillIDs: []string{"math_3_1.1.1.1"}})

	s := New(cache, store, nil)
	q, err := s.NextQuestion(context.Background(), "u1", time.Now())
	require.NoError(t, err)
	require.Nil(t, q)
}

func TestNextQuestion_IntegrityViolationAbortsWithoutWriting(t *testing.T) {
	skills := []skillcache.Skill{
		{ID: "math_3_1.1.1.1", Name: "A", GradeLevel: 3, ForgettingRate: 0.01},
	}
	cache := buildCache(t, skills)
	store := memstore.New()
	store.PutUser(&persistence.UserProfile{
		UserID:     "u1",
		GradeLevel: "GRADE_3",
		SkillStates: map[string]persistence.PerSkillState{
			// correct_count > practice_count violates §3 invariant 1.
			"math_3_1.1.1.1": {MemoryStrength: 0.5, PracticeCount: 1, CorrectCount: 5},
		},
	})

	s := New(cache, store, nil)
	q, err := s.NextQuestion(context.Background(), "u1", time.Now())
	require.Error(t, err)
	require.True(t, dasherr.Is(err, dasherr.KindIntegrityViolation))
	require.Nil(t, q)
}

func TestTryUnlockGrade_UnlockedSkillsKeepZeroCountersAndNullPracticeTime(t *testing.T) {
	skills := []skillcache.Skill{
		{ID: "math_3_1.1.1.1", Name: "A3", GradeLevel: 3, ForgettingRate: 0.01},
		{ID: "math_4_1.1.1.1", Name: "A4", GradeLevel: 4, ForgettingRate: 0.01},
	}
	cache := buildCache(t, skills)
	store := memstore.New()
	store.PutUser(&persistence.UserProfile{
		UserID:     "u1",
		GradeLevel: "GRADE_3",
		SkillStates: map[string]persistence.PerSkillState{
			"math_3_1.1.1.1": {MemoryStrength: 0.85},
			"math_4_1.1.1.1": {MemoryStrength: -1},
		},
	})

	strengths := map[string]float64{"math_3_1.1.1.1": 0.85, "math_4_1.1.1.1": -1}
	unlocked, err := TryUnlockGrade(context.Background(), cache, store,
		mustGetUser(t, store, "u1"), strengths, memorymodel.Default(), nil)
	require.NoError(t, err)
	require.True(t, unlocked)

	profile, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	state := profile.SkillStates["math_4_1.1.1.1"]
	require.Equal(t, 0.0, state.MemoryStrength)
	require.Equal(t, 0, state.PracticeCount)
	require.Equal(t, 0, state.CorrectCount)
	require.Nil(t, state.LastPracticeTime)
}

func mustGetUser(t *testing.T, store *memstore.Store, userID string) *persistence.UserProfile {
	t.Helper()
	p, err := store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return p
}
