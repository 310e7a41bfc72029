package updateengine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abhisek/dashsystem/internal/dasherr"
	"github.com/abhisek/dashsystem/internal/persistence"
	"github.com/abhisek/dashsystem/internal/persistence/memstore"
	"github.com/abhisek/dashsystem/internal/skillcache"
)

func buildCache(t *testing.T, leaves []skillcache.RawSkillDoc) *skillcache.Cache {
	t.Helper()
	cache, err := skillcache.BuildFromDocs([]skillcache.RawSkillDoc{
		{Subject: "math", Children: leaves},
	}, slog.Default())
	require.NoError(t, err)
	return cache
}

func leaf(breadcrumb string, grade int, prereqs ...string) skillcache.RawSkillDoc {
	return skillcache.RawSkillDoc{
		Breadcrumb:     breadcrumb,
		GradeLevel:     grade,
		Name:           "skill " + breadcrumb,
		ForgettingRate: 0.0001,
		Prerequisites:  prereqs,
	}
}

func TestRecordAttempt_UserAbsent(t *testing.T) {
	cache := buildCache(t, nil)
	store := memstore.New()
	e := New(cache, store, nil)
	result, err := e.RecordAttempt(context.Background(), "ghost", "q1", []string{"math_3_1.1.1.1"}, true, 5, time.Now())
	require.NoError(t, err)
	require.Empty(t, result.All())
}

func TestRecordAttempt_DirectUpdateOnly(t *testing.T) {
	cache := buildCache(t, []skillcache.RawSkillDoc{leaf("1.1.1.1", 3)})
	store := memstore.New()
	store.PutUser(&persistence.UserProfile{
		UserID:     "u1",
		GradeLevel: "GRADE_3",
		SkillStates: map[string]persistence.PerSkillState{
			"math_3_1.1.1.1": {MemoryStrength: 0.5},
		},
	})

	e := New(cache, store, nil)
	result, err := e.RecordAttempt(context.Background(), "u1", "q1", []string{"math_3_1.1.1.1"}, true, 5, time.Now())
	require.NoError(t, err)
	require.Equal(t, []string{"math_3_1.1.1.1"}, result.Direct)
	require.Empty(t, result.Prereq)
	require.Empty(t, result.Breadcrumb)

	profile, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	st := profile.SkillStates["math_3_1.1.1.1"]
	require.InDelta(t, 0.65, st.MemoryStrength, 0.001) // 0.5 + 0.3*(1-0.5)*1.0
	require.Len(t, profile.QuestionHistory, 1)
	require.Equal(t, "q1", profile.QuestionHistory[0].QuestionID)
}

func TestRecordAttempt_PrereqCascadeOnCorrect(t *testing.T) {
	cache := buildCache(t, []skillcache.RawSkillDoc{
		leaf("1.1.1.1", 3),
		leaf("1.1.1.2", 3, "1.1.1.1"),
	})
	store := memstore.New()
	store.PutUser(&persistence.UserProfile{
		UserID:     "u1",
		GradeLevel: "GRADE_3",
		SkillStates: map[string]persistence.PerSkillState{
			"math_3_1.1.1.1": {MemoryStrength: 0.5},
			"math_3_1.1.1.2": {MemoryStrength: 0.5},
		},
	})

	e := New(cache, store, nil)
	result, err := e.RecordAttempt(context.Background(), "u1", "q1", []string{"math_3_1.1.1.2"}, true, 5, time.Now())
	require.NoError(t, err)
	require.Equal(t, []string{"math_3_1.1.1.2"}, result.Direct)
	require.Equal(t, []string{"math_3_1.1.1.1"}, result.Prereq)

	profile, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	prereqState := profile.SkillStates["math_3_1.1.1.1"]
	require.InDelta(t, 0.525, prereqState.MemoryStrength, 0.001) // 0.5 + 0.05*(1-0.5)
}

func TestRecordAttempt_PrereqNotPenalizedOnIncorrect(t *testing.T) {
	cache := buildCache(t, []skillcache.RawSkillDoc{
		leaf("1.1.1.1", 3),
		leaf("1.1.1.2", 3, "1.1.1.1"),
	})
	store := memstore.New()
	store.PutUser(&persistence.UserProfile{
		UserID:     "u1",
		GradeLevel: "GRADE_3",
		SkillStates: map[string]persistence.PerSkillState{
			"math_3_1.1.1.1": {MemoryStrength: 0.5},
			"math_3_1.1.1.2": {MemoryStrength: 0.5},
		},
	})

	e := New(cache, store, nil)
	_, err := e.RecordAttempt(context.Background(), "u1", "q1", []string{"math_3_1.1.1.2"}, false, 5, time.Now())
	require.NoError(t, err)

	profile, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	prereqState := profile.SkillStates["math_3_1.1.1.1"]
	require.InDelta(t, 0.5, prereqState.MemoryStrength, 0.001) // unchanged on wrong answer
	directState := profile.SkillStates["math_3_1.1.1.2"]
	require.InDelta(t, 0.4, directState.MemoryStrength, 0.001) // 0.5 * 0.8
}

func TestRecordAttempt_LockedPrereqSkipped(t *testing.T) {
	cache := buildCache(t, []skillcache.RawSkillDoc{
		leaf("1.1.1.1", 3),
		leaf("1.1.1.2", 3, "1.1.1.1"),
	})
	store := memstore.New()
	store.PutUser(&persistence.UserProfile{
		UserID:     "u1",
		GradeLevel: "GRADE_3",
		SkillStates: map[string]persistence.PerSkillState{
			"math_3_1.1.1.1": {MemoryStrength: -1},
			"math_3_1.1.1.2": {MemoryStrength: 0.5},
		},
	})

	e := New(cache, store, nil)
	result, err := e.RecordAttempt(context.Background(), "u1", "q1", []string{"math_3_1.1.1.2"}, true, 5, time.Now())
	require.NoError(t, err)
	require.Empty(t, result.Prereq)

	profile, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, -1.0, profile.SkillStates["math_3_1.1.1.1"].MemoryStrength)
}

func TestRecordAttempt_BreadcrumbCascade(t *testing.T) {
	cache := buildCache(t, []skillcache.RawSkillDoc{
		leaf("1.1.1.1", 3), // direct
		leaf("1.1.1.2", 3), // same concept -> 0.03
		leaf("1.1.2.1", 3), // same topic -> 0.02
		leaf("1.2.1.1", 3), // same grade -> 0.01
	})
	store := memstore.New()
	store.PutUser(&persistence.UserProfile{
		UserID:     "u1",
		GradeLevel: "GRADE_3",
		SkillStates: map[string]persistence.PerSkillState{
			"math_3_1.1.1.1": {MemoryStrength: 0.5},
			"math_3_1.1.1.2": {MemoryStrength: 0.5},
			"math_3_1.1.2.1": {MemoryStrength: 0.5},
			"math_3_1.2.1.1": {MemoryStrength: 0.5},
		},
	})

	e := New(cache, store, nil)
	_, err := e.RecordAttempt(context.Background(), "u1", "q1", []string{"math_3_1.1.1.1"}, true, 5, time.Now())
	require.NoError(t, err)

	profile, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	require.InDelta(t, 0.515, profile.SkillStates["math_3_1.1.1.2"].MemoryStrength, 0.001) // 0.5+0.03*0.5
	require.InDelta(t, 0.51, profile.SkillStates["math_3_1.1.2.1"].MemoryStrength, 0.001)  // 0.5+0.02*0.5
	require.InDelta(t, 0.505, profile.SkillStates["math_3_1.2.1.1"].MemoryStrength, 0.001) // 0.5+0.01*0.5
}

func TestRecordAttempt_LockedSkillExcludedFromBreadcrumbCascade(t *testing.T) {
	cache := buildCache(t, []skillcache.RawSkillDoc{
		leaf("1.1.1.1", 3), // direct
		leaf("1.1.1.2", 3), // same concept, but locked
	})
	store := memstore.New()
	store.PutUser(&persistence.UserProfile{
		UserID:     "u1",
		GradeLevel: "GRADE_3",
		SkillStates: map[string]persistence.PerSkillState{
			"math_3_1.1.1.1": {MemoryStrength: 0.5},
			"math_3_1.1.1.2": {MemoryStrength: -1},
		},
	})

	e := New(cache, store, nil)
	_, err := e.RecordAttempt(context.Background(), "u1", "q1", []string{"math_3_1.1.1.1"}, true, 5, time.Now())
	require.NoError(t, err)

	profile, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, float64(-1), profile.SkillStates["math_3_1.1.1.2"].MemoryStrength)
}

func TestRecordAttempt_TimePenaltyAppliedFlag(t *testing.T) {
	cache := buildCache(t, []skillcache.RawSkillDoc{leaf("1.1.1.1", 3)})
	store := memstore.New()
	store.PutUser(&persistence.UserProfile{
		UserID:      "u1",
		GradeLevel:  "GRADE_3",
		SkillStates: map[string]persistence.PerSkillState{"math_3_1.1.1.1": {MemoryStrength: 0.5}},
	})

	e := New(cache, store, nil)
	_, err := e.RecordAttempt(context.Background(), "u1", "q1", []string{"math_3_1.1.1.1"}, true, 20, time.Now())
	require.NoError(t, err)

	profile, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, profile.QuestionHistory[0].TimePenaltyApplied)
}

func TestRecordAttempt_IntegrityViolationAbortsWithoutWriting(t *testing.T) {
	cache := buildCache(t, []skillcache.RawSkillDoc{leaf("1.1.1.1", 3)})
	store := memstore.New()
	store.PutUser(&persistence.UserProfile{
		UserID:     "u1",
		GradeLevel: "GRADE_3",
		SkillStates: map[string]persistence.PerSkillState{
			// correct_count > practice_count violates §3 invariant 1.
			"math_3_1.1.1.1": {MemoryStrength: 0.5, PracticeCount: 0, CorrectCount: 1},
		},
	})

	e := New(cache, store, nil)
	_, err := e.RecordAttempt(context.Background(), "u1", "q1", []string{"math_3_1.1.1.1"}, true, 5, time.Now())
	require.Error(t, err)
	require.True(t, dasherr.Is(err, dasherr.KindIntegrityViolation))

	profile, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, profile.QuestionHistory, "aborted request must not write")
}
