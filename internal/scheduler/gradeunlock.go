package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/abhisek/dashsystem/internal/memorymodel"
	"github.com/abhisek/dashsystem/internal/persistence"
	"github.com/abhisek/dashsystem/internal/skillcache"
)

// gradeLevelFromToken maps the wire token "GRADE_n" (or "K") to the
// in-memory int representation. Returns ok=false if the token is
// unrecognized.
func gradeLevelFromToken(token string) (int, bool) {
	if token == "K" || token == "GRADE_K" {
		return 0, true
	}
	var n int
	if _, err := fmt.Sscanf(token, "GRADE_%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// TryUnlockGrade implements the grade-unlock transition: when every skill
// at the student's current grade has decayed strength >= MasteryThreshold,
// any grade+1 skills currently locked transition to 0.0 in a single bulk
// write, and a synthetic grade_unlock_<G+1> attempt is appended. Returns
// whether an unlock occurred.
func TryUnlockGrade(ctx context.Context, cache *skillcache.Cache, adapter persistence.Adapter, profile *persistence.UserProfile, strengths map[string]float64, params memorymodel.Params, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	userGrade, ok := gradeLevelFromToken(profile.GradeLevel)
	if !ok {
		return false, nil
	}

	var currentGradeStrengths []float64
	for _, s := range cache.All() {
		if s.GradeLevel == userGrade {
			currentGradeStrengths = append(currentGradeStrengths, strengths[s.ID])
		}
	}
	if len(currentGradeStrengths) == 0 {
		return false, nil
	}
	for _, strength := range currentGradeStrengths {
		if strength < params.MasteryThreshold {
			return false, nil
		}
	}

	nextGrade := userGrade + 1
	var toUnlock []string
	for _, s := range cache.All() {
		if s.GradeLevel == nextGrade && strengths[s.ID] < 0 {
			toUnlock = append(toUnlock, s.ID)
		}
	}
	if len(toUnlock) == 0 {
		return false, nil
	}

	newStrengths := make(map[string]float64, len(toUnlock))
	for _, id := range toUnlock {
		newStrengths[id] = 0.0
	}

	attempt := persistence.QuestionAttempt{
		QuestionID:          fmt.Sprintf("grade_unlock_%d", nextGrade),
		SkillIDs:            toUnlock,
		IsCorrect:           true,
		ResponseTimeSeconds: 0,
		TimePenaltyApplied:  false,
	}

	// A skill transitioning out of locked is not "practiced": it must land
	// at practice_count=0, last_practice_time=null, same as its cold-start
	// counterpart, so SetSkillStrengths is used instead of
	// BulkUpdateSkillStates (which would stamp last_practice_time and
	// increment practice_count for every unlocked skill).
	if err := adapter.SetSkillStrengths(ctx, profile.UserID, newStrengths, attempt); err != nil {
		return false, fmt.Errorf("set unlocked strengths: %w", err)
	}

	logger.Info("grade unlocked",
		slog.String("user_id", profile.UserID),
		slog.Int("from_grade", userGrade),
		slog.Int("to_grade", nextGrade),
		slog.Int("skills_unlocked", len(toUnlock)))

	return true, nil
}
