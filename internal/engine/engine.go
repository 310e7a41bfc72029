// Package engine is the façade API consumed by the HTTP/CLI surface:
// EnsureUser, NextQuestion, RecordAttempt, Stats. It wires the skill
// cache, memory model, scheduler, cold-start strategy, and update engine
// behind dependency-injected Options, the way the teacher wires screen
// dependencies through its app.Options struct.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/dashsystem/internal/coldstart"
	"github.com/abhisek/dashsystem/internal/dasherr"
	"github.com/abhisek/dashsystem/internal/memorymodel"
	"github.com/abhisek/dashsystem/internal/persistence"
	"github.com/abhisek/dashsystem/internal/scheduler"
	"github.com/abhisek/dashsystem/internal/skillcache"
	"github.com/abhisek/dashsystem/internal/updateengine"
)

// Options holds the dependencies injected into Engine.
type Options struct {
	// Cache is the process-wide skill index. Required.
	Cache *skillcache.Cache
	// Adapter is the persistence backend. Required.
	Adapter persistence.Adapter
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// Params overrides the memory-model tunables (§6.4), normally sourced
	// from internal/config.Tuning. Defaults to memorymodel.Default().
	Params *memorymodel.Params
	// MaxTimesShown overrides the per-question exposure cap (§6.4). Zero
	// means persistence.MaxTimesShown.
	MaxTimesShown int
}

// Engine is the core façade. Every call is a single logical unit, per the
// concurrency model: no internal suspension points beyond store round
// trips, safe for concurrent use across goroutines.
type Engine struct {
	cache   *skillcache.Cache
	adapter persistence.Adapter
	logger  *slog.Logger
	params  memorymodel.Params

	scheduler *scheduler.Scheduler
	updater   *updateengine.Engine
}

// New builds an Engine from Options.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	params := memorymodel.Default()
	if opts.Params != nil {
		params = *opts.Params
	}

	sched := scheduler.New(opts.Cache, opts.Adapter, logger)
	updater := updateengine.New(opts.Cache, opts.Adapter, logger)
	sched.SetParams(params)
	updater.SetParams(params)
	if opts.MaxTimesShown != 0 {
		sched.SetMaxTimesShown(opts.MaxTimesShown)
	}

	return &Engine{
		cache:     opts.Cache,
		adapter:   opts.Adapter,
		logger:    logger,
		params:    params,
		scheduler: sched,
		updater:   updater,
	}
}

// correlationID generates a short id for tying a logged failure back to a
// caller's bug report, without the caller needing to pass one in.
func correlationID() string {
	return uuid.NewString()
}

// EnsureUser implements ensure_user: idempotent get-or-create, applying
// cold-start stratification on first creation only.
func (e *Engine) EnsureUser(ctx context.Context, userID string, age *int, gradeLevel string) (*persistence.UserProfile, error) {
	profile, err := e.adapter.GetUser(ctx, userID)
	if err != nil {
		return nil, e.fail("EnsureUser.GetUser", err)
	}
	if profile != nil {
		return profile, nil
	}

	userGrade := 0
	if gradeLevel != "" {
		g, ok := gradeFromToken(gradeLevel)
		if !ok {
			return nil, e.fail("EnsureUser", dasherr.InvalidInput("EnsureUser", "unrecognized grade_level %q", gradeLevel))
		}
		userGrade = g
	}

	allSkills := e.cache.All()
	skillIDs := make([]string, 0, len(allSkills))
	for _, s := range allSkills {
		skillIDs = append(skillIDs, s.ID)
	}

	if err := e.adapter.CreateUser(ctx, userID, skillIDs, age, gradeLevel); err != nil {
		return nil, e.fail("EnsureUser.CreateUser", err)
	}

	if gradeLevel != "" {
		plan := coldstart.Compute(allSkills, userGrade)
		if len(plan.Updates) > 0 {
			if err := e.adapter.SetSkillStrengths(ctx, userID, plan.Strengths(), plan.Attempt); err != nil {
				return nil, e.fail("EnsureUser.ColdStart", err)
			}
		}
	}

	profile, err = e.adapter.GetUser(ctx, userID)
	if err != nil {
		return nil, e.fail("EnsureUser.Reload", err)
	}
	if profile == nil {
		return nil, e.fail("EnsureUser", dasherr.IntegrityViolation("EnsureUser", "user %q vanished immediately after creation", userID))
	}
	return profile, nil
}

// NextQuestion implements next_question.
func (e *Engine) NextQuestion(ctx context.Context, userID string, now time.Time) (*persistence.Question, error) {
	q, err := e.scheduler.NextQuestion(ctx, userID, now)
	if err != nil {
		return nil, e.fail("NextQuestion", err)
	}
	return q, nil
}

// RecordAttempt implements record_attempt, returning every skill id
// touched by the update (direct, prerequisite, and breadcrumb phases).
func (e *Engine) RecordAttempt(ctx context.Context, userID, questionID string, skillIDs []string, isCorrect bool, responseTimeSeconds float64, now time.Time) ([]string, error) {
	result, err := e.updater.RecordAttempt(ctx, userID, questionID, skillIDs, isCorrect, responseTimeSeconds, now)
	if err != nil {
		return nil, e.fail("RecordAttempt", err)
	}
	return result.All(), nil
}

// PerSkillStat is one entry of Stats.PerSkill.
type PerSkillStat struct {
	Strength      float64
	Grade         int
	NeedsPractice bool
}

// Stats is the shape returned by the stats operation (§6.1).
type Stats struct {
	TotalQuestions        int
	Correct               int
	Accuracy              float64
	SkillsMastered        int
	SkillsNeedingPractice int
	PerSkill              map[string]PerSkillStat
}

// Stats implements stats(user_id): aggregate accuracy plus a per-skill
// strength snapshot, computed at the given now.
func (e *Engine) Stats(ctx context.Context, userID string, now time.Time) (*Stats, error) {
	profile, err := e.adapter.GetUser(ctx, userID)
	if err != nil {
		return nil, e.fail("Stats.GetUser", err)
	}
	if profile == nil {
		return nil, e.fail("Stats", dasherr.NotFound("Stats", "user %q", userID))
	}
	if err := profile.Validate(); err != nil {
		return nil, e.fail("Stats", dasherr.IntegrityViolation("Stats", "%v", err))
	}

	total := len(profile.QuestionHistory)
	correct := 0
	for _, a := range profile.QuestionHistory {
		if a.IsCorrect {
			correct++
		}
	}
	accuracy := 0.0
	if total > 0 {
		accuracy = float64(correct) / float64(total)
	}

	perSkill := make(map[string]PerSkillStat, e.cache.Len())
	mastered, needsPractice := 0, 0
	for _, s := range e.cache.All() {
		state, ok := profile.SkillStates[s.ID]
		if !ok {
			continue
		}
		var elapsed *float64
		if state.LastPracticeTime != nil {
			d := now.Sub(*state.LastPracticeTime).Seconds()
			elapsed = &d
		}
		strength := memorymodel.Decayed(state.MemoryStrength, elapsed, s.ForgettingRate)
		needs := strength >= 0 && strength < e.params.RecallThreshold
		if strength >= e.params.MasteryThreshold {
			mastered++
		}
		if needs {
			needsPractice++
		}
		perSkill[s.ID] = PerSkillStat{Strength: strength, Grade: s.GradeLevel, NeedsPractice: needs}
	}

	return &Stats{
		TotalQuestions:        total,
		Correct:               correct,
		Accuracy:              accuracy,
		SkillsMastered:        mastered,
		SkillsNeedingPractice: needsPractice,
		PerSkill:              perSkill,
	}, nil
}

// fail logs a store/engine-boundary failure with a correlation id and
// returns it: NotFound errors as-is, every other error wrapped with op and
// the correlation id (dasherr.Is still recovers the Kind through the
// wrapping). Callers at the HTTP/CLI surface decide how to present
// dasherr.Kind to the end user.
func (e *Engine) fail(op string, err error) error {
	cid := correlationID()
	e.logger.Error("engine operation failed",
		slog.String("op", op),
		slog.String("correlation_id", cid),
		slog.Any("error", err))
	if dasherr.Is(err, dasherr.KindNotFound) {
		return err
	}
	return fmt.Errorf("%s [%s]: %w", op, cid, err)
}

// gradeFromToken maps the wire token "GRADE_n" (or "K") to its int
// representation for cold start; scheduler.gradeLevelFromToken applies the
// same mapping for grade unlock.
func gradeFromToken(token string) (int, bool) {
	if token == "K" || token == "GRADE_K" {
		return 0, true
	}
	var n int
	if _, err := fmt.Sscanf(token, "GRADE_%d", &n); err != nil {
		return 0, false
	}
	return n, true
}
