// Package memorymodel implements the pure functions of the memory model:
// exponential decay of strength over elapsed time, sigmoid prediction of
// correctness, and the learning-rate update applied after an answer. None
// of these functions read or write persistent state.
package memorymodel

import "math"

// Locked is the sentinel memory_strength value marking a skill above the
// student's currently unlocked grade. Structural, not a tunable.
const Locked = -1.0

// Params holds every §6.4 tunable constant that governs the memory model
// and the scheduler's thresholds. Callers default to Default() and may
// override individual fields from internal/config.
type Params struct {
	RecallThreshold      float64
	MasteryThreshold     float64
	SigmoidBias          float64
	LearningRate         float64
	WrongDecayFactor     float64
	PrereqBoost          float64
	CascadeSameConcept   float64
	CascadeSameTopic     float64
	CascadeSameGrade     float64
	CascadeLowerGrade    float64
	IdealResponseSeconds float64
	SlowResponseSeconds  float64
}

// Default returns the constants table's named values, unchanged.
func Default() Params {
	return Params{
		RecallThreshold:      0.7,
		MasteryThreshold:     0.8,
		SigmoidBias:          -2.0,
		LearningRate:         0.3,
		WrongDecayFactor:     0.8,
		PrereqBoost:          0.05,
		CascadeSameConcept:   0.03,
		CascadeSameTopic:     0.02,
		CascadeSameGrade:     0.01,
		CascadeLowerGrade:    0.03,
		IdealResponseSeconds: 5.0,
		SlowResponseSeconds:  15.0,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Decayed computes M(s, now): the decayed memory strength given a base
// strength baseStrength, elapsed seconds since last practice (or nil if
// never practiced), and forgetting rate lambda.
//
//   - Locked (baseStrength < 0) never decays.
//   - Never practiced (elapsedSeconds == nil) returns baseStrength as-is.
//   - Negative elapsed time (clock skew) is treated as zero elapsed.
func Decayed(baseStrength float64, elapsedSeconds *float64, lambda float64) float64 {
	if baseStrength < 0 {
		return Locked
	}
	if elapsedSeconds == nil {
		return baseStrength
	}
	elapsed := *elapsedSeconds
	if elapsed < 0 {
		elapsed = 0
	}
	return clamp01(baseStrength * math.Exp(-lambda*elapsed))
}

// sigmoid is σ(z) = 1/(1+exp(-z)).
func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

// PredictCorrectness computes P(s, now) = σ(M(s, now) + b) with the
// calibration constant p.SigmoidBias.
func PredictCorrectness(decayedStrength float64, p Params) float64 {
	return sigmoid(decayedStrength + p.SigmoidBias)
}

// TimePenalty computes clamp(exp(-(responseTime-ideal)/10), 0.5, 1.0).
func TimePenalty(responseTimeSeconds float64, p Params) float64 {
	raw := math.Exp(-(responseTimeSeconds - p.IdealResponseSeconds) / 10.0)
	return clamp(raw, 0.5, 1.0)
}

// TimePenaltyApplied reports the time_penalty_applied history flag:
// response_time > p.SlowResponseSeconds.
func TimePenaltyApplied(responseTimeSeconds float64, p Params) bool {
	return responseTimeSeconds > p.SlowResponseSeconds
}

// UpdateAfterAnswer computes M' for a directly-tested skill given its
// current decayed strength M, correctness, and response time. The
// learning_rate/time_penalty and wrong-decay formulas are exactly as
// specified; the result is always clamped to [0,1].
func UpdateAfterAnswer(decayedStrength float64, isCorrect bool, responseTimeSeconds float64, p Params) float64 {
	if isCorrect {
		learningRate := p.LearningRate * (1 - decayedStrength)
		penalty := TimePenalty(responseTimeSeconds, p)
		return clamp01(decayedStrength + learningRate*penalty)
	}
	return clamp01(p.WrongDecayFactor * decayedStrength)
}

// PrereqBoostStrength applies the prerequisite cascade boost on a correct
// answer: M' = min(1, M + PREREQ_BOOST*(1-M)).
func PrereqBoostStrength(decayedStrength float64, p Params) float64 {
	return clamp01(decayedStrength + p.PrereqBoost*(1-decayedStrength))
}

// CascadeStrength applies a topical-neighbour cascade at the given rate:
// boosts toward 1 on correct, decays toward 0 on incorrect. rate is one of
// p.CascadeSameConcept/SameTopic/SameGrade/LowerGrade, selected by the
// caller's hierarchy match.
func CascadeStrength(decayedStrength float64, rate float64, isCorrect bool) float64 {
	if isCorrect {
		return clamp01(decayedStrength + rate*(1-decayedStrength))
	}
	return clamp01(decayedStrength * (1 - rate))
}
