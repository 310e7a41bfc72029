package memorymodel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const epsilon = 0.001

func almostEqual(t *testing.T, got, want float64) {
	t.Helper()
	assert.Less(t, math.Abs(got-want), epsilon, "got %f, want %f", got, want)
}

func TestDecayed_Locked(t *testing.T) {
	elapsed := 100.0
	require.Equal(t, Locked, Decayed(-1, &elapsed, 0.1))
}

func TestDecayed_NeverPracticed(t *testing.T) {
	require.Equal(t, 0.5, Decayed(0.5, nil, 0.1))
}

func TestDecayed_NegativeElapsedTreatedAsZero(t *testing.T) {
	elapsed := -10.0
	almostEqual(t, Decayed(0.5, &elapsed, 0.1), 0.5)
}

func TestDecayed_MonotonicNonIncreasing(t *testing.T) {
	e1, e2 := 10.0, 20.0
	d1 := Decayed(0.8, &e1, 0.05)
	d2 := Decayed(0.8, &e2, 0.05)
	assert.LessOrEqual(t, d2, d1)
}

func TestPredictCorrectness_Calibration(t *testing.T) {
	// M=2.0 exactly offsets bias of -2.0 -> sigmoid(0) = 0.5
	almostEqual(t, PredictCorrectness(2.0, Default()), 0.5)
}

func TestTimePenalty_IdealResponse(t *testing.T) {
	p := Default()
	almostEqual(t, TimePenalty(p.IdealResponseSeconds, p), 1.0)
}

func TestTimePenalty_ClampedFloor(t *testing.T) {
	almostEqual(t, TimePenalty(1000, Default()), 0.5)
}

func TestTimePenaltyApplied(t *testing.T) {
	p := Default()
	assert.False(t, TimePenaltyApplied(15, p))
	assert.True(t, TimePenaltyApplied(15.01, p))
}

func TestUpdateAfterAnswer_Correct(t *testing.T) {
	// S2: B at 0.5, correct, response_time=5 (ideal) -> 0.5 + 0.3*0.5*1.0 = 0.65
	got := UpdateAfterAnswer(0.5, true, 5, Default())
	almostEqual(t, got, 0.65)
}

func TestUpdateAfterAnswer_Incorrect(t *testing.T) {
	// S3: B at 0.5, incorrect -> 0.4
	got := UpdateAfterAnswer(0.5, false, 5, Default())
	almostEqual(t, got, 0.4)
}

func TestUpdateAfterAnswer_ClampedAtOne(t *testing.T) {
	got := UpdateAfterAnswer(1.0, true, 5, Default())
	almostEqual(t, got, 1.0)
}

func TestPrereqBoostStrength(t *testing.T) {
	// S2: A at 0.5 -> 0.5 + 0.05*0.5 = 0.525
	almostEqual(t, PrereqBoostStrength(0.5, Default()), 0.525)
}

func TestCascadeStrength_Correct(t *testing.T) {
	p := Default()
	got := CascadeStrength(0.5, p.CascadeSameConcept, true)
	almostEqual(t, got, 0.5+0.03*0.5)
}

func TestCascadeStrength_Incorrect(t *testing.T) {
	p := Default()
	got := CascadeStrength(0.5, p.CascadeSameConcept, false)
	almostEqual(t, got, 0.5*(1-0.03))
}
