package monitor

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/internal/domain/borrower"
	"watchtower/pkg/logger"
)

func testTracker(t *testing.T) *Tracker {
	t.Helper()
	return NewTracker(borrower.Thresholds{
		Liquidation: decimal.NewFromFloat(1.10),
		Warning:     decimal.NewFromFloat(1.25),
	}, logger.Get())
}

func TestTracker_EvaluateCreatesAndTransitions(t *testing.T) {
	tracker := testTracker(t)

	result, err := tracker.Evaluate("0xabc", decimal.NewFromInt(1000), decimal.NewFromInt(1200))

	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, borrower.StateHealthy, result.PreviousState)
	assert.Equal(t, borrower.StateAtRisk, result.NewState)
	assert.False(t, result.ShouldRemediate)

	snap, ok := tracker.Get("0xabc")
	require.True(t, ok)
	assert.Equal(t, borrower.StateAtRisk, snap.Health)
	assert.Equal(t, "1.2000", snap.CollateralRatio)
}

func TestTracker_EvaluateIdempotent(t *testing.T) {
	tracker := testTracker(t)
	debt := decimal.NewFromInt(1000)
	collateral := decimal.NewFromInt(1200)

	first, err := tracker.Evaluate("0xabc", debt, collateral)
	require.NoError(t, err)
	require.True(t, first.Changed)

	second, err := tracker.Evaluate("0xabc", debt, collateral)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, borrower.StateAtRisk, second.NewState)
}

func TestTracker_ExactlyOneState(t *testing.T) {
	tracker := testTracker(t)

	_, err := tracker.Evaluate("0xabc", decimal.NewFromInt(1000), decimal.NewFromInt(1200))
	require.NoError(t, err)
	assert.Len(t, tracker.ByState(borrower.StateAtRisk), 1)
	assert.Empty(t, tracker.ByState(borrower.StateLiquidatable))

	// Dropping into liquidatable removes the borrower from at-risk
	_, err = tracker.Evaluate("0xabc", decimal.NewFromInt(1000), decimal.NewFromInt(1050))
	require.NoError(t, err)
	assert.Empty(t, tracker.ByState(borrower.StateAtRisk))
	assert.Len(t, tracker.ByState(borrower.StateLiquidatable), 1)

	counts := tracker.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	assert.Equal(t, 1, total)
}

func TestTracker_EdgeTriggeredRemediation(t *testing.T) {
	tracker := testTracker(t)
	debt := decimal.NewFromInt(1000)
	collateral := decimal.NewFromInt(1050)

	first, err := tracker.Evaluate("0xabc", debt, collateral)
	require.NoError(t, err)
	assert.True(t, first.ShouldRemediate)
	assert.True(t, tracker.InFlight("0xabc"))

	// Same inputs while remediation is in flight must not re-trigger
	second, err := tracker.Evaluate("0xabc", debt, collateral)
	require.NoError(t, err)
	assert.False(t, second.ShouldRemediate)
	assert.False(t, second.Changed)

	// After the attempt clears the flag the next cycle may retry
	tracker.ClearInFlight("0xabc")
	third, err := tracker.Evaluate("0xabc", debt, collateral)
	require.NoError(t, err)
	assert.True(t, third.ShouldRemediate)
}

func TestTracker_RemediationStatesHeldUntilHealthy(t *testing.T) {
	tracker := testTracker(t)
	debt := decimal.NewFromInt(1000)

	_, err := tracker.Evaluate("0xabc", debt, decimal.NewFromInt(1050))
	require.NoError(t, err)
	tracker.MarkProtected("0xabc")

	// Still undercollateralized on paper, but protection owns the state
	result, err := tracker.Evaluate("0xabc", debt, decimal.NewFromInt(1050))
	require.NoError(t, err)
	assert.Equal(t, borrower.StateProtected, result.NewState)
	assert.False(t, result.ShouldRemediate)

	// A recovered position releases the hold
	result, err = tracker.Evaluate("0xabc", debt, decimal.NewFromInt(1400))
	require.NoError(t, err)
	assert.Equal(t, borrower.StateHealthy, result.NewState)
	assert.True(t, result.Changed)
}

func TestTracker_ValidationErrorLeavesStateUntouched(t *testing.T) {
	tracker := testTracker(t)

	_, err := tracker.Evaluate("0xabc", decimal.NewFromInt(1000), decimal.NewFromInt(1200))
	require.NoError(t, err)

	_, err = tracker.Evaluate("0xabc", decimal.NewFromInt(-5), decimal.NewFromInt(1200))
	require.Error(t, err)

	snap, ok := tracker.Get("0xabc")
	require.True(t, ok)
	assert.Equal(t, borrower.StateAtRisk, snap.Health)
}

func TestTracker_EvictionAfterRepeatedZeroDebt(t *testing.T) {
	tracker := testTracker(t)

	_, err := tracker.Evaluate("0xabc", decimal.NewFromInt(1000), decimal.NewFromInt(1300))
	require.NoError(t, err)

	// First zero observation keeps the record
	_, err = tracker.Evaluate("0xabc", decimal.Zero, decimal.NewFromInt(1300))
	require.NoError(t, err)
	_, ok := tracker.Get("0xabc")
	assert.True(t, ok)

	// Second consecutive zero evicts
	_, err = tracker.Evaluate("0xabc", decimal.Zero, decimal.NewFromInt(1300))
	require.NoError(t, err)
	_, ok = tracker.Get("0xabc")
	assert.False(t, ok)
}

func TestTracker_UnknownZeroDebtBorrowerNotTracked(t *testing.T) {
	tracker := testTracker(t)

	result, err := tracker.Evaluate("0xnew", decimal.Zero, decimal.NewFromInt(500))

	require.NoError(t, err)
	assert.Equal(t, borrower.StateHealthy, result.NewState)
	assert.Empty(t, tracker.Addresses())
}
