package borrower

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/pkg/errors"
)

func testThresholds() Thresholds {
	return Thresholds{
		Liquidation: decimal.NewFromFloat(1.10),
		Warning:     decimal.NewFromFloat(1.25),
	}
}

func TestClassify_Tiers(t *testing.T) {
	tests := []struct {
		name       string
		debt       string
		collateral string
		wantState  HealthState
		wantRatio  string
	}{
		{"healthy above warning", "1000", "1300", StateHealthy, "1.3000"},
		{"at risk below warning", "1000", "1200", StateAtRisk, "1.2000"},
		{"liquidatable below cutoff", "1000", "1050", StateLiquidatable, "1.0500"},
		{"exactly at warning is healthy", "1000", "1250", StateHealthy, "1.2500"},
		{"exactly at liquidation is at risk", "1000", "1100", StateAtRisk, "1.1000"},
		{"zero collateral with debt", "1000", "0", StateLiquidatable, "0.0000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			debt := decimal.RequireFromString(tt.debt)
			collateral := decimal.RequireFromString(tt.collateral)

			ratio, state, err := Classify(debt, collateral, testThresholds())

			require.NoError(t, err)
			assert.Equal(t, tt.wantState, state)
			assert.Equal(t, tt.wantRatio, ratio.String())
		})
	}
}

func TestClassify_ZeroDebtIsInfiniteAndHealthy(t *testing.T) {
	ratio, state, err := Classify(decimal.Zero, decimal.NewFromInt(500), testThresholds())

	require.NoError(t, err)
	assert.True(t, ratio.Infinite)
	assert.Equal(t, "inf", ratio.String())
	assert.Equal(t, StateHealthy, state)
	assert.False(t, ratio.Below(decimal.NewFromInt(1000000)))
}

func TestClassify_NegativeInputsRejected(t *testing.T) {
	_, _, err := Classify(decimal.NewFromInt(-1), decimal.NewFromInt(100), testThresholds())
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	_, _, err = Classify(decimal.NewFromInt(100), decimal.NewFromInt(-1), testThresholds())
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestClassify_Idempotent(t *testing.T) {
	debt := decimal.NewFromInt(1000)
	collateral := decimal.NewFromInt(1050)

	ratio1, state1, err1 := Classify(debt, collateral, testThresholds())
	ratio2, state2, err2 := Classify(debt, collateral, testThresholds())

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, state1, state2)
	assert.True(t, ratio1.Value.Equal(ratio2.Value))
	assert.Equal(t, ratio1.Infinite, ratio2.Infinite)
}
