package borrower

import (
	"github.com/shopspring/decimal"

	"watchtower/pkg/errors"
)

// Classify maps debt and collateral to a collateral ratio and health state.
// Pure function: no I/O, deterministic for identical inputs.
//
// debt == 0 yields an infinite ratio and a healthy classification.
// Negative values are malformed ledger state and rejected with a
// ValidationError; the caller skips the borrower for this cycle.
func Classify(debt, collateral decimal.Decimal, th Thresholds) (Ratio, HealthState, error) {
	if debt.IsNegative() {
		return Ratio{}, "", errors.NewValidationError("debt", "must not be negative", debt.String())
	}
	if collateral.IsNegative() {
		return Ratio{}, "", errors.NewValidationError("collateral", "must not be negative", collateral.String())
	}

	if debt.IsZero() {
		return Ratio{Infinite: true}, StateHealthy, nil
	}

	ratio := Ratio{Value: collateral.Div(debt)}

	switch {
	case ratio.Below(th.Liquidation):
		return ratio, StateLiquidatable, nil
	case ratio.Below(th.Warning):
		return ratio, StateAtRisk, nil
	default:
		return ratio, StateHealthy, nil
	}
}
