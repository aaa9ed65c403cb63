package borrower

import (
	"time"

	"github.com/shopspring/decimal"
)

// HealthState classifies a borrower's solvency
type HealthState string

const (
	StateHealthy      HealthState = "healthy"
	StateAtRisk       HealthState = "at_risk"
	StateLiquidatable HealthState = "liquidatable"
	StateProtected    HealthState = "protected"
	StateInAuction    HealthState = "in_auction"
)

// Ratio is collateral value divided by debt value.
// Infinite marks the zero-debt case.
type Ratio struct {
	Value    decimal.Decimal
	Infinite bool
}

// String renders the ratio for logs and audit payloads
func (r Ratio) String() string {
	if r.Infinite {
		return "inf"
	}
	return r.Value.StringFixed(4)
}

// Below reports whether the ratio is strictly below threshold.
// An infinite ratio is never below any threshold.
func (r Ratio) Below(threshold decimal.Decimal) bool {
	if r.Infinite {
		return false
	}
	return r.Value.LessThan(threshold)
}

// Record is the authoritative per-borrower state held by the tracker
type Record struct {
	Address         string          `json:"address"`
	DebtValue       decimal.Decimal `json:"debt_value"`
	CollateralValue decimal.Decimal `json:"collateral_value"`
	CollateralRatio Ratio           `json:"-"`
	Health          HealthState     `json:"health"`
	LastEvaluated   time.Time       `json:"last_evaluated"`
	StateEnteredAt  time.Time       `json:"state_entered_at"`
}

// Snapshot is a copy of a Record safe to hand outside the tracker
type Snapshot struct {
	Address         string      `json:"address"`
	DebtValue       string      `json:"debt_value"`
	CollateralValue string      `json:"collateral_value"`
	CollateralRatio string      `json:"collateral_ratio"`
	Health          HealthState `json:"health"`
	LastEvaluated   time.Time   `json:"last_evaluated"`
	StateEnteredAt  time.Time   `json:"state_entered_at"`
}

// Snapshot copies the record into its external representation
func (r *Record) Snapshot() Snapshot {
	return Snapshot{
		Address:         r.Address,
		DebtValue:       r.DebtValue.String(),
		CollateralValue: r.CollateralValue.String(),
		CollateralRatio: r.CollateralRatio.String(),
		Health:          r.Health,
		LastEvaluated:   r.LastEvaluated,
		StateEnteredAt:  r.StateEnteredAt,
	}
}

// TransitionResult reports the outcome of one evaluation.
// ShouldRemediate is true exactly once per crossing into liquidatable:
// the caller owns kicking off remediation and must clear the in-flight
// flag when the attempt finishes.
type TransitionResult struct {
	Address         string
	PreviousState   HealthState
	NewState        HealthState
	Ratio           Ratio
	Changed         bool
	ShouldRemediate bool
}

// Thresholds is the read-only risk configuration injected at construction
type Thresholds struct {
	Liquidation decimal.Decimal // remediation cutoff, e.g. 1.10
	Warning     decimal.Decimal // warning-only cutoff, e.g. 1.25
}
