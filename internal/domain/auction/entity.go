package auction

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status tracks the auction lifecycle as observed externally
type Status string

const (
	StatusActive  Status = "active"
	StatusSettled Status = "settled"
)

// Pricing multipliers applied to the collateral value when starting
// a Dutch auction. The price decays from start toward reserve.
var (
	StartPriceMultiplier   = decimal.NewFromFloat(1.20)
	ReservePriceMultiplier = decimal.NewFromFloat(0.70)
)

// Record is the orchestrator's bookkeeping for one auction.
// The ID is assigned by the external auction contract.
type Record struct {
	ID               string          `json:"id"`
	Borrower         string          `json:"borrower"`
	CollateralAmount decimal.Decimal `json:"collateral_amount"`
	StartPrice       decimal.Decimal `json:"start_price"`
	ReservePrice     decimal.Decimal `json:"reserve_price"`
	Duration         time.Duration   `json:"duration"`
	Status           Status          `json:"status"`
	Winner           string          `json:"winner,omitempty"`
	FinalPrice       decimal.Decimal `json:"final_price"`
	StartedAt        time.Time       `json:"started_at"`
	EndedAt          time.Time       `json:"ended_at,omitempty"`
}

// Prices computes the start and reserve price for a collateral amount
func Prices(collateral decimal.Decimal) (start, reserve decimal.Decimal) {
	return collateral.Mul(StartPriceMultiplier), collateral.Mul(ReservePriceMultiplier)
}
