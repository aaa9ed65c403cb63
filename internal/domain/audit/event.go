package audit

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the audited state transition
type Kind string

const (
	KindRiskWarning          Kind = "RISK_WARNING"
	KindLiquidationInitiated Kind = "LIQUIDATION_INITIATED"
	KindLiquidationCompleted Kind = "LIQUIDATION_COMPLETED"
	KindLiquidationFailed    Kind = "LIQUIDATION_FAILED"
	KindProtectionUsed       Kind = "PROTECTION_USED"
	KindAuctionStarted       Kind = "AUCTION_STARTED"
	KindAuctionEnded         Kind = "AUCTION_ENDED"
)

// Payload carries the context of one transition.
// Amounts are decimal strings to keep the wire format stable.
type Payload struct {
	Borrower        string    `json:"borrower"`
	CollateralRatio string    `json:"collateral_ratio,omitempty"`
	DebtValue       string    `json:"debt_value,omitempty"`
	CollateralValue string    `json:"collateral_value,omitempty"`
	AuctionID       string    `json:"auction_id,omitempty"`
	TxHash          string    `json:"tx_hash,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Event is one immutable append-only audit entry
type Event struct {
	ID      uuid.UUID `json:"id"`
	Kind    Kind      `json:"kind"`
	Payload Payload   `json:"payload"`
}

// NewEvent stamps a payload with identity and time
func NewEvent(kind Kind, payload Payload) Event {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	return Event{
		ID:      uuid.New(),
		Kind:    kind,
		Payload: payload,
	}
}
