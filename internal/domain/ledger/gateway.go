package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TxResult describes a confirmed ledger transaction
type TxResult struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// StartAuctionParams are the inputs to the auction contract
type StartAuctionParams struct {
	Borrower         string
	CollateralAmount decimal.Decimal
	StartPrice       decimal.Decimal
	ReservePrice     decimal.Decimal
	Duration         time.Duration
}

// StartedAuction is the auction contract's acknowledgement
type StartedAuction struct {
	AuctionID string
	Tx        TxResult
}

// Gateway is the engine's only door to the lending ledger and its
// auxiliary contracts. All calls may block on network RPC and must be
// given a bounded context; implementations carry their own retry and
// circuit-breaker policy, so callers treat any error as a single
// attempt failure.
type Gateway interface {
	GetDebt(ctx context.Context, address string) (decimal.Decimal, error)
	GetCollateral(ctx context.Context, address string) (decimal.Decimal, error)
	ListActiveBorrowers(ctx context.Context) ([]string, error)

	HasActiveProtection(ctx context.Context, address string) (bool, error)
	ActivateProtection(ctx context.Context, address string) (TxResult, error)

	StartAuction(ctx context.Context, params StartAuctionParams) (StartedAuction, error)
	Liquidate(ctx context.Context, address string) (TxResult, error)
}

// EventKind identifies a ledger change event
type EventKind string

const (
	EventBorrow            EventKind = "Borrow"
	EventRepay             EventKind = "Repay"
	EventCollateralAdded   EventKind = "CollateralAdded"
	EventCollateralRemoved EventKind = "CollateralRemoved"
	EventAuctionEnded      EventKind = "AuctionEnded"
)

// Event is one ledger change delivered by the subscription feed
type Event struct {
	Kind        EventKind       `json:"kind"`
	Borrower    string          `json:"borrower"`
	Amount      decimal.Decimal `json:"amount"`
	AuctionID   string          `json:"auction_id,omitempty"`
	Winner      string          `json:"winner,omitempty"`
	FinalPrice  decimal.Decimal `json:"final_price"`
	TxHash      string          `json:"tx_hash,omitempty"`
	BlockNumber uint64          `json:"block_number"`
	Timestamp   time.Time       `json:"timestamp"`
}

// EventSource delivers ledger events in chain order.
// The channel closes when the source shuts down.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
	Close() error
}
