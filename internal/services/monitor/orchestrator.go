package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domainaudit "watchtower/internal/domain/audit"
	"watchtower/internal/domain/auction"
	"watchtower/internal/domain/borrower"
	domainledger "watchtower/internal/domain/ledger"
	"watchtower/internal/metrics"
	"watchtower/pkg/errors"
	"watchtower/pkg/logger"
)

const historyKeyPrefix = "watchtower:liquidation_history:"

// historyMaxLen bounds the per-borrower remediation history list
const historyMaxLen = 50

// HistoryStore persists per-borrower remediation history entries
type HistoryStore interface {
	PushHistory(ctx context.Context, key string, entry interface{}, maxLen int64) error
}

// historyEntry is one remediation outcome kept in the history list
type historyEntry struct {
	Outcome   string    `json:"outcome"`
	Ratio     string    `json:"ratio"`
	TxHash    string    `json:"tx_hash,omitempty"`
	AuctionID string    `json:"auction_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// target carries the inputs of one remediation attempt
type target struct {
	Address    string
	Debt       decimal.Decimal
	Collateral decimal.Decimal
	Ratio      borrower.Ratio
}

// stageOutcome is the result of running one remediation stage
type stageOutcome int

const (
	stageSkipped stageOutcome = iota // preconditions not met, try the next stage
	stageFailed                      // attempted and failed, try the next stage
	stageDone                        // position remediated, chain stops
)

// stage is one step of the remediation chain
type stage struct {
	name string
	run  func(ctx context.Context, tgt target) stageOutcome
}

// Orchestrator drives the remediation fallback chain for borrowers
// that crossed into liquidatable, and keeps the auction books. The
// chain order is fixed: protection, then auction, then direct
// liquidation. Later stages are more destructive for the borrower, so
// a stage runs only after every earlier stage was skipped or failed.
type Orchestrator struct {
	gateway  domainledger.Gateway
	tracker  *Tracker
	recorder Recorder
	history  HistoryStore

	auctionEnabled  bool
	auctionDuration time.Duration
	gracePeriod     time.Duration

	stages []stage
	log    *logger.Logger

	mu         sync.Mutex
	auctions   map[string]*auction.Record
	byBorrower map[string]string // borrower address -> active auction id
}

// Recorder is the audit boundary the orchestrator emits through
type Recorder interface {
	Record(ctx context.Context, kind domainaudit.Kind, payload domainaudit.Payload)
}

// OrchestratorConfig carries the orchestrator's fixed settings
type OrchestratorConfig struct {
	AuctionEnabled  bool
	AuctionDuration time.Duration
	GracePeriod     time.Duration
}

// NewOrchestrator creates a remediation orchestrator
func NewOrchestrator(
	gateway domainledger.Gateway,
	tracker *Tracker,
	recorder Recorder,
	history HistoryStore,
	cfg OrchestratorConfig,
	log *logger.Logger,
) *Orchestrator {
	o := &Orchestrator{
		gateway:         gateway,
		tracker:         tracker,
		recorder:        recorder,
		history:         history,
		auctionEnabled:  cfg.AuctionEnabled,
		auctionDuration: cfg.AuctionDuration,
		gracePeriod:     cfg.GracePeriod,
		log:             log.With("component", "orchestrator"),
		auctions:        make(map[string]*auction.Record),
		byBorrower:      make(map[string]string),
	}
	o.stages = []stage{
		{name: "protection", run: o.tryProtection},
		{name: "auction", run: o.tryAuction},
		{name: "liquidate", run: o.tryLiquidate},
	}
	return o
}

// Remediate runs the fallback chain for one borrower. The caller must
// have acquired the borrower's in-flight slot; Remediate releases it
// on return. When every stage fails the borrower stays liquidatable
// and the next evaluation cycle retries from the top of the chain.
func (o *Orchestrator) Remediate(ctx context.Context, tgt target) error {
	defer o.tracker.ClearInFlight(tgt.Address)

	log := o.log.With("borrower", tgt.Address, "ratio", tgt.Ratio.String())
	log.Warnw("Remediation started",
		"debt", tgt.Debt.String(),
		"collateral", tgt.Collateral.String(),
	)

	o.recorder.Record(ctx, domainaudit.KindLiquidationInitiated, domainaudit.Payload{
		Borrower:        tgt.Address,
		CollateralRatio: tgt.Ratio.String(),
		DebtValue:       tgt.Debt.String(),
		CollateralValue: tgt.Collateral.String(),
	})

	for _, st := range o.stages {
		switch st.run(ctx, tgt) {
		case stageDone:
			metrics.RemediationStages.WithLabelValues(st.name, "success").Inc()
			return nil
		case stageFailed:
			metrics.RemediationStages.WithLabelValues(st.name, "failure").Inc()
			log.Warnw("Remediation stage failed, falling through", "stage", st.name)
		case stageSkipped:
			metrics.RemediationStages.WithLabelValues(st.name, "skipped").Inc()
			log.Debugw("Remediation stage skipped", "stage", st.name)
		}
	}

	o.recorder.Record(ctx, domainaudit.KindLiquidationFailed, domainaudit.Payload{
		Borrower:        tgt.Address,
		CollateralRatio: tgt.Ratio.String(),
		DebtValue:       tgt.Debt.String(),
		CollateralValue: tgt.Collateral.String(),
		Reason:          "all remediation stages exhausted",
	})
	o.pushHistory(ctx, tgt, historyEntry{
		Outcome:   string(domainaudit.KindLiquidationFailed),
		Ratio:     tgt.Ratio.String(),
		Timestamp: time.Now().UTC(),
	})

	log.Errorw("Remediation exhausted, borrower remains liquidatable")
	return errors.Wrapf(errors.ErrInternal, "remediation exhausted for %s", tgt.Address)
}

// tryProtection activates the borrower's protection grant if one exists
func (o *Orchestrator) tryProtection(ctx context.Context, tgt target) stageOutcome {
	active, err := o.gateway.HasActiveProtection(ctx, tgt.Address)
	if err != nil {
		o.log.Warnw("Protection query failed", "borrower", tgt.Address, "error", err)
		return stageFailed
	}
	if !active {
		return stageSkipped
	}

	tx, err := o.gateway.ActivateProtection(ctx, tgt.Address)
	if err != nil {
		o.log.Warnw("Protection activation failed", "borrower", tgt.Address, "error", err)
		return stageFailed
	}

	o.tracker.MarkProtected(tgt.Address)
	o.recorder.Record(ctx, domainaudit.KindProtectionUsed, domainaudit.Payload{
		Borrower:        tgt.Address,
		CollateralRatio: tgt.Ratio.String(),
		DebtValue:       tgt.Debt.String(),
		CollateralValue: tgt.Collateral.String(),
		TxHash:          tx.TxHash,
	})
	o.pushHistory(ctx, tgt, historyEntry{
		Outcome:   string(domainaudit.KindProtectionUsed),
		Ratio:     tgt.Ratio.String(),
		TxHash:    tx.TxHash,
		Timestamp: time.Now().UTC(),
	})

	o.log.Infow("Protection activated", "borrower", tgt.Address, "tx", tx.TxHash)
	return stageDone
}

// tryAuction starts a Dutch auction for the borrower's collateral
func (o *Orchestrator) tryAuction(ctx context.Context, tgt target) stageOutcome {
	if !o.auctionEnabled {
		return stageSkipped
	}

	startPrice, reservePrice := auction.Prices(tgt.Collateral)
	started, err := o.gateway.StartAuction(ctx, domainledger.StartAuctionParams{
		Borrower:         tgt.Address,
		CollateralAmount: tgt.Collateral,
		StartPrice:       startPrice,
		ReservePrice:     reservePrice,
		Duration:         o.auctionDuration,
	})
	if err != nil {
		o.log.Warnw("Auction start failed", "borrower", tgt.Address, "error", err)
		return stageFailed
	}

	rec := &auction.Record{
		ID:               started.AuctionID,
		Borrower:         tgt.Address,
		CollateralAmount: tgt.Collateral,
		StartPrice:       startPrice,
		ReservePrice:     reservePrice,
		Duration:         o.auctionDuration,
		Status:           auction.StatusActive,
		StartedAt:        time.Now().UTC(),
	}

	o.mu.Lock()
	o.auctions[rec.ID] = rec
	o.byBorrower[tgt.Address] = rec.ID
	o.mu.Unlock()

	o.tracker.MarkInAuction(tgt.Address)
	o.recorder.Record(ctx, domainaudit.KindAuctionStarted, domainaudit.Payload{
		Borrower:        tgt.Address,
		CollateralRatio: tgt.Ratio.String(),
		DebtValue:       tgt.Debt.String(),
		CollateralValue: tgt.Collateral.String(),
		AuctionID:       rec.ID,
		TxHash:          started.Tx.TxHash,
	})
	o.pushHistory(ctx, tgt, historyEntry{
		Outcome:   string(domainaudit.KindAuctionStarted),
		Ratio:     tgt.Ratio.String(),
		TxHash:    started.Tx.TxHash,
		AuctionID: rec.ID,
		Timestamp: time.Now().UTC(),
	})

	o.log.Infow("Auction started",
		"borrower", tgt.Address,
		"auction_id", rec.ID,
		"start_price", startPrice.String(),
		"reserve_price", reservePrice.String(),
	)
	return stageDone
}

// tryLiquidate seizes the full position directly
func (o *Orchestrator) tryLiquidate(ctx context.Context, tgt target) stageOutcome {
	tx, err := o.gateway.Liquidate(ctx, tgt.Address)
	if err != nil {
		o.log.Warnw("Direct liquidation failed", "borrower", tgt.Address, "error", err)
		return stageFailed
	}

	o.tracker.ResetHealthy(tgt.Address)
	o.recorder.Record(ctx, domainaudit.KindLiquidationCompleted, domainaudit.Payload{
		Borrower:        tgt.Address,
		CollateralRatio: tgt.Ratio.String(),
		DebtValue:       tgt.Debt.String(),
		CollateralValue: tgt.Collateral.String(),
		TxHash:          tx.TxHash,
	})
	o.pushHistory(ctx, tgt, historyEntry{
		Outcome:   string(domainaudit.KindLiquidationCompleted),
		Ratio:     tgt.Ratio.String(),
		TxHash:    tx.TxHash,
		Timestamp: time.Now().UTC(),
	})

	o.log.Infow("Direct liquidation completed", "borrower", tgt.Address, "tx", tx.TxHash)
	return stageDone
}

// HandleAuctionEnded settles the matching auction record and returns
// the borrower to healthy tracking
func (o *Orchestrator) HandleAuctionEnded(ctx context.Context, event domainledger.Event) {
	o.mu.Lock()
	rec, ok := o.auctions[event.AuctionID]
	if !ok && event.Borrower != "" {
		if id, found := o.byBorrower[event.Borrower]; found {
			rec, ok = o.auctions[id]
		}
	}
	if !ok {
		o.mu.Unlock()
		o.log.Warnw("Settlement for unknown auction",
			"auction_id", event.AuctionID,
			"borrower", event.Borrower,
		)
		return
	}

	rec.Status = auction.StatusSettled
	rec.Winner = event.Winner
	rec.FinalPrice = event.FinalPrice
	rec.EndedAt = time.Now().UTC()
	if !event.Timestamp.IsZero() {
		rec.EndedAt = event.Timestamp.UTC()
	}
	borrowerAddr := rec.Borrower
	delete(o.byBorrower, borrowerAddr)
	snapshot := *rec
	o.mu.Unlock()

	o.tracker.ResetHealthy(borrowerAddr)
	o.recorder.Record(ctx, domainaudit.KindAuctionEnded, domainaudit.Payload{
		Borrower:  borrowerAddr,
		AuctionID: snapshot.ID,
		TxHash:    event.TxHash,
		Reason:    fmt.Sprintf("settled at %s", snapshot.FinalPrice.String()),
	})

	o.log.Infow("Auction settled",
		"auction_id", snapshot.ID,
		"borrower", borrowerAddr,
		"winner", snapshot.Winner,
		"final_price", snapshot.FinalPrice.String(),
	)
}

// EvictSettled drops settled auction records older than the grace
// period. Called from the periodic sweep.
func (o *Orchestrator) EvictSettled(now time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	evicted := 0
	for id, rec := range o.auctions {
		if rec.Status == auction.StatusSettled && now.Sub(rec.EndedAt) > o.gracePeriod {
			delete(o.auctions, id)
			evicted++
		}
	}
	return evicted
}

// ActiveAuctions returns copies of every auction still on the books
func (o *Orchestrator) ActiveAuctions() []auction.Record {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]auction.Record, 0, len(o.auctions))
	for _, rec := range o.auctions {
		out = append(out, *rec)
	}
	return out
}

// AuctionForBorrower returns the borrower's active auction, if any
func (o *Orchestrator) AuctionForBorrower(address string) (auction.Record, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id, ok := o.byBorrower[address]
	if !ok {
		return auction.Record{}, false
	}
	rec, ok := o.auctions[id]
	if !ok {
		return auction.Record{}, false
	}
	return *rec, true
}

// pushHistory appends a remediation outcome to the borrower's bounded
// history list. Best-effort, same contract as the audit trail.
func (o *Orchestrator) pushHistory(ctx context.Context, tgt target, entry historyEntry) {
	if o.history == nil {
		return
	}
	key := historyKeyPrefix + tgt.Address
	if err := o.history.PushHistory(ctx, key, entry, historyMaxLen); err != nil {
		o.log.Warnw("History push failed", "borrower", tgt.Address, "error", err)
	}
}
