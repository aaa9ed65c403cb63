package monitor

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"watchtower/internal/domain/borrower"
	"watchtower/internal/metrics"
	"watchtower/pkg/logger"
)

// Evictions happen after the second consecutive zero-debt observation,
// so a single repay-then-reborrow cycle does not churn the map.
const zeroDebtEvictAfter = 2

// Tracker holds the authoritative borrower map. All mutation goes
// through its API under one lock, which also serializes evaluations
// per borrower. The in-flight set gates remediation handoff: Evaluate
// reports ShouldRemediate at most once per crossing, and the flag
// stays set until the remediation attempt clears it.
type Tracker struct {
	mu         sync.Mutex
	borrowers  map[string]*borrower.Record
	inFlight   map[string]struct{}
	zeroStreak map[string]int

	thresholds borrower.Thresholds
	log        *logger.Logger
}

// NewTracker creates a tracker with the given risk thresholds
func NewTracker(thresholds borrower.Thresholds, log *logger.Logger) *Tracker {
	return &Tracker{
		borrowers:  make(map[string]*borrower.Record),
		inFlight:   make(map[string]struct{}),
		zeroStreak: make(map[string]int),
		thresholds: thresholds,
		log:        log.With("component", "tracker"),
	}
}

// Evaluate applies a fresh debt/collateral observation to the borrower.
// Idempotent: identical inputs back to back produce no extra transition.
// When the result has ShouldRemediate set, the borrower has been added
// to the in-flight set and the caller owns running remediation and
// calling ClearInFlight when the attempt finishes.
func (t *Tracker) Evaluate(address string, debt, collateral decimal.Decimal) (borrower.TransitionResult, error) {
	ratio, state, err := borrower.Classify(debt, collateral, t.thresholds)
	if err != nil {
		return borrower.TransitionResult{}, err
	}

	now := time.Now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, known := t.borrowers[address]
	if !known {
		if debt.IsZero() {
			// Never observed with debt; nothing to track
			return borrower.TransitionResult{
				Address:  address,
				NewState: borrower.StateHealthy,
				Ratio:    ratio,
			}, nil
		}
		rec = &borrower.Record{
			Address:        address,
			Health:         borrower.StateHealthy,
			StateEnteredAt: now,
		}
		t.borrowers[address] = rec
	}

	prev := rec.Health
	rec.DebtValue = debt
	rec.CollateralValue = collateral
	rec.CollateralRatio = ratio
	rec.LastEvaluated = now

	if debt.IsZero() {
		t.zeroStreak[address]++
		if t.zeroStreak[address] >= zeroDebtEvictAfter {
			delete(t.borrowers, address)
			delete(t.zeroStreak, address)
			t.log.Infow("Borrower evicted, debt repaid", "borrower", address)
		}
	} else {
		delete(t.zeroStreak, address)
	}

	_, busy := t.inFlight[address]

	// Protected and InAuction belong to the remediation flow; a sweep
	// only releases them once the position reads healthy again.
	if prev == borrower.StateProtected || prev == borrower.StateInAuction {
		if state != borrower.StateHealthy {
			return borrower.TransitionResult{
				Address:       address,
				PreviousState: prev,
				NewState:      prev,
				Ratio:         ratio,
			}, nil
		}
	}

	changed := state != prev
	if changed {
		rec.Health = state
		rec.StateEnteredAt = now
		metrics.Transitions.WithLabelValues(string(prev), string(state)).Inc()
		t.updateStateGauges()
	}

	shouldRemediate := false
	if state == borrower.StateLiquidatable && !busy {
		t.inFlight[address] = struct{}{}
		metrics.RemediationsInFlight.Set(float64(len(t.inFlight)))
		shouldRemediate = true
	}

	return borrower.TransitionResult{
		Address:         address,
		PreviousState:   prev,
		NewState:        rec.Health,
		Ratio:           ratio,
		Changed:         changed,
		ShouldRemediate: shouldRemediate,
	}, nil
}

// MarkProtected records a successful protection activation
func (t *Tracker) MarkProtected(address string) {
	t.setState(address, borrower.StateProtected)
}

// MarkInAuction records a successfully started auction
func (t *Tracker) MarkInAuction(address string) {
	t.setState(address, borrower.StateInAuction)
}

// ResetHealthy returns a borrower to the healthy state after a
// completed liquidation or settled auction
func (t *Tracker) ResetHealthy(address string) {
	t.setState(address, borrower.StateHealthy)
}

func (t *Tracker) setState(address string, state borrower.HealthState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.borrowers[address]
	if !ok || rec.Health == state {
		return
	}

	metrics.Transitions.WithLabelValues(string(rec.Health), string(state)).Inc()
	rec.Health = state
	rec.StateEnteredAt = time.Now().UTC()
	t.updateStateGauges()
}

// ClearInFlight releases the remediation slot for a borrower.
// Safe to call for borrowers that were never in flight.
func (t *Tracker) ClearInFlight(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, address)
	metrics.RemediationsInFlight.Set(float64(len(t.inFlight)))
}

// InFlight reports whether a remediation attempt is active for address
func (t *Tracker) InFlight(address string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inFlight[address]
	return ok
}

// Get returns a snapshot of one borrower
func (t *Tracker) Get(address string) (borrower.Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.borrowers[address]
	if !ok {
		return borrower.Snapshot{}, false
	}
	return rec.Snapshot(), true
}

// Addresses returns every tracked borrower address
func (t *Tracker) Addresses() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.borrowers))
	for addr := range t.borrowers {
		out = append(out, addr)
	}
	return out
}

// ByState returns snapshots of all borrowers currently in state
func (t *Tracker) ByState(state borrower.HealthState) []borrower.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []borrower.Snapshot
	for _, rec := range t.borrowers {
		if rec.Health == state {
			out = append(out, rec.Snapshot())
		}
	}
	return out
}

// Counts returns the number of borrowers per health state
func (t *Tracker) Counts() map[borrower.HealthState]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[borrower.HealthState]int)
	for _, rec := range t.borrowers {
		counts[rec.Health]++
	}
	return counts
}

// updateStateGauges refreshes the per-state gauge. Caller holds t.mu.
func (t *Tracker) updateStateGauges() {
	counts := map[borrower.HealthState]int{
		borrower.StateHealthy:      0,
		borrower.StateAtRisk:       0,
		borrower.StateLiquidatable: 0,
		borrower.StateProtected:    0,
		borrower.StateInAuction:    0,
	}
	for _, rec := range t.borrowers {
		counts[rec.Health]++
	}
	for state, n := range counts {
		metrics.BorrowersByState.WithLabelValues(string(state)).Set(float64(n))
	}
}
