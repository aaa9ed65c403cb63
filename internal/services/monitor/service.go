package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"watchtower/internal/adapters/config"
	domainaudit "watchtower/internal/domain/audit"
	"watchtower/internal/domain/auction"
	"watchtower/internal/domain/borrower"
	domainledger "watchtower/internal/domain/ledger"
	"watchtower/internal/metrics"
	"watchtower/pkg/errors"
	"watchtower/pkg/logger"
)

const (
	statusCacheKey = "watchtower:status"
	statusCacheTTL = 2 * time.Second

	// An exhausted chain is three gateway calls plus their retries,
	// so remediation gets a generous detached deadline.
	remediationTimeout = 2 * time.Minute
)

// StatusCache caches the status snapshot between dashboard polls
type StatusCache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
}

// HistoryReader reads back per-borrower remediation history
type HistoryReader interface {
	GetHistory(ctx context.Context, key string, limit int64) ([]json.RawMessage, error)
}

// SweepResult summarizes one full pass over the borrower set
type SweepResult struct {
	Trigger    string        `json:"trigger"`
	Evaluated  int           `json:"evaluated"`
	Errors     int           `json:"errors"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

// ThresholdView renders the risk configuration for status consumers
type ThresholdView struct {
	Liquidation   string `json:"liquidation"`
	Warning       string `json:"warning"`
	CheckInterval string `json:"check_interval"`
}

// Status is the read-only snapshot exposed to dashboards and CLIs
type Status struct {
	Running             bool                `json:"running"`
	Uptime              string              `json:"uptime,omitempty"`
	Thresholds          ThresholdView       `json:"thresholds"`
	AtRiskBorrowers     []borrower.Snapshot `json:"at_risk_borrowers"`
	PendingLiquidations []borrower.Snapshot `json:"pending_liquidations"`
	ActiveAuctions      []auction.Record    `json:"active_auctions"`
	LastSweep           *SweepResult        `json:"last_sweep,omitempty"`
}

// BorrowerDetail is the per-borrower drill-down view
type BorrowerDetail struct {
	borrower.Snapshot
	ProtectionActive   bool              `json:"protection_active"`
	ActiveAuction      *auction.Record   `json:"active_auction,omitempty"`
	LiquidationHistory []json.RawMessage `json:"liquidation_history"`
}

// Service is the dual-trigger scheduler: a periodic full sweep over
// every known borrower plus targeted re-evaluation on ledger events.
// Start and Stop are idempotent; Stop waits for in-flight remediation
// to finish rather than aborting it mid-chain.
type Service struct {
	cfg      config.MonitorConfig
	gateway  domainledger.Gateway
	events   domainledger.EventSource
	tracker  *Tracker
	orch     *Orchestrator
	recorder Recorder
	cache    StatusCache
	history  HistoryReader
	log      *logger.Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	startedAt time.Time
	lastSweep *SweepResult

	loopWG sync.WaitGroup
	remWG  sync.WaitGroup
}

// NewService assembles the scheduler. events, cache, and history may
// be nil; the corresponding features degrade to off.
func NewService(
	cfg config.MonitorConfig,
	gateway domainledger.Gateway,
	events domainledger.EventSource,
	tracker *Tracker,
	orch *Orchestrator,
	recorder Recorder,
	cache StatusCache,
	history HistoryReader,
	log *logger.Logger,
) *Service {
	return &Service{
		cfg:      cfg,
		gateway:  gateway,
		events:   events,
		tracker:  tracker,
		orch:     orch,
		recorder: recorder,
		cache:    cache,
		history:  history,
		log:      log.With("component", "monitor"),
	}
}

// Start runs one immediate full sweep, then schedules the interval
// sweep and the event loop. Calling Start on a running service is a
// no-op returning nil.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	s.log.Infow("Monitor starting",
		"check_interval", s.cfg.CheckInterval,
		"liquidation_threshold", s.cfg.LiquidationThreshold,
		"warning_threshold", s.cfg.WarningThreshold,
	)

	// State must be fresh before the first interval elapses
	s.sweep(ctx, "boot")

	s.loopWG.Add(1)
	go s.sweepLoop(loopCtx)

	if s.events != nil {
		ch, err := s.events.Subscribe(loopCtx)
		if err != nil {
			s.log.Warnw("Event subscription failed, polling only", "error", err)
		} else {
			s.loopWG.Add(1)
			go s.eventLoop(loopCtx, ch)
		}
	}

	return nil
}

// Stop cancels the loops and waits for in-flight remediation to
// complete. Safe to call on a stopped or never-started service.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	s.log.Infow("Monitor stopping")
	cancel()

	if s.events != nil {
		if err := s.events.Close(); err != nil {
			s.log.Warnw("Event source close failed", "error", err)
		}
	}

	s.loopWG.Wait()
	s.remWG.Wait()
	s.log.Infow("Monitor stopped")
	return nil
}

// Running reports the scheduler state
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) sweepLoop(ctx context.Context) {
	defer s.loopWG.Done()

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, "interval")
		}
	}
}

func (s *Service) eventLoop(ctx context.Context, ch <-chan domainledger.Event) {
	defer s.loopWG.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				s.log.Warnw("Event channel closed")
				return
			}
			s.handleEvent(ctx, event)
		}
	}
}

// handleEvent routes one ledger event to settlement handling or a
// targeted re-evaluation
func (s *Service) handleEvent(ctx context.Context, event domainledger.Event) {
	if event.Kind == domainledger.EventAuctionEnded {
		s.orch.HandleAuctionEnded(ctx, event)
		return
	}

	if event.Borrower == "" {
		return
	}
	if err := s.evaluateOne(ctx, event.Borrower); err != nil {
		s.log.Warnw("Event-triggered evaluation failed",
			"kind", event.Kind,
			"borrower", event.Borrower,
			"error", err,
		)
	}
}

// sweep evaluates every known borrower with bounded concurrency.
// Individual failures are counted, never fatal for the sweep.
func (s *Service) sweep(ctx context.Context, trigger string) SweepResult {
	start := time.Now()

	var errCount atomic.Int64
	addrs, err := s.listBorrowers(ctx)
	if err != nil {
		s.log.Warnw("Borrower listing failed, sweeping tracked set only", "error", err)
		errCount.Add(1)
	}

	sem := make(chan struct{}, s.cfg.SweepConcurrency)
	var wg sync.WaitGroup
	for _, addr := range addrs {
		select {
		case <-ctx.Done():
			wg.Wait()
			return s.finishSweep(trigger, len(addrs), int(errCount.Load()), start)
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.evaluateOne(ctx, addr); err != nil {
				errCount.Add(1)
				s.log.Warnw("Borrower evaluation failed", "borrower", addr, "error", err)
			}
		}(addr)
	}
	wg.Wait()

	if evicted := s.orch.EvictSettled(time.Now().UTC()); evicted > 0 {
		s.log.Debugw("Settled auctions evicted", "count", evicted)
	}

	return s.finishSweep(trigger, len(addrs), int(errCount.Load()), start)
}

func (s *Service) finishSweep(trigger string, evaluated, errCount int, start time.Time) SweepResult {
	result := SweepResult{
		Trigger:    trigger,
		Evaluated:  evaluated,
		Errors:     errCount,
		Duration:   time.Since(start),
		FinishedAt: time.Now().UTC(),
	}

	metrics.SweepRuns.WithLabelValues(trigger).Inc()
	metrics.SweepDuration.Observe(result.Duration.Seconds())
	if errCount > 0 {
		metrics.SweepErrors.Add(float64(errCount))
	}

	s.mu.Lock()
	s.lastSweep = &result
	s.mu.Unlock()

	s.log.Infow("Sweep finished",
		"trigger", trigger,
		"evaluated", evaluated,
		"errors", errCount,
		"duration", result.Duration,
	)
	return result
}

// listBorrowers merges the ledger's active set with everything already
// tracked, so borrowers learned from events survive listing gaps
func (s *Service) listBorrowers(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string

	for _, addr := range s.tracker.Addresses() {
		seen[addr] = struct{}{}
		out = append(out, addr)
	}

	active, err := s.gateway.ListActiveBorrowers(ctx)
	if err != nil {
		return out, err
	}
	for _, addr := range active {
		if _, ok := seen[addr]; !ok {
			out = append(out, addr)
		}
	}
	return out, nil
}

// evaluateOne queries the ledger and applies one evaluation. State is
// always recomputed from the latest balances, never from event deltas.
func (s *Service) evaluateOne(ctx context.Context, address string) error {
	debt, err := s.gateway.GetDebt(ctx, address)
	if err != nil {
		return err
	}
	collateral, err := s.gateway.GetCollateral(ctx, address)
	if err != nil {
		return err
	}

	result, err := s.tracker.Evaluate(address, debt, collateral)
	if err != nil {
		return err
	}

	if result.Changed && result.NewState == borrower.StateAtRisk {
		s.recorder.Record(ctx, domainaudit.KindRiskWarning, domainaudit.Payload{
			Borrower:        address,
			CollateralRatio: result.Ratio.String(),
			DebtValue:       debt.String(),
			CollateralValue: collateral.String(),
		})
		s.log.Warnw("Borrower at risk",
			"borrower", address,
			"ratio", result.Ratio.String(),
		)
	}

	if result.ShouldRemediate {
		s.spawnRemediation(target{
			Address:    address,
			Debt:       debt,
			Collateral: collateral,
			Ratio:      result.Ratio,
		})
	}
	return nil
}

// spawnRemediation runs the fallback chain on a detached context so a
// scheduler stop cannot abort a ledger mutation mid-chain
func (s *Service) spawnRemediation(tgt target) {
	s.remWG.Add(1)
	go func() {
		defer s.remWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), remediationTimeout)
		defer cancel()

		if err := s.orch.Remediate(ctx, tgt); err != nil {
			s.log.Warnw("Remediation unsuccessful", "borrower", tgt.Address, "error", err)
		}
	}()
}

// GetStatus returns the dashboard snapshot, cached briefly so bursty
// pollers do not hammer the tracker
func (s *Service) GetStatus(ctx context.Context) Status {
	if s.cache != nil {
		var cached Status
		if err := s.cache.Get(ctx, statusCacheKey, &cached); err == nil {
			return cached
		}
	}

	status := s.buildStatus()

	if s.cache != nil {
		if err := s.cache.Set(ctx, statusCacheKey, status, statusCacheTTL); err != nil {
			s.log.Debugw("Status cache write failed", "error", err)
		}
	}
	return status
}

func (s *Service) buildStatus() Status {
	s.mu.Lock()
	running := s.running
	startedAt := s.startedAt
	lastSweep := s.lastSweep
	s.mu.Unlock()

	status := Status{
		Running: running,
		Thresholds: ThresholdView{
			Liquidation:   s.cfg.LiquidationDecimal().String(),
			Warning:       s.cfg.WarningDecimal().String(),
			CheckInterval: s.cfg.CheckInterval.String(),
		},
		AtRiskBorrowers:     s.tracker.ByState(borrower.StateAtRisk),
		PendingLiquidations: s.tracker.ByState(borrower.StateLiquidatable),
		ActiveAuctions:      s.orch.ActiveAuctions(),
		LastSweep:           lastSweep,
	}
	if running {
		status.Uptime = humanize.RelTime(startedAt, time.Now(), "", "")
	}
	return status
}

// GetBorrowerDetail returns the drill-down view for one borrower
func (s *Service) GetBorrowerDetail(ctx context.Context, address string) (BorrowerDetail, error) {
	snap, ok := s.tracker.Get(address)
	if !ok {
		return BorrowerDetail{}, errors.Wrapf(errors.ErrNotFound, "borrower %s not tracked", address)
	}

	detail := BorrowerDetail{Snapshot: snap}

	protected, err := s.gateway.HasActiveProtection(ctx, address)
	if err != nil {
		s.log.Debugw("Protection lookup failed", "borrower", address, "error", err)
	} else {
		detail.ProtectionActive = protected
	}

	if rec, found := s.orch.AuctionForBorrower(address); found {
		detail.ActiveAuction = &rec
	}

	if s.history != nil {
		entries, err := s.history.GetHistory(ctx, historyKeyPrefix+address, historyMaxLen)
		if err != nil {
			s.log.Debugw("History lookup failed", "borrower", address, "error", err)
		} else {
			detail.LiquidationHistory = entries
		}
	}
	return detail, nil
}

// ThresholdsFromConfig converts the monitor configuration into the
// tracker's decimal thresholds
func ThresholdsFromConfig(cfg config.MonitorConfig) borrower.Thresholds {
	return borrower.Thresholds{
		Liquidation: cfg.LiquidationDecimal(),
		Warning:     cfg.WarningDecimal(),
	}
}
