package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"watchtower/pkg/errors"
	"watchtower/pkg/logger"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config configures a retry policy
type Config struct {
	MaxAttempts       int           // Attempts per Do call (e.g. 3)
	MinBackoff        time.Duration // Initial backoff between attempts (e.g. 200ms)
	MaxBackoff        time.Duration // Backoff cap (e.g. 5s)
	BackoffMultiplier float64       // Exponential multiplier (e.g. 2.0)
	FailureThreshold  int           // Consecutive exhausted calls before opening the circuit
	OpenTimeout       time.Duration // How long the circuit stays open before a half-open probe
}

// Policy is a reusable retry policy with a circuit breaker.
// It is applied uniformly at the ledger gateway boundary: one instance
// guards one upstream, and every call goes through Do.
type Policy struct {
	maxAttempts       int
	minBackoff        time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	failureThreshold  int
	openTimeout       time.Duration

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
	totalTrips          int

	log *logger.Logger
}

// NewPolicy creates a retry policy with sensible defaults
func NewPolicy(cfg Config, log *logger.Logger) *Policy {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MinBackoff == 0 {
		cfg.MinBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.BackoffMultiplier == 0 {
		cfg.BackoffMultiplier = 2.0
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	return &Policy{
		maxAttempts:       cfg.MaxAttempts,
		minBackoff:        cfg.MinBackoff,
		maxBackoff:        cfg.MaxBackoff,
		backoffMultiplier: cfg.BackoffMultiplier,
		failureThreshold:  cfg.FailureThreshold,
		openTimeout:       cfg.OpenTimeout,
		state:             StateClosed,
		log:               log,
	}
}

// permanentError marks an error that must not be retried
// (contract-level rejection rather than a transient transport failure)
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the policy fails fast instead of retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// State returns the current circuit state
func (p *Policy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats describes the policy state for health/status surfaces
type Stats struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	TotalTrips          int    `json:"total_trips"`
}

// GetStats returns current policy statistics
func (p *Policy) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		State:               p.state.String(),
		ConsecutiveFailures: p.consecutiveFailures,
		TotalTrips:          p.totalTrips,
	}
}

// Do executes fn with bounded retries under the circuit breaker.
// A permanent error fails immediately. An exhausted call counts as one
// failure toward opening the circuit; any success closes it.
func (p *Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := p.allow(op); err != nil {
		return err
	}

	backoff := p.minBackoff
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			// Caller went away, not an upstream failure
			p.release()
			return err
		}

		err := fn(ctx)
		if err == nil {
			p.recordSuccess()
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			// Contract rejection: the upstream is alive, just saying no
			p.recordSuccess()
			return err
		}

		if attempt == p.maxAttempts {
			break
		}

		p.log.Warnw("Retrying gateway call",
			"op", op,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-time.After(withJitter(backoff)):
		case <-ctx.Done():
			p.release()
			return ctx.Err()
		}

		backoff = time.Duration(float64(backoff) * p.backoffMultiplier)
		if backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}

	p.recordFailure(op)
	return errors.Wrapf(lastErr, "%s failed after %d attempts", op, p.maxAttempts)
}

// allow decides whether a call may proceed given the circuit state
func (p *Policy) allow(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(p.openedAt) < p.openTimeout {
			return errors.Wrapf(errors.ErrCircuitOpen, "op %s rejected", op)
		}
		p.state = StateHalfOpen
		p.probing = true
		p.log.Infow("Circuit breaker half-open, probing", "op", op)
		return nil
	default: // StateHalfOpen
		if p.probing {
			return errors.Wrapf(errors.ErrCircuitOpen, "op %s rejected, probe in flight", op)
		}
		p.probing = true
		return nil
	}
}

// release clears a half-open probe slot without judging the upstream
func (p *Policy) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probing = false
}

func (p *Policy) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateClosed {
		p.log.Infow("Circuit breaker closed, upstream recovered")
	}
	p.state = StateClosed
	p.consecutiveFailures = 0
	p.probing = false
}

func (p *Policy) recordFailure(op string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.consecutiveFailures++
	p.probing = false

	if p.state == StateHalfOpen {
		p.state = StateOpen
		p.openedAt = time.Now()
		p.totalTrips++
		p.log.Warnw("Circuit breaker re-opened after failed probe", "op", op)
		return
	}

	if p.state == StateClosed && p.consecutiveFailures >= p.failureThreshold {
		p.state = StateOpen
		p.openedAt = time.Now()
		p.totalTrips++
		p.log.Errorw("Circuit breaker opened",
			"op", op,
			"consecutive_failures", p.consecutiveFailures,
			"open_timeout", p.openTimeout,
		)
	}
}

// withJitter spreads retries to avoid thundering herd on the RPC endpoint
func withJitter(d time.Duration) time.Duration {
	jitter := time.Duration(rand.Int63n(int64(d) / 4))
	return d + jitter
}
