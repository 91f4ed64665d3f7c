// Package retry tracks delivery failures and computes exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"retail-platform/telemetry/internal/telemetry/clock"
	"retail-platform/telemetry/internal/telemetry/domain"
)

// Policy bounds the backoff curve.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultPolicy is 30s doubling up to 10 minutes.
var DefaultPolicy = Policy{BaseDelay: 30 * time.Second, MaxDelay: 10 * time.Minute}

// Delay returns min(BaseDelay * 2^(attempts-1), MaxDelay). Attempts below 1 yield zero.
func (p Policy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempts; i++ {
		if d >= p.MaxDelay || d > p.MaxDelay/2 {
			return p.MaxDelay
		}
		d *= 2
	}
	return min(d, p.MaxDelay)
}

func (p Policy) normalized() Policy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Persister saves and restores the retry state.
type Persister interface {
	LoadRetryState(ctx context.Context) (domain.RetryState, error)
	SaveRetryState(ctx context.Context, rs domain.RetryState) error
}

// Tracker owns the persisted RetryState. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	state  domain.RetryState
	policy Policy
	clock  clock.Clock
	store  Persister
	logger *slog.Logger
}

// Open restores the persisted state; a load error starts from the zero state.
func Open(ctx context.Context, store Persister, policy Policy, clk clock.Clock, logger *slog.Logger) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := &Tracker{policy: policy.normalized(), clock: clk, store: store, logger: logger}
	rs, err := store.LoadRetryState(ctx)
	if err != nil {
		logger.Warn("retry: load failed, starting fresh", "err", err)
		return t
	}
	if rs.Attempts < 0 {
		rs.Attempts = 0
	}
	t.state = rs
	return t
}

// CanAttempt reports whether the backoff window has elapsed.
func (t *Tracker) CanAttempt() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.clock.Now().Before(t.state.NextRetryAt)
}

// OnSuccess clears the failure streak.
func (t *Tracker) OnSuccess(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = domain.RetryState{NextRetryAt: t.clock.Now()}
	t.persistLocked(ctx)
}

// OnFailure records a failed attempt and pushes NextRetryAt out by the backoff delay.
func (t *Tracker) OnFailure(ctx context.Context, reason string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Attempts++
	delay := t.policy.Delay(t.state.Attempts)
	t.state.NextRetryAt = t.clock.Now().Add(delay)
	t.state.LastFailureReason = reason
	t.persistLocked(ctx)
	return delay
}

// ResetAttempts makes the next attempt immediately eligible. Used when connectivity returns.
func (t *Tracker) ResetAttempts(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Attempts = 0
	t.state.NextRetryAt = t.clock.Now()
	t.persistLocked(ctx)
}

func (t *Tracker) State() domain.RetryState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) persistLocked(ctx context.Context) {
	if err := t.store.SaveRetryState(ctx, t.state); err != nil {
		t.logger.Warn("retry: persist failed", "err", err)
	}
}
