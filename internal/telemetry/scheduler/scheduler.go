// Package scheduler triggers flushes on a fixed interval and shortly after critical events.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"retail-platform/telemetry/internal/telemetry/clock"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultDebounce = 100 * time.Millisecond
)

// FlushFunc performs one delivery attempt. It must be safe to call concurrently with itself.
type FlushFunc func(ctx context.Context)

// Config for New. Zero durations use the defaults.
type Config struct {
	Interval time.Duration
	Debounce time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Scheduler owns the periodic ticker and the pending critical trigger.
type Scheduler struct {
	flush    FlushFunc
	interval time.Duration
	debounce time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	pending clock.Timer
	done    chan struct{}
}

func New(flush FlushFunc, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		flush:    flush,
		interval: cfg.Interval,
		debounce: cfg.Debounce,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		ctx:      context.Background(),
	}
}

// Start launches the periodic loop. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	ticker := s.clock.NewTicker(s.interval)
	go s.loop(s.ctx, ticker, s.done)
}

func (s *Scheduler) loop(ctx context.Context, ticker clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.run(ctx, "tick")
		}
	}
}

// TriggerCritical schedules a flush after the debounce window. Triggers arriving while one is
// pending coalesce into it. It does not require Start.
func (s *Scheduler) TriggerCritical() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return
	}
	ctx := s.ctx
	s.pending = s.clock.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		s.run(ctx, "critical")
	})
}

// Stop cancels the loop and any pending critical trigger and waits for the loop to exit.
// An in-flight flush started by a tick is allowed to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.ctx = context.Background()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Scheduler) run(ctx context.Context, reason string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler: flush panicked", "trigger", reason, "panic", r)
		}
	}()
	if ctx.Err() != nil {
		return
	}
	s.flush(ctx)
}
