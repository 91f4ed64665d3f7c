// Package shutdown makes the single best-effort transmission of queued events when the process exits.
// It never retries and never requeues.
package shutdown

import (
	"context"
	"log/slog"
	"time"

	"retail-platform/telemetry/internal/telemetry/clock"
	"retail-platform/telemetry/internal/telemetry/domain"
)

// DefaultBeaconTimeout caps how long the teardown may hold up process exit.
const DefaultBeaconTimeout = 2 * time.Second

// Beacon transmits a batch without reporting the outcome.
type Beacon interface {
	Beacon(ctx context.Context, b domain.Batch)
}

// Queue is the subset of queue.Queue the flusher needs.
type Queue interface {
	DrainForSend(ctx context.Context) []domain.Event
}

type Connectivity interface {
	IsOnline() bool
}

// Recorder counts shutdown flushes.
type Recorder interface {
	RecordShutdownFlush(ctx context.Context)
}

// Flusher drains the queue once at teardown.
type Flusher struct {
	Beacon  Beacon
	Queue   Queue
	Gate    Connectivity
	Metrics Recorder
	Clock   clock.Clock
	Logger  *slog.Logger
	Timeout time.Duration
}

// Flush sends every queued event grouped by type with teardown set. It returns the number of events
// handed to the beacon; zero when offline or empty. Panics in the beacon are recovered.
func (f *Flusher) Flush(ctx context.Context) (sent int) {
	logger := f.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("shutdown: beacon panicked", "panic", r)
		}
	}()
	if f.Gate != nil && !f.Gate.IsOnline() {
		logger.Info("shutdown: offline, leaving events queued")
		return 0
	}
	events := f.Queue.DrainForSend(ctx)
	if len(events) == 0 {
		return 0
	}
	clk := f.Clock
	if clk == nil {
		clk = clock.Real()
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultBeaconTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	domain.SortByPriority(events)
	now := clk.Now()
	for _, g := range domain.GroupByType(events) {
		f.Beacon.Beacon(ctx, domain.NewBatch(g, now, true))
	}
	if f.Metrics != nil {
		f.Metrics.RecordShutdownFlush(ctx)
	}
	logger.Info("shutdown: teardown beacon sent", "events", len(events))
	return len(events)
}
