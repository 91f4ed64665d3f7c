// Package metrics aggregates delivery counters, persists them and mirrors them to OpenTelemetry.
package metrics

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"retail-platform/telemetry/internal/telemetry/clock"
	"retail-platform/telemetry/internal/telemetry/domain"
)

// Persister saves and restores the aggregate counters.
type Persister interface {
	LoadMetrics(ctx context.Context) (domain.Metrics, error)
	SaveMetrics(ctx context.Context, m domain.Metrics) error
}

type instruments struct {
	recorded  metric.Int64Counter
	dropped   metric.Int64Counter
	succeeded metric.Int64Counter
	failed    metric.Int64Counter
	teardown  metric.Int64Counter
	batchSize metric.Int64Histogram
}

func newInstruments(meter metric.Meter) (instruments, error) {
	var (
		in  instruments
		err error
	)
	if in.recorded, err = meter.Int64Counter("telemetry.events.recorded",
		metric.WithDescription("Events accepted into the queue")); err != nil {
		return in, err
	}
	if in.dropped, err = meter.Int64Counter("telemetry.events.dropped",
		metric.WithDescription("Events evicted because the queue was full")); err != nil {
		return in, err
	}
	if in.succeeded, err = meter.Int64Counter("telemetry.batches.succeeded"); err != nil {
		return in, err
	}
	if in.failed, err = meter.Int64Counter("telemetry.batches.failed"); err != nil {
		return in, err
	}
	if in.teardown, err = meter.Int64Counter("telemetry.shutdown.flushes"); err != nil {
		return in, err
	}
	in.batchSize, err = meter.Int64Histogram("telemetry.batch.size",
		metric.WithDescription("Events per successful flush"), metric.WithUnit("{event}"))
	return in, err
}

// Collector is safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	m      domain.Metrics
	store  Persister
	clock  clock.Clock
	inst   instruments
	logger *slog.Logger
}

// Open restores persisted counters. meter may be nil, in which case nothing is exported.
func Open(ctx context.Context, store Persister, meter metric.Meter, clk clock.Clock, logger *slog.Logger) *Collector {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}
	inst, err := newInstruments(meter)
	if err != nil {
		logger.Warn("metrics: otel instruments unavailable", "err", err)
		inst, _ = newInstruments(noop.NewMeterProvider().Meter(""))
	}
	c := &Collector{store: store, clock: clk, inst: inst, logger: logger}
	m, err := store.LoadMetrics(ctx)
	if err != nil {
		logger.Warn("metrics: load failed, starting from zero", "err", err)
		return c
	}
	c.m = m
	return c
}

// RecordEnqueued counts events accepted by Record.
func (c *Collector) RecordEnqueued(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	c.update(ctx, func(m *domain.Metrics) { m.TotalEvents += int64(n) })
	c.inst.recorded.Add(ctx, int64(n))
}

func (c *Collector) RecordDropped(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	c.update(ctx, func(m *domain.Metrics) { m.DroppedEvents += int64(n) })
	c.inst.dropped.Add(ctx, int64(n))
}

// RecordSuccess counts one delivered flush of size events and folds size into the running average.
func (c *Collector) RecordSuccess(ctx context.Context, size int) {
	now := c.clock.Now()
	c.update(ctx, func(m *domain.Metrics) {
		m.SuccessfulBatches++
		n := float64(m.SuccessfulBatches)
		m.AverageBatchSize = (m.AverageBatchSize*(n-1) + float64(size)) / n
		m.LastBatchSentAt = now
	})
	c.inst.succeeded.Add(ctx, 1)
	c.inst.batchSize.Record(ctx, int64(size))
}

func (c *Collector) RecordFailure(ctx context.Context) {
	c.update(ctx, func(m *domain.Metrics) { m.FailedBatches++ })
	c.inst.failed.Add(ctx, 1)
}

func (c *Collector) RecordShutdownFlush(ctx context.Context) {
	c.update(ctx, func(m *domain.Metrics) { m.ShutdownFlushes++ })
	c.inst.teardown.Add(ctx, 1)
}

func (c *Collector) Snapshot() domain.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m
}

func (c *Collector) update(ctx context.Context, fn func(*domain.Metrics)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.m)
	if err := c.store.SaveMetrics(ctx, c.m); err != nil {
		c.logger.Warn("metrics: persist failed", "err", err)
	}
}
