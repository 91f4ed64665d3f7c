// Package telemetry wires the classifier, durable queue, retry tracker, scheduler, delivery client,
// connectivity gate, shutdown flusher and metrics collector into one Pipeline.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"retail-platform/telemetry/internal/telemetry/classifier"
	"retail-platform/telemetry/internal/telemetry/clock"
	"retail-platform/telemetry/internal/telemetry/connectivity"
	"retail-platform/telemetry/internal/telemetry/delivery"
	"retail-platform/telemetry/internal/telemetry/domain"
	tmetrics "retail-platform/telemetry/internal/telemetry/metrics"
	"retail-platform/telemetry/internal/telemetry/queue"
	"retail-platform/telemetry/internal/telemetry/retry"
	"retail-platform/telemetry/internal/telemetry/scheduler"
	"retail-platform/telemetry/internal/telemetry/shutdown"
	"retail-platform/telemetry/internal/telemetry/store"
)

// Store persists all pipeline state. *store.State implements it.
type Store interface {
	queue.Persister
	retry.Persister
	tmetrics.Persister
}

// Options configures New. Only Transport is required.
type Options struct {
	Transport delivery.Transport
	// Beacon is used for the shutdown flush. When nil and Transport has a Beacon method, Transport is used.
	Beacon     shutdown.Beacon
	Store      Store
	Classifier classifier.Classifier
	Gate       *connectivity.Gate
	Clock      clock.Clock
	Logger     *slog.Logger
	Meter      metric.Meter

	QueueMaxSize        int
	FlushInterval       time.Duration
	CriticalDebounce    time.Duration
	Retry               retry.Policy
	SendTimeout         time.Duration
	MaxConcurrentGroups int
	ShutdownTimeout     time.Duration
}

// Status is a point-in-time view for diagnostics.
type Status struct {
	QueueLength int               `json:"queueLength"`
	Online      bool              `json:"online"`
	Sending     bool              `json:"sending"`
	Retry       domain.RetryState `json:"retryState"`
	Metrics     domain.Metrics    `json:"metrics"`
}

// Pipeline owns one queue, retry tracker and metrics collector. Construct with New; all methods are
// safe for concurrent use.
type Pipeline struct {
	classifier classifier.Classifier
	queue      *queue.Queue
	retry      *retry.Tracker
	metrics    *tmetrics.Collector
	gate       *connectivity.Gate
	client     *delivery.Client
	sched      *scheduler.Scheduler
	flusher    *shutdown.Flusher
	clock      clock.Clock
	logger     *slog.Logger

	mu      sync.Mutex
	stopped bool
}

// New rehydrates state from opts.Store (in-memory when nil) and wires the components. Periodic
// flushing waits for Start; a critical Record still flushes after the debounce window.
func New(ctx context.Context, opts Options) (*Pipeline, error) {
	if opts.Transport == nil {
		return nil, errors.New("telemetry: transport is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Store == nil {
		opts.Store = store.NewState(store.NewMemoryKV(), "", opts.Logger)
	}
	if opts.Classifier == nil {
		opts.Classifier = classifier.New(nil)
	}
	if opts.Gate == nil {
		opts.Gate = connectivity.NewGate(true)
	}
	if opts.Beacon == nil {
		if b, ok := opts.Transport.(shutdown.Beacon); ok {
			opts.Beacon = b
		}
	}
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.DefaultPolicy
	}

	p := &Pipeline{
		classifier: opts.Classifier,
		queue:      queue.Open(ctx, opts.Store, opts.QueueMaxSize, opts.Logger),
		retry:      retry.Open(ctx, opts.Store, opts.Retry, opts.Clock, opts.Logger),
		metrics:    tmetrics.Open(ctx, opts.Store, opts.Meter, opts.Clock, opts.Logger),
		gate:       opts.Gate,
		clock:      opts.Clock,
		logger:     opts.Logger,
	}
	p.client = delivery.NewClient(delivery.Config{
		Transport:           opts.Transport,
		Queue:               p.queue,
		Retry:               p.retry,
		Metrics:             p.metrics,
		Gate:                p.gate,
		Clock:               opts.Clock,
		Logger:              opts.Logger,
		SendTimeout:         opts.SendTimeout,
		MaxConcurrentGroups: opts.MaxConcurrentGroups,
	})
	p.sched = scheduler.New(func(ctx context.Context) { p.Flush(ctx) }, scheduler.Config{
		Interval: opts.FlushInterval,
		Debounce: opts.CriticalDebounce,
		Clock:    opts.Clock,
		Logger:   opts.Logger,
	})
	if opts.Beacon != nil {
		p.flusher = &shutdown.Flusher{
			Beacon:  opts.Beacon,
			Queue:   p.queue,
			Gate:    p.gate,
			Metrics: p.metrics,
			Clock:   opts.Clock,
			Logger:  opts.Logger,
			Timeout: opts.ShutdownTimeout,
		}
	}
	p.gate.OnOnline(p.onOnline)
	p.gate.OnOffline(func() {
		p.logger.Info("telemetry: offline, sends suspended", "queued", p.queue.Len())
	})
	return p, nil
}

// Record classifies d, enqueues it and, for critical events, schedules an immediate flush.
// It never panics and never reports delivery errors.
func (p *Pipeline) Record(ctx context.Context, d domain.Draft) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("telemetry: record panicked", "panic", r, "event_type", d.Type)
		}
	}()
	priority := p.classifier.Classify(d)
	e := domain.NewEvent(d, priority, p.clock.Now())
	dropped := p.queue.Enqueue(ctx, e)
	p.metrics.RecordEnqueued(ctx, 1)
	if dropped > 0 {
		p.metrics.RecordDropped(ctx, dropped)
		p.logger.Warn("telemetry: queue full, evicted events", "dropped", dropped)
	}
	if priority == domain.PriorityCritical {
		p.sched.TriggerCritical()
	}
}

// Flush runs one delivery attempt now.
func (p *Pipeline) Flush(ctx context.Context) delivery.Result {
	return p.client.Flush(ctx)
}

// Start begins periodic flushing.
func (p *Pipeline) Start(ctx context.Context) {
	p.sched.Start(ctx)
}

// Stop halts the scheduler and performs the one-shot shutdown flush. It returns the number of events
// handed to the beacon. Calling Stop more than once only stops the scheduler again.
func (p *Pipeline) Stop(ctx context.Context) int {
	p.sched.Stop()
	p.mu.Lock()
	already := p.stopped
	p.stopped = true
	p.mu.Unlock()
	if already || p.flusher == nil {
		return 0
	}
	return p.flusher.Flush(ctx)
}

func (p *Pipeline) Status() Status {
	return Status{
		QueueLength: p.queue.Len(),
		Online:      p.gate.IsOnline(),
		Sending:     p.client.IsSending(),
		Retry:       p.retry.State(),
		Metrics:     p.metrics.Snapshot(),
	}
}

// Pending returns a copy of the queued events.
func (p *Pipeline) Pending() []domain.Event {
	return p.queue.Snapshot()
}

// Gate exposes the connectivity gate so a prober can drive it.
func (p *Pipeline) Gate() *connectivity.Gate {
	return p.gate
}

func (p *Pipeline) onOnline() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("telemetry: online flush panicked", "panic", r)
		}
	}()
	ctx := context.Background()
	p.retry.ResetAttempts(ctx)
	res := p.Flush(ctx)
	p.logger.Info("telemetry: back online", "flush", res.Outcome.String(), "events", res.Events)
}
