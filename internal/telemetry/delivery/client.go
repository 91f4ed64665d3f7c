// Package delivery drains the queue and sends it as one request per event type.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"retail-platform/telemetry/internal/telemetry/clock"
	"retail-platform/telemetry/internal/telemetry/domain"
)

// DefaultSendTimeout bounds each group request.
const DefaultSendTimeout = 10 * time.Second

// Transport sends one batch. A nil error means the receiver acknowledged it (2xx or equivalent).
type Transport interface {
	Send(ctx context.Context, b domain.Batch) error
}

// Queue is the subset of queue.Queue the client needs.
type Queue interface {
	DrainForSend(ctx context.Context) []domain.Event
	RequeueFront(ctx context.Context, events []domain.Event) int
}

// Retry is the subset of retry.Tracker the client needs.
type Retry interface {
	CanAttempt() bool
	OnSuccess(ctx context.Context)
	OnFailure(ctx context.Context, reason string) time.Duration
}

// Metrics is the subset of metrics.Collector the client needs.
type Metrics interface {
	RecordSuccess(ctx context.Context, size int)
	RecordFailure(ctx context.Context)
	RecordDropped(ctx context.Context, n int)
}

// Connectivity reports whether sends are allowed.
type Connectivity interface {
	IsOnline() bool
}

// Outcome says why a flush did or did not send.
type Outcome int

const (
	Sent Outcome = iota
	Failed
	SkippedOffline
	SkippedInFlight
	SkippedBackoff
	SkippedEmpty
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	case SkippedOffline:
		return "skipped_offline"
	case SkippedInFlight:
		return "skipped_in_flight"
	case SkippedBackoff:
		return "skipped_backoff"
	case SkippedEmpty:
		return "skipped_empty"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes one Flush call.
type Result struct {
	Outcome Outcome
	Events  int
	Groups  int
	Err     error
}

// Config for NewClient.
type Config struct {
	Transport Transport
	Queue     Queue
	Retry     Retry
	Metrics   Metrics
	Gate      Connectivity
	Clock     clock.Clock
	Logger    *slog.Logger
	// SendTimeout bounds each group request. Zero uses DefaultSendTimeout; negative disables it.
	SendTimeout time.Duration
	// MaxConcurrentGroups limits parallel group requests. Zero or negative means unlimited.
	MaxConcurrentGroups int
}

// Client is safe for concurrent use; overlapping Flush calls return SkippedInFlight.
type Client struct {
	cfg     Config
	sending atomic.Bool
}

func NewClient(cfg Config) *Client {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	return &Client{cfg: cfg}
}

// IsSending reports whether a flush is in flight.
func (c *Client) IsSending() bool {
	return c.sending.Load()
}

// Flush performs one delivery attempt over everything currently queued.
func (c *Client) Flush(ctx context.Context) Result {
	if !c.cfg.Gate.IsOnline() {
		return Result{Outcome: SkippedOffline}
	}
	if !c.sending.CompareAndSwap(false, true) {
		return Result{Outcome: SkippedInFlight}
	}
	defer c.sending.Store(false)

	if !c.cfg.Retry.CanAttempt() {
		return Result{Outcome: SkippedBackoff}
	}
	batch := c.cfg.Queue.DrainForSend(ctx)
	if len(batch) == 0 {
		return Result{Outcome: SkippedEmpty}
	}

	// batch keeps queue order for RequeueFront.
	sorted := slices.Clone(batch)
	domain.SortByPriority(sorted)
	groups := domain.GroupByType(sorted)
	err := c.sendGroups(ctx, groups)
	if err == nil {
		c.cfg.Retry.OnSuccess(ctx)
		c.cfg.Metrics.RecordSuccess(ctx, len(batch))
		c.cfg.Logger.Debug("delivery: batch sent", "events", len(batch), "groups", len(groups))
		return Result{Outcome: Sent, Events: len(batch), Groups: len(groups)}
	}

	delay := c.cfg.Retry.OnFailure(ctx, err.Error())
	c.cfg.Metrics.RecordFailure(ctx)
	if dropped := c.cfg.Queue.RequeueFront(ctx, batch); dropped > 0 {
		c.cfg.Metrics.RecordDropped(ctx, dropped)
	}
	c.cfg.Logger.Warn("delivery: batch failed, requeued",
		"events", len(batch), "groups", len(groups), "retry_in", delay, "err", err)
	return Result{Outcome: Failed, Events: len(batch), Groups: len(groups), Err: err}
}

// sendGroups waits for every group regardless of individual failures and joins the errors.
func (c *Client) sendGroups(ctx context.Context, groups []domain.Group) error {
	now := c.cfg.Clock.Now()
	errs := make([]error, len(groups))
	var g errgroup.Group
	if c.cfg.MaxConcurrentGroups > 0 {
		g.SetLimit(c.cfg.MaxConcurrentGroups)
	}
	for i, grp := range groups {
		g.Go(func() error {
			errs[i] = c.sendOne(ctx, domain.NewBatch(grp, now, false))
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for i, err := range errs {
		if err != nil {
			failed = append(failed, string(groups[i].Type))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("delivery: %d of %d groups failed (%s): %w",
		len(failed), len(groups), strings.Join(failed, ","), errors.Join(errs...))
}

func (c *Client) sendOne(ctx context.Context, b domain.Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery: transport panic: %v", r)
		}
	}()
	if c.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SendTimeout)
		defer cancel()
	}
	return c.cfg.Transport.Send(ctx, b)
}
