// Package relay moves batches published by the Kafka transport into Loki.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"retail-platform/telemetry/internal/telemetry/retry"
	"retail-platform/telemetry/internal/telemetry/transport"
)

// DefaultPushTimeout bounds one Loki push.
const DefaultPushTimeout = 10 * time.Second

// Reader is the subset of *kafka.Reader used by the relay.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Pusher forwards one raw batch. *transport.Loki implements it.
type Pusher interface {
	PushBatchJSON(ctx context.Context, raw []byte) error
}

// Relay commits a message only after it was pushed or found malformed, so a crash replays rather
// than loses batches. Failed pushes are retried with the backoff policy until they succeed or ctx ends.
type Relay struct {
	Reader      Reader
	Pusher      Pusher
	Retry       retry.Policy
	PushTimeout time.Duration
	Logger      *slog.Logger
}

// Run consumes until ctx is done. It returns nil on cancellation.
func (r *Relay) Run(ctx context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	for {
		msg, err := r.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("relay: kafka fetch failed", "err", err)
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}
		if !r.deliver(ctx, logger, msg) {
			return nil
		}
		if err := r.Reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Warn("relay: commit failed", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		}
	}
}

// deliver pushes msg, retrying transient failures. It reports false when ctx ended first.
func (r *Relay) deliver(ctx context.Context, logger *slog.Logger, msg kafka.Message) bool {
	timeout := r.PushTimeout
	if timeout <= 0 {
		timeout = DefaultPushTimeout
	}
	policy := r.Retry
	if policy == (retry.Policy{}) {
		policy = retry.DefaultPolicy
	}
	for attempt := 1; ; attempt++ {
		pushCtx, cancel := context.WithTimeout(ctx, timeout)
		err := r.Pusher.PushBatchJSON(pushCtx, msg.Value)
		cancel()
		switch {
		case err == nil:
			return true
		case errors.Is(err, transport.ErrMalformedBatch):
			logger.Error("relay: dropping malformed message", "partition", msg.Partition, "offset", msg.Offset, "err", err)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		delay := policy.Delay(attempt)
		logger.Warn("relay: loki push failed", "attempt", attempt, "retry_in", delay, "err", err)
		if !sleep(ctx, delay) {
			return false
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
