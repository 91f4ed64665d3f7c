// Package queue holds pending telemetry events in a bounded, persisted FIFO.
package queue

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"

	"retail-platform/telemetry/internal/telemetry/domain"
)

// DefaultMaxSize is the queue bound used when none is configured.
const DefaultMaxSize = 500

// Persister saves and restores the queue contents.
type Persister interface {
	LoadQueue(ctx context.Context) ([]domain.Event, error)
	SaveQueue(ctx context.Context, events []domain.Event) error
}

// Queue is safe for concurrent use. Every mutation is persisted before the lock is released,
// so the stored copy never lags a concurrent drain. Persistence failures are logged and do not
// fail the mutation.
type Queue struct {
	mu      sync.Mutex
	events  []domain.Event
	maxSize int
	store   Persister
	logger  *slog.Logger
}

// Open restores the persisted queue. A load error starts with an empty queue.
// A restored queue larger than maxSize is trimmed by the eviction rule.
func Open(ctx context.Context, store Persister, maxSize int, logger *slog.Logger) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	q := &Queue{maxSize: maxSize, store: store, logger: logger}
	events, err := store.LoadQueue(ctx)
	if err != nil {
		logger.Warn("queue: load failed, starting empty", "err", err)
		return q
	}
	q.events = events
	if dropped := q.evictLocked(); dropped > 0 {
		logger.Warn("queue: restored queue exceeded bound", "dropped", dropped, "max_size", maxSize)
		q.persistLocked(ctx)
	}
	return q
}

// Enqueue appends e and returns how many events were evicted to stay within the bound.
func (q *Queue) Enqueue(ctx context.Context, e domain.Event) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, e)
	dropped := q.evictLocked()
	q.persistLocked(ctx)
	return dropped
}

// DrainForSend empties the queue and returns its previous contents in FIFO order.
func (q *Queue) DrainForSend(ctx context.Context) []domain.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return nil
	}
	out := q.events
	q.events = nil
	q.persistLocked(ctx)
	return out
}

// RequeueFront puts events back ahead of anything enqueued since they were drained.
// Returns how many events were evicted.
func (q *Queue) RequeueFront(ctx context.Context, events []domain.Event) int {
	if len(events) == 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	merged := make([]domain.Event, 0, len(events)+len(q.events))
	merged = append(merged, events...)
	merged = append(merged, q.events...)
	q.events = merged
	dropped := q.evictLocked()
	q.persistLocked(ctx)
	return dropped
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Snapshot returns a copy of the queued events.
func (q *Queue) Snapshot() []domain.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.events)
}

// evictLocked keeps the maxSize events with the highest priority weight, preferring newer events
// among equal weights. Survivors keep their queue order.
func (q *Queue) evictLocked() int {
	over := len(q.events) - q.maxSize
	if over <= 0 {
		return 0
	}
	idx := make([]int, len(q.events))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		if c := cmp.Compare(q.events[b].Priority.Weight(), q.events[a].Priority.Weight()); c != 0 {
			return c
		}
		return cmp.Compare(b, a)
	})
	keep := idx[:q.maxSize]
	slices.Sort(keep)
	kept := make([]domain.Event, 0, q.maxSize)
	for _, i := range keep {
		kept = append(kept, q.events[i])
	}
	q.events = kept
	return over
}

func (q *Queue) persistLocked(ctx context.Context) {
	if err := q.store.SaveQueue(ctx, slices.Clone(q.events)); err != nil {
		q.logger.Warn("queue: persist failed", "err", err, "len", len(q.events))
	}
}
