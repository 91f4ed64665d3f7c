package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"retail-platform/telemetry/internal/telemetry/domain"
)

type mockPersister struct {
	mu      sync.Mutex
	saved   []domain.Event
	saves   int
	loadErr error
	saveErr error
}

func (m *mockPersister) LoadQueue(context.Context) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]domain.Event(nil), m.saved...), nil
}

func (m *mockPersister) SaveQueue(_ context.Context, events []domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append([]domain.Event(nil), events...)
	return nil
}

func (m *mockPersister) snapshot() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Event(nil), m.saved...)
}

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func ev(id string, p domain.Priority) domain.Event {
	return domain.Event{ID: id, Type: domain.EventOperational, Priority: p, Timestamp: base}
}

func ids(events []domain.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func equalIDs(a []string, b ...string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEnqueue_PersistsEveryMutation(t *testing.T) {
	ctx := context.Background()
	p := &mockPersister{}
	q := Open(ctx, p, 10, nil)

	q.Enqueue(ctx, ev("a", domain.PriorityNormal))
	q.Enqueue(ctx, ev("b", domain.PriorityNormal))
	if got := ids(p.snapshot()); !equalIDs(got, "a", "b") {
		t.Fatalf("persisted = %v, want [a b]", got)
	}
	drained := q.DrainForSend(ctx)
	if !equalIDs(ids(drained), "a", "b") {
		t.Fatalf("drained = %v, want [a b]", ids(drained))
	}
	if q.Len() != 0 || len(p.snapshot()) != 0 {
		t.Fatalf("after drain Len=%d persisted=%d, want 0/0", q.Len(), len(p.snapshot()))
	}
}

func TestEnqueue_EvictsLowestPriorityOldestFirst(t *testing.T) {
	ctx := context.Background()
	q := Open(ctx, &mockPersister{}, 3, nil)

	q.Enqueue(ctx, ev("low1", domain.PriorityLow))
	q.Enqueue(ctx, ev("crit", domain.PriorityCritical))
	q.Enqueue(ctx, ev("low2", domain.PriorityLow))
	dropped := q.Enqueue(ctx, ev("normal", domain.PriorityNormal))

	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if got := ids(q.Snapshot()); !equalIDs(got, "crit", "low2", "normal") {
		t.Fatalf("queue = %v, want [crit low2 normal]", got)
	}
}

func TestEnqueue_NeverExceedsMax(t *testing.T) {
	ctx := context.Background()
	q := Open(ctx, &mockPersister{}, 5, nil)
	total := 0
	for i := 0; i < 50; i++ {
		total += q.Enqueue(ctx, ev(strconv.Itoa(i), domain.Priority(i%4)))
		if q.Len() > 5 {
			t.Fatalf("Len = %d after %d enqueues, want <= 5", q.Len(), i+1)
		}
	}
	if total != 45 {
		t.Fatalf("total dropped = %d, want 45", total)
	}
	for _, e := range q.Snapshot() {
		if e.Priority != domain.PriorityCritical {
			t.Errorf("survivor %s has priority %v, want critical", e.ID, e.Priority)
		}
	}
}

func TestRequeueFront_PrependsAndEvicts(t *testing.T) {
	ctx := context.Background()
	q := Open(ctx, &mockPersister{}, 4, nil)
	q.Enqueue(ctx, ev("new1", domain.PriorityNormal))
	q.Enqueue(ctx, ev("new2", domain.PriorityLow))

	dropped := q.RequeueFront(ctx, []domain.Event{
		ev("old1", domain.PriorityHigh),
		ev("old2", domain.PriorityNormal),
		ev("old3", domain.PriorityCritical),
	})
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if got := ids(q.Snapshot()); !equalIDs(got, "old1", "old2", "old3", "new1") {
		t.Fatalf("queue = %v, want [old1 old2 old3 new1]", got)
	}
	if q.RequeueFront(ctx, nil) != 0 {
		t.Fatal("RequeueFront(nil) should be a no-op")
	}
}

func TestOpen_RestoresPersistedQueue(t *testing.T) {
	ctx := context.Background()
	p := &mockPersister{saved: []domain.Event{ev("a", domain.PriorityLow), ev("b", domain.PriorityHigh), ev("c", domain.PriorityLow)}}
	q := Open(ctx, p, 2, nil)
	if got := ids(q.Snapshot()); !equalIDs(got, "b", "c") {
		t.Fatalf("restored = %v, want [b c]", got)
	}
	if got := ids(p.snapshot()); !equalIDs(got, "b", "c") {
		t.Fatalf("trimmed queue not persisted: %v", got)
	}
}

func TestOpen_LoadErrorStartsEmpty(t *testing.T) {
	q := Open(context.Background(), &mockPersister{loadErr: errors.New("boom")}, 0, nil)
	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0", q.Len())
	}
	if q.maxSize != DefaultMaxSize {
		t.Fatalf("maxSize = %d, want %d", q.maxSize, DefaultMaxSize)
	}
}

func TestEnqueue_SaveErrorIsSwallowed(t *testing.T) {
	ctx := context.Background()
	p := &mockPersister{saveErr: errors.New("disk full")}
	q := Open(ctx, p, 3, nil)
	q.Enqueue(ctx, ev("a", domain.PriorityNormal))
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}
	if p.saves != 1 {
		t.Fatalf("saves = %d, want 1", p.saves)
	}
}

func TestConcurrentEnqueueAndDrain(t *testing.T) {
	ctx := context.Background()
	q := Open(ctx, &mockPersister{}, 1000, nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := 0
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(ctx, ev("x", domain.PriorityNormal))
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				n := len(q.DrainForSend(ctx))
				mu.Lock()
				seen += n
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	seen += len(q.DrainForSend(ctx))
	if seen != 400 {
		t.Fatalf("drained %d events total, want 400", seen)
	}
}
