package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"retail-platform/telemetry/internal/telemetry/clock"
	"retail-platform/telemetry/internal/telemetry/connectivity"
	"retail-platform/telemetry/internal/telemetry/delivery"
	"retail-platform/telemetry/internal/telemetry/domain"
	"retail-platform/telemetry/internal/telemetry/store"
)

// mockTransport records every Send and Beacon call.
type mockTransport struct {
	mu      sync.Mutex
	sent    []domain.Batch
	beacons []domain.Batch
	sendErr error
}

func (m *mockTransport) Send(_ context.Context, b domain.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, b)
	return m.sendErr
}

func (m *mockTransport) Beacon(_ context.Context, b domain.Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beacons = append(m.beacons, b)
}

func (m *mockTransport) sends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockTransport) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestPipeline(t *testing.T, tr *mockTransport, gate *connectivity.Gate, st Store) (*Pipeline, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(t0)
	p, err := New(context.Background(), Options{Transport: tr, Gate: gate, Clock: clk, Store: st})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, clk
}

func TestNew_RequiresTransport(t *testing.T) {
	if _, err := New(context.Background(), Options{}); err == nil {
		t.Fatal("New without transport should fail")
	}
}

func TestRecord_CriticalFlushesWithinDebounce(t *testing.T) {
	tr := &mockTransport{}
	p, clk := newTestPipeline(t, tr, nil, nil)
	p.Start(context.Background())
	defer p.Stop(context.Background())

	p.Record(context.Background(), domain.Draft{Type: domain.EventOperational})
	p.Record(context.Background(), domain.Draft{Type: domain.EventSecurityIncident})
	p.Record(context.Background(), domain.Draft{Type: domain.EventAuthFailure})
	if tr.sends() != 0 {
		t.Fatal("nothing should be sent before the debounce window elapses")
	}
	clk.Advance(100 * time.Millisecond)
	if tr.sends() != 3 {
		t.Fatalf("sends = %d, want 3 groups in one flush", tr.sends())
	}
	st := p.Status()
	if st.QueueLength != 0 || st.Metrics.SuccessfulBatches != 1 || st.Metrics.TotalEvents != 3 {
		t.Fatalf("status = %+v", st)
	}
}

func TestRecord_CriticalFlushesBeforeStart(t *testing.T) {
	tr := &mockTransport{}
	p, clk := newTestPipeline(t, tr, nil, nil)

	p.Record(context.Background(), domain.Draft{Type: domain.EventAuthFailure})
	clk.Advance(100 * time.Millisecond)
	if tr.sends() != 1 {
		t.Fatalf("sends = %d, want 1 without Start", tr.sends())
	}
	if p.Status().QueueLength != 0 {
		t.Fatal("queue should be drained")
	}
}

func TestRecord_NonCriticalWaitsForTick(t *testing.T) {
	tr := &mockTransport{}
	p, clk := newTestPipeline(t, tr, nil, nil)
	p.Record(context.Background(), domain.Draft{Type: domain.EventRateLimitExceeded})
	clk.Advance(time.Second)
	if tr.sends() != 0 {
		t.Fatalf("high-priority event should not trigger an immediate flush, got %d sends", tr.sends())
	}
	if got := p.Pending(); len(got) != 1 || got[0].Priority != domain.PriorityHigh {
		t.Fatalf("pending = %+v", got)
	}
}

func TestOffline_SuppressesThenFlushesOnceOnReconnect(t *testing.T) {
	tr := &mockTransport{}
	gate := connectivity.NewGate(false)
	p, clk := newTestPipeline(t, tr, gate, nil)

	p.Record(context.Background(), domain.Draft{Type: domain.EventSecurityIncident})
	clk.Advance(time.Second)
	p.Flush(context.Background())
	if tr.sends() != 0 {
		t.Fatalf("sends while offline = %d, want 0", tr.sends())
	}

	gate.SetOnline(true)
	if tr.sends() != 1 {
		t.Fatalf("sends after reconnect = %d, want exactly 1", tr.sends())
	}
	gate.SetOnline(true)
	if tr.sends() != 1 {
		t.Fatal("repeated online signal must not flush again")
	}
}

func TestReconnect_ResetsBackoff(t *testing.T) {
	tr := &mockTransport{sendErr: errors.New("502")}
	gate := connectivity.NewGate(true)
	p, _ := newTestPipeline(t, tr, gate, nil)

	p.Record(context.Background(), domain.Draft{Type: domain.EventOperational})
	if res := p.Flush(context.Background()); res.Outcome != delivery.Failed {
		t.Fatalf("first flush = %v, want failed", res.Outcome)
	}
	if res := p.Flush(context.Background()); res.Outcome != delivery.SkippedBackoff {
		t.Fatalf("second flush = %v, want skipped_backoff", res.Outcome)
	}

	tr.setErr(nil)
	gate.SetOnline(false)
	gate.SetOnline(true)
	st := p.Status()
	if st.QueueLength != 0 || st.Retry.Attempts != 0 || st.Metrics.FailedBatches != 1 || st.Metrics.SuccessfulBatches != 1 {
		t.Fatalf("status after reconnect = %+v", st)
	}
}

func TestStop_ShutdownFlushUsesBeacon(t *testing.T) {
	tr := &mockTransport{}
	p, _ := newTestPipeline(t, tr, nil, nil)
	p.Start(context.Background())
	p.Record(context.Background(), domain.Draft{Type: domain.EventOperational})
	p.Record(context.Background(), domain.Draft{Type: domain.EventConfigChange})

	if n := p.Stop(context.Background()); n != 2 {
		t.Fatalf("Stop = %d, want 2", n)
	}
	if len(tr.beacons) != 2 || tr.sends() != 0 {
		t.Fatalf("beacons=%d sends=%d, want 2/0", len(tr.beacons), tr.sends())
	}
	for _, b := range tr.beacons {
		if !b.BatchMetadata.Teardown {
			t.Errorf("beacon for %s missing teardown", b.BatchMetadata.EventType)
		}
	}
	if p.Status().Metrics.ShutdownFlushes != 1 {
		t.Fatal("shutdown flush not counted")
	}
	if p.Stop(context.Background()) != 0 {
		t.Fatal("second Stop should not flush again")
	}
}

func TestNew_RehydratesFromStore(t *testing.T) {
	st := store.NewState(store.NewMemoryKV(), "", nil)
	tr := &mockTransport{}
	gate := connectivity.NewGate(false)
	p, _ := newTestPipeline(t, tr, gate, st)
	p.Record(context.Background(), domain.Draft{Type: domain.EventPermissionDenied, Severity: domain.SeverityWarning})

	restarted, _ := newTestPipeline(t, tr, connectivity.NewGate(true), st)
	pending := restarted.Pending()
	if len(pending) != 1 || pending[0].Type != domain.EventPermissionDenied || pending[0].Priority != domain.PriorityHigh {
		t.Fatalf("rehydrated queue = %+v", pending)
	}
	if restarted.Status().Metrics.TotalEvents != 1 {
		t.Fatal("metrics not rehydrated")
	}
}

type panicClassifier struct{}

func (panicClassifier) Classify(domain.Draft) domain.Priority { panic("bad rule") }

func TestRecord_RecoversPanics(t *testing.T) {
	p, err := New(context.Background(), Options{Transport: &mockTransport{}, Classifier: panicClassifier{}})
	if err != nil {
		t.Fatal(err)
	}
	p.Record(context.Background(), domain.Draft{Type: domain.EventOperational})
	if p.Status().QueueLength != 0 {
		t.Fatal("panicking record should not enqueue")
	}
}

type mockRecorder struct {
	mu     sync.Mutex
	drafts []domain.Draft
	done   chan struct{}
}

func (m *mockRecorder) Record(ctx context.Context, d domain.Draft) {
	m.mu.Lock()
	m.drafts = append(m.drafts, d)
	m.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		panic("RecordAsync must bound the context")
	}
	close(m.done)
}

func TestRecordAsync(t *testing.T) {
	RecordAsync(nil, domain.Draft{})

	r := &mockRecorder{done: make(chan struct{})}
	RecordAsync(r, domain.Draft{Type: domain.EventAuthFailure})
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("RecordAsync did not call Record")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.drafts) != 1 || r.drafts[0].Type != domain.EventAuthFailure {
		t.Fatalf("drafts = %+v", r.drafts)
	}
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	r.Record(context.Background(), domain.Draft{})
}
