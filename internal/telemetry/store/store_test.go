package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"retail-platform/telemetry/internal/db"
	"retail-platform/telemetry/internal/telemetry/domain"
)

func sampleEvents(t *testing.T) []domain.Event {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	return []domain.Event{
		domain.NewEvent(domain.Draft{
			Type:        domain.EventAuthFailure,
			Severity:    domain.SeverityWarning,
			Correlation: domain.Correlation{OrganizationID: "org-1", UserID: "u-1"},
			Metadata:    domain.Metadata{Source: "login", Extra: map[string]string{"method": "password"}},
		}, domain.PriorityCritical, now),
		domain.NewEvent(domain.Draft{Type: domain.EventOperational, Severity: domain.SeverityInfo}, domain.PriorityLow, now.Add(time.Second)),
	}
}

func TestState_EmptyStoreLoadsZeroValues(t *testing.T) {
	ctx := context.Background()
	s := NewState(NewMemoryKV(), "", nil)

	q, err := s.LoadQueue(ctx)
	if err != nil || len(q) != 0 {
		t.Fatalf("LoadQueue = %v, %v; want empty, nil", q, err)
	}
	rs, err := s.LoadRetryState(ctx)
	if err != nil || rs != (domain.RetryState{}) {
		t.Fatalf("LoadRetryState = %+v, %v; want zero, nil", rs, err)
	}
	m, err := s.LoadMetrics(ctx)
	if err != nil || m != (domain.Metrics{}) {
		t.Fatalf("LoadMetrics = %+v, %v; want zero, nil", m, err)
	}
}

func TestState_RoundTripMemory(t *testing.T) {
	testStateRoundTrip(t, NewMemoryKV())
}

func TestState_RoundTripSQLite(t *testing.T) {
	kv, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"), 1)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer kv.Close()
	testStateRoundTrip(t, kv)
}

func testStateRoundTrip(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()
	s := NewState(kv, "agent-a", nil)

	events := sampleEvents(t)
	if err := s.SaveQueue(ctx, events); err != nil {
		t.Fatalf("SaveQueue: %v", err)
	}
	got, err := s.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("LoadQueue len = %d, want %d", len(got), len(events))
	}
	for i := range events {
		if got[i].ID != events[i].ID || got[i].Priority != events[i].Priority || got[i].Type != events[i].Type {
			t.Errorf("event %d = %+v, want %+v", i, got[i], events[i])
		}
		if !got[i].Timestamp.Equal(events[i].Timestamp) {
			t.Errorf("event %d timestamp = %v, want %v", i, got[i].Timestamp, events[i].Timestamp)
		}
	}
	if got[0].Metadata.Extra["method"] != "password" || got[0].Correlation.UserID != "u-1" {
		t.Errorf("metadata/correlation not preserved: %+v", got[0])
	}

	rs := domain.RetryState{Attempts: 2, NextRetryAt: time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC), LastFailureReason: "status 503"}
	if err := s.SaveRetryState(ctx, rs); err != nil {
		t.Fatalf("SaveRetryState: %v", err)
	}
	gotRS, err := s.LoadRetryState(ctx)
	if err != nil {
		t.Fatalf("LoadRetryState: %v", err)
	}
	if gotRS.Attempts != 2 || !gotRS.NextRetryAt.Equal(rs.NextRetryAt) || gotRS.LastFailureReason != rs.LastFailureReason {
		t.Errorf("LoadRetryState = %+v, want %+v", gotRS, rs)
	}

	m := domain.Metrics{TotalEvents: 10, SuccessfulBatches: 3, FailedBatches: 1, AverageBatchSize: 2.5}
	if err := s.SaveMetrics(ctx, m); err != nil {
		t.Fatalf("SaveMetrics: %v", err)
	}
	gotM, err := s.LoadMetrics(ctx)
	if err != nil {
		t.Fatalf("LoadMetrics: %v", err)
	}
	if gotM.TotalEvents != 10 || gotM.SuccessfulBatches != 3 || gotM.FailedBatches != 1 || gotM.AverageBatchSize != 2.5 {
		t.Errorf("LoadMetrics = %+v, want %+v", gotM, m)
	}

	// Overwrite replaces the previous value.
	if err := s.SaveQueue(ctx, nil); err != nil {
		t.Fatalf("SaveQueue(nil): %v", err)
	}
	got, err = s.LoadQueue(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("LoadQueue after clear = %v, %v; want empty", got, err)
	}
}

func TestState_CorruptDataLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	_ = kv.Put(ctx, "telemetry:queue", []byte("not cbor at all \xff\xff"))
	_ = kv.Put(ctx, "telemetry:retry_state", []byte{0xff})

	s := NewState(kv, "", nil)
	q, err := s.LoadQueue(ctx)
	if err != nil || len(q) != 0 {
		t.Fatalf("LoadQueue = %v, %v; want empty, nil", q, err)
	}
	rs, err := s.LoadRetryState(ctx)
	if err != nil || rs.Attempts != 0 {
		t.Fatalf("LoadRetryState = %+v, %v; want zero, nil", rs, err)
	}
}

func TestState_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	a := NewState(kv, "a", nil)
	b := NewState(kv, "b", nil)
	if err := a.SaveMetrics(ctx, domain.Metrics{TotalEvents: 5}); err != nil {
		t.Fatal(err)
	}
	m, err := b.LoadMetrics(ctx)
	if err != nil || m.TotalEvents != 0 {
		t.Fatalf("namespace b saw %+v, %v", m, err)
	}
}

func TestState_SaveErrorIsWrapped(t *testing.T) {
	kv := NewMemoryKV()
	kv.PutErr = errors.New("disk full")
	s := NewState(kv, "", nil)
	err := s.SaveMetrics(context.Background(), domain.Metrics{})
	if err == nil || !errors.Is(err, kv.PutErr) {
		t.Fatalf("SaveMetrics error = %v, want wrapping %v", err, kv.PutErr)
	}
}

func TestSQLiteKV_MissingKey(t *testing.T) {
	kv, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"), 1)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer kv.Close()
	if _, err := kv.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	if _, err := OpenSQLite("", 1); err == nil {
		t.Fatal("OpenSQLite(\"\") should fail")
	}
}

// TestState_RoundTripPostgres runs against a real database when TEST_DATABASE_URL is set.
// The telemetry_state table must exist (cmd/migrate up).
func TestState_RoundTripPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	conn, err := db.Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	kv := NewPostgresKV(conn)
	defer kv.Close()
	if _, err := kv.Get(context.Background(), "missing-"+t.Name()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
	testStateRoundTrip(t, kv)
}
