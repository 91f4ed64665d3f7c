package securityevent

import (
	"context"
	"sync"
	"testing"
	"time"

	"retail-platform/telemetry/internal/telemetry/domain"
)

// mockRecorder implements telemetry.Recorder for tests.
type mockRecorder struct {
	mu     sync.Mutex
	drafts []domain.Draft
	got    chan struct{}
}

func (m *mockRecorder) Record(_ context.Context, d domain.Draft) {
	m.mu.Lock()
	m.drafts = append(m.drafts, d)
	m.mu.Unlock()
	if m.got != nil {
		m.got <- struct{}{}
	}
}

func (m *mockRecorder) last(t *testing.T) domain.Draft {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.drafts) == 0 {
		t.Fatal("no drafts recorded")
	}
	return m.drafts[len(m.drafts)-1]
}

func TestReporter_FillsCorrelationAndSource(t *testing.T) {
	rec := &mockRecorder{}
	r := NewReporter(rec, "pos-api",
		WithIPExtractor(func(context.Context) string { return "10.0.0.7" }),
		WithCorrelation(func(context.Context) domain.Correlation {
			return domain.Correlation{OrganizationID: "org-1", UserID: "u-9"}
		}),
	)
	r.AuthFailure(context.Background(), "bad_password")

	d := rec.last(t)
	if d.Type != domain.EventAuthFailure || d.Severity != domain.SeverityWarning {
		t.Fatalf("draft = %+v", d)
	}
	if d.Correlation.OrganizationID != "org-1" || d.Correlation.UserID != "u-9" {
		t.Errorf("correlation = %+v", d.Correlation)
	}
	if d.Metadata.Source != "pos-api" || d.Metadata.ClientIP != "10.0.0.7" || d.Metadata.Extra["reason"] != "bad_password" {
		t.Errorf("metadata = %+v", d.Metadata)
	}
}

func TestReporter_SentinelOrgAndUnknownIP(t *testing.T) {
	rec := &mockRecorder{}
	NewReporter(rec, "auth").RateLimitExceeded(context.Background(), "")
	d := rec.last(t)
	if d.Correlation.OrganizationID != SentinelOrgID {
		t.Errorf("org = %q, want sentinel", d.Correlation.OrganizationID)
	}
	if d.Metadata.ClientIP != "unknown" {
		t.Errorf("ClientIP = %q, want unknown", d.Metadata.ClientIP)
	}
	if _, ok := d.Metadata.Extra["limit"]; ok {
		t.Error("empty extra values should be dropped")
	}
}

func TestReporter_SuspiciousActivityCarriesThreat(t *testing.T) {
	rec := &mockRecorder{}
	NewReporter(rec, "detector").SuspiciousActivity(context.Background(), domain.ThreatHigh, "card testing")
	d := rec.last(t)
	if d.Type != domain.EventSuspiciousActivity || d.Metadata.ThreatLevel != domain.ThreatHigh || !d.Metadata.Suspicious {
		t.Fatalf("draft = %+v", d)
	}
}

func TestReporter_OtherHelpers(t *testing.T) {
	rec := &mockRecorder{}
	r := NewReporter(rec, "svc")
	ctx := context.Background()
	r.PermissionDenied(ctx, "/inventory/adjust")
	r.SessionAnomaly(ctx, "ip changed")
	r.ConfigChange(ctx, "mfa_required")

	want := []domain.EventType{domain.EventPermissionDenied, domain.EventSessionAnomaly, domain.EventConfigChange}
	if len(rec.drafts) != len(want) {
		t.Fatalf("drafts = %d, want %d", len(rec.drafts), len(want))
	}
	for i, typ := range want {
		if rec.drafts[i].Type != typ {
			t.Errorf("draft %d type = %s, want %s", i, rec.drafts[i].Type, typ)
		}
	}
}

func TestReporter_Async(t *testing.T) {
	rec := &mockRecorder{got: make(chan struct{}, 1)}
	NewReporter(rec, "svc", WithAsync()).AuthFailure(context.Background(), "locked")
	select {
	case <-rec.got:
	case <-time.After(2 * time.Second):
		t.Fatal("async report not delivered")
	}
}

func TestNewReporter_NilRecorder(t *testing.T) {
	NewReporter(nil, "svc").AuthFailure(context.Background(), "x")
}
