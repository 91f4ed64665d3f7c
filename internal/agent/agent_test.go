package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"retail-platform/telemetry/internal/config"
	"retail-platform/telemetry/internal/telemetry/domain"
	"retail-platform/telemetry/internal/telemetry/transport"
)

// ingestServer records every batch posted by the http transport.
type ingestServer struct {
	mu      sync.Mutex
	batches []domain.Batch
	srv     *httptest.Server
}

func newIngestServer(t *testing.T) *ingestServer {
	t.Helper()
	s := &ingestServer{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := transport.DecodeBatch(r.Body, r.Header.Get("Content-Encoding"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.batches = append(s.batches, b)
		s.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *ingestServer) received() []domain.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Batch(nil), s.batches...)
}

func testConfig(endpoint string) *config.Config {
	return &config.Config{
		Endpoint:         endpoint,
		Transport:        "http",
		ClientID:         "pos-1",
		Compress:         true,
		QueueMaxSize:     100,
		FlushInterval:    time.Hour,
		CriticalDebounce: 10 * time.Millisecond,
		RetryBaseDelay:   30 * time.Second,
		RetryMaxDelay:    10 * time.Minute,
		SendTimeout:      2 * time.Second,
		ShutdownTimeout:  2 * time.Second,
		Store:            "memory",
		HTTPAddr:         "127.0.0.1:0",
	}
}

func TestAgent_CriticalEventDeliveredByDebounce(t *testing.T) {
	ingest := newIngestServer(t)
	a, err := New(context.Background(), testConfig(ingest.srv.URL), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	a.Pipeline().Record(ctx, domain.Draft{Type: domain.EventAuthFailure})
	deadline := time.Now().Add(3 * time.Second)
	for len(ingest.received()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	got := ingest.received()
	if len(got) != 1 || got[0].BatchMetadata.EventType != domain.EventAuthFailure {
		t.Fatalf("batches = %+v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAgent_ShutdownFlushSendsQueued(t *testing.T) {
	ingest := newIngestServer(t)
	a, err := New(context.Background(), testConfig(ingest.srv.URL), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	a.Pipeline().Record(ctx, domain.Draft{Type: domain.EventOperational})
	a.Pipeline().Record(ctx, domain.Draft{Type: domain.EventConfigChange})
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := ingest.received()
	if len(got) != 2 {
		t.Fatalf("batches = %d, want 2", len(got))
	}
	for _, b := range got {
		if !b.BatchMetadata.Teardown {
			t.Errorf("batch %s not marked teardown", b.BatchMetadata.EventType)
		}
	}
}

func TestAgent_StateSurvivesRestart(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1/unreachable")
	cfg.Store = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "state.db")

	a, err := New(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Pipeline().Record(context.Background(), domain.Draft{Type: domain.EventOperational})
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := New(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	defer b.Close()
	if n := b.Pipeline().Status().QueueLength; n != 1 {
		t.Errorf("rehydrated queue length = %d, want 1", n)
	}
}

func TestNew_InvalidPolicyFile(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.PolicyFile = filepath.Join(t.TempDir(), "missing.rego")
	if _, err := New(context.Background(), cfg, nil, nil); err == nil {
		t.Fatal("expected error for missing policy file")
	}
}
