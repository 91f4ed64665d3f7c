package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sony/gobreaker"

	"retail-platform/telemetry/internal/telemetry/domain"
)

// HTTPConfig configures the HTTP ingest transport.
type HTTPConfig struct {
	Endpoint string
	Client   *http.Client
	Signer   *TokenSigner
	// Compress gzips request bodies.
	Compress bool
	Logger   *slog.Logger
	// BreakerFailures is the number of consecutive failures that opens the breaker. Zero uses 5.
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open. Zero uses 30s.
	BreakerTimeout time.Duration
}

// HTTP posts each batch as JSON to the ingest endpoint.
type HTTP struct {
	endpoint string
	client   *http.Client
	signer   *TokenSigner
	compress bool
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
}

func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("transport: http endpoint is empty")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telemetry-ingest",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("transport: circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &HTTP{
		endpoint: cfg.Endpoint,
		client:   cfg.Client,
		signer:   cfg.Signer,
		compress: cfg.Compress,
		breaker:  breaker,
		logger:   cfg.Logger,
	}, nil
}

// Send posts b and succeeds only on a 2xx response. While the breaker is open it fails fast
// with gobreaker.ErrOpenState.
func (t *HTTP) Send(ctx context.Context, b domain.Batch) error {
	_, err := t.breaker.Execute(func() (interface{}, error) {
		return nil, t.post(ctx, b)
	})
	return err
}

// Beacon posts b once, bypassing the breaker, and ignores the outcome.
func (t *HTTP) Beacon(ctx context.Context, b domain.Batch) {
	if err := t.post(ctx, b); err != nil {
		t.logger.Debug("transport: beacon not acknowledged", "err", err)
	}
}

func (t *HTTP) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *HTTP) post(ctx context.Context, b domain.Batch) error {
	body, encoding, err := t.encode(b)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	if t.signer != nil {
		token, err := t.signer.Sign()
		if err != nil {
			return fmt.Errorf("transport: sign token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: post %s: %w", b.BatchMetadata.EventType, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

func (t *HTTP) encode(b domain.Batch) ([]byte, string, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return nil, "", fmt.Errorf("transport: encode batch: %w", err)
	}
	if !t.compress {
		return payload, "", nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, "", fmt.Errorf("transport: gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("transport: gzip: %w", err)
	}
	return buf.Bytes(), "gzip", nil
}

// DecodeBatch reads a batch body written by HTTP, transparently handling gzip.
func DecodeBatch(r io.Reader, contentEncoding string) (domain.Batch, error) {
	var b domain.Batch
	if contentEncoding == "gzip" {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return b, fmt.Errorf("transport: gzip: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return b, fmt.Errorf("transport: decode batch: %w", err)
	}
	return b, nil
}
