// Package agent assembles a telemetry pipeline from config and serves its local ingest API.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"retail-platform/telemetry/internal/config"
	"retail-platform/telemetry/internal/db"
	"retail-platform/telemetry/internal/telemetry/classifier"
	"retail-platform/telemetry/internal/telemetry/connectivity"
	"retail-platform/telemetry/internal/telemetry/store"
	"retail-platform/telemetry/internal/telemetry/transport"
)

// tokenAudience is the audience claim for ingest tokens issued and accepted by agents.
const tokenAudience = "retail-telemetry-ingest"

// OpenStore opens the KV selected by cfg.Store. The caller closes it.
func OpenStore(ctx context.Context, cfg *config.Config) (store.KV, error) {
	switch cfg.Store {
	case "memory":
		return store.NewMemoryKV(), nil
	case "sqlite":
		return store.OpenSQLite(cfg.SQLitePath, 0)
	case "postgres":
		sqlDB, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store.NewPostgresKV(sqlDB), nil
	default:
		return nil, fmt.Errorf("agent: unknown store %q", cfg.Store)
	}
}

// Signer returns the ingest token signer, or nil when no secret is configured.
func Signer(cfg *config.Config) *transport.TokenSigner {
	return transport.NewTokenSigner(cfg.IngestSecret, cfg.ClientID, tokenAudience, 0)
}

// NewTransport builds the sender selected by cfg.Transport. The otel transport uses the global
// LoggerProvider, so install providers first.
func NewTransport(cfg *config.Config, logger *slog.Logger) (transport.Sender, error) {
	switch cfg.Transport {
	case transport.KindHTTP:
		return transport.NewHTTP(transport.HTTPConfig{
			Endpoint: cfg.Endpoint,
			Client:   &http.Client{Timeout: cfg.SendTimeout + time.Second},
			Signer:   Signer(cfg),
			Compress: cfg.Compress,
			Logger:   logger,
		})
	case transport.KindKafka:
		return transport.NewKafka(cfg.KafkaBrokersList(), cfg.KafkaTopic, logger)
	case transport.KindLoki:
		return transport.NewLoki(cfg.LokiURL, "", nil, logger)
	case transport.KindOTel:
		return transport.NewOTelLog(nil), nil
	default:
		return nil, fmt.Errorf("agent: unknown transport %q", cfg.Transport)
	}
}

// NewClassifier returns the policy classifier when a policy file is configured, else the default rules.
func NewClassifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (classifier.Classifier, error) {
	if cfg.PolicyFile == "" {
		return classifier.New(nil), nil
	}
	module, err := os.ReadFile(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("agent: read policy: %w", err)
	}
	return classifier.NewPolicyClassifier(ctx, string(module), logger)
}

// NewChecker returns a reachability checker for probeURL. grpc://host:port[/service] uses grpc.health.v1
// (e.g. grpc://relay:9090/retail.telemetry.Pipeline); anything else a HEAD request.
// The returned close func is never nil.
func NewChecker(probeURL string) (connectivity.Checker, func() error, error) {
	u, err := url.Parse(probeURL)
	if err != nil {
		return nil, nil, fmt.Errorf("agent: parse probe url: %w", err)
	}
	if u.Scheme == "grpc" {
		c, err := connectivity.NewGRPCChecker(u.Host, strings.TrimPrefix(u.Path, "/"))
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	}
	return connectivity.HTTPChecker{URL: probeURL, Client: &http.Client{Timeout: 5 * time.Second}}, func() error { return nil }, nil
}
