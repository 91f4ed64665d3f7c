package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"retail-platform/telemetry/internal/telemetry/clock"
)

// DefaultProbeInterval is how often the prober checks reachability.
const DefaultProbeInterval = 30 * time.Second

// Checker reports whether the ingest endpoint can be reached.
type Checker interface {
	Check(ctx context.Context) error
}

// HTTPChecker sends a HEAD request. Any HTTP response counts as reachable; only transport errors fail.
type HTTPChecker struct {
	URL    string
	Client *http.Client
}

func (c HTTPChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.URL, nil)
	if err != nil {
		return fmt.Errorf("connectivity: build request: %w", err)
	}
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connectivity: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}

// GRPCChecker uses the standard grpc.health.v1 protocol against a collector.
type GRPCChecker struct {
	conn    *grpc.ClientConn
	client  grpc_health_v1.HealthClient
	service string
}

// NewGRPCChecker dials target lazily; the connection is established on first Check.
func NewGRPCChecker(target, service string) (*GRPCChecker, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("connectivity: grpc client %s: %w", target, err)
	}
	return &GRPCChecker{conn: conn, client: grpc_health_v1.NewHealthClient(conn), service: service}, nil
}

func (c *GRPCChecker) Check(ctx context.Context) error {
	resp, err := c.client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: c.service})
	if err != nil {
		return fmt.Errorf("connectivity: health check: %w", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return errors.New("connectivity: collector not serving: " + resp.GetStatus().String())
	}
	return nil
}

func (c *GRPCChecker) Close() error {
	return c.conn.Close()
}

// Prober runs a Checker periodically and feeds the result into a Gate.
type Prober struct {
	Gate     *Gate
	Checker  Checker
	Interval time.Duration
	Timeout  time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Run probes immediately and then on every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	clk := p.Clock
	if clk == nil {
		clk = clock.Real()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	p.ProbeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce runs one check and updates the gate.
func (p *Prober) ProbeOnce(ctx context.Context) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	err := p.Checker.Check(cctx)
	cancel()
	online := err == nil
	if p.Gate.SetOnline(online) && p.Logger != nil {
		if online {
			p.Logger.Info("connectivity: endpoint reachable")
		} else {
			p.Logger.Warn("connectivity: endpoint unreachable", "err", err)
		}
	}
}
