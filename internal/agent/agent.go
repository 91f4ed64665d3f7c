package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"retail-platform/telemetry/internal/config"
	"retail-platform/telemetry/internal/server"
	"retail-platform/telemetry/internal/server/interceptors"
	"retail-platform/telemetry/internal/telemetry"
	"retail-platform/telemetry/internal/telemetry/connectivity"
	"retail-platform/telemetry/internal/telemetry/retry"
	"retail-platform/telemetry/internal/telemetry/store"
)

const serverShutdownTimeout = 5 * time.Second

// Agent hosts one pipeline with its ingest API, optional gRPC health listener and connectivity prober.
type Agent struct {
	cfg      *config.Config
	pipeline *telemetry.Pipeline
	api      *API
	health   *health.Server
	prober   *connectivity.Prober
	logger   *slog.Logger
	closers  []func() error
}

// New opens the store, builds the transport and classifier and rehydrates the pipeline.
// meter may be nil. Call Close when done, after Run has returned.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, meter metric.Meter) (*Agent, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &Agent{cfg: cfg, logger: logger, health: health.NewServer()}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	kv, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, kv.Close)

	sender, err := NewTransport(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sender.Close)

	cls, err := NewClassifier(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	gate := connectivity.NewGate(cfg.ProbeURL == "")
	if cfg.ProbeURL != "" {
		checker, closeChecker, err := NewChecker(cfg.ProbeURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeChecker)
		a.prober = &connectivity.Prober{
			Gate:     gate,
			Checker:  checker,
			Interval: cfg.ProbeInterval,
			Logger:   logger,
		}
	}

	a.pipeline, err = telemetry.New(ctx, telemetry.Options{
		Transport:           sender,
		Store:               store.NewState(kv, cfg.StateNamespace(), logger),
		Classifier:          cls,
		Gate:                gate,
		Logger:              logger,
		Meter:               meter,
		QueueMaxSize:        cfg.QueueMaxSize,
		FlushInterval:       cfg.FlushInterval,
		CriticalDebounce:    cfg.CriticalDebounce,
		Retry:               retry.Policy{BaseDelay: cfg.RetryBaseDelay, MaxDelay: cfg.RetryMaxDelay},
		SendTimeout:         cfg.SendTimeout,
		MaxConcurrentGroups: cfg.MaxConcurrentGroups,
		ShutdownTimeout:     cfg.ShutdownTimeout,
	})
	if err != nil {
		return nil, err
	}
	server.TrackConnectivity(a.health, gate)

	a.api, err = NewAPI(a.pipeline, APIConfig{
		Verifier: verifier(cfg),
		Reporter: interceptors.NewReporter(a.pipeline),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

// Pipeline exposes the hosted pipeline for in-process producers.
func (a *Agent) Pipeline() *telemetry.Pipeline { return a.pipeline }

// Handler returns the ingest API router.
func (a *Agent) Handler() http.Handler { return a.api.Routes() }

// Run serves until ctx is done, then stops the listeners and runs the shutdown flush.
func (a *Agent) Run(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("agent: listen %s: %w", a.cfg.HTTPAddr, err)
	}
	httpSrv := &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 10 * time.Second}

	var grpcSrv *grpc.Server
	var grpcLis net.Listener
	if a.cfg.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", a.cfg.GRPCAddr)
		if err != nil {
			_ = httpLis.Close()
			return fmt.Errorf("agent: listen %s: %w", a.cfg.GRPCAddr, err)
		}
		grpcSrv = server.NewGRPC(server.Deps{Recorder: a.pipeline, Verifier: verifier(a.cfg), Health: a.health})
	}

	g, gctx := errgroup.WithContext(ctx)
	a.pipeline.Start(gctx)
	if a.prober != nil {
		g.Go(func() error {
			a.prober.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		a.logger.Info("agent: ingest API listening", "addr", httpLis.Addr().String())
		if err := httpSrv.Serve(httpLis); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("agent: http serve: %w", err)
		}
		return nil
	})
	if grpcSrv != nil {
		a.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		g.Go(func() error {
			a.logger.Info("agent: gRPC health listening", "addr", grpcLis.Addr().String())
			if err := grpcSrv.Serve(grpcLis); err != nil {
				return fmt.Errorf("agent: grpc serve: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("agent: http shutdown", "err", err)
		}
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		sent := a.pipeline.Stop(shutdownCtx)
		a.logger.Info("agent: stopped", "shutdown_flushed", sent)
		return nil
	})
	return g.Wait()
}

// verifier avoids a typed-nil interface when no secret is configured.
func verifier(cfg *config.Config) interceptors.TokenVerifier {
	if s := Signer(cfg); s != nil {
		return s
	}
	return nil
}

// Close releases the transport, checker and store in reverse order of acquisition.
func (a *Agent) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
