package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"retail-platform/telemetry/internal/server/interceptors"
	"retail-platform/telemetry/internal/telemetry"
	"retail-platform/telemetry/internal/telemetry/connectivity"
)

// PipelineService is the health service name whose status follows the ingest endpoint's reachability.
const PipelineService = "retail.telemetry.Pipeline"

// Deps holds optional dependencies for the agent's gRPC server.
type Deps struct {
	// Recorder receives security events raised by failed RPCs. If nil, nothing is reported.
	Recorder telemetry.Recorder
	// Verifier validates bearer tokens on protected RPCs. If nil, authentication is disabled.
	Verifier interceptors.TokenVerifier
	// Health serves grpc.health.v1. If nil, a new health server is created.
	Health *health.Server
}

// PublicMethods do not require a bearer token and are never reported as security events.
var PublicMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
	healthpb.Health_List_FullMethodName:  true,
}

// NewGRPC returns a server with OTel instrumentation and the security then auth interceptor chain,
// with services registered. The agent itself only serves the public health methods; the chain guards
// whatever protected services a host process registers on the returned server before Serve.
func NewGRPC(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	rep := interceptors.NewReporter(deps.Recorder)
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.SecurityUnary(rep, PublicMethods),
			interceptors.AuthUnary(deps.Verifier, PublicMethods),
		),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers all gRPC services with the given server.
//
// Service → implementation:
//   - grpc.health.v1.Health → google.golang.org/grpc/health (overall and PipelineService status)
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	h := deps.Health
	if h == nil {
		h = health.NewServer()
	}
	healthpb.RegisterHealthServer(s, h)
}

// TrackConnectivity mirrors gate transitions into the PipelineService health status.
func TrackConnectivity(h *health.Server, gate *connectivity.Gate) {
	set := func(online bool) {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if online {
			st = healthpb.HealthCheckResponse_SERVING
		}
		h.SetServingStatus(PipelineService, st)
	}
	gate.OnOnline(func() { set(true) })
	gate.OnOffline(func() { set(false) })
	set(gate.IsOnline())
}
