package interceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"retail-platform/telemetry/internal/securityevent"
	"retail-platform/telemetry/internal/telemetry"
)

// SecurityUnary returns a unary server interceptor that reports security-relevant RPC failures:
// Unauthenticated as auth_failure, PermissionDenied as permission_denied and ResourceExhausted as
// rate_limit_exceeded. Other outcomes are not reported. Reporting never changes the RPC result.
// skipMethods is the set of full method names to not report (e.g. the health check).
// It should run outside AuthUnary so rejected tokens are seen.
func SecurityUnary(rep *securityevent.Reporter, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil || rep == nil || skipMethods[info.FullMethod] {
			return resp, err
		}
		st := status.Convert(err)
		switch st.Code() {
		case codes.Unauthenticated:
			rep.AuthFailure(ctx, st.Message())
		case codes.PermissionDenied:
			rep.PermissionDenied(ctx, info.FullMethod)
		case codes.ResourceExhausted:
			rep.RateLimitExceeded(ctx, info.FullMethod)
		}
		return resp, err
	}
}

// NewReporter returns a Reporter that pulls correlation ids and the client IP from gRPC request context.
// Reports are asynchronous so RPC latency is unaffected.
func NewReporter(rec telemetry.Recorder) *securityevent.Reporter {
	return securityevent.NewReporter(rec, "grpc_interceptor",
		securityevent.WithCorrelation(Correlation),
		securityevent.WithIPExtractor(ClientIP),
		securityevent.WithAsync(),
	)
}
