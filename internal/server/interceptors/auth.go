package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"retail-platform/telemetry/internal/telemetry/transport"
)

const bearerPrefix = "bearer "

// TokenVerifier validates ingest bearer tokens. *transport.TokenSigner implements it.
type TokenVerifier interface {
	Verify(token string) (*transport.IngestClaims, error)
}

// AuthUnary returns a unary server interceptor that validates the Bearer token from gRPC metadata and
// sets the caller identity in context for protected RPCs: user_id is the token subject, org_id its
// organization claim and session_id the token id.
// publicMethods is the set of full method names that do not require a token (e.g. the health check).
// A nil verifier disables authentication.
func AuthUnary(verifier TokenVerifier, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if verifier == nil {
			return handler(ctx, req)
		}
		token := extractBearer(ctx)
		public := publicMethods[info.FullMethod]

		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		ctx = WithIdentity(ctx, claims.Subject, claims.OrgID, claims.ID)
		return handler(ctx, req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	return BearerToken(vals[0])
}

// BearerToken strips a case-insensitive "Bearer " prefix from an authorization value, or returns "".
func BearerToken(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
