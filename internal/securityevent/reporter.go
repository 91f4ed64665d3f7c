// Package securityevent builds telemetry drafts for security signals raised by host code paths
// (login, rate limiting, authorization).
package securityevent

import (
	"context"
	"maps"

	"retail-platform/telemetry/internal/telemetry"
	"retail-platform/telemetry/internal/telemetry/domain"
)

// SentinelOrgID is the organization recorded for events with no tenant (e.g. failed login before an org is known).
const SentinelOrgID = "_system"

// IPExtractor returns the client IP from the request context (e.g. gRPC metadata or peer).
type IPExtractor func(context.Context) string

// CorrelationExtractor returns the organization, session and user ids attached to ctx.
type CorrelationExtractor func(context.Context) domain.Correlation

// Reporter turns security signals into drafts. Reporting is best-effort and never fails the caller.
type Reporter struct {
	rec         telemetry.Recorder
	source      string
	ipExtractor IPExtractor
	correlation CorrelationExtractor
	// async hands drafts to telemetry.RecordAsync so request paths never wait on queue persistence.
	async bool
}

// Option configures a Reporter.
type Option func(*Reporter)

func WithIPExtractor(f IPExtractor) Option { return func(r *Reporter) { r.ipExtractor = f } }

func WithCorrelation(f CorrelationExtractor) Option { return func(r *Reporter) { r.correlation = f } }

// WithAsync makes every report non-blocking.
func WithAsync() Option { return func(r *Reporter) { r.async = true } }

// NewReporter reports into rec with source as the metadata source. A nil rec disables reporting.
func NewReporter(rec telemetry.Recorder, source string, opts ...Option) *Reporter {
	if rec == nil {
		rec = telemetry.NopRecorder{}
	}
	r := &Reporter{rec: rec, source: source}
	for _, o := range opts {
		o(r)
	}
	return r
}

// AuthFailure reports a failed authentication. reason is a short machine-readable cause (e.g. bad_password).
func (r *Reporter) AuthFailure(ctx context.Context, reason string) {
	r.report(ctx, domain.EventAuthFailure, domain.SeverityWarning, domain.Metadata{}, map[string]string{"reason": reason})
}

// RateLimitExceeded reports a throttled request against limit (e.g. "login:5/min").
func (r *Reporter) RateLimitExceeded(ctx context.Context, limit string) {
	r.report(ctx, domain.EventRateLimitExceeded, domain.SeverityWarning, domain.Metadata{}, map[string]string{"limit": limit})
}

// SuspiciousActivity reports behavior flagged by a detector at the given threat level.
func (r *Reporter) SuspiciousActivity(ctx context.Context, threat domain.ThreatLevel, detail string) {
	r.report(ctx, domain.EventSuspiciousActivity, domain.SeverityWarning,
		domain.Metadata{ThreatLevel: threat, Suspicious: true}, map[string]string{"detail": detail})
}

// PermissionDenied reports an authorization failure on resource.
func (r *Reporter) PermissionDenied(ctx context.Context, resource string) {
	r.report(ctx, domain.EventPermissionDenied, domain.SeverityWarning, domain.Metadata{}, map[string]string{"resource": resource})
}

// SessionAnomaly reports an unexpected session change (e.g. IP switch mid-session).
func (r *Reporter) SessionAnomaly(ctx context.Context, detail string) {
	r.report(ctx, domain.EventSessionAnomaly, domain.SeverityInfo,
		domain.Metadata{Suspicious: true}, map[string]string{"detail": detail})
}

// ConfigChange records an operator change to security-relevant settings.
func (r *Reporter) ConfigChange(ctx context.Context, setting string) {
	r.report(ctx, domain.EventConfigChange, domain.SeverityInfo, domain.Metadata{}, map[string]string{"setting": setting})
}

// Report records an arbitrary draft, filling correlation, source and client IP when unset.
func (r *Reporter) Report(ctx context.Context, d domain.Draft) {
	if d.Correlation == (domain.Correlation{}) && r.correlation != nil {
		d.Correlation = r.correlation(ctx)
	}
	if d.Correlation.OrganizationID == "" {
		d.Correlation.OrganizationID = SentinelOrgID
	}
	if d.Metadata.Source == "" {
		d.Metadata.Source = r.source
	}
	if d.Metadata.ClientIP == "" {
		d.Metadata.ClientIP = "unknown"
		if r.ipExtractor != nil {
			d.Metadata.ClientIP = r.ipExtractor(ctx)
		}
	}
	if r.async {
		telemetry.RecordAsync(r.rec, d)
		return
	}
	r.rec.Record(ctx, d)
}

func (r *Reporter) report(ctx context.Context, t domain.EventType, sev domain.Severity, md domain.Metadata, extra map[string]string) {
	md.Extra = maps.Clone(extra)
	for k, v := range md.Extra {
		if v == "" {
			delete(md.Extra, k)
		}
	}
	r.Report(ctx, domain.Draft{Type: t, Severity: sev, Metadata: md})
}
