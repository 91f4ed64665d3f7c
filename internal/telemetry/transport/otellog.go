package transport

import (
	"context"
	"encoding/json"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"

	"retail-platform/telemetry/internal/telemetry/domain"
)

// OTelLog emits each event as an OpenTelemetry log record. Delivery is handed to the LoggerProvider's
// batch processor, so Send succeeds once the records are accepted.
type OTelLog struct {
	logger RecordEmitter
}

// RecordEmitter is the part of otellog.Logger used here.
type RecordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewOTelLog uses provider, or the global LoggerProvider when provider is nil.
func NewOTelLog(provider otellog.LoggerProvider) *OTelLog {
	if provider == nil {
		provider = global.GetLoggerProvider()
	}
	return &OTelLog{logger: provider.Logger("retail.telemetry")}
}

// NewOTelLogWithEmitter sends records to e directly.
func NewOTelLogWithEmitter(e RecordEmitter) *OTelLog {
	return &OTelLog{logger: e}
}

func (o *OTelLog) Send(ctx context.Context, b domain.Batch) error {
	for _, e := range b.Events {
		o.logger.Emit(ctx, eventRecord(e, b.BatchMetadata.Teardown))
	}
	return nil
}

func (o *OTelLog) Beacon(ctx context.Context, b domain.Batch) {
	_ = o.Send(ctx, b)
}

// Close is a no-op; the provider is owned and shut down by the caller.
func (o *OTelLog) Close() error { return nil }

func eventRecord(e domain.Event, teardown bool) otellog.Record {
	rec := otellog.Record{}
	rec.SetTimestamp(e.Timestamp)
	rec.SetSeverity(severityOf(e.Severity))
	rec.SetSeverityText(string(e.Severity))
	rec.SetEventName(string(e.Type))
	if body, err := json.Marshal(e.Metadata); err == nil {
		rec.SetBody(otellog.BytesValue(body))
	}
	rec.AddAttributes(
		otellog.String("event_id", e.ID),
		otellog.String("event_type", string(e.Type)),
		otellog.String("priority", e.Priority.String()),
	)
	if e.Correlation.OrganizationID != "" {
		rec.AddAttributes(otellog.String("org_id", e.Correlation.OrganizationID))
	}
	if e.Correlation.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", e.Correlation.UserID))
	}
	if e.Correlation.SessionID != "" {
		rec.AddAttributes(otellog.String("session_id", e.Correlation.SessionID))
	}
	if e.Metadata.Source != "" {
		rec.AddAttributes(otellog.String("source", e.Metadata.Source))
	}
	if teardown {
		rec.AddAttributes(otellog.Bool("teardown", true))
	}
	return rec
}

func severityOf(s domain.Severity) otellog.Severity {
	switch s {
	case domain.SeverityCritical:
		return otellog.SeverityError
	case domain.SeverityWarning:
		return otellog.SeverityWarn
	default:
		return otellog.SeverityInfo
	}
}
