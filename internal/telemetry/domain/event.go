// Package domain holds the telemetry pipeline's value types: events, batches, retry state and metrics.
package domain

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// EventType names the kind of occurrence. Unknown types are allowed and classified by severity and metadata.
type EventType string

const (
	EventSecurityIncident   EventType = "security_incident"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventAuthFailure        EventType = "auth_failure"
	EventRateLimitExceeded  EventType = "rate_limit_exceeded"
	EventPermissionDenied   EventType = "permission_denied"
	EventSessionAnomaly     EventType = "session_anomaly"
	EventConfigChange       EventType = "config_change"
	EventOperational        EventType = "operational"
)

// Correlation links an event to the tenant, session and user it concerns. All fields are optional.
type Correlation struct {
	OrganizationID string `json:"organizationId,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

// Metadata is the event payload: known fields used by classification plus open string-keyed extras.
type Metadata struct {
	ThreatLevel ThreatLevel       `json:"threatLevel,omitempty"`
	Suspicious  bool              `json:"suspicious,omitempty"`
	Source      string            `json:"source,omitempty"`
	ClientIP    string            `json:"clientIp,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Draft is what a producer submits. Priority and identity are assigned by the pipeline.
type Draft struct {
	Type        EventType   `json:"type"`
	Severity    Severity    `json:"severity,omitempty"`
	Timestamp   time.Time   `json:"timestamp,omitempty"`
	Correlation Correlation `json:"correlation"`
	Metadata    Metadata    `json:"metadata"`
}

// Event is one recorded telemetry occurrence. It is treated as immutable once created;
// the priority assigned at ingestion never changes.
type Event struct {
	ID          string      `json:"id"`
	Type        EventType   `json:"type"`
	Severity    Severity    `json:"severity,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	Priority    Priority    `json:"priority"`
	Correlation Correlation `json:"correlation"`
	Metadata    Metadata    `json:"metadata"`
}

// NewEvent builds an Event from d with the given priority. A zero draft timestamp is replaced by now.
// The metadata extras are copied so the producer's map is not shared with the queue.
func NewEvent(d Draft, p Priority, now time.Time) Event {
	ts := d.Timestamp
	if ts.IsZero() {
		ts = now
	}
	meta := d.Metadata
	if d.Metadata.Extra != nil {
		meta.Extra = maps.Clone(d.Metadata.Extra)
	}
	return Event{
		ID:          uuid.NewString(),
		Type:        d.Type,
		Severity:    d.Severity,
		Timestamp:   ts.UTC(),
		Priority:    p,
		Correlation: d.Correlation,
		Metadata:    meta,
	}
}
