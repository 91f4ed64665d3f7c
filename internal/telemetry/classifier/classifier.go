// Package classifier maps an incoming event draft to a priority tier.
package classifier

import "retail-platform/telemetry/internal/telemetry/domain"

// Classifier assigns a priority to a draft. Implementations must be deterministic and side-effect free.
type Classifier interface {
	Classify(d domain.Draft) domain.Priority
}

// Table maps event types to a fixed priority. It is consulted before severity and metadata.
type Table map[domain.EventType]domain.Priority

// DefaultTable returns the built-in type table.
func DefaultTable() Table {
	return Table{
		domain.EventSecurityIncident:   domain.PriorityCritical,
		domain.EventSuspiciousActivity: domain.PriorityCritical,
		domain.EventAuthFailure:        domain.PriorityCritical,
		domain.EventRateLimitExceeded:  domain.PriorityHigh,
	}
}

// Rules is the table-then-severity-then-metadata classifier.
type Rules struct {
	table Table
}

// New returns a Rules classifier over table. A nil table uses DefaultTable.
// The table is copied; later changes to the argument have no effect.
func New(table Table) *Rules {
	if table == nil {
		table = DefaultTable()
	}
	own := make(Table, len(table))
	for k, v := range table {
		own[k] = v
	}
	return &Rules{table: own}
}

var defaultRules = New(nil)

// Classify applies the default rules to d.
func Classify(d domain.Draft) domain.Priority {
	return defaultRules.Classify(d)
}

// Classify resolves in order: type table, severity, metadata threat signal, then normal.
// Info severity is not decisive; it leaves the decision to the metadata step.
func (r *Rules) Classify(d domain.Draft) domain.Priority {
	if p, ok := r.table[d.Type]; ok {
		return p
	}
	if p, ok := fromSeverity(d.Severity); ok {
		return p
	}
	return fromMetadata(d.Metadata)
}

func fromSeverity(s domain.Severity) (domain.Priority, bool) {
	switch s {
	case domain.SeverityCritical:
		return domain.PriorityCritical, true
	case domain.SeverityWarning:
		return domain.PriorityHigh, true
	}
	return 0, false
}

func fromMetadata(m domain.Metadata) domain.Priority {
	switch {
	case m.ThreatLevel == domain.ThreatCritical:
		return domain.PriorityCritical
	case m.ThreatLevel == domain.ThreatHigh, m.Suspicious:
		return domain.PriorityHigh
	}
	return domain.PriorityNormal
}
