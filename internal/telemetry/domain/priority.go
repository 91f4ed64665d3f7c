package domain

import "fmt"

// Priority is the delivery tier assigned to an event at ingestion. It governs eviction order and send urgency.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = [...]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

// Weight returns the sort weight of p; higher weights are kept longer and sent first.
// Out-of-range values weigh as normal.
func (p Priority) Weight() int {
	if p < PriorityLow || p > PriorityCritical {
		return int(PriorityNormal)
	}
	return int(p)
}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityCritical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// MarshalText encodes the priority by name so persisted and wire forms stay readable.
func (p Priority) MarshalText() ([]byte, error) {
	if p < PriorityLow || p > PriorityCritical {
		return nil, fmt.Errorf("domain: invalid priority %d", int(p))
	}
	return []byte(priorityNames[p]), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority returns the priority named s.
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if name == s {
			return Priority(i), nil
		}
	}
	return PriorityNormal, fmt.Errorf("domain: unknown priority %q", s)
}

// Severity is the producer-reported seriousness of an event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ThreatLevel is an optional threat assessment carried in event metadata.
type ThreatLevel string

const (
	ThreatNone     ThreatLevel = ""
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)
