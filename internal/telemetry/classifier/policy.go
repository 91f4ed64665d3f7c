package classifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/open-policy-agent/opa/v1/rego"

	"retail-platform/telemetry/internal/telemetry/domain"
)

const policyQuery = "data.telemetry.classify.priority"

// DefaultPolicy expresses the built-in type table in Rego. Operators may replace it to re-tier event types
// without a release.
const DefaultPolicy = `package telemetry.classify

critical_types := {"security_incident", "suspicious_activity", "auth_failure"}

priority = "critical" if {
	critical_types[input.type]
}

priority = "high" if {
	input.type == "rate_limit_exceeded"
}
`

// PolicyClassifier resolves the type step with an OPA Rego policy and falls back to Rules when the
// policy leaves priority undefined or fails to evaluate.
type PolicyClassifier struct {
	query    rego.PreparedEvalQuery
	fallback *Rules
	logger   *slog.Logger
}

// NewPolicyClassifier compiles module once. The fallback applies severity and metadata rules only,
// so the policy is the single source of type tiers.
func NewPolicyClassifier(ctx context.Context, module string, logger *slog.Logger) (*PolicyClassifier, error) {
	if module == "" {
		module = DefaultPolicy
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	q, err := rego.New(
		rego.Query(policyQuery),
		rego.Module("classify.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("classifier: compile policy: %w", err)
	}
	return &PolicyClassifier{query: q, fallback: New(Table{}), logger: logger}, nil
}

// Classify evaluates the policy for d. The policy only sees the draft, so results are deterministic.
func (c *PolicyClassifier) Classify(d domain.Draft) domain.Priority {
	input := map[string]any{
		"type":     string(d.Type),
		"severity": string(d.Severity),
		"metadata": map[string]any{
			"threat_level": string(d.Metadata.ThreatLevel),
			"suspicious":   d.Metadata.Suspicious,
		},
	}
	rs, err := c.query.Eval(context.Background(), rego.EvalInput(input))
	if err != nil {
		c.logger.Warn("classification policy eval failed", "event_type", d.Type, "err", err)
		return c.fallback.Classify(d)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return c.fallback.Classify(d)
	}
	name, ok := rs[0].Expressions[0].Value.(string)
	if !ok {
		return c.fallback.Classify(d)
	}
	p, err := domain.ParsePriority(name)
	if err != nil {
		c.logger.Warn("classification policy returned unknown priority", "priority", name)
		return c.fallback.Classify(d)
	}
	return p
}
