package failure

import "time"

// Severity ranks how business-critical an error is. 1 is most severe.
type Severity int

const (
	SeverityCritical Severity = 1
	SeverityHigh     Severity = 2
	SeverityMedium   Severity = 3
	SeverityLow      Severity = 4
	SeverityInfo     Severity = 5
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "CRITICAL"
	case SeverityHigh:
		return "HIGH"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityLow:
		return "LOW"
	case SeverityInfo:
		return "INFO"
	default:
		return "UNKNOWN"
	}
}

// IsValid checks the severity is within 1..5
func (s Severity) IsValid() bool {
	return s >= SeverityCritical && s <= SeverityInfo
}

// Upgrade returns the next more severe level, capped at critical
func (s Severity) Upgrade() Severity {
	if s <= SeverityCritical {
		return SeverityCritical
	}
	return s - 1
}

// SeverityPolicy is the handling policy attached to a severity level
type SeverityPolicy struct {
	AutoRetry bool
	Escalate  bool
	SLA       time.Duration
}

var severityPolicies = map[Severity]SeverityPolicy{
	SeverityCritical: {AutoRetry: false, Escalate: true, SLA: 0},
	SeverityHigh:     {AutoRetry: true, Escalate: true, SLA: 15 * time.Minute},
	SeverityMedium:   {AutoRetry: true, Escalate: false, SLA: 60 * time.Minute},
	SeverityLow:      {AutoRetry: true, Escalate: false, SLA: 240 * time.Minute},
	SeverityInfo:     {AutoRetry: false, Escalate: false, SLA: 0},
}

// Policy returns the handling policy for the severity
func (s Severity) Policy() SeverityPolicy {
	if p, ok := severityPolicies[s]; ok {
		return p
	}
	return severityPolicies[SeverityMedium]
}
