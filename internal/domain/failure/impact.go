package failure

// ImpactLevel is a step on the business impact ladder
type ImpactLevel int

const (
	ImpactNone ImpactLevel = iota
	ImpactLow
	ImpactMedium
	ImpactHigh
	ImpactCritical
)

// String returns the string representation of the impact level
func (l ImpactLevel) String() string {
	switch l {
	case ImpactNone:
		return "NONE"
	case ImpactLow:
		return "LOW"
	case ImpactMedium:
		return "MEDIUM"
	case ImpactHigh:
		return "HIGH"
	case ImpactCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the level by name
func (l ImpactLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Escalate moves one step up the ladder, capped at critical
func (l ImpactLevel) Escalate() ImpactLevel {
	if l >= ImpactCritical {
		return ImpactCritical
	}
	return l + 1
}

// BaselineImpact maps a severity to its starting impact level
func BaselineImpact(s Severity) ImpactLevel {
	switch s {
	case SeverityCritical:
		return ImpactHigh
	case SeverityHigh:
		return ImpactMedium
	case SeverityMedium, SeverityLow:
		return ImpactLow
	default:
		return ImpactNone
	}
}

// BusinessImpact is the impact assessment attached to a classification
type BusinessImpact struct {
	Level   ImpactLevel `json:"level"`
	Factors []string    `json:"factors,omitempty"`
}

// Impact factor names
const (
	FactorLargeBatch     = "large_batch"
	FactorTimeSensitive  = "time_sensitive_window"
	FactorHighValue      = "high_monetary_value"
	FactorCustomerFacing = "customer_facing_or_regulatory"
)
