// Package approval drives suggestions through the PENDING -> APPROVED/REJECTED/AUTO_APPROVED lifecycle.
package approval

import (
	"fmt"
	"math"
	"regexp"

	"github.com/garyjia/cash-clearing/internal/domain/entity"
)

// Confidence weights used to combine pattern and mapping confidence
const (
	patternWeight = 0.4
	mappingWeight = 0.6
)

// DefaultGLAccountPattern accepts 4-6 digit account codes with an optional sub-account suffix
const DefaultGLAccountPattern = `^[0-9]{4,6}(-[0-9]{2,4})?$`

// Policy holds the business-rule limits enforced on approval. The approval floor
// is independent of the per-mapping auto-approve threshold.
type Policy struct {
	ApprovalFloor         float64 // Default: 0.3 - minimum confidence a human may approve
	MaxOverrideDeviation  float64 // Default: 0.10 - max relative change of an override amount
	GLAccountPattern      string
	ReprocessHighAmount   float64 // Default: 50000 - above this reprocessing gets priority 1
	ReprocessMediumAmount float64 // Default: 10000 - above this reprocessing gets priority 2

	glAccount *regexp.Regexp
}

// DefaultPolicy returns the standard approval limits
func DefaultPolicy() Policy {
	return Policy{
		ApprovalFloor:         0.3,
		MaxOverrideDeviation:  0.10,
		GLAccountPattern:      DefaultGLAccountPattern,
		ReprocessHighAmount:   50000,
		ReprocessMediumAmount: 10000,
	}
}

// Validate ensures limits are in range and compiles the account format
func (p *Policy) Validate() error {
	if p.ApprovalFloor < 0.0 || p.ApprovalFloor > 1.0 {
		return fmt.Errorf("approval floor must be between 0.0 and 1.0, got %.2f", p.ApprovalFloor)
	}
	if p.MaxOverrideDeviation < 0.0 {
		return fmt.Errorf("max override deviation must not be negative, got %.2f", p.MaxOverrideDeviation)
	}
	if p.ReprocessHighAmount < p.ReprocessMediumAmount {
		return fmt.Errorf("reprocess high amount must be >= medium amount (high: %.2f, medium: %.2f)",
			p.ReprocessHighAmount, p.ReprocessMediumAmount)
	}

	pattern := p.GLAccountPattern
	if pattern == "" {
		pattern = DefaultGLAccountPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid GL account pattern %q: %w", pattern, err)
	}
	p.glAccount = re

	return nil
}

// ValidGLAccount checks an account code against the configured format
func (p *Policy) ValidGLAccount(code string) bool {
	if p.glAccount == nil {
		p.glAccount = regexp.MustCompile(DefaultGLAccountPattern)
	}
	return p.glAccount.MatchString(code)
}

// OverallConfidence combines pattern and mapping confidence into [0, 1]
func OverallConfidence(patternConfidence, mappingConfidence float64) float64 {
	score := patternWeight*clamp(patternConfidence) + mappingWeight*clamp(mappingConfidence)
	return math.Round(score*10000) / 10000
}

// ShouldAutoApprove reports whether a freshly created suggestion may bypass human approval
func (p *Policy) ShouldAutoApprove(s *entity.Suggestion, requireHuman bool) bool {
	if requireHuman || s.Reasoning.RequiresApproval {
		return false
	}
	if s.GLMapping.AccountCode == "" || s.GLMapping.AutoApproveThreshold <= 0 {
		return false
	}
	return s.OverallConfidence >= s.GLMapping.AutoApproveThreshold && s.OverallConfidence >= p.ApprovalFloor
}

// ReprocessPriority derives queue priority from the transaction amount
func (p *Policy) ReprocessPriority(amount float64) int {
	amount = math.Abs(amount)
	switch {
	case amount > p.ReprocessHighAmount:
		return entity.PriorityHigh
	case amount > p.ReprocessMediumAmount:
		return entity.PriorityMedium
	default:
		return entity.PriorityLow
	}
}

// Checks evaluates the gate checks recorded on a new suggestion
func (p *Policy) Checks(s *entity.Suggestion, requireHuman bool) entity.ValidationChecks {
	return entity.ValidationChecks{
		ConfidenceAboveFloor: s.OverallConfidence >= p.ApprovalFloor,
		GLAccountPresent:     s.GLMapping.AccountCode != "",
		AutoApproveEligible:  p.ShouldAutoApprove(s, requireHuman),
	}
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
