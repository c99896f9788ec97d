package entity

import (
	"time"

	"github.com/garyjia/cash-clearing/internal/domain/workflow"
)

// PatternMatch is the oracle's (or rule matcher's) verdict for one transaction
type PatternMatch struct {
	PatternID   string      `json:"pattern_id"`
	PatternName string      `json:"pattern_name"`
	PatternType PatternType `json:"pattern_type"`
	Confidence  float64     `json:"confidence"`
	Evidence    string      `json:"evidence"`
	Source      string      `json:"source"`
}

// Sources of a pattern match or GL selection
const (
	SourceOracle = "AI"
	SourceRules  = "RULES"
)

// GLMapping is a candidate ledger mapping for a matched pattern
type GLMapping struct {
	AccountCode          string      `json:"account_code"`
	AccountName          string      `json:"account_name"`
	DebitCredit          DebitCredit `json:"debit_credit"`
	Category             string      `json:"category"`
	Confidence           float64     `json:"confidence"`
	AutoApproveThreshold float64     `json:"auto_approve_threshold"`
}

// GLSelection is the mapping chosen for a transaction in step 3
type GLSelection struct {
	TransactionID    string      `json:"transaction_id"`
	Mapping          GLMapping   `json:"mapping"`
	Confidence       float64     `json:"confidence"`
	RequiresApproval bool        `json:"requires_approval"`
	Alternatives     []GLMapping `json:"alternatives,omitempty"`
	Reasoning        string      `json:"reasoning"`
	Source           string      `json:"source"`
}

// Reasoning captures why a suggestion was produced
type Reasoning struct {
	PatternEvidence  string   `json:"pattern_evidence"`
	MappingReasoning string   `json:"mapping_reasoning"`
	Alternatives     []string `json:"alternatives,omitempty"`
	RequiresApproval bool     `json:"requires_approval"`
}

// ValidationChecks records the gate checks evaluated when the suggestion was created
type ValidationChecks struct {
	ConfidenceAboveFloor bool `json:"confidence_above_floor"`
	GLAccountPresent     bool `json:"gl_account_present"`
	AutoApproveEligible  bool `json:"auto_approve_eligible"`
}

// Overrides are approver corrections applied on approval.
// Nil fields keep the original value.
type Overrides struct {
	Amount      *float64     `json:"amount,omitempty"`
	AccountCode *string      `json:"account_code,omitempty"`
	AccountName *string      `json:"account_name,omitempty"`
	DebitCredit *DebitCredit `json:"debit_credit,omitempty"`
}

// IsEmpty reports whether no override field is set
func (o *Overrides) IsEmpty() bool {
	return o == nil || (o.Amount == nil && o.AccountCode == nil && o.AccountName == nil && o.DebitCredit == nil)
}

// Suggestion is a proposed (pattern, GL mapping) pairing subject to approval
type Suggestion struct {
	ID                string                  `json:"id"`
	TransactionID     string                  `json:"transaction_id"`
	WorkflowID        string                  `json:"workflow_id"`
	BatchID           string                  `json:"batch_id"`
	StepNumber        int                     `json:"step_number"`
	PatternMatch      PatternMatch            `json:"pattern_match"`
	GLMapping         GLMapping               `json:"gl_mapping"`
	Amount            float64                 `json:"amount"`
	OverallConfidence float64                 `json:"overall_confidence"`
	ApprovalStatus    workflow.ApprovalStatus `json:"approval_status"`
	ApproverID        string                  `json:"approver_id,omitempty"`
	ApprovalTime      *time.Time              `json:"approval_time,omitempty"`
	ApprovalReason    string                  `json:"approval_reason,omitempty"`
	RejectionCategory string                  `json:"rejection_category,omitempty"`
	AlternativeAction string                  `json:"alternative_action,omitempty"`
	Reasoning         Reasoning               `json:"reasoning"`
	ValidationChecks  ValidationChecks        `json:"validation_checks"`
	Overrides         *Overrides              `json:"overrides,omitempty"`
	Metadata          map[string]interface{}  `json:"metadata,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without touching the original
func (s *Suggestion) Clone() *Suggestion {
	c := *s
	if s.ApprovalTime != nil {
		t := *s.ApprovalTime
		c.ApprovalTime = &t
	}
	if s.Overrides != nil {
		o := *s.Overrides
		c.Overrides = &o
	}
	if s.Reasoning.Alternatives != nil {
		c.Reasoning.Alternatives = append([]string{}, s.Reasoning.Alternatives...)
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// SuggestionFilter narrows suggestion listings
type SuggestionFilter struct {
	WorkflowID     string
	BatchID        string
	ApprovalStatus workflow.ApprovalStatus
	Limit          int
	Offset         int
}
