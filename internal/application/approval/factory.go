package approval

import (
	"context"

	"github.com/garyjia/cash-clearing/internal/domain/entity"
	domainwf "github.com/garyjia/cash-clearing/internal/domain/workflow"
)

// SuggestionMachine tracks the approval status of one suggestion
type SuggestionMachine = domainwf.Machine[domainwf.ApprovalStatus, domainwf.ApprovalTrigger]

// SuggestionGuards gate the transitions that depend on the suggestion's confidence.
// A nil guard always passes.
type SuggestionGuards struct {
	// Approve holds the manual approval floor
	Approve domainwf.GuardFunc
	// AutoApprove holds the mapping's auto-approve threshold
	AutoApprove domainwf.GuardFunc
}

// BuildSuggestionStateMachine creates a state machine configured for the suggestion lifecycle
func BuildSuggestionStateMachine(initial domainwf.ApprovalStatus, guards SuggestionGuards) SuggestionMachine {
	builder := domainwf.NewBuilder[domainwf.ApprovalStatus, domainwf.ApprovalTrigger]()

	// PENDING is the only source
	builder.Configure(domainwf.ApprovalPending).
		PermitIf(domainwf.TriggerApprove, domainwf.ApprovalApproved, guards.Approve).
		Permit(domainwf.TriggerReject, domainwf.ApprovalRejected).
		PermitIf(domainwf.TriggerAutoApprove, domainwf.ApprovalAutoApproved, guards.AutoApprove)

	return builder.Build(initial)
}

// guardsFor binds the policy thresholds to one suggestion
func (p *Policy) guardsFor(sug *entity.Suggestion, requireHuman bool) SuggestionGuards {
	return SuggestionGuards{
		Approve: func(context.Context) bool {
			return sug.OverallConfidence >= p.ApprovalFloor
		},
		AutoApprove: func(context.Context) bool {
			return p.ShouldAutoApprove(sug, requireHuman)
		},
	}
}
