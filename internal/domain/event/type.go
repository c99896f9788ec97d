package event

// Type identifies the type of domain event
type Type string

const (
	TypeSuggestionApproved     Type = "suggestion.approved"
	TypeSuggestionRejected     Type = "suggestion.rejected"
	TypeSuggestionAutoApproved Type = "suggestion.auto_approved"
	TypeBatchCompleted         Type = "batch.completed"
	TypeWorkflowStarted        Type = "workflow.started"
	TypeWorkflowPaused         Type = "workflow.paused"
	TypeWorkflowResumed        Type = "workflow.resumed"
	TypeWorkflowCompleted      Type = "workflow.completed"
	TypeWorkflowFailed         Type = "workflow.failed"
	TypeErrorEscalated         Type = "error.escalated"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeSuggestionApproved,
		TypeSuggestionRejected,
		TypeSuggestionAutoApproved,
		TypeBatchCompleted,
		TypeWorkflowStarted,
		TypeWorkflowPaused,
		TypeWorkflowResumed,
		TypeWorkflowCompleted,
		TypeWorkflowFailed,
		TypeErrorEscalated:
		return true
	default:
		return false
	}
}

// All returns every defined event type
func All() []Type {
	return []Type{
		TypeSuggestionApproved,
		TypeSuggestionRejected,
		TypeSuggestionAutoApproved,
		TypeBatchCompleted,
		TypeWorkflowStarted,
		TypeWorkflowPaused,
		TypeWorkflowResumed,
		TypeWorkflowCompleted,
		TypeWorkflowFailed,
		TypeErrorEscalated,
	}
}
