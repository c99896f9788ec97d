package entity

import "time"

// AuditAction identifies what an audit entry records
type AuditAction string

const (
	AuditStepCompleted   AuditAction = "STEP_COMPLETED"
	AuditSuggestionSaved AuditAction = "SUGGESTION_CREATED"
	AuditApproved        AuditAction = "APPROVED"
	AuditAutoApproved    AuditAction = "AUTO_APPROVED"
	AuditRejected        AuditAction = "REJECTED"
	AuditError           AuditAction = "ERROR"
	AuditPaused          AuditAction = "WORKFLOW_PAUSED"
	AuditResumed         AuditAction = "WORKFLOW_RESUMED"
)

// SystemActor is recorded when the pipeline itself acts
const SystemActor = "system"

// AuditEntry is an append-only record of one significant action
type AuditEntry struct {
	ID               string                 `json:"id"`
	WorkflowID       string                 `json:"workflow_id"`
	TransactionID    string                 `json:"transaction_id,omitempty"`
	SuggestionID     string                 `json:"suggestion_id,omitempty"`
	StepNumber       int                    `json:"step_number"`
	ActionType       AuditAction            `json:"action_type"`
	ActorID          string                 `json:"actor_id"`
	ConfidenceScore  *float64               `json:"confidence_score,omitempty"`
	ProcessingTimeMS int64                  `json:"processing_time_ms"`
	InputData        map[string]interface{} `json:"input_data,omitempty"`
	OutputData       map[string]interface{} `json:"output_data,omitempty"`
	ErrorDetails     map[string]interface{} `json:"error_details,omitempty"`
	Timestamp        time.Time              `json:"timestamp"`
}

// AuditFilter narrows audit log queries. Zero fields are ignored.
type AuditFilter struct {
	WorkflowID    string      `form:"workflow_id"`
	TransactionID string      `form:"transaction_id"`
	SuggestionID  string      `form:"suggestion_id"`
	ActionType    AuditAction `form:"action_type"`
	ActorID       string      `form:"actor_id"`
	From          *time.Time  `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To            *time.Time  `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit         int         `form:"limit"`
	Offset        int         `form:"offset"`
}
