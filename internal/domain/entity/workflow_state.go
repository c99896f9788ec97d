package entity

import (
	"time"

	"github.com/garyjia/cash-clearing/internal/domain/workflow"
)

// Pipeline steps, in execution order
const (
	StepSelectTransactions = 1
	StepPatternMatch       = 2
	StepGLMapping          = 3
	StepPersistSuggestions = 4

	StepCount = 4
)

var stepNames = map[int]string{
	StepSelectTransactions: "select_transactions",
	StepPatternMatch:       "pattern_match",
	StepGLMapping:          "gl_mapping",
	StepPersistSuggestions: "persist_suggestions",
}

// StepName returns the stable name of a pipeline step
func StepName(step int) string {
	if name, ok := stepNames[step]; ok {
		return name
	}
	return "unknown"
}

// ValidStep checks a step number is inside the pipeline
func ValidStep(step int) bool {
	return step >= StepSelectTransactions && step <= StepCount
}

// StepPolicy configures timeout and retries for one step
type StepPolicy struct {
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
}

// RunConfig is the configuration a workflow run was started with
type RunConfig struct {
	BatchSize            int                `json:"batch_size"`
	StatusFilter         string             `json:"status_filter"`
	RequireHumanApproval bool               `json:"require_human_approval"`
	FallbackToRules      bool               `json:"fallback_to_rules"`
	AllowPartialFailure  bool               `json:"allow_partial_failure"`
	Steps                map[int]StepPolicy `json:"steps"`
}

// RunConfigOverrides are merged into a RunConfig on resume.
// Nil fields keep the original value.
type RunConfigOverrides struct {
	BatchSize            *int               `json:"batch_size,omitempty"`
	StatusFilter         *string            `json:"status_filter,omitempty"`
	RequireHumanApproval *bool              `json:"require_human_approval,omitempty"`
	FallbackToRules      *bool              `json:"fallback_to_rules,omitempty"`
	AllowPartialFailure  *bool              `json:"allow_partial_failure,omitempty"`
	Steps                map[int]StepPolicy `json:"steps,omitempty"`
}

// Merge returns a copy of c with the overrides applied
func (c RunConfig) Merge(o *RunConfigOverrides) RunConfig {
	merged := c
	merged.Steps = make(map[int]StepPolicy, len(c.Steps))
	for step, policy := range c.Steps {
		merged.Steps[step] = policy
	}
	if o == nil {
		return merged
	}

	if o.BatchSize != nil {
		merged.BatchSize = *o.BatchSize
	}
	if o.StatusFilter != nil {
		merged.StatusFilter = *o.StatusFilter
	}
	if o.RequireHumanApproval != nil {
		merged.RequireHumanApproval = *o.RequireHumanApproval
	}
	if o.FallbackToRules != nil {
		merged.FallbackToRules = *o.FallbackToRules
	}
	if o.AllowPartialFailure != nil {
		merged.AllowPartialFailure = *o.AllowPartialFailure
	}
	for step, policy := range o.Steps {
		merged.Steps[step] = policy
	}
	return merged
}

// Policy returns the step policy, falling back to the zero policy
func (c RunConfig) Policy(step int) StepPolicy {
	return c.Steps[step]
}

// StepState tracks progress of a single pipeline step
type StepState struct {
	Step        int                 `json:"step"`
	Name        string              `json:"name"`
	Status      workflow.StepStatus `json:"status"`
	Attempts    int                 `json:"attempts"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Checkpoint holds step outputs so a resumed run can re-enter mid-pipeline
type Checkpoint struct {
	TransactionIDs []string                `json:"transaction_ids,omitempty"`
	Matches        map[string]PatternMatch `json:"matches,omitempty"`
	Selections     map[string]GLSelection  `json:"selections,omitempty"`
	SuggestionIDs  []string                `json:"suggestion_ids,omitempty"`
	Failed         map[string]string       `json:"failed,omitempty"`
}

// MarkFailed records a transaction that dropped out of the pipeline
func (c *Checkpoint) MarkFailed(transactionID, reason string) {
	if c.Failed == nil {
		c.Failed = make(map[string]string)
	}
	c.Failed[transactionID] = reason
}

// HasFailed reports whether the transaction already dropped out
func (c *Checkpoint) HasFailed(transactionID string) bool {
	_, ok := c.Failed[transactionID]
	return ok
}

// WorkflowError is the error recorded when a run fails
type WorkflowError struct {
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	Step        int       `json:"step"`
	Category    string    `json:"category"`
	Subcategory string    `json:"subcategory"`
	Severity    int       `json:"severity"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// WorkflowState is the persisted state of one workflow run
type WorkflowState struct {
	ID                    string                 `json:"id"`
	BatchID               string                 `json:"batch_id"`
	CurrentStep           int                    `json:"current_step"`
	Steps                 []StepState            `json:"steps"`
	TotalTransactions     int                    `json:"total_transactions"`
	ProcessedTransactions int                    `json:"processed_transactions"`
	FailedTransactions    int                    `json:"failed_transactions"`
	TotalAmount           float64                `json:"total_amount"`
	WorkflowStatus        workflow.RunStatus     `json:"workflow_status"`
	HumanApprovalRequired bool                   `json:"human_approval_required"`
	ErrorDetails          *WorkflowError         `json:"error_details,omitempty"`
	Metadata              map[string]interface{} `json:"metadata,omitempty"`
	Config                RunConfig              `json:"config"`
	Checkpoint            Checkpoint             `json:"checkpoint"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             time.Time              `json:"updated_at"`
}

// NewWorkflowState creates a RUNNING state positioned at step 1
func NewWorkflowState(id, batchID string, cfg RunConfig, now time.Time) *WorkflowState {
	steps := make([]StepState, 0, StepCount)
	for step := StepSelectTransactions; step <= StepCount; step++ {
		steps = append(steps, StepState{
			Step:   step,
			Name:   StepName(step),
			Status: workflow.StepPending,
		})
	}

	return &WorkflowState{
		ID:                    id,
		BatchID:               batchID,
		CurrentStep:           StepSelectTransactions,
		Steps:                 steps,
		WorkflowStatus:        workflow.RunRunning,
		HumanApprovalRequired: cfg.RequireHumanApproval,
		Metadata:              map[string]interface{}{},
		Config:                cfg,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// Step returns a pointer to the state of the given step, or nil
func (w *WorkflowState) Step(step int) *StepState {
	for i := range w.Steps {
		if w.Steps[i].Step == step {
			return &w.Steps[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the state
func (w *WorkflowState) Clone() *WorkflowState {
	c := *w
	c.Steps = append([]StepState(nil), w.Steps...)
	if w.ErrorDetails != nil {
		e := *w.ErrorDetails
		c.ErrorDetails = &e
	}
	c.Metadata = make(map[string]interface{}, len(w.Metadata))
	for k, v := range w.Metadata {
		c.Metadata[k] = v
	}
	c.Config = w.Config.Merge(nil)
	c.Checkpoint = w.Checkpoint.clone()
	return &c
}

func (c Checkpoint) clone() Checkpoint {
	out := Checkpoint{
		TransactionIDs: append([]string(nil), c.TransactionIDs...),
		SuggestionIDs:  append([]string(nil), c.SuggestionIDs...),
	}
	if c.Matches != nil {
		out.Matches = make(map[string]PatternMatch, len(c.Matches))
		for k, v := range c.Matches {
			out.Matches[k] = v
		}
	}
	if c.Selections != nil {
		out.Selections = make(map[string]GLSelection, len(c.Selections))
		for k, v := range c.Selections {
			v.Alternatives = append([]GLMapping(nil), v.Alternatives...)
			out.Selections[k] = v
		}
	}
	if c.Failed != nil {
		out.Failed = make(map[string]string, len(c.Failed))
		for k, v := range c.Failed {
			out.Failed[k] = v
		}
	}
	return out
}
