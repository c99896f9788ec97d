package workflow

// ApprovalStatus is the lifecycle status of a suggestion
type ApprovalStatus string

const (
	ApprovalPending      ApprovalStatus = "PENDING"
	ApprovalApproved     ApprovalStatus = "APPROVED"
	ApprovalRejected     ApprovalStatus = "REJECTED"
	ApprovalAutoApproved ApprovalStatus = "AUTO_APPROVED"
)

var validApprovalStatuses = map[ApprovalStatus]bool{
	ApprovalPending:      true,
	ApprovalApproved:     true,
	ApprovalRejected:     true,
	ApprovalAutoApproved: true,
}

// String returns the string representation of the status
func (s ApprovalStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a known approval status
func (s ApprovalStatus) IsValid() bool {
	return validApprovalStatuses[s]
}

// IsTerminal returns true for every status other than PENDING
func (s ApprovalStatus) IsTerminal() bool {
	return s.IsValid() && s != ApprovalPending
}

// RunStatus is the overall status of a workflow run
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunPaused    RunStatus = "PAUSED"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// String returns the string representation of the status
func (s RunStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a known run status
func (s RunStatus) IsValid() bool {
	switch s {
	case RunRunning, RunPaused, RunCompleted, RunFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for COMPLETED and FAILED
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// StepStatus is the status of one pipeline step inside a run
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
)
