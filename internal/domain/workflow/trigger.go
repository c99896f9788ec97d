package workflow

// ApprovalTrigger moves a suggestion out of PENDING
type ApprovalTrigger string

const (
	TriggerApprove     ApprovalTrigger = "APPROVE"
	TriggerReject      ApprovalTrigger = "REJECT"
	TriggerAutoApprove ApprovalTrigger = "AUTO_APPROVE"
)

// String returns the string representation of the trigger
func (t ApprovalTrigger) String() string {
	return string(t)
}

// RunTrigger moves a workflow run between statuses
type RunTrigger string

const (
	TriggerPause    RunTrigger = "PAUSE"
	TriggerResume   RunTrigger = "RESUME"
	TriggerComplete RunTrigger = "COMPLETE"
	TriggerFail     RunTrigger = "FAIL"
)

// String returns the string representation of the trigger
func (t RunTrigger) String() string {
	return string(t)
}
