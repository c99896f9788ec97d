package workflow

import (
	domainwf "github.com/garyjia/cash-clearing/internal/domain/workflow"
)

// RunMachine tracks the status of one workflow run
type RunMachine = domainwf.Machine[domainwf.RunStatus, domainwf.RunTrigger]

// BuildRunStateMachine creates a state machine configured for workflow runs
func BuildRunStateMachine(initial domainwf.RunStatus) RunMachine {
	builder := domainwf.NewBuilder[domainwf.RunStatus, domainwf.RunTrigger]()

	// RUNNING state transitions
	builder.Configure(domainwf.RunRunning).
		Permit(domainwf.TriggerPause, domainwf.RunPaused).
		Permit(domainwf.TriggerComplete, domainwf.RunCompleted).
		Permit(domainwf.TriggerFail, domainwf.RunFailed)

	// PAUSED state transitions. An in-flight step may still finish or fail after a pause.
	builder.Configure(domainwf.RunPaused).
		Permit(domainwf.TriggerResume, domainwf.RunRunning).
		Permit(domainwf.TriggerComplete, domainwf.RunCompleted).
		Permit(domainwf.TriggerFail, domainwf.RunFailed)

	// COMPLETED and FAILED are terminal states - no outgoing transitions

	return builder.Build(initial)
}
