// Package workflow runs the four-step cash-clearing pipeline:
// select transactions, match patterns, map to GL accounts, persist suggestions.
package workflow

import (
	"context"
	"errors"

	"github.com/garyjia/cash-clearing/internal/domain/entity"
)

var (
	// ErrWorkflowNotFound is returned when no run exists for a batch id
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowExists is returned when starting a run for a batch id already in use
	ErrWorkflowExists = errors.New("workflow already exists for batch")

	// ErrInvalidState is returned when pause or resume is not legal from the current status
	ErrInvalidState = errors.New("invalid workflow state")

	// ErrInvalidStep is returned when resume names a step outside the pipeline
	ErrInvalidStep = errors.New("invalid workflow step")

	// ErrStepInFlight is returned when resuming while a paused run is still finishing its step
	ErrStepInFlight = errors.New("paused run is still finishing its current step")

	// ErrInvalidConfig is returned when a run configuration is out of range
	ErrInvalidConfig = errors.New("invalid workflow configuration")

	// ErrCapacity is returned when the worker pool refuses a new run
	ErrCapacity = errors.New("workflow capacity exceeded")
)

// StartRequest starts a new run. Nil override fields use the configured defaults.
type StartRequest struct {
	BatchID   string
	Overrides *entity.RunConfigOverrides
	Metadata  map[string]interface{}
}

// PauseRequest pauses a running workflow at the next step boundary
type PauseRequest struct {
	BatchID   string
	Reason    string
	ActorID   string
	SaveState bool
}

// ResumeRequest resumes a paused workflow
type ResumeRequest struct {
	BatchID   string
	ActorID   string
	FromStep  *int
	Overrides *entity.RunConfigOverrides
}

// Orchestrator owns the workflow run lifecycle
type Orchestrator interface {
	// Start persists a new RUNNING workflow and schedules its step loop
	Start(ctx context.Context, req StartRequest) (*entity.WorkflowState, error)

	// Pause moves a RUNNING workflow to PAUSED without interrupting the in-flight step
	Pause(ctx context.Context, req PauseRequest) (*entity.WorkflowState, error)

	// Resume moves a PAUSED workflow back to RUNNING and re-enters the step loop
	Resume(ctx context.Context, req ResumeRequest) (*entity.WorkflowState, error)

	// Status returns the persisted state without modifying it
	Status(ctx context.Context, batchID string) (*entity.WorkflowState, error)

	// Recover reschedules RUNNING workflows that have no step loop in this process,
	// e.g. after a restart. It returns how many loops were scheduled.
	Recover(ctx context.Context) (int, error)
}
