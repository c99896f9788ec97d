package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/cash-clearing/internal/application/workflow"
	domainwf "github.com/garyjia/cash-clearing/internal/domain/workflow"
)

// WorkflowService exposes workflow run control to callers
type WorkflowService interface {
	StartWorkflow(ctx context.Context, req workflow.StartRequest) *Result
	PauseWorkflow(ctx context.Context, req workflow.PauseRequest) *Result
	ResumeWorkflow(ctx context.Context, req workflow.ResumeRequest) *Result
	GetWorkflowStatus(ctx context.Context, batchID string) *Result
}

type workflowServiceImpl struct {
	orchestrator workflow.Orchestrator
	logger       Logger
}

// NewWorkflowService creates a new WorkflowService
func NewWorkflowService(orchestrator workflow.Orchestrator, logger Logger) WorkflowService {
	return &workflowServiceImpl{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// StartWorkflow starts a run and returns its initial state
func (s *workflowServiceImpl) StartWorkflow(ctx context.Context, req workflow.StartRequest) *Result {
	state, err := s.orchestrator.Start(ctx, req)
	if err != nil {
		return s.failed("Failed to start workflow", err, "batch_id", req.BatchID)
	}

	res := succeeded(state, fmt.Sprintf("Workflow started for batch %s", state.BatchID))
	res.NewStatus = state.WorkflowStatus.String()
	res.NextSteps = []string{"Poll workflow status until it completes"}
	return res
}

// PauseWorkflow pauses a running workflow at its next step boundary
func (s *workflowServiceImpl) PauseWorkflow(ctx context.Context, req workflow.PauseRequest) *Result {
	if err := requireFields(map[string]string{"batch_id": req.BatchID}); err != nil {
		return ErrorResult(err)
	}

	state, err := s.orchestrator.Pause(ctx, req)
	if err != nil {
		return s.failed("Failed to pause workflow", err, "batch_id", req.BatchID)
	}

	res := succeeded(state, fmt.Sprintf("Workflow paused at step %d", state.CurrentStep))
	res.PreviousStatus = domainwf.RunRunning.String()
	res.NewStatus = state.WorkflowStatus.String()
	res.NextSteps = []string{"Resume the workflow when ready"}
	return res
}

// ResumeWorkflow resumes a paused workflow, optionally from an earlier step
func (s *workflowServiceImpl) ResumeWorkflow(ctx context.Context, req workflow.ResumeRequest) *Result {
	if err := requireFields(map[string]string{"batch_id": req.BatchID}); err != nil {
		return ErrorResult(err)
	}

	state, err := s.orchestrator.Resume(ctx, req)
	if err != nil {
		return s.failed("Failed to resume workflow", err, "batch_id", req.BatchID)
	}

	res := succeeded(state, fmt.Sprintf("Workflow resumed from step %d", state.CurrentStep))
	res.PreviousStatus = domainwf.RunPaused.String()
	res.NewStatus = state.WorkflowStatus.String()
	return res
}

// GetWorkflowStatus returns the persisted run state
func (s *workflowServiceImpl) GetWorkflowStatus(ctx context.Context, batchID string) *Result {
	if strings.TrimSpace(batchID) == "" {
		return ErrorResult(requireFields(map[string]string{"batch_id": batchID}))
	}

	state, err := s.orchestrator.Status(ctx, batchID)
	if err != nil {
		return s.failed("Failed to get workflow status", err, "batch_id", batchID)
	}

	res := succeeded(state, fmt.Sprintf("Workflow is %s", state.WorkflowStatus))
	res.NewStatus = state.WorkflowStatus.String()
	if state.WorkflowStatus == domainwf.RunCompleted && state.HumanApprovalRequired {
		res.NextSteps = []string{"Review pending suggestions"}
	}
	return res
}

func (s *workflowServiceImpl) failed(msg string, err error, keysAndValues ...interface{}) *Result {
	res := ErrorResult(err)
	if res.Error.Kind == KindInternal {
		s.logger.Error(msg, append(keysAndValues, "error", err)...)
	} else {
		s.logger.Info(msg, append(keysAndValues, "kind", res.Error.Kind, "reason", err.Error())...)
	}
	return res
}
