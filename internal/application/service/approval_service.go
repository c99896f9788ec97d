package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/cash-clearing/internal/application/approval"
	"github.com/garyjia/cash-clearing/internal/application/batch"
	"github.com/garyjia/cash-clearing/internal/application/port"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/domain/failure"
	domainwf "github.com/garyjia/cash-clearing/internal/domain/workflow"
)

// BatchAction is the single decision applied to every id in a batch request
type BatchAction string

const (
	BatchApprove BatchAction = "APPROVE"
	BatchReject  BatchAction = "REJECT"
)

// IsValid checks if the action is known
func (a BatchAction) IsValid() bool {
	return a == BatchApprove || a == BatchReject
}

// BatchDecisionRequest approves or rejects up to batch.MaxItems suggestions
type BatchDecisionRequest struct {
	SuggestionIDs []string
	Action        BatchAction
	ActorID       string
	Reason        string
	// Reasons overrides Reason for individual suggestion ids
	Reasons             map[string]string
	Category            approval.RejectionCategory
	AlternativeAction   approval.AlternativeAction
	ScheduleReprocess   bool
	AllowPartialFailure bool
	StopOnFirstError    bool
}

// Decider applies one approval decision
type Decider interface {
	Approve(ctx context.Context, req approval.ApproveRequest) (*approval.Outcome, error)
	Reject(ctx context.Context, req approval.RejectRequest) (*approval.Outcome, error)
}

// BatchRunner drives items through an operation
type BatchRunner interface {
	Run(ctx context.Context, itemIDs []string, op batch.Operation, opts batch.RunOptions) (*entity.BatchResult, error)
}

// ApprovalService exposes suggestion decisions to callers
type ApprovalService interface {
	ApproveSuggestion(ctx context.Context, req approval.ApproveRequest) *Result
	RejectSuggestion(ctx context.Context, req approval.RejectRequest) *Result
	BatchApproveOrReject(ctx context.Context, req BatchDecisionRequest) *Result
}

type approvalServiceImpl struct {
	decider Decider
	runner  BatchRunner
	audit   port.AuditRepository
	logger  Logger
	now     func() time.Time
}

// NewApprovalService creates a new ApprovalService. Failed batch items are
// recorded in audit with their classification and advised recovery.
func NewApprovalService(decider Decider, runner BatchRunner, audit port.AuditRepository, logger Logger) ApprovalService {
	return &approvalServiceImpl{
		decider: decider,
		runner:  runner,
		audit:   audit,
		logger:  logger,
		now:     time.Now,
	}
}

// ApproveSuggestion approves one pending suggestion
func (s *approvalServiceImpl) ApproveSuggestion(ctx context.Context, req approval.ApproveRequest) *Result {
	if err := requireFields(map[string]string{"suggestion_id": req.SuggestionID, "actor_id": req.ActorID}); err != nil {
		return ErrorResult(err)
	}

	outcome, err := s.decider.Approve(ctx, req)
	if err != nil {
		return s.failed("Failed to approve suggestion", err, "suggestion_id", req.SuggestionID, "actor_id", req.ActorID)
	}

	return decisionResult(outcome, "Suggestion approved")
}

// RejectSuggestion rejects one pending suggestion
func (s *approvalServiceImpl) RejectSuggestion(ctx context.Context, req approval.RejectRequest) *Result {
	if err := requireFields(map[string]string{"suggestion_id": req.SuggestionID, "actor_id": req.ActorID, "reason": req.Reason}); err != nil {
		return ErrorResult(err)
	}

	outcome, err := s.decider.Reject(ctx, req)
	if err != nil {
		return s.failed("Failed to reject suggestion", err, "suggestion_id", req.SuggestionID, "actor_id", req.ActorID)
	}

	return decisionResult(outcome, "Suggestion rejected")
}

// BatchApproveOrReject applies one action to every id. Per-item failures are reported
// in the batch result; the envelope only fails when the request itself is invalid.
func (s *approvalServiceImpl) BatchApproveOrReject(ctx context.Context, req BatchDecisionRequest) *Result {
	if err := validateBatchRequest(req); err != nil {
		return ErrorResult(err)
	}

	batchID := uuid.NewString()
	s.logger.Info("Starting batch decision",
		"batch_id", batchID,
		"action", req.Action,
		"actor_id", req.ActorID,
		"count", len(req.SuggestionIDs),
	)

	var nextSteps []string
	seen := make(map[string]bool)
	op := func(ctx context.Context, id string) (batch.ItemOutcome, error) {
		outcome, err := s.decide(ctx, req, id)
		if err != nil {
			return batch.ItemOutcome{}, err
		}
		for _, step := range outcome.NextSteps {
			if !seen[step] {
				seen[step] = true
				nextSteps = append(nextSteps, step)
			}
		}
		return batch.ItemOutcome{
			PreviousStatus: outcome.PreviousStatus.String(),
			NewStatus:      outcome.NewStatus.String(),
		}, nil
	}

	result, err := s.runner.Run(ctx, req.SuggestionIDs, op, batch.RunOptions{
		BatchID: batchID,
		Policy:  batch.PolicyFor(req.AllowPartialFailure, req.StopOnFirstError),
		OnFailure: func(ctx context.Context, id string, err error, cls failure.Classification, strategy failure.Strategy) {
			s.recordItemFailure(ctx, batchID, req, id, cls, strategy)
		},
	})
	if err != nil {
		return s.failed("Failed to run batch decision", err, "batch_id", batchID)
	}

	s.logger.Info("Batch decision completed",
		"batch_id", batchID,
		"successful", result.Successful,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)

	if result.Failed > 0 {
		nextSteps = append(nextSteps, fmt.Sprintf("Review %d failed suggestions", result.Failed))
	}
	if result.Skipped > 0 {
		nextSteps = append(nextSteps, fmt.Sprintf("Resubmit %d skipped suggestions", result.Skipped))
	}

	res := &Result{
		Success:   result.Failed == 0,
		Data:      result,
		Message:   fmt.Sprintf("%d of %d suggestions processed", result.Successful, result.Total),
		NextSteps: nextSteps,
	}
	if result.Successful > 0 {
		res.PreviousStatus = domainwf.ApprovalPending.String()
		res.NewStatus = targetStatus(req.Action).String()
	}
	return res
}

func (s *approvalServiceImpl) decide(ctx context.Context, req BatchDecisionRequest, id string) (*approval.Outcome, error) {
	reason := req.Reason
	if r, ok := req.Reasons[id]; ok && r != "" {
		reason = r
	}

	if req.Action == BatchApprove {
		return s.decider.Approve(ctx, approval.ApproveRequest{
			SuggestionID: id,
			ActorID:      req.ActorID,
			Reason:       reason,
		})
	}
	return s.decider.Reject(ctx, approval.RejectRequest{
		SuggestionID:      id,
		ActorID:           req.ActorID,
		Reason:            reason,
		Category:          req.Category,
		AlternativeAction: req.AlternativeAction,
		ScheduleReprocess: req.ScheduleReprocess,
	})
}

// recordItemFailure appends an ERROR audit entry for one failed batch item. A write
// failure is logged and does not change the batch outcome.
func (s *approvalServiceImpl) recordItemFailure(
	ctx context.Context,
	batchID string,
	req BatchDecisionRequest,
	id string,
	cls failure.Classification,
	strategy failure.Strategy,
) {
	if s.audit == nil {
		return
	}

	details := cls.Details()
	details["batch_id"] = batchID
	details["recommended_actions"] = strategy.ActionTypes()

	entry := &entity.AuditEntry{
		ID:           uuid.NewString(),
		SuggestionID: id,
		ActionType:   entity.AuditError,
		ActorID:      req.ActorID,
		InputData: map[string]interface{}{
			"action":   string(req.Action),
			"batch_id": batchID,
		},
		ErrorDetails: details,
		Timestamp:    s.now(),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Error("Failed to audit batch item failure",
			"batch_id", batchID,
			"suggestion_id", id,
			"error", err,
		)
	}
}

func (s *approvalServiceImpl) failed(msg string, err error, keysAndValues ...interface{}) *Result {
	res := ErrorResult(err)
	if res.Error.Kind == KindInternal {
		s.logger.Error(msg, append(keysAndValues, "error", err)...)
	} else {
		s.logger.Info(msg, append(keysAndValues, "kind", res.Error.Kind, "reason", err.Error())...)
	}
	return res
}

func decisionResult(outcome *approval.Outcome, message string) *Result {
	res := succeeded(outcome.Suggestion, message)
	res.PreviousStatus = outcome.PreviousStatus.String()
	res.NewStatus = outcome.NewStatus.String()
	res.NextSteps = outcome.NextSteps
	return res
}

func validateBatchRequest(req BatchDecisionRequest) error {
	ve := &approval.ValidationError{Message: "invalid batch request"}
	if len(req.SuggestionIDs) == 0 {
		ve.Fields = append(ve.Fields, approval.FieldError{Field: "suggestion_ids", Message: "at least one id is required"})
	}
	if len(req.SuggestionIDs) > batch.MaxItems {
		ve.Fields = append(ve.Fields, approval.FieldError{
			Field:   "suggestion_ids",
			Message: fmt.Sprintf("at most %d ids per batch, got %d", batch.MaxItems, len(req.SuggestionIDs)),
		})
	}
	for i, id := range req.SuggestionIDs {
		if strings.TrimSpace(id) == "" {
			ve.Fields = append(ve.Fields, approval.FieldError{Field: fmt.Sprintf("suggestion_ids[%d]", i), Message: "must not be empty"})
		}
	}
	if !req.Action.IsValid() {
		ve.Fields = append(ve.Fields, approval.FieldError{Field: "action", Message: "must be APPROVE or REJECT"})
	}
	if strings.TrimSpace(req.ActorID) == "" {
		ve.Fields = append(ve.Fields, approval.FieldError{Field: "actor_id", Message: "is required"})
	}
	if req.Action == BatchReject && strings.TrimSpace(req.Reason) == "" {
		for _, id := range req.SuggestionIDs {
			if strings.TrimSpace(req.Reasons[id]) == "" {
				ve.Fields = append(ve.Fields, approval.FieldError{Field: "reason", Message: "is required when rejecting"})
				break
			}
		}
	}
	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}

func requireFields(fields map[string]string) error {
	ve := &approval.ValidationError{Message: "missing required fields"}
	for _, name := range []string{"suggestion_id", "batch_id", "actor_id", "reason"} {
		value, ok := fields[name]
		if ok && strings.TrimSpace(value) == "" {
			ve.Fields = append(ve.Fields, approval.FieldError{Field: name, Message: "is required"})
		}
	}
	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}

func targetStatus(a BatchAction) domainwf.ApprovalStatus {
	if a == BatchApprove {
		return domainwf.ApprovalApproved
	}
	return domainwf.ApprovalRejected
}
