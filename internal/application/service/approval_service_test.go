package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/cash-clearing/internal/application/approval"
	"github.com/garyjia/cash-clearing/internal/application/batch"
	"github.com/garyjia/cash-clearing/internal/application/recovery"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/domain/failure"
	domainwf "github.com/garyjia/cash-clearing/internal/domain/workflow"
)

// Mock implementations

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

type mockDecider struct {
	mu          sync.Mutex
	approveFunc func(ctx context.Context, req approval.ApproveRequest) (*approval.Outcome, error)
	rejectFunc  func(ctx context.Context, req approval.RejectRequest) (*approval.Outcome, error)
	approved    []approval.ApproveRequest
	rejected    []approval.RejectRequest
}

func (m *mockDecider) Approve(ctx context.Context, req approval.ApproveRequest) (*approval.Outcome, error) {
	m.mu.Lock()
	m.approved = append(m.approved, req)
	m.mu.Unlock()
	if m.approveFunc != nil {
		return m.approveFunc(ctx, req)
	}
	return outcomeFor(req.SuggestionID, domainwf.ApprovalApproved, approval.StepReadyForJournal), nil
}

func (m *mockDecider) Reject(ctx context.Context, req approval.RejectRequest) (*approval.Outcome, error) {
	m.mu.Lock()
	m.rejected = append(m.rejected, req)
	m.mu.Unlock()
	if m.rejectFunc != nil {
		return m.rejectFunc(ctx, req)
	}
	return outcomeFor(req.SuggestionID, domainwf.ApprovalRejected, approval.StepRemainsRejected), nil
}

type fixedClassifier struct{}

func (fixedClassifier) Classify(err error, opCtx failure.OperationalContext) failure.Classification {
	return failure.Classification{
		Category:    failure.CategoryWorkflowOrchestration,
		Subcategory: failure.SubConcurrentUpdate,
		Severity:    failure.SeverityMedium,
	}
}

func outcomeFor(id string, status domainwf.ApprovalStatus, steps ...string) *approval.Outcome {
	return &approval.Outcome{
		Suggestion:     &entity.Suggestion{ID: id, ApprovalStatus: status},
		PreviousStatus: domainwf.ApprovalPending,
		NewStatus:      status,
		NextSteps:      steps,
	}
}

func newApprovalService(d *mockDecider) ApprovalService {
	return newApprovalServiceWithAudit(d, &mockAuditRepo{})
}

func newApprovalServiceWithAudit(d *mockDecider, audit *mockAuditRepo) ApprovalService {
	return NewApprovalService(d, batch.NewCoordinator(fixedClassifier{}, recovery.NewAdvisor(100)), audit, nopLogger{})
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("s-%d", i+1)
	}
	return out
}

// Tests

func TestApproveSuggestion_Success(t *testing.T) {
	d := &mockDecider{}
	svc := newApprovalService(d)

	res := svc.ApproveSuggestion(context.Background(), approval.ApproveRequest{
		SuggestionID: "s-1",
		ActorID:      "alice",
		Reason:       "looks right",
	})

	require.True(t, res.Success)
	assert.Nil(t, res.Error)
	assert.Equal(t, "PENDING", res.PreviousStatus)
	assert.Equal(t, "APPROVED", res.NewStatus)
	assert.Equal(t, []string{approval.StepReadyForJournal}, res.NextSteps)
	sug, ok := res.Data.(*entity.Suggestion)
	require.True(t, ok)
	assert.Equal(t, "s-1", sug.ID)
	require.Len(t, d.approved, 1)
	assert.Equal(t, "looks right", d.approved[0].Reason)
}

func TestApproveSuggestion_ErrorKinds(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantKind    ErrorKind
		wantMessage string
		wantDetails int
	}{
		{
			name: "validation",
			err: &approval.ValidationError{
				Message: "approval rejected",
				Fields:  []approval.FieldError{{Field: "overall_confidence", Message: "below minimum 0.30"}},
			},
			wantKind:    KindValidation,
			wantMessage: "approval rejected",
			wantDetails: 1,
		},
		{
			name:     "invalid state",
			err:      fmt.Errorf("%w: s-1 is APPROVED", approval.ErrInvalidState),
			wantKind: KindInvalidState,
		},
		{
			name:     "not found",
			err:      fmt.Errorf("%w: s-1", approval.ErrNotFound),
			wantKind: KindNotFound,
		},
		{
			name:        "internal error hides text",
			err:         errors.New("sql: connection reset by peer at 10.0.0.4"),
			wantKind:    KindInternal,
			wantMessage: internalMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDecider{
				approveFunc: func(ctx context.Context, req approval.ApproveRequest) (*approval.Outcome, error) {
					return nil, tt.err
				},
			}

			res := newApprovalService(d).ApproveSuggestion(context.Background(), approval.ApproveRequest{
				SuggestionID: "s-1",
				ActorID:      "alice",
			})

			assert.False(t, res.Success)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.wantKind, res.Error.Kind)
			assert.Len(t, res.Error.Details, tt.wantDetails)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, res.Error.Message)
			}
			assert.NotContains(t, res.Message, "10.0.0.4")
			assert.Empty(t, res.NewStatus)
		})
	}
}

func TestApproveSuggestion_MissingFieldsNeverReachDecider(t *testing.T) {
	d := &mockDecider{}

	res := newApprovalService(d).ApproveSuggestion(context.Background(), approval.ApproveRequest{SuggestionID: "s-1"})

	assert.False(t, res.Success)
	assert.Equal(t, KindValidation, res.Error.Kind)
	require.Len(t, res.Error.Details, 1)
	assert.Equal(t, "actor_id", res.Error.Details[0].Field)
	assert.Empty(t, d.approved)
}

func TestRejectSuggestion_Success(t *testing.T) {
	d := &mockDecider{}

	res := newApprovalService(d).RejectSuggestion(context.Background(), approval.RejectRequest{
		SuggestionID:      "s-1",
		ActorID:           "bob",
		Reason:            "wrong account",
		Category:          approval.RejectIncorrectGLMapping,
		AlternativeAction: approval.ActionManualJournalEntry,
	})

	require.True(t, res.Success)
	assert.Equal(t, "PENDING", res.PreviousStatus)
	assert.Equal(t, "REJECTED", res.NewStatus)
	assert.Equal(t, []string{approval.StepRemainsRejected}, res.NextSteps)
	require.Len(t, d.rejected, 1)
	assert.Equal(t, approval.RejectIncorrectGLMapping, d.rejected[0].Category)
}

func TestRejectSuggestion_RequiresReason(t *testing.T) {
	d := &mockDecider{}

	res := newApprovalService(d).RejectSuggestion(context.Background(), approval.RejectRequest{
		SuggestionID: "s-1",
		ActorID:      "bob",
		Category:     approval.RejectOther,
	})

	assert.False(t, res.Success)
	assert.Equal(t, KindValidation, res.Error.Kind)
	require.Len(t, res.Error.Details, 1)
	assert.Equal(t, "reason", res.Error.Details[0].Field)
	assert.Empty(t, d.rejected)
}

func TestRejectSuggestion_InvalidState(t *testing.T) {
	d := &mockDecider{
		rejectFunc: func(ctx context.Context, req approval.RejectRequest) (*approval.Outcome, error) {
			return nil, fmt.Errorf("%w: %s is REJECTED", approval.ErrInvalidState, req.SuggestionID)
		},
	}

	res := newApprovalService(d).RejectSuggestion(context.Background(), approval.RejectRequest{
		SuggestionID: "s-1",
		ActorID:      "bob",
		Reason:       "again",
		Category:     approval.RejectOther,
	})

	assert.False(t, res.Success)
	assert.Equal(t, KindInvalidState, res.Error.Kind)
}

func TestBatchApproveOrReject_RejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name  string
		req   BatchDecisionRequest
		field string
	}{
		{
			name:  "empty",
			req:   BatchDecisionRequest{Action: BatchApprove, ActorID: "alice"},
			field: "suggestion_ids",
		},
		{
			name:  "over limit",
			req:   BatchDecisionRequest{SuggestionIDs: ids(batch.MaxItems + 1), Action: BatchApprove, ActorID: "alice"},
			field: "suggestion_ids",
		},
		{
			name:  "unknown action",
			req:   BatchDecisionRequest{SuggestionIDs: ids(2), Action: "MAYBE", ActorID: "alice"},
			field: "action",
		},
		{
			name:  "missing actor",
			req:   BatchDecisionRequest{SuggestionIDs: ids(2), Action: BatchReject},
			field: "actor_id",
		},
		{
			name: "reject without reason for every id",
			req: BatchDecisionRequest{
				SuggestionIDs: ids(2),
				Action:        BatchReject,
				ActorID:       "bob",
				Reasons:       map[string]string{"s-1": "duplicate"},
			},
			field: "reason",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDecider{}

			res := newApprovalService(d).BatchApproveOrReject(context.Background(), tt.req)

			assert.False(t, res.Success)
			require.NotNil(t, res.Error)
			assert.Equal(t, KindValidation, res.Error.Kind)
			require.NotEmpty(t, res.Error.Details)
			assert.Equal(t, tt.field, res.Error.Details[0].Field)
			assert.Empty(t, d.approved)
			assert.Empty(t, d.rejected)
		})
	}
}

func TestBatchApproveOrReject_AcceptsMaxItems(t *testing.T) {
	d := &mockDecider{}

	res := newApprovalService(d).BatchApproveOrReject(context.Background(), BatchDecisionRequest{
		SuggestionIDs:       ids(batch.MaxItems),
		Action:              BatchApprove,
		ActorID:             "alice",
		AllowPartialFailure: true,
	})

	require.True(t, res.Success)
	result := res.Data.(*entity.BatchResult)
	assert.Equal(t, batch.MaxItems, result.Successful)
	assert.Len(t, d.approved, batch.MaxItems)
	assert.Equal(t, []string{approval.StepReadyForJournal}, res.NextSteps)
}

func TestBatchApproveOrReject_PartialFailure(t *testing.T) {
	d := &mockDecider{
		approveFunc: func(ctx context.Context, req approval.ApproveRequest) (*approval.Outcome, error) {
			if req.SuggestionID == "s-2" {
				return nil, fmt.Errorf("%w: s-2 is REJECTED", approval.ErrInvalidState)
			}
			return outcomeFor(req.SuggestionID, domainwf.ApprovalApproved), nil
		},
	}

	res := newApprovalService(d).BatchApproveOrReject(context.Background(), BatchDecisionRequest{
		SuggestionIDs:       ids(3),
		Action:              BatchApprove,
		ActorID:             "alice",
		AllowPartialFailure: true,
	})

	assert.False(t, res.Success)
	assert.Nil(t, res.Error)
	result := res.Data.(*entity.BatchResult)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, result.Total, result.Successful+result.Failed+result.Skipped)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "s-2", result.Failures[0].ItemID)
	assert.Equal(t, "2 of 3 suggestions processed", res.Message)
	assert.Equal(t, "PENDING", res.PreviousStatus)
	assert.Equal(t, "APPROVED", res.NewStatus)
	assert.Contains(t, res.NextSteps, "Review 1 failed suggestions")
}

func TestBatchApproveOrReject_StopOnFirstError(t *testing.T) {
	d := &mockDecider{
		rejectFunc: func(ctx context.Context, req approval.RejectRequest) (*approval.Outcome, error) {
			if req.SuggestionID == "s-1" {
				return nil, fmt.Errorf("%w: s-1", approval.ErrNotFound)
			}
			return outcomeFor(req.SuggestionID, domainwf.ApprovalRejected), nil
		},
	}

	res := newApprovalService(d).BatchApproveOrReject(context.Background(), BatchDecisionRequest{
		SuggestionIDs:       ids(3),
		Action:              BatchReject,
		ActorID:             "bob",
		Reason:              "duplicate",
		Category:            approval.RejectDuplicate,
		AllowPartialFailure: true,
		StopOnFirstError:    true,
	})

	assert.False(t, res.Success)
	result := res.Data.(*entity.BatchResult)
	assert.Equal(t, 0, result.Successful)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, entity.SkipReasonStopped, result.Items[1].Error)
	assert.Len(t, d.rejected, 1)
	assert.Empty(t, res.NewStatus)
	assert.Contains(t, res.NextSteps, "Resubmit 2 skipped suggestions")
}

func TestBatchApproveOrReject_AuditsEachFailedItem(t *testing.T) {
	d := &mockDecider{
		approveFunc: func(ctx context.Context, req approval.ApproveRequest) (*approval.Outcome, error) {
			if req.SuggestionID == "s-1" {
				return outcomeFor(req.SuggestionID, domainwf.ApprovalApproved), nil
			}
			ve := &approval.ValidationError{Message: "confidence too low"}
			ve.Fields = append(ve.Fields, approval.FieldError{Field: "overall_confidence", Message: "0.25 is below the approval floor 0.30"})
			return nil, ve
		},
	}
	audit := &mockAuditRepo{}

	res := newApprovalServiceWithAudit(d, audit).BatchApproveOrReject(context.Background(), BatchDecisionRequest{
		SuggestionIDs:       ids(3),
		Action:              BatchApprove,
		ActorID:             "alice",
		AllowPartialFailure: true,
	})

	result := res.Data.(*entity.BatchResult)
	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, 2, result.Failed)

	require.Len(t, audit.appended, 2)
	for i, entry := range audit.appended {
		id := fmt.Sprintf("s-%d", i+2)
		assert.Equal(t, entity.AuditError, entry.ActionType)
		assert.Equal(t, id, entry.SuggestionID)
		assert.Equal(t, "alice", entry.ActorID)
		assert.Equal(t, string(failure.CategoryWorkflowOrchestration), entry.ErrorDetails["category"])
		assert.Equal(t, string(failure.SubConcurrentUpdate), entry.ErrorDetails["subcategory"])
		assert.Equal(t, result.BatchID, entry.ErrorDetails["batch_id"])
		assert.Equal(t, []string{string(failure.ActionAnalyzeErrorPattern)}, entry.ErrorDetails["recommended_actions"])
	}

	require.Len(t, result.Failures, 2)
	for _, f := range result.Failures {
		assert.Equal(t, []string{string(failure.ActionAnalyzeErrorPattern)}, f.RecommendedActions)
	}
}

func TestBatchApproveOrReject_AuditWriteFailureKeepsOutcome(t *testing.T) {
	d := &mockDecider{
		approveFunc: func(ctx context.Context, req approval.ApproveRequest) (*approval.Outcome, error) {
			return nil, fmt.Errorf("%w: %s is REJECTED", approval.ErrInvalidState, req.SuggestionID)
		},
	}
	audit := &mockAuditRepo{appendErr: errors.New("database is locked")}

	res := newApprovalServiceWithAudit(d, audit).BatchApproveOrReject(context.Background(), BatchDecisionRequest{
		SuggestionIDs:       ids(2),
		Action:              BatchApprove,
		ActorID:             "alice",
		AllowPartialFailure: true,
	})

	assert.Nil(t, res.Error)
	result := res.Data.(*entity.BatchResult)
	assert.Equal(t, 2, result.Failed)
	assert.Empty(t, audit.appended)
}

func TestBatchApproveOrReject_PerItemReasons(t *testing.T) {
	d := &mockDecider{}

	res := newApprovalService(d).BatchApproveOrReject(context.Background(), BatchDecisionRequest{
		SuggestionIDs:     ids(2),
		Action:            BatchReject,
		ActorID:           "bob",
		Reason:            "bulk cleanup",
		Reasons:           map[string]string{"s-2": "wrong counterparty"},
		Category:          approval.RejectIncorrectPattern,
		AlternativeAction: approval.ActionReprocessDifferentPattern,
		ScheduleReprocess: true,
	})

	require.True(t, res.Success)
	require.Len(t, d.rejected, 2)
	assert.Equal(t, "bulk cleanup", d.rejected[0].Reason)
	assert.Equal(t, "wrong counterparty", d.rejected[1].Reason)
	for _, r := range d.rejected {
		assert.Equal(t, approval.RejectIncorrectPattern, r.Category)
		assert.Equal(t, approval.ActionReprocessDifferentPattern, r.AlternativeAction)
		assert.True(t, r.ScheduleReprocess)
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(fmt.Errorf("wrap: %w", batch.ErrBatchTooLarge)))
	assert.Equal(t, KindNotFound, KindOf(approval.ErrNotFound))
	assert.Equal(t, KindValidation, KindOf(fmt.Errorf("approve s-1: %w", domainwf.ErrGuardFailed)))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}
