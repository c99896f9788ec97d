package approval

import (
	"fmt"

	"github.com/garyjia/cash-clearing/internal/domain/entity"
)

// RejectionCategory classifies why a reviewer rejected a suggestion
type RejectionCategory string

const (
	RejectInsufficientConfidence RejectionCategory = "INSUFFICIENT_CONFIDENCE"
	RejectIncorrectPattern       RejectionCategory = "INCORRECT_PATTERN"
	RejectIncorrectGLMapping     RejectionCategory = "INCORRECT_GL_MAPPING"
	RejectDataQuality            RejectionCategory = "DATA_QUALITY"
	RejectDuplicate              RejectionCategory = "DUPLICATE_TRANSACTION"
	RejectOther                  RejectionCategory = "OTHER"
)

// IsValid checks if the category is known
func (c RejectionCategory) IsValid() bool {
	_, ok := categorySteps[c]
	return ok || c == RejectOther
}

// AlternativeAction is what the reviewer wants done instead
type AlternativeAction string

const (
	ActionReprocessDifferentPattern AlternativeAction = "REPROCESS_WITH_DIFFERENT_PATTERN"
	ActionManualJournalEntry        AlternativeAction = "MANUAL_JOURNAL_ENTRY"
	ActionEscalate                  AlternativeAction = "ESCALATE_TO_SUPERVISOR"
	ActionCreatePattern             AlternativeAction = "CREATE_NEW_PATTERN"
)

// IsValid checks if the action is known
func (a AlternativeAction) IsValid() bool {
	switch a {
	case ActionReprocessDifferentPattern, ActionManualJournalEntry, ActionEscalate, ActionCreatePattern:
		return true
	default:
		return false
	}
}

// Next-step hints returned to callers
const (
	StepReadyForJournal     = "Ready for journal entry creation"
	StepBatchFullyApproved  = "Batch fully approved"
	StepRemainsRejected     = "Suggestion remains rejected pending manual action"
	StepScheduleReprocess   = "Schedule reprocessing with alternative patterns"
	StepReprocessScheduled  = "Reprocessing scheduled with alternative patterns"
	StepReviewPatternLogic  = "Review AI pattern matching logic"
	stepPendingInBatchFmt   = "%d suggestions still pending in batch"
	stepMissingGLDetailsMsg = "Complete GL account and debit/credit before journal entry"
)

var categorySteps = map[RejectionCategory]string{
	RejectInsufficientConfidence: StepReviewPatternLogic,
	RejectIncorrectPattern:       "Update pattern definitions for this transaction type",
	RejectIncorrectGLMapping:     "Review GL account mapping rules",
	RejectDataQuality:            "Investigate source transaction data quality",
	RejectDuplicate:              "Check upstream ingestion for duplicate transactions",
}

// approveNextSteps builds hints after a successful approval
func approveNextSteps(s *entity.Suggestion, pendingInBatch int) []string {
	var steps []string

	if s.GLMapping.AccountCode != "" && s.GLMapping.DebitCredit.IsValid() {
		steps = append(steps, StepReadyForJournal)
	} else {
		steps = append(steps, stepMissingGLDetailsMsg)
	}

	if s.BatchID != "" {
		if pendingInBatch == 0 {
			steps = append(steps, StepBatchFullyApproved)
		} else if pendingInBatch > 0 {
			steps = append(steps, fmt.Sprintf(stepPendingInBatchFmt, pendingInBatch))
		}
	}

	return steps
}

// rejectNextSteps derives recommendations from the category and alternative action only.
// Each contributes at most one entry.
func rejectNextSteps(category RejectionCategory, action AlternativeAction, reprocessScheduled bool) []string {
	var steps []string

	if step, ok := categorySteps[category]; ok {
		steps = append(steps, step)
	}

	switch action {
	case ActionReprocessDifferentPattern:
		if reprocessScheduled {
			steps = append(steps, StepReprocessScheduled)
		} else {
			steps = append(steps, StepScheduleReprocess)
		}
	case ActionManualJournalEntry:
		steps = append(steps, "Create manual journal entry")
	case ActionEscalate:
		steps = append(steps, "Escalate to finance supervisor for review")
	case ActionCreatePattern:
		steps = append(steps, "Create a new pattern for this transaction type")
	}

	if len(steps) == 0 {
		steps = append(steps, StepRemainsRejected)
	}
	return steps
}
