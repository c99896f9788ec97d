package approval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/cash-clearing/internal/application/dispatcher"
	"github.com/garyjia/cash-clearing/internal/application/port"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/domain/event"
	domainwf "github.com/garyjia/cash-clearing/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ApproveRequest approves one suggestion, optionally correcting it
type ApproveRequest struct {
	SuggestionID string
	ActorID      string
	Reason       string
	Overrides    *entity.Overrides
}

// RejectRequest rejects one suggestion
type RejectRequest struct {
	SuggestionID      string
	ActorID           string
	Reason            string
	Category          RejectionCategory
	AlternativeAction AlternativeAction
	ScheduleReprocess bool
}

// Outcome is the result of a successful approval decision
type Outcome struct {
	Suggestion     *entity.Suggestion
	PreviousStatus domainwf.ApprovalStatus
	NewStatus      domainwf.ApprovalStatus
	NextSteps      []string
	Reprocess      *entity.ReprocessItem
}

// Service applies approval decisions to suggestions
type Service struct {
	suggestions port.SuggestionRepository
	audit       port.AuditRepository
	reprocess   port.ReprocessQueueRepository
	txManager   port.TransactionManager
	dispatcher  dispatcher.Dispatcher
	policy      Policy
	logger      Logger
	now         func() time.Time
}

// Option configures the service
type Option func(*Service)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(s *Service) {
		s.dispatcher = d
	}
}

// WithLogger sets a logger for the service
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new approval service
func NewService(
	suggestions port.SuggestionRepository,
	audit port.AuditRepository,
	reprocess port.ReprocessQueueRepository,
	txManager port.TransactionManager,
	policy Policy,
	opts ...Option,
) (*Service, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("approval policy: %w", err)
	}

	s := &Service{
		suggestions: suggestions,
		audit:       audit,
		reprocess:   reprocess,
		txManager:   txManager,
		policy:      policy,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Policy returns the approval policy in force
func (s *Service) Policy() *Policy {
	return &s.policy
}

// Get returns a suggestion or ErrNotFound
func (s *Service) Get(ctx context.Context, id string) (*entity.Suggestion, error) {
	sug, err := s.suggestions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get suggestion %s: %w", id, err)
	}
	if sug == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sug, nil
}

// Approve moves a PENDING suggestion to APPROVED. The request is fully validated
// before anything is written; a concurrent decision makes the loser fail with ErrInvalidState.
func (s *Service) Approve(ctx context.Context, req ApproveRequest) (*Outcome, error) {
	original, err := s.Get(ctx, req.SuggestionID)
	if err != nil {
		return nil, err
	}

	machine, err := s.machineFor(original, false)
	if err != nil {
		return nil, err
	}
	if !machine.CanFire(domainwf.TriggerApprove) {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, original.ID, original.ApprovalStatus)
	}

	// The machine holds the approval floor; nothing is written until every check passes
	if err := machine.Fire(ctx, domainwf.TriggerApprove); err != nil {
		if errors.Is(err, domainwf.ErrGuardFailed) {
			ve := &ValidationError{Message: "confidence too low", cause: err}
			ve.add("overall_confidence", fmt.Sprintf("%.2f is below the approval floor %.2f", original.OverallConfidence, s.policy.ApprovalFloor))
			return nil, ve
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if err := s.validateApproval(original, req); err != nil {
		return nil, err
	}

	updated := original.Clone()
	applyOverrides(updated, req.Overrides)

	now := s.now()
	updated.ApprovalStatus = machine.State()
	updated.ApproverID = req.ActorID
	updated.ApprovalTime = &now
	updated.ApprovalReason = req.Reason
	updated.UpdatedAt = now

	entry := s.auditEntry(updated, entity.AuditApproved, req.ActorID, now)
	entry.InputData = map[string]interface{}{"reason": req.Reason}
	if !req.Overrides.IsEmpty() {
		entry.InputData["overrides"] = overrideFields(req.Overrides)
	}
	entry.OutputData = map[string]interface{}{
		"previous_status": original.ApprovalStatus.String(),
		"new_status":      updated.ApprovalStatus.String(),
		"account_code":    updated.GLMapping.AccountCode,
		"amount":          updated.Amount,
	}

	if err := s.commit(ctx, updated, original.ApprovalStatus, entry, nil); err != nil {
		return nil, err
	}

	pending := -1
	if updated.BatchID != "" {
		if n, err := s.suggestions.CountByStatus(ctx, updated.BatchID, domainwf.ApprovalPending); err != nil {
			s.logError("Failed to count pending suggestions", "batch_id", updated.BatchID, "error", err)
		} else {
			pending = n
		}
	}

	s.logInfo("Suggestion approved",
		"suggestion_id", updated.ID,
		"actor_id", req.ActorID,
		"confidence", updated.OverallConfidence,
		"overrides", !req.Overrides.IsEmpty(),
	)
	s.publish(ctx, event.TypeSuggestionApproved, updated, map[string]interface{}{
		"actor_id":     req.ActorID,
		"account_code": updated.GLMapping.AccountCode,
		"amount":       updated.Amount,
	})

	return &Outcome{
		Suggestion:     updated,
		PreviousStatus: original.ApprovalStatus,
		NewStatus:      updated.ApprovalStatus,
		NextSteps:      approveNextSteps(updated, pending),
	}, nil
}

// Reject moves a PENDING suggestion to REJECTED and optionally schedules reprocessing
func (s *Service) Reject(ctx context.Context, req RejectRequest) (*Outcome, error) {
	original, err := s.Get(ctx, req.SuggestionID)
	if err != nil {
		return nil, err
	}

	machine, err := s.machineFor(original, false)
	if err != nil {
		return nil, err
	}
	if !machine.CanFire(domainwf.TriggerReject) {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, original.ID, original.ApprovalStatus)
	}

	if err := validateRejection(req); err != nil {
		return nil, err
	}

	scheduled := false
	if req.AlternativeAction == ActionReprocessDifferentPattern && s.reprocess != nil {
		already, err := s.reprocess.IsScheduled(ctx, original.ID)
		if err != nil {
			return nil, fmt.Errorf("check reprocess queue: %w", err)
		}
		scheduled = already
	}

	if err := machine.Fire(ctx, domainwf.TriggerReject); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	now := s.now()
	updated := original.Clone()
	updated.ApprovalStatus = machine.State()
	updated.ApproverID = req.ActorID
	updated.ApprovalTime = &now
	updated.ApprovalReason = req.Reason
	updated.RejectionCategory = string(req.Category)
	updated.AlternativeAction = string(req.AlternativeAction)
	updated.UpdatedAt = now

	var item *entity.ReprocessItem
	if req.ScheduleReprocess && !scheduled && s.reprocess != nil {
		item = &entity.ReprocessItem{
			ID:                uuid.NewString(),
			SuggestionID:      updated.ID,
			TransactionID:     updated.TransactionID,
			Priority:          s.policy.ReprocessPriority(updated.Amount),
			AlternativeAction: string(req.AlternativeAction),
			Reason:            req.Reason,
			ScheduledAt:       now,
		}
	}

	entry := s.auditEntry(updated, entity.AuditRejected, req.ActorID, now)
	entry.InputData = map[string]interface{}{
		"reason":             req.Reason,
		"category":           string(req.Category),
		"alternative_action": string(req.AlternativeAction),
	}
	entry.OutputData = map[string]interface{}{
		"previous_status":     original.ApprovalStatus.String(),
		"new_status":          updated.ApprovalStatus.String(),
		"reprocess_scheduled": item != nil,
	}

	if err := s.commit(ctx, updated, original.ApprovalStatus, entry, item); err != nil {
		return nil, err
	}
	if item != nil {
		scheduled = true
	}

	s.logInfo("Suggestion rejected",
		"suggestion_id", updated.ID,
		"actor_id", req.ActorID,
		"category", req.Category,
		"alternative_action", req.AlternativeAction,
	)
	s.publish(ctx, event.TypeSuggestionRejected, updated, map[string]interface{}{
		"actor_id":           req.ActorID,
		"category":           string(req.Category),
		"alternative_action": string(req.AlternativeAction),
	})

	return &Outcome{
		Suggestion:     updated,
		PreviousStatus: original.ApprovalStatus,
		NewStatus:      updated.ApprovalStatus,
		NextSteps:      rejectNextSteps(req.Category, req.AlternativeAction, scheduled),
		Reprocess:      item,
	}, nil
}

// AutoApprove fires PENDING -> AUTO_APPROVED when the suggestion clears its mapping's
// auto-approve threshold. Returns false when the suggestion stays pending.
func (s *Service) AutoApprove(ctx context.Context, sug *entity.Suggestion, requireHuman bool) (bool, error) {
	machine, err := s.machineFor(sug, requireHuman)
	if err != nil {
		return false, err
	}
	if err := machine.Fire(ctx, domainwf.TriggerAutoApprove); err != nil {
		if errors.Is(err, domainwf.ErrGuardFailed) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	now := s.now()
	updated := sug.Clone()
	updated.ApprovalStatus = machine.State()
	updated.ApproverID = entity.SystemActor
	updated.ApprovalTime = &now
	updated.ApprovalReason = fmt.Sprintf("confidence %.2f >= auto-approve threshold %.2f",
		updated.OverallConfidence, updated.GLMapping.AutoApproveThreshold)
	updated.UpdatedAt = now

	entry := s.auditEntry(updated, entity.AuditAutoApproved, entity.SystemActor, now)
	entry.OutputData = map[string]interface{}{
		"previous_status": sug.ApprovalStatus.String(),
		"new_status":      updated.ApprovalStatus.String(),
		"threshold":       updated.GLMapping.AutoApproveThreshold,
	}

	if err := s.commit(ctx, updated, sug.ApprovalStatus, entry, nil); err != nil {
		return false, err
	}

	*sug = *updated
	s.publish(ctx, event.TypeSuggestionAutoApproved, updated, map[string]interface{}{
		"account_code": updated.GLMapping.AccountCode,
		"confidence":   updated.OverallConfidence,
	})
	return true, nil
}

func (s *Service) machineFor(sug *entity.Suggestion, requireHuman bool) (SuggestionMachine, error) {
	if !sug.ApprovalStatus.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q on %s", ErrInvalidState, sug.ApprovalStatus, sug.ID)
	}
	return BuildSuggestionStateMachine(sug.ApprovalStatus, s.policy.guardsFor(sug, requireHuman)), nil
}

// commit writes the conditional update, the audit entry and any reprocess item atomically
func (s *Service) commit(ctx context.Context, updated *entity.Suggestion, expected domainwf.ApprovalStatus, entry *entity.AuditEntry, item *entity.ReprocessItem) error {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.suggestions.UpdateIfStatus(txCtx, updated, expected); err != nil {
			return err
		}
		if err := s.audit.Append(txCtx, entry); err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}
		if item != nil {
			if err := s.reprocess.Schedule(txCtx, item); err != nil {
				return fmt.Errorf("schedule reprocessing: %w", err)
			}
		}
		return nil
	})

	if errors.Is(err, port.ErrStatusConflict) {
		return fmt.Errorf("%w: %s was decided concurrently", ErrInvalidState, updated.ID)
	}
	if err != nil {
		s.logError("Failed to commit approval decision", "suggestion_id", updated.ID, "error", err)
		return fmt.Errorf("commit decision for %s: %w", updated.ID, err)
	}
	return nil
}

func (s *Service) validateApproval(sug *entity.Suggestion, req ApproveRequest) error {
	ve := &ValidationError{Message: "invalid overrides"}
	o := req.Overrides
	if o != nil && o.Amount != nil {
		amount := *o.Amount
		switch {
		case amount <= 0:
			ve.add("overrides.amount", "must be positive")
		case deviation(sug.Amount, amount) > s.policy.MaxOverrideDeviation:
			ve.Message = fmt.Sprintf("override amount differs by more than %.0f%%", s.policy.MaxOverrideDeviation*100)
			ve.add("overrides.amount", fmt.Sprintf("%.2f deviates %.1f%% from %.2f", amount, deviation(sug.Amount, amount)*100, sug.Amount))
		}
	}
	if o != nil && o.AccountCode != nil && !s.policy.ValidGLAccount(*o.AccountCode) {
		ve.add("overrides.account_code", fmt.Sprintf("%q does not match the GL account format", *o.AccountCode))
	}
	if o != nil && o.DebitCredit != nil && !o.DebitCredit.IsValid() {
		ve.add("overrides.debit_credit", "must be DR or CR")
	}
	if len(ve.Fields) > 0 {
		return ve
	}

	code := sug.GLMapping.AccountCode
	if o != nil && o.AccountCode != nil {
		code = *o.AccountCode
	}
	if code == "" {
		missing := &ValidationError{Message: "GL account required"}
		missing.add("gl_mapping.account_code", "no GL account code on suggestion or overrides")
		return missing
	}

	return nil
}

func validateRejection(req RejectRequest) error {
	ve := &ValidationError{Message: "invalid rejection"}
	if strings.TrimSpace(req.Reason) == "" {
		ve.add("reason", "is required when rejecting")
	}
	if req.Category != "" && !req.Category.IsValid() {
		ve.add("category", fmt.Sprintf("unknown rejection category %q", req.Category))
	}
	if req.AlternativeAction != "" && !req.AlternativeAction.IsValid() {
		ve.add("alternative_action", fmt.Sprintf("unknown alternative action %q", req.AlternativeAction))
	}
	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}

func (s *Service) auditEntry(sug *entity.Suggestion, action entity.AuditAction, actor string, now time.Time) *entity.AuditEntry {
	confidence := sug.OverallConfidence
	return &entity.AuditEntry{
		ID:              uuid.NewString(),
		WorkflowID:      sug.WorkflowID,
		TransactionID:   sug.TransactionID,
		SuggestionID:    sug.ID,
		StepNumber:      sug.StepNumber,
		ActionType:      action,
		ActorID:         actor,
		ConfidenceScore: &confidence,
		Timestamp:       now,
	}
}

func (s *Service) publish(ctx context.Context, t event.Type, sug *entity.Suggestion, payload map[string]interface{}) {
	if s.dispatcher == nil {
		return
	}
	payload["transaction_id"] = sug.TransactionID
	payload["workflow_id"] = sug.WorkflowID
	payload["new_status"] = sug.ApprovalStatus.String()
	s.dispatcher.DispatchAsync(ctx, event.NewEvent(t, sug.ID, sug.BatchID, payload))
}

func applyOverrides(sug *entity.Suggestion, o *entity.Overrides) {
	if o.IsEmpty() {
		return
	}
	if o.Amount != nil {
		sug.Amount = *o.Amount
	}
	if o.AccountCode != nil {
		sug.GLMapping.AccountCode = *o.AccountCode
	}
	if o.AccountName != nil {
		sug.GLMapping.AccountName = *o.AccountName
	}
	if o.DebitCredit != nil {
		sug.GLMapping.DebitCredit = *o.DebitCredit
	}
	copied := *o
	sug.Overrides = &copied
}

func overrideFields(o *entity.Overrides) map[string]interface{} {
	fields := map[string]interface{}{}
	if o.Amount != nil {
		fields["amount"] = *o.Amount
	}
	if o.AccountCode != nil {
		fields["account_code"] = *o.AccountCode
	}
	if o.AccountName != nil {
		fields["account_name"] = *o.AccountName
	}
	if o.DebitCredit != nil {
		fields["debit_credit"] = string(*o.DebitCredit)
	}
	return fields
}

// deviation is the relative change from original to override
func deviation(original, override float64) float64 {
	if original == 0 {
		if override == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(override-original) / math.Abs(original)
}

func (s *Service) logInfo(msg string, keysAndValues ...interface{}) {
	if s.logger != nil {
		s.logger.Info(msg, keysAndValues...)
	}
}

func (s *Service) logError(msg string, keysAndValues ...interface{}) {
	if s.logger != nil {
		s.logger.Error(msg, keysAndValues...)
	}
}
