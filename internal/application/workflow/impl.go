package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/cash-clearing/internal/application/approval"
	"github.com/garyjia/cash-clearing/internal/application/batch"
	"github.com/garyjia/cash-clearing/internal/application/dispatcher"
	"github.com/garyjia/cash-clearing/internal/application/matching"
	"github.com/garyjia/cash-clearing/internal/application/port"
	"github.com/garyjia/cash-clearing/internal/application/recovery"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/domain/event"
	"github.com/garyjia/cash-clearing/internal/domain/failure"
	domainwf "github.com/garyjia/cash-clearing/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Runner executes a workflow step loop in the background
type Runner interface {
	Submit(task func()) error
}

// Observer records step and run metrics
type Observer interface {
	ObserveStep(step int, status domainwf.StepStatus, elapsed time.Duration)
	ObserveWorkflow(status domainwf.RunStatus)
}

// Approver auto-approves freshly persisted suggestions
type Approver interface {
	AutoApprove(ctx context.Context, sug *entity.Suggestion, requireHuman bool) (bool, error)
	Policy() *approval.Policy
}

// Repositories groups the stores the orchestrator reads and writes
type Repositories struct {
	Transactions port.TransactionRepository
	Catalog      port.CatalogRepository
	Suggestions  port.SuggestionRepository
	Workflows    port.WorkflowRepository
	Audit        port.AuditRepository
	Review       port.ReviewQueueRepository
	TxManager    port.TransactionManager
}

// goroutineRunner runs every task on its own goroutine
type goroutineRunner struct{}

func (goroutineRunner) Submit(task func()) error {
	go task()
	return nil
}

// orchestratorImpl is the concrete implementation of Orchestrator
type orchestratorImpl struct {
	repos       Repositories
	oracle      port.ClassificationOracle
	rules       port.ClassificationOracle
	retrier     *recovery.Retrier
	coordinator *batch.Coordinator
	approver    Approver
	defaults    entity.RunConfig

	runner     Runner
	dispatcher dispatcher.Dispatcher
	observer   Observer
	logger     Logger
	now        func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
	// recorded holds "step/transaction" keys of item failures already audited, per batch
	recorded map[string]map[string]bool
}

var _ Orchestrator = (*orchestratorImpl)(nil)

// Option configures the orchestrator
type Option func(*orchestratorImpl)

// WithDispatcher publishes workflow events through d
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(o *orchestratorImpl) {
		o.dispatcher = d
	}
}

// WithRunner sets the pool step loops are submitted to
func WithRunner(r Runner) Option {
	return func(o *orchestratorImpl) {
		o.runner = r
	}
}

// WithObserver sets a metrics observer
func WithObserver(obs Observer) Option {
	return func(o *orchestratorImpl) {
		o.observer = obs
	}
}

// WithLogger sets a logger
func WithLogger(logger Logger) Option {
	return func(o *orchestratorImpl) {
		o.logger = logger
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *orchestratorImpl) {
		o.now = now
	}
}

// WithRules replaces the rule-based fallback oracle
func WithRules(rules port.ClassificationOracle) Option {
	return func(o *orchestratorImpl) {
		o.rules = rules
	}
}

// NewOrchestrator creates the workflow orchestrator
func NewOrchestrator(
	repos Repositories,
	oracle port.ClassificationOracle,
	retrier *recovery.Retrier,
	coordinator *batch.Coordinator,
	approver Approver,
	defaults entity.RunConfig,
	opts ...Option,
) Orchestrator {
	o := &orchestratorImpl{
		repos:       repos,
		oracle:      oracle,
		rules:       matching.NewMatcher(),
		retrier:     retrier,
		coordinator: coordinator,
		approver:    approver,
		defaults:    defaults,
		runner:      goroutineRunner{},
		now:         time.Now,
		inFlight:    make(map[string]bool),
		recorded:    make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start persists a new RUNNING workflow and schedules its step loop
func (o *orchestratorImpl) Start(ctx context.Context, req StartRequest) (*entity.WorkflowState, error) {
	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	existing, err := o.repos.Workflows.GetByBatchID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing workflow: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowExists, batchID)
	}

	cfg := o.defaults.Merge(req.Overrides)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	w := entity.NewWorkflowState(uuid.NewString(), batchID, cfg, o.now())
	for k, v := range req.Metadata {
		w.Metadata[k] = v
	}

	if err := o.repos.Workflows.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	o.logInfo("Workflow started",
		"workflow_id", w.ID,
		"batch_id", batchID,
		"batch_size", cfg.BatchSize,
		"require_human_approval", cfg.RequireHumanApproval,
	)
	o.publish(ctx, event.TypeWorkflowStarted, w, map[string]interface{}{
		"batch_size":    cfg.BatchSize,
		"status_filter": cfg.StatusFilter,
	})
	o.observeWorkflow(w.WorkflowStatus)

	created := w.Clone()
	if err := o.schedule(ctx, batchID, entity.StepSelectTransactions); err != nil {
		o.failRun(ctx, batchID, &failure.Error{
			Code:    "CAPACITY_EXCEEDED",
			Message: err.Error(),
			Step:    entity.StepSelectTransactions,
			BatchID: batchID,
		}, nil)
		return nil, err
	}
	return created, nil
}

// Pause moves a RUNNING workflow to PAUSED. The in-flight step finishes and
// the loop stops at the next step boundary.
func (o *orchestratorImpl) Pause(ctx context.Context, req PauseRequest) (*entity.WorkflowState, error) {
	w, err := o.load(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}

	machine := BuildRunStateMachine(w.WorkflowStatus)
	if !machine.CanFire(domainwf.TriggerPause) {
		return nil, fmt.Errorf("%w: cannot pause workflow in status %s", ErrInvalidState, w.WorkflowStatus)
	}
	previous := w.WorkflowStatus
	if err := machine.Fire(ctx, domainwf.TriggerPause); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	actor := actorOrSystem(req.ActorID)
	now := o.now()
	if w.Metadata == nil {
		w.Metadata = map[string]interface{}{}
	}
	w.WorkflowStatus = machine.State()
	w.Metadata["pause_reason"] = req.Reason
	w.Metadata["paused_at"] = now.Format(time.RFC3339)
	w.Metadata["paused_by"] = actor
	w.Metadata["paused_at_step"] = w.CurrentStep
	if req.SaveState {
		w.Metadata["paused_snapshot"] = map[string]interface{}{
			"current_step":           w.CurrentStep,
			"total_transactions":     w.TotalTransactions,
			"processed_transactions": w.ProcessedTransactions,
			"failed_transactions":    w.FailedTransactions,
		}
	}
	w.UpdatedAt = now

	entry := o.auditEntry(w, entity.AuditPaused, actor, w.CurrentStep)
	entry.InputData = map[string]interface{}{"reason": req.Reason, "save_state": req.SaveState}
	entry.OutputData = map[string]interface{}{
		"previous_status": previous.String(),
		"new_status":      w.WorkflowStatus.String(),
	}

	if err := o.transition(ctx, w, previous, entry, false); err != nil {
		return nil, err
	}

	o.logInfo("Workflow paused", "batch_id", w.BatchID, "step", w.CurrentStep, "actor", actor)
	o.publish(ctx, event.TypeWorkflowPaused, w, map[string]interface{}{
		"reason":       req.Reason,
		"current_step": w.CurrentStep,
		"actor_id":     actor,
	})
	o.observeWorkflow(w.WorkflowStatus)
	return w.Clone(), nil
}

// Resume moves a PAUSED workflow back to RUNNING and re-enters the loop at
// the requested step, or where it stopped
func (o *orchestratorImpl) Resume(ctx context.Context, req ResumeRequest) (*entity.WorkflowState, error) {
	if o.isInFlight(req.BatchID) {
		return nil, ErrStepInFlight
	}

	w, err := o.load(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}

	machine := BuildRunStateMachine(w.WorkflowStatus)
	if !machine.CanFire(domainwf.TriggerResume) {
		return nil, fmt.Errorf("%w: cannot resume workflow in status %s", ErrInvalidState, w.WorkflowStatus)
	}

	from := w.CurrentStep
	if req.FromStep != nil {
		if !entity.ValidStep(*req.FromStep) {
			return nil, fmt.Errorf("%w: %d", ErrInvalidStep, *req.FromStep)
		}
		from = *req.FromStep
	}

	cfg := w.Config.Merge(req.Overrides)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	previous := w.WorkflowStatus
	if err := machine.Fire(ctx, domainwf.TriggerResume); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	actor := actorOrSystem(req.ActorID)
	now := o.now()
	w.WorkflowStatus = machine.State()
	w.Config = cfg
	w.CurrentStep = from
	for i := range w.Steps {
		if w.Steps[i].Step >= from {
			w.Steps[i] = entity.StepState{
				Step:   w.Steps[i].Step,
				Name:   w.Steps[i].Name,
				Status: domainwf.StepPending,
			}
		}
	}
	if w.Metadata == nil {
		w.Metadata = map[string]interface{}{}
	}
	w.Metadata["resumed_at"] = now.Format(time.RFC3339)
	w.Metadata["resumed_by"] = actor
	w.Metadata["resumed_from_step"] = from
	w.UpdatedAt = now

	entry := o.auditEntry(w, entity.AuditResumed, actor, from)
	entry.InputData = map[string]interface{}{"from_step": from, "config_overridden": req.Overrides != nil}
	entry.OutputData = map[string]interface{}{
		"previous_status": previous.String(),
		"new_status":      w.WorkflowStatus.String(),
	}

	if err := o.transition(ctx, w, previous, entry, true); err != nil {
		return nil, err
	}

	o.logInfo("Workflow resumed", "batch_id", w.BatchID, "from_step", from, "actor", actor)
	o.publish(ctx, event.TypeWorkflowResumed, w, map[string]interface{}{
		"from_step": from,
		"actor_id":  actor,
	})
	o.observeWorkflow(w.WorkflowStatus)

	resumed := w.Clone()
	if err := o.schedule(ctx, w.BatchID, from); err != nil {
		o.failRun(ctx, w.BatchID, &failure.Error{
			Code:    "CAPACITY_EXCEEDED",
			Message: err.Error(),
			Step:    from,
			BatchID: w.BatchID,
		}, nil)
		return nil, err
	}
	return resumed, nil
}

// Status returns the persisted state without modifying it
func (o *orchestratorImpl) Status(ctx context.Context, batchID string) (*entity.WorkflowState, error) {
	return o.load(ctx, batchID)
}

// Recover re-enters the step loop of every RUNNING workflow at its current step
func (o *orchestratorImpl) Recover(ctx context.Context) (int, error) {
	running, err := o.repos.Workflows.ListByStatus(ctx, domainwf.RunRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to list running workflows: %w", err)
	}

	scheduled := 0
	for _, w := range running {
		from := w.CurrentStep
		if !entity.ValidStep(from) {
			from = entity.StepSelectTransactions
		}
		err := o.schedule(ctx, w.BatchID, from)
		if errors.Is(err, ErrStepInFlight) {
			continue
		}
		if err != nil {
			return scheduled, err
		}
		scheduled++
		o.logInfo("Workflow recovered", "batch_id", w.BatchID, "from_step", from)
	}
	return scheduled, nil
}

func (o *orchestratorImpl) load(ctx context.Context, batchID string) (*entity.WorkflowState, error) {
	w, err := o.repos.Workflows.GetByBatchID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	if w == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, batchID)
	}
	return w, nil
}

// transition writes a status change and its audit entry atomically.
// withProgress also writes the progress fields reset by a resume.
func (o *orchestratorImpl) transition(ctx context.Context, w *entity.WorkflowState, expected domainwf.RunStatus, entry *entity.AuditEntry, withProgress bool) error {
	err := o.repos.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := o.repos.Workflows.TransitionStatus(txCtx, w, expected); err != nil {
			return err
		}
		if withProgress {
			if err := o.repos.Workflows.UpdateProgress(txCtx, w); err != nil {
				return err
			}
		}
		if entry != nil {
			return o.repos.Audit.Append(txCtx, entry)
		}
		return nil
	})
	if errors.Is(err, port.ErrStatusConflict) {
		return fmt.Errorf("%w: workflow %s changed status concurrently", ErrInvalidState, w.BatchID)
	}
	if err != nil {
		return fmt.Errorf("failed to update workflow status: %w", err)
	}
	return nil
}

// schedule submits the step loop for batchID starting at from
func (o *orchestratorImpl) schedule(ctx context.Context, batchID string, from int) error {
	o.mu.Lock()
	if o.inFlight[batchID] {
		o.mu.Unlock()
		return ErrStepInFlight
	}
	o.inFlight[batchID] = true
	o.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	task := func() {
		defer o.release(batchID)
		o.execute(runCtx, batchID, from)
	}

	if err := o.runner.Submit(task); err != nil {
		o.release(batchID)
		return fmt.Errorf("%w: %v", ErrCapacity, err)
	}
	return nil
}

func (o *orchestratorImpl) release(batchID string) {
	o.mu.Lock()
	delete(o.inFlight, batchID)
	delete(o.recorded, batchID)
	o.mu.Unlock()
}

// firstItemFailure reports whether the item failure is new for the running loop and marks it seen
func (o *orchestratorImpl) firstItemFailure(batchID string, step int, transactionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	seen := o.recorded[batchID]
	if seen == nil {
		seen = make(map[string]bool)
		o.recorded[batchID] = seen
	}
	key := fmt.Sprintf("%d/%s", step, transactionID)
	if seen[key] {
		return false
	}
	seen[key] = true
	return true
}

func (o *orchestratorImpl) isInFlight(batchID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight[batchID]
}

// execute runs steps from..4, re-reading the persisted status at every step boundary
func (o *orchestratorImpl) execute(ctx context.Context, batchID string, from int) {
	for step := from; step <= entity.StepCount; step++ {
		w, err := o.load(ctx, batchID)
		if err != nil {
			o.logError("Failed to reload workflow", "batch_id", batchID, "step", step, "error", err.Error())
			return
		}
		if w.WorkflowStatus != domainwf.RunRunning {
			o.logInfo("Workflow loop stopped at step boundary",
				"batch_id", batchID,
				"step", step,
				"status", w.WorkflowStatus,
			)
			return
		}
		if err := o.runStep(ctx, w, step); err != nil {
			return
		}
	}
	o.completeRun(ctx, batchID)
}

// runStep executes one step under its timeout and retry policy and persists the result.
// A returned error means the run has already been failed.
func (o *orchestratorImpl) runStep(ctx context.Context, w *entity.WorkflowState, step int) error {
	policy := w.Config.Policy(step)
	st := w.Step(step)
	started := o.now()

	st.Status = domainwf.StepRunning
	st.StartedAt = &started
	st.CompletedAt = nil
	st.Error = ""
	w.CurrentStep = step
	w.UpdatedAt = started
	if err := o.repos.Workflows.UpdateProgress(ctx, w); err != nil {
		o.handleStepFailure(ctx, w, step, failure.Wrap(err, "", step, w.BatchID, ""), nil)
		return err
	}

	o.logInfo("Step started",
		"batch_id", w.BatchID,
		"step", step,
		"name", entity.StepName(step),
		"timeout", policy.Timeout.String(),
		"max_retries", policy.MaxRetries,
	)

	outcome, err := o.retrier.Do(ctx, o.opContext(w, step, ""), policy.MaxRetries, func(ctx context.Context) error {
		st.Attempts++
		return o.attempt(ctx, w, step, policy.Timeout)
	})
	elapsed := o.now().Sub(started)

	if err != nil {
		finished := o.now()
		st.Status = domainwf.StepFailed
		st.CompletedAt = &finished
		st.Error = err.Error()
		w.UpdatedAt = finished
		if perr := o.repos.Workflows.UpdateProgress(ctx, w); perr != nil {
			o.logError("Failed to persist failed step", "batch_id", w.BatchID, "step", step, "error", perr.Error())
		}
		o.observeStep(step, domainwf.StepFailed, elapsed)
		o.handleStepFailure(ctx, w, step, err, outcome.Classification)
		return err
	}

	finished := o.now()
	st.Status = domainwf.StepCompleted
	st.CompletedAt = &finished
	if step < entity.StepCount {
		w.CurrentStep = step + 1
	}
	w.ProcessedTransactions = len(w.Checkpoint.SuggestionIDs)
	w.FailedTransactions = len(w.Checkpoint.Failed)
	w.UpdatedAt = finished

	entry := o.auditEntry(w, entity.AuditStepCompleted, entity.SystemActor, step)
	entry.ProcessingTimeMS = elapsed.Milliseconds()
	entry.OutputData = map[string]interface{}{
		"step_name":              entity.StepName(step),
		"attempts":               st.Attempts,
		"total_transactions":     w.TotalTransactions,
		"processed_transactions": w.ProcessedTransactions,
		"failed_transactions":    w.FailedTransactions,
	}

	err = o.repos.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := o.repos.Workflows.UpdateProgress(txCtx, w); err != nil {
			return err
		}
		return o.repos.Audit.Append(txCtx, entry)
	})
	if err != nil {
		o.handleStepFailure(ctx, w, step, failure.Wrap(err, "", step, w.BatchID, ""), nil)
		return err
	}

	o.logInfo("Step completed",
		"batch_id", w.BatchID,
		"step", step,
		"attempts", outcome.Attempts,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	o.observeStep(step, domainwf.StepCompleted, elapsed)
	return nil
}

// attempt runs one try of a step under its own deadline
func (o *orchestratorImpl) attempt(ctx context.Context, w *entity.WorkflowState, step int, timeout time.Duration) error {
	stepCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	err := o.stepFunc(step)(stepCtx, w)
	if err == nil {
		return nil
	}
	if timeout > 0 && errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return &failure.Error{
			Code:    "STEP_TIMEOUT",
			Message: fmt.Sprintf("step timeout after %s", timeout),
			Step:    step,
			BatchID: w.BatchID,
			Err:     err,
		}
	}
	return failure.Wrap(err, "", step, w.BatchID, "")
}

// handleStepFailure audits the classified failure, escalates it when the
// strategy says so and fails the run
func (o *orchestratorImpl) handleStepFailure(ctx context.Context, w *entity.WorkflowState, step int, err error, cls *failure.Classification) {
	opCtx := o.opContext(w, step, "")
	if cls == nil {
		c := o.retrier.Classifier().Classify(err, opCtx)
		cls = &c
	}
	strategy := o.retrier.Advisor().Recommend(*cls, opCtx)

	o.logError("Step failed",
		"batch_id", w.BatchID,
		"step", step,
		"category", cls.Category,
		"subcategory", cls.Subcategory,
		"severity", cls.Severity.String(),
		"error", err.Error(),
	)

	entry := o.auditEntry(w, entity.AuditError, entity.SystemActor, step)
	entry.ErrorDetails = cls.Details()
	o.appendAudit(ctx, entry)

	if strategy.Has(failure.ActionEscalateToOperations) {
		o.escalate(ctx, w, *cls, strategy)
	}

	o.failRun(ctx, w.BatchID, err, cls)
}

// failRun moves the run to FAILED from whatever non-terminal status it holds
func (o *orchestratorImpl) failRun(ctx context.Context, batchID string, cause error, cls *failure.Classification) {
	w, err := o.load(ctx, batchID)
	if err != nil {
		o.logError("Failed to load workflow to mark failed", "batch_id", batchID, "error", err.Error())
		return
	}

	machine := BuildRunStateMachine(w.WorkflowStatus)
	previous := w.WorkflowStatus
	if err := machine.Fire(ctx, domainwf.TriggerFail); err != nil {
		o.logError("Cannot mark workflow failed", "batch_id", batchID, "status", previous, "error", err.Error())
		return
	}

	now := o.now()
	details := &entity.WorkflowError{
		Message:    cause.Error(),
		Step:       w.CurrentStep,
		OccurredAt: now,
	}
	var fe *failure.Error
	if errors.As(cause, &fe) {
		details.Code = fe.Code
		if fe.Step != 0 {
			details.Step = fe.Step
		}
	}
	if cls != nil {
		details.Category = string(cls.Category)
		details.Subcategory = string(cls.Subcategory)
		details.Severity = int(cls.Severity)
		if details.Code == "" {
			details.Code = string(cls.Subcategory)
		}
	}

	w.WorkflowStatus = machine.State()
	w.ErrorDetails = details
	w.UpdatedAt = now

	if err := o.transition(ctx, w, previous, nil, false); err != nil {
		o.logError("Failed to persist workflow failure", "batch_id", batchID, "error", err.Error())
		return
	}

	o.publish(ctx, event.TypeWorkflowFailed, w, map[string]interface{}{
		"step":        details.Step,
		"code":        details.Code,
		"category":    details.Category,
		"subcategory": details.Subcategory,
		"message":     details.Message,
	})
	o.observeWorkflow(w.WorkflowStatus)
}

// completeRun moves the run to COMPLETED once step 4 has finished
func (o *orchestratorImpl) completeRun(ctx context.Context, batchID string) {
	w, err := o.load(ctx, batchID)
	if err != nil {
		o.logError("Failed to load workflow to complete", "batch_id", batchID, "error", err.Error())
		return
	}

	machine := BuildRunStateMachine(w.WorkflowStatus)
	previous := w.WorkflowStatus
	if err := machine.Fire(ctx, domainwf.TriggerComplete); err != nil {
		o.logError("Cannot complete workflow", "batch_id", batchID, "status", previous, "error", err.Error())
		return
	}
	w.WorkflowStatus = machine.State()
	w.UpdatedAt = o.now()

	if err := o.transition(ctx, w, previous, nil, false); err != nil {
		o.logError("Failed to persist workflow completion", "batch_id", batchID, "error", err.Error())
		return
	}

	o.logInfo("Workflow completed",
		"batch_id", batchID,
		"total", w.TotalTransactions,
		"processed", w.ProcessedTransactions,
		"failed", w.FailedTransactions,
		"human_approval_required", w.HumanApprovalRequired,
	)
	o.publish(ctx, event.TypeWorkflowCompleted, w, map[string]interface{}{
		"total_transactions":      w.TotalTransactions,
		"processed_transactions":  w.ProcessedTransactions,
		"failed_transactions":     w.FailedTransactions,
		"human_approval_required": w.HumanApprovalRequired,
	})
	o.observeWorkflow(w.WorkflowStatus)
}

func (o *orchestratorImpl) escalate(ctx context.Context, w *entity.WorkflowState, cls failure.Classification, strategy failure.Strategy) {
	payload := cls.Details()
	payload["workflow_id"] = w.ID
	if action, ok := strategy.Find(failure.ActionEscalateToOperations); ok {
		payload["sla"] = action.SLA.String()
		payload["action"] = action.Description
	}
	if cls.Error.TransactionID != "" {
		payload["transaction_id"] = cls.Error.TransactionID
	}
	o.publish(ctx, event.TypeErrorEscalated, w, payload)
}

func (o *orchestratorImpl) opContext(w *entity.WorkflowState, step int, transactionID string) failure.OperationalContext {
	return failure.OperationalContext{
		Step:          step,
		BatchID:       w.BatchID,
		TransactionID: transactionID,
		BatchSize:     w.Config.BatchSize,
		TotalAmount:   w.TotalAmount,
		Now:           o.now(),
	}
}

func (o *orchestratorImpl) auditEntry(w *entity.WorkflowState, action entity.AuditAction, actor string, step int) *entity.AuditEntry {
	return &entity.AuditEntry{
		ID:         uuid.NewString(),
		WorkflowID: w.ID,
		StepNumber: step,
		ActionType: action,
		ActorID:    actor,
		Timestamp:  o.now(),
	}
}

// appendAudit writes an entry outside any transaction. Failures are logged only.
func (o *orchestratorImpl) appendAudit(ctx context.Context, entry *entity.AuditEntry) {
	if err := o.repos.Audit.Append(ctx, entry); err != nil {
		o.logError("Failed to append audit entry",
			"workflow_id", entry.WorkflowID,
			"action", entry.ActionType,
			"error", err.Error(),
		)
	}
}

func (o *orchestratorImpl) publish(ctx context.Context, t event.Type, w *entity.WorkflowState, payload map[string]interface{}) {
	if o.dispatcher == nil {
		return
	}
	payload["workflow_status"] = w.WorkflowStatus.String()
	payload["current_step"] = w.CurrentStep
	o.dispatcher.DispatchAsync(ctx, event.NewEvent(t, w.ID, w.BatchID, payload))
}

func (o *orchestratorImpl) observeStep(step int, status domainwf.StepStatus, elapsed time.Duration) {
	if o.observer != nil {
		o.observer.ObserveStep(step, status, elapsed)
	}
}

func (o *orchestratorImpl) observeWorkflow(status domainwf.RunStatus) {
	if o.observer != nil {
		o.observer.ObserveWorkflow(status)
	}
}

func (o *orchestratorImpl) logInfo(msg string, keysAndValues ...interface{}) {
	if o.logger != nil {
		o.logger.Info(msg, keysAndValues...)
	}
}

func (o *orchestratorImpl) logError(msg string, keysAndValues ...interface{}) {
	if o.logger != nil {
		o.logger.Error(msg, keysAndValues...)
	}
}

func validateConfig(cfg entity.RunConfig) error {
	if cfg.BatchSize < 1 || cfg.BatchSize > batch.MaxItems {
		return fmt.Errorf("%w: batch size %d outside 1..%d", ErrInvalidConfig, cfg.BatchSize, batch.MaxItems)
	}
	if cfg.StatusFilter == "" {
		return fmt.Errorf("%w: status filter is required", ErrInvalidConfig)
	}
	for step, policy := range cfg.Steps {
		if !entity.ValidStep(step) {
			return fmt.Errorf("%w: policy for unknown step %d", ErrInvalidConfig, step)
		}
		if policy.Timeout < 0 || policy.MaxRetries < 0 {
			return fmt.Errorf("%w: negative timeout or retries for step %d", ErrInvalidConfig, step)
		}
	}
	return nil
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return entity.SystemActor
	}
	return actor
}
