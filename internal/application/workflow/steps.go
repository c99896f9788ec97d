package workflow

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/garyjia/cash-clearing/internal/application/approval"
	"github.com/garyjia/cash-clearing/internal/application/batch"
	"github.com/garyjia/cash-clearing/internal/application/matching"
	"github.com/garyjia/cash-clearing/internal/application/port"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/domain/event"
	"github.com/garyjia/cash-clearing/internal/domain/failure"
	domainwf "github.com/garyjia/cash-clearing/internal/domain/workflow"
)

type stepBody func(ctx context.Context, w *entity.WorkflowState) error

func (o *orchestratorImpl) stepFunc(step int) stepBody {
	switch step {
	case entity.StepSelectTransactions:
		return o.selectTransactions
	case entity.StepPatternMatch:
		return o.matchPatterns
	case entity.StepGLMapping:
		return o.mapGLAccounts
	case entity.StepPersistSuggestions:
		return o.persistSuggestions
	}
	return func(ctx context.Context, w *entity.WorkflowState) error {
		return fmt.Errorf("%w: %d", ErrInvalidStep, step)
	}
}

// selectTransactions loads up to batch-size unprocessed transactions into the checkpoint
func (o *orchestratorImpl) selectTransactions(ctx context.Context, w *entity.WorkflowState) error {
	txns, err := o.repos.Transactions.SelectUnprocessed(ctx, w.Config.StatusFilter, w.Config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to select unprocessed transactions: %w", err)
	}

	ids := make([]string, 0, len(txns))
	total := 0.0
	for _, txn := range txns {
		ids = append(ids, txn.ID)
		total += math.Abs(txn.Amount)
	}

	w.Checkpoint = entity.Checkpoint{TransactionIDs: ids}
	w.TotalTransactions = len(ids)
	w.TotalAmount = total
	return nil
}

// matchPatterns asks the oracle for a pattern per transaction. Transactions
// without a usable match are quarantined and drop out of the run.
func (o *orchestratorImpl) matchPatterns(ctx context.Context, w *entity.WorkflowState) error {
	if len(w.Checkpoint.TransactionIDs) == 0 {
		w.Checkpoint.Matches = map[string]entity.PatternMatch{}
		return nil
	}

	txns, err := o.repos.Transactions.GetByIDs(ctx, w.Checkpoint.TransactionIDs)
	if err != nil {
		return fmt.Errorf("failed to load transactions: %w", err)
	}
	patterns, err := o.repos.Catalog.ListPatterns(ctx)
	if err != nil {
		return fmt.Errorf("failed to load patterns: %w", err)
	}

	results, err := o.oracle.MatchPatterns(ctx, txns, patterns)
	if err != nil {
		if !o.fallBack(ctx, w, entity.StepPatternMatch, "", err) {
			return err
		}
		if results, err = o.rules.MatchPatterns(ctx, txns, patterns); err != nil {
			return err
		}
	}

	known := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		known[p.ID] = true
	}
	byTxn := make(map[string]port.PatternMatchResult, len(results))
	for _, r := range results {
		byTxn[r.TransactionID] = r
	}

	matches := make(map[string]entity.PatternMatch, len(results))
	for _, id := range w.Checkpoint.TransactionIDs {
		r, ok := byTxn[id]
		var reason string
		switch {
		case !ok || r.Match == nil:
			reason = "data quality: no pattern matched transaction"
		case !known[r.Match.PatternID]:
			reason = fmt.Sprintf("data quality: matched unknown pattern %s", r.Match.PatternID)
		case r.Match.Confidence < 0 || r.Match.Confidence > 1:
			reason = fmt.Sprintf("invalid response: pattern confidence %.4f out of range", r.Match.Confidence)
		}
		if reason != "" {
			itemErr := &failure.Error{
				Code:          "NO_PATTERN_MATCH",
				Message:       reason,
				Step:          entity.StepPatternMatch,
				BatchID:       w.BatchID,
				TransactionID: id,
			}
			opCtx := o.opContext(w, entity.StepPatternMatch, id)
			cls := o.retrier.Classifier().Classify(itemErr, opCtx)
			strategy := o.retrier.Advisor().Recommend(cls, opCtx)
			o.recordItemFailure(ctx, w, entity.StepPatternMatch, id, itemErr, cls, strategy, true)
			continue
		}
		matches[id] = *r.Match
	}

	w.Checkpoint.Matches = matches
	return nil
}

// mapGLAccounts selects a GL mapping for every matched transaction
func (o *orchestratorImpl) mapGLAccounts(ctx context.Context, w *entity.WorkflowState) error {
	if w.Checkpoint.Matches == nil {
		return &failure.Error{
			Code:    "MISSING_CHECKPOINT",
			Message: "missing checkpoint: pattern matches not recorded",
			Step:    entity.StepGLMapping,
			BatchID: w.BatchID,
		}
	}

	var ids []string
	for _, id := range w.Checkpoint.TransactionIDs {
		if _, ok := w.Checkpoint.Matches[id]; ok && !w.Checkpoint.HasFailed(id) {
			ids = append(ids, id)
		}
	}
	w.Checkpoint.Selections = make(map[string]entity.GLSelection, len(ids))
	if len(ids) == 0 {
		return nil
	}

	txns, err := o.transactionsByID(ctx, ids)
	if err != nil {
		return err
	}
	patterns, err := o.repos.Catalog.ListPatterns(ctx)
	if err != nil {
		return fmt.Errorf("failed to load patterns: %w", err)
	}
	accounts, err := o.repos.Catalog.ListGLAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load GL accounts: %w", err)
	}

	var firstErr error
	result, err := o.coordinator.Run(ctx, ids, func(ctx context.Context, id string) (batch.ItemOutcome, error) {
		txn, ok := txns[id]
		if !ok {
			return batch.ItemOutcome{}, fmt.Errorf("data quality: transaction %s no longer exists", id)
		}
		sel, err := o.selectMapping(ctx, w, txn, w.Checkpoint.Matches[id], patterns, accounts)
		if err != nil {
			return batch.ItemOutcome{}, err
		}
		w.Checkpoint.Selections[id] = *sel
		return batch.ItemOutcome{NewStatus: sel.Mapping.AccountCode}, nil
	}, batch.RunOptions{
		BatchID:   w.BatchID,
		Step:      entity.StepGLMapping,
		Policy:    itemPolicy(w.Config),
		OnFailure: o.onItemFailure(w, entity.StepGLMapping, &firstErr),
	})
	if err != nil {
		return err
	}
	if result.Failed > 0 && !w.Config.AllowPartialFailure {
		return firstErr
	}
	return nil
}

// selectMapping asks the oracle to choose among the pattern's candidate accounts.
// The choice must be one of the candidates; its threshold comes from the chart of accounts.
func (o *orchestratorImpl) selectMapping(
	ctx context.Context,
	w *entity.WorkflowState,
	txn *entity.Transaction,
	match entity.PatternMatch,
	patterns []*entity.Pattern,
	accounts []*entity.GLAccount,
) (*entity.GLSelection, error) {
	candidates := matching.Candidates(match, patterns, accounts)
	if len(candidates) == 0 {
		return nil, &failure.Error{
			Code:          "NO_GL_CANDIDATES",
			Message:       fmt.Sprintf("invalid gl account: pattern %s maps to no known account", match.PatternID),
			Step:          entity.StepGLMapping,
			BatchID:       w.BatchID,
			TransactionID: txn.ID,
		}
	}

	req := port.GLSelectionRequest{Transaction: txn, Match: match, Candidates: candidates}
	sel, err := o.oracle.SelectGLMapping(ctx, req)
	if err != nil {
		if !o.fallBack(ctx, w, entity.StepGLMapping, txn.ID, err) {
			return nil, err
		}
		if sel, err = o.rules.SelectGLMapping(ctx, req); err != nil {
			return nil, err
		}
	}

	var chosen *entity.GLMapping
	for i := range candidates {
		if candidates[i].AccountCode == sel.Mapping.AccountCode {
			chosen = &candidates[i]
			break
		}
	}
	if chosen == nil {
		return nil, &failure.Error{
			Code:          "UNKNOWN_GL_ACCOUNT",
			Message:       fmt.Sprintf("invalid gl account %s: not a candidate for pattern %s", sel.Mapping.AccountCode, match.PatternID),
			Step:          entity.StepGLMapping,
			BatchID:       w.BatchID,
			TransactionID: txn.ID,
		}
	}
	if sel.Confidence < 0 || sel.Confidence > 1 {
		return nil, &failure.Error{
			Code:          "INVALID_CONFIDENCE",
			Message:       fmt.Sprintf("invalid response: mapping confidence %.4f out of range", sel.Confidence),
			Step:          entity.StepGLMapping,
			BatchID:       w.BatchID,
			TransactionID: txn.ID,
		}
	}

	mapping := *chosen
	mapping.Confidence = sel.Confidence
	sel.Mapping = mapping
	sel.TransactionID = txn.ID
	return sel, nil
}

// persistSuggestions writes one PENDING suggestion per selection, then tries to auto-approve it.
// A transaction that already has a suggestion is counted as done.
func (o *orchestratorImpl) persistSuggestions(ctx context.Context, w *entity.WorkflowState) error {
	if w.Checkpoint.Selections == nil {
		return &failure.Error{
			Code:    "MISSING_CHECKPOINT",
			Message: "missing checkpoint: GL selections not recorded",
			Step:    entity.StepPersistSuggestions,
			BatchID: w.BatchID,
		}
	}

	var ids []string
	for _, id := range w.Checkpoint.TransactionIDs {
		if _, ok := w.Checkpoint.Selections[id]; ok && !w.Checkpoint.HasFailed(id) {
			ids = append(ids, id)
		}
	}

	var result *entity.BatchResult
	if len(ids) > 0 {
		txns, err := o.transactionsByID(ctx, ids)
		if err != nil {
			return err
		}

		var firstErr error
		result, err = o.coordinator.Run(ctx, ids, func(ctx context.Context, id string) (batch.ItemOutcome, error) {
			return o.persistOne(ctx, w, txns[id])
		}, batch.RunOptions{
			BatchID:   w.BatchID,
			Step:      entity.StepPersistSuggestions,
			Policy:    itemPolicy(w.Config),
			OnFailure: o.onItemFailure(w, entity.StepPersistSuggestions, &firstErr),
		})
		if err != nil {
			return err
		}
		if result.Failed > 0 && !w.Config.AllowPartialFailure {
			return firstErr
		}
	}

	pending, err := o.repos.Suggestions.CountByStatus(ctx, w.BatchID, domainwf.ApprovalPending)
	if err != nil {
		return fmt.Errorf("failed to count pending suggestions: %w", err)
	}
	w.HumanApprovalRequired = w.Config.RequireHumanApproval || pending > 0

	payload := map[string]interface{}{
		"suggestions":             len(w.Checkpoint.SuggestionIDs),
		"failed_transactions":     len(w.Checkpoint.Failed),
		"pending_approval":        pending,
		"human_approval_required": w.HumanApprovalRequired,
	}
	if result != nil {
		payload["successful"] = result.Successful
		payload["failed"] = result.Failed
		payload["skipped"] = result.Skipped
	}
	o.publish(ctx, event.TypeBatchCompleted, w, payload)
	return nil
}

func (o *orchestratorImpl) persistOne(ctx context.Context, w *entity.WorkflowState, txn *entity.Transaction) (batch.ItemOutcome, error) {
	if txn == nil {
		return batch.ItemOutcome{}, fmt.Errorf("data quality: transaction no longer exists")
	}

	existing, err := o.repos.Suggestions.GetByTransactionID(ctx, txn.ID)
	if err != nil {
		return batch.ItemOutcome{}, fmt.Errorf("failed to look up suggestion: %w", err)
	}
	if existing != nil {
		rememberSuggestion(w, existing.ID)
		return batch.ItemOutcome{
			PreviousStatus: existing.ApprovalStatus.String(),
			NewStatus:      existing.ApprovalStatus.String(),
		}, nil
	}

	sug := o.buildSuggestion(w, txn)
	confidence := sug.OverallConfidence
	entry := o.auditEntry(w, entity.AuditSuggestionSaved, entity.SystemActor, entity.StepPersistSuggestions)
	entry.TransactionID = txn.ID
	entry.SuggestionID = sug.ID
	entry.ConfidenceScore = &confidence
	entry.OutputData = map[string]interface{}{
		"pattern_id":     sug.PatternMatch.PatternID,
		"account_code":   sug.GLMapping.AccountCode,
		"pattern_source": sug.PatternMatch.Source,
		"mapping_source": sug.Metadata["mapping_source"],
	}

	err = o.repos.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := o.repos.Suggestions.Create(txCtx, sug); err != nil {
			return err
		}
		return o.repos.Audit.Append(txCtx, entry)
	})
	if err != nil {
		return batch.ItemOutcome{}, fmt.Errorf("failed to persist suggestion: %w", err)
	}
	rememberSuggestion(w, sug.ID)

	if _, err := o.approver.AutoApprove(ctx, sug, w.Config.RequireHumanApproval); err != nil {
		o.logError("Auto-approval failed, suggestion stays pending",
			"suggestion_id", sug.ID,
			"transaction_id", txn.ID,
			"error", err.Error(),
		)
	}

	return batch.ItemOutcome{
		PreviousStatus: domainwf.ApprovalPending.String(),
		NewStatus:      sug.ApprovalStatus.String(),
	}, nil
}

func (o *orchestratorImpl) buildSuggestion(w *entity.WorkflowState, txn *entity.Transaction) *entity.Suggestion {
	match := w.Checkpoint.Matches[txn.ID]
	sel := w.Checkpoint.Selections[txn.ID]
	now := o.now()

	alternatives := make([]string, 0, len(sel.Alternatives))
	for _, alt := range sel.Alternatives {
		alternatives = append(alternatives, alt.AccountCode)
	}

	sug := &entity.Suggestion{
		ID:                uuid.NewString(),
		TransactionID:     txn.ID,
		WorkflowID:        w.ID,
		BatchID:           w.BatchID,
		StepNumber:        entity.StepPersistSuggestions,
		PatternMatch:      match,
		GLMapping:         sel.Mapping,
		Amount:            txn.Amount,
		OverallConfidence: approval.OverallConfidence(match.Confidence, sel.Confidence),
		ApprovalStatus:    domainwf.ApprovalPending,
		Reasoning: entity.Reasoning{
			PatternEvidence:  match.Evidence,
			MappingReasoning: sel.Reasoning,
			Alternatives:     alternatives,
			RequiresApproval: sel.RequiresApproval,
		},
		Metadata: map[string]interface{}{
			"mapping_source": sel.Source,
			"currency":       txn.Currency,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	sug.ValidationChecks = o.approver.Policy().Checks(sug, w.Config.RequireHumanApproval)
	return sug
}

// fallBack reports whether a failed oracle call should be retried against the
// rule matcher, and audits the switch
func (o *orchestratorImpl) fallBack(ctx context.Context, w *entity.WorkflowState, step int, transactionID string, err error) bool {
	if !w.Config.FallbackToRules || ctx.Err() != nil {
		return false
	}

	opCtx := o.opContext(w, step, transactionID)
	cls := o.retrier.Classifier().Classify(failure.Wrap(err, "", step, w.BatchID, transactionID), opCtx)
	if !o.retrier.Advisor().Recommend(cls, opCtx).Has(failure.ActionFallbackRuleBased) {
		return false
	}

	o.logInfo("Oracle failed, falling back to rules",
		"batch_id", w.BatchID,
		"step", step,
		"transaction_id", transactionID,
		"subcategory", cls.Subcategory,
		"error", err.Error(),
	)

	entry := o.auditEntry(w, entity.AuditError, entity.SystemActor, step)
	entry.TransactionID = transactionID
	entry.ErrorDetails = cls.Details()
	entry.OutputData = map[string]interface{}{"recovery": string(failure.ActionFallbackRuleBased)}
	o.appendAudit(ctx, entry)
	return true
}

func (o *orchestratorImpl) onItemFailure(w *entity.WorkflowState, step int, first *error) batch.FailureHook {
	return func(ctx context.Context, id string, err error, cls failure.Classification, strategy failure.Strategy) {
		if *first == nil {
			*first = err
		}
		o.recordItemFailure(ctx, w, step, id, err, cls, strategy, w.Config.AllowPartialFailure)
	}
}

// recordItemFailure audits one item failure and quarantines it when the strategy says so.
// A retried step that fails the same item again records it once per run.
// dropOut removes the transaction from later steps.
func (o *orchestratorImpl) recordItemFailure(
	ctx context.Context,
	w *entity.WorkflowState,
	step int,
	id string,
	err error,
	cls failure.Classification,
	strategy failure.Strategy,
	dropOut bool,
) {
	if dropOut {
		w.Checkpoint.MarkFailed(id, err.Error())
	}
	if !o.firstItemFailure(w.BatchID, step, id) {
		o.logInfo("Item failure already recorded", "batch_id", w.BatchID, "step", step, "transaction_id", id)
		return
	}

	entry := o.auditEntry(w, entity.AuditError, entity.SystemActor, step)
	entry.TransactionID = id
	entry.ErrorDetails = cls.Details()
	o.appendAudit(ctx, entry)

	if action, ok := strategy.Find(failure.ActionQuarantineItem); ok && o.repos.Review != nil {
		item := &entity.ReviewItem{
			ID:            uuid.NewString(),
			WorkflowID:    w.ID,
			TransactionID: id,
			Step:          step,
			Reason:        err.Error(),
			Category:      string(cls.Category),
			Subcategory:   string(cls.Subcategory),
			CreatedAt:     o.now(),
		}
		if qerr := o.repos.Review.Enqueue(ctx, item); qerr != nil {
			o.logError("Failed to quarantine transaction", "transaction_id", id, "error", qerr.Error())
		} else {
			o.logInfo("Transaction quarantined", "transaction_id", id, "queue", action.Queue, "step", step)
		}
	}

	if strategy.Has(failure.ActionEscalateToOperations) {
		o.escalate(ctx, w, cls, strategy)
	}
}

func (o *orchestratorImpl) transactionsByID(ctx context.Context, ids []string) (map[string]*entity.Transaction, error) {
	txns, err := o.repos.Transactions.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	out := make(map[string]*entity.Transaction, len(txns))
	for _, txn := range txns {
		out[txn.ID] = txn
	}
	return out, nil
}

func rememberSuggestion(w *entity.WorkflowState, id string) {
	for _, existing := range w.Checkpoint.SuggestionIDs {
		if existing == id {
			return
		}
	}
	w.Checkpoint.SuggestionIDs = append(w.Checkpoint.SuggestionIDs, id)
}

func itemPolicy(cfg entity.RunConfig) batch.Policy {
	return batch.PolicyFor(cfg.AllowPartialFailure, !cfg.AllowPartialFailure)
}
