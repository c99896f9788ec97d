package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/cash-clearing/internal/application/port"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/domain/workflow"
	"github.com/garyjia/cash-clearing/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/cash-clearing/pkg/database"
)

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: database.MemoryPath}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrations(database.Schema))
	return sqlite.NewDB(db.DB, nil, logger)
}

func seedTransaction(t *testing.T, repo port.TransactionRepository, id string, offset time.Duration) *entity.Transaction {
	t.Helper()
	txn := &entity.Transaction{
		ID:          id,
		Amount:      125.50,
		Currency:    "USD",
		Description: "WIRE TRANSFER " + id,
		Reference:   "REF-" + id,
		Account:     "CHK-001",
		Status:      entity.TransactionUnmatched,
		Timestamp:   baseTime.Add(offset),
	}
	require.NoError(t, repo.Create(context.Background(), txn))
	return txn
}

func newSuggestion(id, txnID, batchID string) *entity.Suggestion {
	return &entity.Suggestion{
		ID:            id,
		TransactionID: txnID,
		WorkflowID:    "wf-1",
		BatchID:       batchID,
		StepNumber:    entity.StepPersistSuggestions,
		PatternMatch: entity.PatternMatch{
			PatternID:   "p-wire",
			PatternName: "Wire transfer",
			PatternType: entity.PatternKeyword,
			Confidence:  0.9,
			Source:      entity.SourceRules,
		},
		GLMapping: entity.GLMapping{
			AccountCode: "1010",
			AccountName: "Cash",
			DebitCredit: entity.Debit,
			Confidence:  0.85,
		},
		Amount:            125.50,
		OverallConfidence: 0.85,
		ApprovalStatus:    workflow.ApprovalPending,
		Reasoning:         entity.Reasoning{PatternEvidence: "keyword WIRE", RequiresApproval: true},
		CreatedAt:         baseTime,
		UpdatedAt:         baseTime,
	}
}

func TestTransactionRepository_SelectUnprocessed(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	txns := NewTransactionRepository(db, zap.NewNop())
	suggestions := NewSuggestionRepository(db, zap.NewNop())

	seedTransaction(t, txns, "t-3", 3*time.Minute)
	seedTransaction(t, txns, "t-1", time.Minute)
	seedTransaction(t, txns, "t-2", 2*time.Minute)
	matched := seedTransaction(t, txns, "t-0", 0)
	matched.ID = "t-matched"
	matched.Status = entity.TransactionMatched
	require.NoError(t, txns.Create(ctx, matched))

	require.NoError(t, suggestions.Create(ctx, newSuggestion("s-2", "t-2", "b-1")))

	got, err := txns.SelectUnprocessed(ctx, entity.TransactionUnmatched, 10)
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, txn := range got {
		ids = append(ids, txn.ID)
	}
	assert.Equal(t, []string{"t-0", "t-1", "t-3"}, ids)

	limited, err := txns.SelectUnprocessed(ctx, entity.TransactionUnmatched, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "t-0", limited[0].ID)
}

func TestTransactionRepository_Lookups(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewTransactionRepository(db, zap.NewNop())

	seedTransaction(t, repo, "t-1", 0)
	seedTransaction(t, repo, "t-2", time.Minute)

	got, err := repo.GetByID(ctx, "t-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 125.50, got.Amount)
	assert.True(t, got.Timestamp.Equal(baseTime))

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	many, err := repo.GetByIDs(ctx, []string{"t-2", "nope", "t-1"})
	require.NoError(t, err)
	require.Len(t, many, 2)
	assert.Equal(t, "t-1", many[0].ID)

	none, err := repo.GetByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCatalogRepository_SaveAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewCatalogRepository(db, zap.NewNop())

	maxAmount := 5000.0
	require.NoError(t, repo.SavePattern(ctx, &entity.Pattern{
		ID: "p-low", Name: "Fees", Type: entity.PatternKeyword, Expression: "FEE",
		Priority: 1, GLAccountCodes: []string{"6100"}, Active: true,
	}))
	require.NoError(t, repo.SavePattern(ctx, &entity.Pattern{
		ID: "p-high", Name: "Wires", Type: entity.PatternAmountRange,
		MaxAmount: &maxAmount, Priority: 10, Active: true,
	}))
	// upsert replaces in place
	require.NoError(t, repo.SavePattern(ctx, &entity.Pattern{
		ID: "p-low", Name: "Bank fees", Type: entity.PatternKeyword, Expression: "FEE",
		Priority: 2, GLAccountCodes: []string{"6100", "6110"}, Active: false,
	}))

	patterns, err := repo.ListPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.Equal(t, "p-high", patterns[0].ID)
	require.NotNil(t, patterns[0].MaxAmount)
	assert.Equal(t, 5000.0, *patterns[0].MaxAmount)
	assert.Nil(t, patterns[0].MinAmount)
	assert.Empty(t, patterns[0].GLAccountCodes)
	assert.Equal(t, "Bank fees", patterns[1].Name)
	assert.Equal(t, []string{"6100", "6110"}, patterns[1].GLAccountCodes)
	assert.False(t, patterns[1].Active)

	require.NoError(t, repo.SaveGLAccount(ctx, &entity.GLAccount{
		Code: "6100", Name: "Bank Fees", DebitCredit: entity.Debit, Category: "EXPENSE", AutoApproveThreshold: 0.95,
	}))
	require.NoError(t, repo.SaveGLAccount(ctx, &entity.GLAccount{
		Code: "1010", Name: "Cash", DebitCredit: entity.Credit, Category: "ASSET", AutoApproveThreshold: 0.9,
	}))

	accounts, err := repo.ListGLAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "1010", accounts[0].Code)
	assert.Equal(t, entity.Debit, accounts[1].DebitCredit)
}

func TestSuggestionRepository_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewSuggestionRepository(db, zap.NewNop())

	s := newSuggestion("s-1", "t-1", "b-1")
	s.Reasoning.Alternatives = []string{"6100 Bank Fees"}
	require.NoError(t, repo.Create(ctx, s))

	got, err := repo.GetByID(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.PatternMatch, got.PatternMatch)
	assert.Equal(t, s.GLMapping, got.GLMapping)
	assert.Equal(t, s.Reasoning, got.Reasoning)
	assert.Equal(t, workflow.ApprovalPending, got.ApprovalStatus)
	assert.Nil(t, got.ApprovalTime)
	assert.Nil(t, got.Overrides)

	byTxn, err := repo.GetByTransactionID(ctx, "t-1")
	require.NoError(t, err)
	require.NotNil(t, byTxn)
	assert.Equal(t, "s-1", byTxn.ID)

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// one suggestion per transaction
	dup := newSuggestion("s-dup", "t-1", "b-1")
	err = repo.Create(ctx, dup)
	require.Error(t, err)
	assert.True(t, sqlite.IsUniqueViolation(err))
}

func TestSuggestionRepository_UpdateIfStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewSuggestionRepository(db, zap.NewNop())

	require.NoError(t, repo.Create(ctx, newSuggestion("s-1", "t-1", "b-1")))

	current, err := repo.GetByID(ctx, "s-1")
	require.NoError(t, err)

	approvedAt := baseTime.Add(time.Hour)
	amount := 120.0
	updated := current.Clone()
	updated.ApprovalStatus = workflow.ApprovalApproved
	updated.ApproverID = "alice"
	updated.ApprovalTime = &approvedAt
	updated.ApprovalReason = "looks right"
	updated.Amount = amount
	updated.Overrides = &entity.Overrides{Amount: &amount}
	updated.UpdatedAt = approvedAt

	require.NoError(t, repo.UpdateIfStatus(ctx, updated, workflow.ApprovalPending))

	got, err := repo.GetByID(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.ApprovalApproved, got.ApprovalStatus)
	assert.Equal(t, "alice", got.ApproverID)
	require.NotNil(t, got.ApprovalTime)
	assert.True(t, got.ApprovalTime.Equal(approvedAt))
	require.NotNil(t, got.Overrides)
	assert.Equal(t, 120.0, *got.Overrides.Amount)

	// a second writer still expecting PENDING loses
	rejected := current.Clone()
	rejected.ApprovalStatus = workflow.ApprovalRejected
	err = repo.UpdateIfStatus(ctx, rejected, workflow.ApprovalPending)
	assert.True(t, errors.Is(err, port.ErrStatusConflict))
}

func TestSuggestionRepository_CountAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewSuggestionRepository(db, zap.NewNop())

	for i, id := range []string{"s-1", "s-2", "s-3"} {
		s := newSuggestion(id, "t-"+id, "b-1")
		s.CreatedAt = baseTime.Add(time.Duration(i) * time.Minute)
		if id == "s-3" {
			s.ApprovalStatus = workflow.ApprovalAutoApproved
		}
		require.NoError(t, repo.Create(ctx, s))
	}
	require.NoError(t, repo.Create(ctx, newSuggestion("s-other", "t-other", "b-2")))

	pending, err := repo.CountByStatus(ctx, "b-1", workflow.ApprovalPending)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	list, err := repo.List(ctx, entity.SuggestionFilter{BatchID: "b-1"})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "s-3", list[0].ID)

	page, err := repo.List(ctx, entity.SuggestionFilter{BatchID: "b-1", ApprovalStatus: workflow.ApprovalPending, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "s-1", page[0].ID)
}

func TestWorkflowRepository_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewWorkflowRepository(db, zap.NewNop())

	cfg := entity.RunConfig{
		BatchSize:            50,
		StatusFilter:         entity.TransactionUnmatched,
		RequireHumanApproval: true,
		Steps: map[int]entity.StepPolicy{
			entity.StepPatternMatch: {Timeout: 30 * time.Second, MaxRetries: 2},
		},
	}
	w := entity.NewWorkflowState("wf-1", "b-1", cfg, baseTime)
	require.NoError(t, repo.Create(ctx, w))

	got, err := repo.GetByBatchID(ctx, "b-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, workflow.RunRunning, got.WorkflowStatus)
	assert.Len(t, got.Steps, entity.StepCount)
	assert.Equal(t, cfg.Steps, got.Config.Steps)
	assert.Nil(t, got.ErrorDetails)

	progress := got.Clone()
	progress.CurrentStep = entity.StepGLMapping
	progress.TotalTransactions = 3
	progress.ProcessedTransactions = 2
	progress.FailedTransactions = 1
	progress.TotalAmount = 300
	progress.Checkpoint.TransactionIDs = []string{"t-1", "t-2"}
	progress.Checkpoint.MarkFailed("t-3", "unmatched")
	progress.WorkflowStatus = workflow.RunFailed // ignored by UpdateProgress
	require.NoError(t, repo.UpdateProgress(ctx, progress))

	got, err = repo.GetByBatchID(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StepGLMapping, got.CurrentStep)
	assert.Equal(t, 300.0, got.TotalAmount)
	assert.Equal(t, []string{"t-1", "t-2"}, got.Checkpoint.TransactionIDs)
	assert.True(t, got.Checkpoint.HasFailed("t-3"))
	assert.Equal(t, workflow.RunRunning, got.WorkflowStatus)

	paused := got.Clone()
	paused.WorkflowStatus = workflow.RunPaused
	paused.Metadata["pause_reason"] = "month end"
	require.NoError(t, repo.TransitionStatus(ctx, paused, workflow.RunRunning))

	err = repo.TransitionStatus(ctx, paused, workflow.RunRunning)
	assert.True(t, errors.Is(err, port.ErrStatusConflict))

	list, err := repo.ListByStatus(ctx, workflow.RunPaused)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "month end", list[0].Metadata["pause_reason"])

	failed := list[0].Clone()
	failed.WorkflowStatus = workflow.RunFailed
	failed.ErrorDetails = &entity.WorkflowError{Code: "STORE_CONNECTION", Message: "boom", Step: 3, OccurredAt: baseTime}
	require.NoError(t, repo.TransitionStatus(ctx, failed, workflow.RunPaused))

	got, err = repo.GetByBatchID(ctx, "b-1")
	require.NoError(t, err)
	require.NotNil(t, got.ErrorDetails)
	assert.Equal(t, "boom", got.ErrorDetails.Message)

	missing, err := repo.GetByBatchID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	ghost := entity.NewWorkflowState("wf-ghost", "b-ghost", cfg, baseTime)
	assert.Error(t, repo.UpdateProgress(ctx, ghost))
}

func TestWorkflowRepository_DuplicateBatch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewWorkflowRepository(db, zap.NewNop())

	require.NoError(t, repo.Create(ctx, entity.NewWorkflowState("wf-1", "b-1", entity.RunConfig{}, baseTime)))
	err := repo.Create(ctx, entity.NewWorkflowState("wf-2", "b-1", entity.RunConfig{}, baseTime))
	require.Error(t, err)
	assert.True(t, sqlite.IsUniqueViolation(err))
}

func TestAuditRepository_AppendAndFilter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewAuditRepository(db, zap.NewNop())

	score := 0.93
	entries := []*entity.AuditEntry{
		{ID: "a-1", WorkflowID: "wf-1", StepNumber: 1, ActionType: entity.AuditStepCompleted, ActorID: entity.SystemActor, Timestamp: baseTime},
		{ID: "a-2", WorkflowID: "wf-1", SuggestionID: "s-1", ActionType: entity.AuditApproved, ActorID: "alice",
			ConfidenceScore: &score, OutputData: map[string]interface{}{"status": "APPROVED"}, Timestamp: baseTime.Add(time.Minute)},
		{ID: "a-3", WorkflowID: "wf-2", ActionType: entity.AuditError, ActorID: entity.SystemActor,
			ErrorDetails: map[string]interface{}{"category": "SYSTEM_ERROR"}, Timestamp: baseTime.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, repo.Append(ctx, e))
	}

	all, err := repo.List(ctx, entity.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a-3", all[0].ID)
	assert.Equal(t, "SYSTEM_ERROR", all[0].ErrorDetails["category"])

	byWorkflow, err := repo.List(ctx, entity.AuditFilter{WorkflowID: "wf-1", ActorID: "alice"})
	require.NoError(t, err)
	require.Len(t, byWorkflow, 1)
	require.NotNil(t, byWorkflow[0].ConfidenceScore)
	assert.Equal(t, 0.93, *byWorkflow[0].ConfidenceScore)
	assert.Equal(t, "APPROVED", byWorkflow[0].OutputData["status"])
	assert.Nil(t, byWorkflow[0].InputData)

	from := baseTime.Add(30 * time.Second)
	to := baseTime.Add(90 * time.Second)
	windowed, err := repo.List(ctx, entity.AuditFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, "a-2", windowed[0].ID)

	paged, err := repo.List(ctx, entity.AuditFilter{Limit: 1, Offset: 2})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "a-1", paged[0].ID)
}

func TestQueueRepositories(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	review := NewReviewQueueRepository(db, zap.NewNop())
	reprocess := NewReprocessQueueRepository(db, zap.NewNop())

	require.NoError(t, review.Enqueue(ctx, &entity.ReviewItem{
		ID: "r-1", WorkflowID: "wf-1", TransactionID: "t-9", Step: entity.StepPatternMatch,
		Reason: "no pattern matched", Category: "DATA_VALIDATION", Subcategory: "UNMATCHED_TRANSACTION", CreatedAt: baseTime,
	}))
	items, err := review.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "t-9", items[0].TransactionID)

	other, err := review.ListByWorkflow(ctx, "wf-2")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, reprocess.Schedule(ctx, &entity.ReprocessItem{
		ID: "q-1", SuggestionID: "s-1", TransactionID: "t-1", Priority: entity.PriorityLow, ScheduledAt: baseTime,
	}))
	require.NoError(t, reprocess.Schedule(ctx, &entity.ReprocessItem{
		ID: "q-2", SuggestionID: "s-2", TransactionID: "t-2", Priority: entity.PriorityHigh,
		AlternativeAction: "remap to 6100", ScheduledAt: baseTime.Add(time.Minute),
	}))

	scheduled, err := reprocess.IsScheduled(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, scheduled)

	scheduled, err = reprocess.IsScheduled(ctx, "s-3")
	require.NoError(t, err)
	assert.False(t, scheduled)

	err = reprocess.Schedule(ctx, &entity.ReprocessItem{
		ID: "q-3", SuggestionID: "s-1", TransactionID: "t-1", Priority: entity.PriorityMedium, ScheduledAt: baseTime,
	})
	require.Error(t, err)
	assert.True(t, sqlite.IsUniqueViolation(err))

	due, err := reprocess.ListDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "s-2", due[0].SuggestionID)
	assert.Equal(t, "remap to 6100", due[0].AlternativeAction)
}

func TestTransactionManager_RollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewTransactionRepository(db, zap.NewNop())

	boom := errors.New("boom")
	err := db.WithTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, repo.Create(ctx, &entity.Transaction{ID: "t-tx", Status: entity.TransactionUnmatched, Timestamp: baseTime}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetByID(ctx, "t-tx")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, db.WithTransaction(ctx, func(ctx context.Context) error {
		return repo.Create(ctx, &entity.Transaction{ID: "t-ok", Status: entity.TransactionUnmatched, Timestamp: baseTime})
	}))
	got, err = repo.GetByID(ctx, "t-ok")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
