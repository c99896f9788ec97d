package port

import (
	"context"
	"errors"

	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/domain/workflow"
)

// ErrStatusConflict is returned by conditional updates when the stored status
// no longer matches the expected one
var ErrStatusConflict = errors.New("status conflict: record was modified concurrently")

// TransactionRepository reads source transactions. Lookups return nil, nil when nothing matches.
type TransactionRepository interface {
	Create(ctx context.Context, txn *entity.Transaction) error
	GetByID(ctx context.Context, id string) (*entity.Transaction, error)
	GetByIDs(ctx context.Context, ids []string) ([]*entity.Transaction, error)
	// SelectUnprocessed returns transactions in the given status that have no suggestion yet
	SelectUnprocessed(ctx context.Context, status string, limit int) ([]*entity.Transaction, error)
}

// CatalogRepository reads the known patterns and chart of accounts
type CatalogRepository interface {
	ListPatterns(ctx context.Context) ([]*entity.Pattern, error)
	ListGLAccounts(ctx context.Context) ([]*entity.GLAccount, error)
	SavePattern(ctx context.Context, p *entity.Pattern) error
	SaveGLAccount(ctx context.Context, a *entity.GLAccount) error
}

// SuggestionRepository persists suggestions
type SuggestionRepository interface {
	Create(ctx context.Context, s *entity.Suggestion) error
	GetByID(ctx context.Context, id string) (*entity.Suggestion, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*entity.Suggestion, error)
	// UpdateIfStatus writes s only while the stored approval status equals expected.
	// Returns ErrStatusConflict when another writer got there first.
	UpdateIfStatus(ctx context.Context, s *entity.Suggestion, expected workflow.ApprovalStatus) error
	CountByStatus(ctx context.Context, batchID string, status workflow.ApprovalStatus) (int, error)
	List(ctx context.Context, filter entity.SuggestionFilter) ([]*entity.Suggestion, error)
}

// WorkflowRepository persists workflow run state
type WorkflowRepository interface {
	Create(ctx context.Context, w *entity.WorkflowState) error
	GetByBatchID(ctx context.Context, batchID string) (*entity.WorkflowState, error)
	// UpdateProgress writes current_step, steps, counters, checkpoint and the approval flag.
	// It never touches status, config, metadata or error details.
	UpdateProgress(ctx context.Context, w *entity.WorkflowState) error
	// TransitionStatus writes status, config, metadata and error details only while the
	// stored workflow_status equals expected. Progress fields are left alone.
	// Returns ErrStatusConflict otherwise.
	TransitionStatus(ctx context.Context, w *entity.WorkflowState, expected workflow.RunStatus) error
	ListByStatus(ctx context.Context, status workflow.RunStatus) ([]*entity.WorkflowState, error)
}

// AuditRepository is the append-only audit log
type AuditRepository interface {
	Append(ctx context.Context, e *entity.AuditEntry) error
	List(ctx context.Context, filter entity.AuditFilter) ([]*entity.AuditEntry, error)
}

// ReviewQueueRepository holds quarantined transactions
type ReviewQueueRepository interface {
	Enqueue(ctx context.Context, item *entity.ReviewItem) error
	ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.ReviewItem, error)
}

// ReprocessQueueRepository holds rejected suggestions scheduled for another pass
type ReprocessQueueRepository interface {
	Schedule(ctx context.Context, item *entity.ReprocessItem) error
	IsScheduled(ctx context.Context, suggestionID string) (bool, error)
	ListDue(ctx context.Context, limit int) ([]*entity.ReprocessItem, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
