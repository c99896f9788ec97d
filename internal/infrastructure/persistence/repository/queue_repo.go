package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/cash-clearing/internal/application/port"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/infrastructure/persistence/sqlite"
)

// ReviewQueueRepository implements port.ReviewQueueRepository
type ReviewQueueRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewReviewQueueRepository creates a new review queue repository
func NewReviewQueueRepository(db *sqlite.DB, logger *zap.Logger) port.ReviewQueueRepository {
	return &ReviewQueueRepository{
		db:     db,
		logger: logger,
	}
}

// Enqueue quarantines a transaction for manual review
func (r *ReviewQueueRepository) Enqueue(ctx context.Context, item *entity.ReviewItem) error {
	query := `
		INSERT INTO review_queue (id, workflow_id, transaction_id, step, reason, category, subcategory, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.db.Run(ctx, "review_queue.enqueue", func(ctx context.Context, ex sqlite.Executor) error {
		_, err := ex.ExecContext(ctx, query,
			item.ID,
			item.WorkflowID,
			item.TransactionID,
			item.Step,
			item.Reason,
			item.Category,
			item.Subcategory,
			item.CreatedAt,
		)
		return err
	})
	if err != nil {
		r.logger.Error("Failed to enqueue review item", zap.String("transaction_id", item.TransactionID), zap.Error(err))
		return fmt.Errorf("failed to enqueue review item: %w", err)
	}
	return nil
}

// ListByWorkflow returns the items a run quarantined, oldest first
func (r *ReviewQueueRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.ReviewItem, error) {
	query := `
		SELECT id, workflow_id, transaction_id, step, reason, category, subcategory, created_at
		FROM review_queue
		WHERE workflow_id = ?
		ORDER BY created_at, id
	`

	var items []*entity.ReviewItem
	err := r.db.Run(ctx, "review_queue.list", func(ctx context.Context, ex sqlite.Executor) error {
		rows, err := ex.QueryContext(ctx, query, workflowID)
		if err != nil {
			return err
		}
		defer rows.Close()

		items = make([]*entity.ReviewItem, 0)
		for rows.Next() {
			var item entity.ReviewItem
			if err := rows.Scan(
				&item.ID,
				&item.WorkflowID,
				&item.TransactionID,
				&item.Step,
				&item.Reason,
				&item.Category,
				&item.Subcategory,
				&item.CreatedAt,
			); err != nil {
				return err
			}
			items = append(items, &item)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("Failed to list review items", zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, fmt.Errorf("failed to list review items: %w", err)
	}
	return items, nil
}

// ReprocessQueueRepository implements port.ReprocessQueueRepository
type ReprocessQueueRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewReprocessQueueRepository creates a new reprocess queue repository
func NewReprocessQueueRepository(db *sqlite.DB, logger *zap.Logger) port.ReprocessQueueRepository {
	return &ReprocessQueueRepository{
		db:     db,
		logger: logger,
	}
}

// Schedule queues a rejected suggestion. A suggestion is scheduled at most once.
func (r *ReprocessQueueRepository) Schedule(ctx context.Context, item *entity.ReprocessItem) error {
	query := `
		INSERT INTO reprocess_queue (id, suggestion_id, transaction_id, priority, alternative_action, reason, scheduled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := r.db.Run(ctx, "reprocess_queue.schedule", func(ctx context.Context, ex sqlite.Executor) error {
		_, err := ex.ExecContext(ctx, query,
			item.ID,
			item.SuggestionID,
			item.TransactionID,
			item.Priority,
			item.AlternativeAction,
			item.Reason,
			item.ScheduledAt,
		)
		return err
	})
	if err != nil {
		r.logger.Error("Failed to schedule reprocess", zap.String("suggestion_id", item.SuggestionID), zap.Error(err))
		return fmt.Errorf("failed to schedule reprocess: %w", err)
	}
	return nil
}

// IsScheduled reports whether a suggestion is already queued
func (r *ReprocessQueueRepository) IsScheduled(ctx context.Context, suggestionID string) (bool, error) {
	query := `SELECT COUNT(*) FROM reprocess_queue WHERE suggestion_id = ?`

	var count int
	err := r.db.Run(ctx, "reprocess_queue.is_scheduled", func(ctx context.Context, ex sqlite.Executor) error {
		return ex.QueryRowContext(ctx, query, suggestionID).Scan(&count)
	})
	if err != nil {
		r.logger.Error("Failed to check reprocess queue", zap.String("suggestion_id", suggestionID), zap.Error(err))
		return false, fmt.Errorf("failed to check reprocess queue: %w", err)
	}
	return count > 0, nil
}

// ListDue returns queued items by priority, then age
func (r *ReprocessQueueRepository) ListDue(ctx context.Context, limit int) ([]*entity.ReprocessItem, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, suggestion_id, transaction_id, priority, alternative_action, reason, scheduled_at
		FROM reprocess_queue
		ORDER BY priority, scheduled_at, id
		LIMIT ?
	`

	var items []*entity.ReprocessItem
	err := r.db.Run(ctx, "reprocess_queue.list_due", func(ctx context.Context, ex sqlite.Executor) error {
		rows, err := ex.QueryContext(ctx, query, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		items = make([]*entity.ReprocessItem, 0)
		for rows.Next() {
			var item entity.ReprocessItem
			if err := rows.Scan(
				&item.ID,
				&item.SuggestionID,
				&item.TransactionID,
				&item.Priority,
				&item.AlternativeAction,
				&item.Reason,
				&item.ScheduledAt,
			); err != nil {
				return err
			}
			items = append(items, &item)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("Failed to list due reprocess items", zap.Error(err))
		return nil, fmt.Errorf("failed to list reprocess items: %w", err)
	}
	return items, nil
}

// Verify interface compliance
var (
	_ port.ReviewQueueRepository    = (*ReviewQueueRepository)(nil)
	_ port.ReprocessQueueRepository = (*ReprocessQueueRepository)(nil)
)
