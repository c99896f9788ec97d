package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/cash-clearing/internal/application/port"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/domain/workflow"
	"github.com/garyjia/cash-clearing/internal/infrastructure/persistence/sqlite"
)

const suggestionColumns = `
	id, transaction_id, workflow_id, batch_id, step_number, pattern_match, gl_mapping,
	amount, overall_confidence, approval_status, approver_id, approval_time, approval_reason,
	rejection_category, alternative_action, reasoning, validation_checks, overrides, metadata,
	created_at, updated_at`

// SuggestionRepository implements port.SuggestionRepository
type SuggestionRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewSuggestionRepository creates a new suggestion repository
func NewSuggestionRepository(db *sqlite.DB, logger *zap.Logger) port.SuggestionRepository {
	return &SuggestionRepository{
		db:     db,
		logger: logger,
	}
}

// suggestionRow is the encoded form of a suggestion's JSON columns
type suggestionRow struct {
	patternMatch     sql.NullString
	glMapping        sql.NullString
	reasoning        sql.NullString
	validationChecks sql.NullString
	overrides        sql.NullString
	metadata         sql.NullString
}

func encodeSuggestion(s *entity.Suggestion) (*suggestionRow, error) {
	var row suggestionRow
	var err error
	if row.patternMatch, err = toJSON(s.PatternMatch); err != nil {
		return nil, err
	}
	if row.glMapping, err = toJSON(s.GLMapping); err != nil {
		return nil, err
	}
	if row.reasoning, err = toJSON(s.Reasoning); err != nil {
		return nil, err
	}
	if row.validationChecks, err = toJSON(s.ValidationChecks); err != nil {
		return nil, err
	}
	if s.Overrides != nil {
		if row.overrides, err = toJSON(s.Overrides); err != nil {
			return nil, err
		}
	}
	if len(s.Metadata) > 0 {
		if row.metadata, err = toJSON(s.Metadata); err != nil {
			return nil, err
		}
	}
	return &row, nil
}

// Create inserts a new suggestion
func (r *SuggestionRepository) Create(ctx context.Context, s *entity.Suggestion) error {
	row, err := encodeSuggestion(s)
	if err != nil {
		return fmt.Errorf("failed to encode suggestion: %w", err)
	}

	query := `
		INSERT INTO suggestions (` + suggestionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = r.db.Run(ctx, "suggestions.create", func(ctx context.Context, ex sqlite.Executor) error {
		_, err := ex.ExecContext(ctx, query,
			s.ID,
			s.TransactionID,
			s.WorkflowID,
			s.BatchID,
			s.StepNumber,
			row.patternMatch,
			row.glMapping,
			s.Amount,
			s.OverallConfidence,
			s.ApprovalStatus,
			s.ApproverID,
			nullTime(s.ApprovalTime),
			s.ApprovalReason,
			s.RejectionCategory,
			s.AlternativeAction,
			row.reasoning,
			row.validationChecks,
			row.overrides,
			row.metadata,
			s.CreatedAt,
			s.UpdatedAt,
		)
		return err
	})
	if err != nil {
		r.logger.Error("Failed to create suggestion",
			zap.String("id", s.ID),
			zap.String("transaction_id", s.TransactionID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to create suggestion: %w", err)
	}
	return nil
}

// GetByID retrieves a suggestion by ID
func (r *SuggestionRepository) GetByID(ctx context.Context, id string) (*entity.Suggestion, error) {
	s, err := r.getOne(ctx, "suggestions.get", `SELECT `+suggestionColumns+` FROM suggestions WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("Failed to get suggestion", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get suggestion: %w", err)
	}
	return s, nil
}

// GetByTransactionID retrieves the suggestion produced for a transaction
func (r *SuggestionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*entity.Suggestion, error) {
	s, err := r.getOne(ctx, "suggestions.get_by_transaction", `SELECT `+suggestionColumns+` FROM suggestions WHERE transaction_id = ?`, transactionID)
	if err != nil {
		r.logger.Error("Failed to get suggestion by transaction", zap.String("transaction_id", transactionID), zap.Error(err))
		return nil, fmt.Errorf("failed to get suggestion: %w", err)
	}
	return s, nil
}

// UpdateIfStatus writes the mutable decision fields while the stored status equals expected
func (r *SuggestionRepository) UpdateIfStatus(ctx context.Context, s *entity.Suggestion, expected workflow.ApprovalStatus) error {
	row, err := encodeSuggestion(s)
	if err != nil {
		return fmt.Errorf("failed to encode suggestion: %w", err)
	}

	query := `
		UPDATE suggestions SET
			gl_mapping = ?,
			amount = ?,
			approval_status = ?,
			approver_id = ?,
			approval_time = ?,
			approval_reason = ?,
			rejection_category = ?,
			alternative_action = ?,
			overrides = ?,
			metadata = ?,
			updated_at = ?
		WHERE id = ? AND approval_status = ?
	`

	var affected int64
	err = r.db.Run(ctx, "suggestions.update", func(ctx context.Context, ex sqlite.Executor) error {
		result, err := ex.ExecContext(ctx, query,
			row.glMapping,
			s.Amount,
			s.ApprovalStatus,
			s.ApproverID,
			nullTime(s.ApprovalTime),
			s.ApprovalReason,
			s.RejectionCategory,
			s.AlternativeAction,
			row.overrides,
			row.metadata,
			s.UpdatedAt,
			s.ID,
			expected,
		)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		r.logger.Error("Failed to update suggestion", zap.String("id", s.ID), zap.Error(err))
		return fmt.Errorf("failed to update suggestion: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("suggestion %s: %w", s.ID, port.ErrStatusConflict)
	}
	return nil
}

// CountByStatus counts suggestions of a batch in a status
func (r *SuggestionRepository) CountByStatus(ctx context.Context, batchID string, status workflow.ApprovalStatus) (int, error) {
	query := `SELECT COUNT(*) FROM suggestions WHERE batch_id = ? AND approval_status = ?`

	var count int
	err := r.db.Run(ctx, "suggestions.count", func(ctx context.Context, ex sqlite.Executor) error {
		return ex.QueryRowContext(ctx, query, batchID, status).Scan(&count)
	})
	if err != nil {
		r.logger.Error("Failed to count suggestions", zap.String("batch_id", batchID), zap.Error(err))
		return 0, fmt.Errorf("failed to count suggestions: %w", err)
	}
	return count, nil
}

// List returns suggestions matching filter, newest first
func (r *SuggestionRepository) List(ctx context.Context, filter entity.SuggestionFilter) ([]*entity.Suggestion, error) {
	var conds conditions
	if filter.WorkflowID != "" {
		conds.add("workflow_id = ?", filter.WorkflowID)
	}
	if filter.BatchID != "" {
		conds.add("batch_id = ?", filter.BatchID)
	}
	if filter.ApprovalStatus != "" {
		conds.add("approval_status = ?", filter.ApprovalStatus)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + suggestionColumns + ` FROM suggestions` + conds.where() + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args := append(conds.args, limit, filter.Offset)

	var out []*entity.Suggestion
	err := r.db.Run(ctx, "suggestions.list", func(ctx context.Context, ex sqlite.Executor) error {
		rows, err := ex.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]*entity.Suggestion, 0)
		for rows.Next() {
			s, err := scanSuggestion(rows)
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("Failed to list suggestions", zap.Error(err))
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}
	return out, nil
}

func (r *SuggestionRepository) getOne(ctx context.Context, op, query string, arg interface{}) (*entity.Suggestion, error) {
	var s *entity.Suggestion
	err := r.db.Run(ctx, op, func(ctx context.Context, ex sqlite.Executor) error {
		found, err := scanSuggestion(ex.QueryRowContext(ctx, query, arg))
		if err == sql.ErrNoRows {
			s = nil
			return nil
		}
		s = found
		return err
	})
	return s, err
}

func scanSuggestion(row rowScanner) (*entity.Suggestion, error) {
	var s entity.Suggestion
	var enc suggestionRow
	var approvalTime sql.NullTime

	err := row.Scan(
		&s.ID,
		&s.TransactionID,
		&s.WorkflowID,
		&s.BatchID,
		&s.StepNumber,
		&enc.patternMatch,
		&enc.glMapping,
		&s.Amount,
		&s.OverallConfidence,
		&s.ApprovalStatus,
		&s.ApproverID,
		&approvalTime,
		&s.ApprovalReason,
		&s.RejectionCategory,
		&s.AlternativeAction,
		&enc.reasoning,
		&enc.validationChecks,
		&enc.overrides,
		&enc.metadata,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.ApprovalTime = timePtr(approvalTime)
	if err := fromJSON(enc.patternMatch, &s.PatternMatch); err != nil {
		return nil, err
	}
	if err := fromJSON(enc.glMapping, &s.GLMapping); err != nil {
		return nil, err
	}
	if err := fromJSON(enc.reasoning, &s.Reasoning); err != nil {
		return nil, err
	}
	if err := fromJSON(enc.validationChecks, &s.ValidationChecks); err != nil {
		return nil, err
	}
	if enc.overrides.Valid {
		s.Overrides = &entity.Overrides{}
		if err := fromJSON(enc.overrides, s.Overrides); err != nil {
			return nil, err
		}
	}
	if err := fromJSON(enc.metadata, &s.Metadata); err != nil {
		return nil, err
	}
	return &s, nil
}

// Verify interface compliance
var _ port.SuggestionRepository = (*SuggestionRepository)(nil)
