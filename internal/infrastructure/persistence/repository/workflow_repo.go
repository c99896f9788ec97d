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

const workflowColumns = `
	id, batch_id, current_step, steps, total_transactions, processed_transactions,
	failed_transactions, total_amount, workflow_status, human_approval_required,
	error_details, metadata, config, checkpoint, created_at, updated_at`

// WorkflowRepository implements port.WorkflowRepository
type WorkflowRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow state repository
func NewWorkflowRepository(db *sqlite.DB, logger *zap.Logger) port.WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new workflow run
func (r *WorkflowRepository) Create(ctx context.Context, w *entity.WorkflowState) error {
	steps, err := toJSON(w.Steps)
	if err != nil {
		return err
	}
	errorDetails, err := toJSON(w.ErrorDetails)
	if err != nil {
		return err
	}
	metadata, err := toJSON(w.Metadata)
	if err != nil {
		return err
	}
	config, err := toJSON(w.Config)
	if err != nil {
		return err
	}
	checkpoint, err := toJSON(w.Checkpoint)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_states (` + workflowColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = r.db.Run(ctx, "workflows.create", func(ctx context.Context, ex sqlite.Executor) error {
		_, err := ex.ExecContext(ctx, query,
			w.ID,
			w.BatchID,
			w.CurrentStep,
			steps,
			w.TotalTransactions,
			w.ProcessedTransactions,
			w.FailedTransactions,
			w.TotalAmount,
			w.WorkflowStatus,
			w.HumanApprovalRequired,
			errorDetails,
			metadata,
			config,
			checkpoint,
			w.CreatedAt,
			w.UpdatedAt,
		)
		return err
	})
	if err != nil {
		r.logger.Error("Failed to create workflow", zap.String("batch_id", w.BatchID), zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

// GetByBatchID retrieves a workflow run by batch ID
func (r *WorkflowRepository) GetByBatchID(ctx context.Context, batchID string) (*entity.WorkflowState, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflow_states WHERE batch_id = ?`

	var w *entity.WorkflowState
	err := r.db.Run(ctx, "workflows.get", func(ctx context.Context, ex sqlite.Executor) error {
		found, err := scanWorkflow(ex.QueryRowContext(ctx, query, batchID))
		if err == sql.ErrNoRows {
			w = nil
			return nil
		}
		w = found
		return err
	})
	if err != nil {
		r.logger.Error("Failed to get workflow", zap.String("batch_id", batchID), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return w, nil
}

// UpdateProgress writes step progress, counters and checkpoint. Status is left alone.
func (r *WorkflowRepository) UpdateProgress(ctx context.Context, w *entity.WorkflowState) error {
	steps, err := toJSON(w.Steps)
	if err != nil {
		return err
	}
	checkpoint, err := toJSON(w.Checkpoint)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_states SET
			current_step = ?,
			steps = ?,
			total_transactions = ?,
			processed_transactions = ?,
			failed_transactions = ?,
			total_amount = ?,
			human_approval_required = ?,
			checkpoint = ?,
			updated_at = ?
		WHERE id = ?
	`

	var affected int64
	err = r.db.Run(ctx, "workflows.update_progress", func(ctx context.Context, ex sqlite.Executor) error {
		result, err := ex.ExecContext(ctx, query,
			w.CurrentStep,
			steps,
			w.TotalTransactions,
			w.ProcessedTransactions,
			w.FailedTransactions,
			w.TotalAmount,
			w.HumanApprovalRequired,
			checkpoint,
			w.UpdatedAt,
			w.ID,
		)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		r.logger.Error("Failed to update workflow progress", zap.String("id", w.ID), zap.Error(err))
		return fmt.Errorf("failed to update workflow progress: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("workflow %s not found", w.ID)
	}
	return nil
}

// TransitionStatus writes status, config, metadata and error details while the
// stored status equals expected
func (r *WorkflowRepository) TransitionStatus(ctx context.Context, w *entity.WorkflowState, expected workflow.RunStatus) error {
	errorDetails, err := toJSON(w.ErrorDetails)
	if err != nil {
		return err
	}
	metadata, err := toJSON(w.Metadata)
	if err != nil {
		return err
	}
	config, err := toJSON(w.Config)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_states SET
			workflow_status = ?,
			config = ?,
			metadata = ?,
			error_details = ?,
			updated_at = ?
		WHERE id = ? AND workflow_status = ?
	`

	var affected int64
	err = r.db.Run(ctx, "workflows.transition", func(ctx context.Context, ex sqlite.Executor) error {
		result, err := ex.ExecContext(ctx, query,
			w.WorkflowStatus,
			config,
			metadata,
			errorDetails,
			w.UpdatedAt,
			w.ID,
			expected,
		)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		r.logger.Error("Failed to transition workflow", zap.String("id", w.ID), zap.Error(err))
		return fmt.Errorf("failed to transition workflow: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("workflow %s expected %s: %w", w.ID, expected, port.ErrStatusConflict)
	}

	r.logger.Debug("Workflow status changed",
		zap.String("id", w.ID),
		zap.String("from", expected.String()),
		zap.String("to", w.WorkflowStatus.String()),
	)
	return nil
}

// ListByStatus returns runs in a status, oldest first
func (r *WorkflowRepository) ListByStatus(ctx context.Context, status workflow.RunStatus) ([]*entity.WorkflowState, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflow_states WHERE workflow_status = ? ORDER BY created_at, id`

	var out []*entity.WorkflowState
	err := r.db.Run(ctx, "workflows.list", func(ctx context.Context, ex sqlite.Executor) error {
		rows, err := ex.QueryContext(ctx, query, status)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]*entity.WorkflowState, 0)
		for rows.Next() {
			w, err := scanWorkflow(rows)
			if err != nil {
				return err
			}
			out = append(out, w)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("Failed to list workflows", zap.String("status", status.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return out, nil
}

func scanWorkflow(row rowScanner) (*entity.WorkflowState, error) {
	var w entity.WorkflowState
	var steps, errorDetails, metadata, config, checkpoint sql.NullString

	err := row.Scan(
		&w.ID,
		&w.BatchID,
		&w.CurrentStep,
		&steps,
		&w.TotalTransactions,
		&w.ProcessedTransactions,
		&w.FailedTransactions,
		&w.TotalAmount,
		&w.WorkflowStatus,
		&w.HumanApprovalRequired,
		&errorDetails,
		&metadata,
		&config,
		&checkpoint,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := fromJSON(steps, &w.Steps); err != nil {
		return nil, err
	}
	if errorDetails.Valid {
		w.ErrorDetails = &entity.WorkflowError{}
		if err := fromJSON(errorDetails, w.ErrorDetails); err != nil {
			return nil, err
		}
	}
	if err := fromJSON(metadata, &w.Metadata); err != nil {
		return nil, err
	}
	if err := fromJSON(config, &w.Config); err != nil {
		return nil, err
	}
	if err := fromJSON(checkpoint, &w.Checkpoint); err != nil {
		return nil, err
	}
	return &w, nil
}

// Verify interface compliance
var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
