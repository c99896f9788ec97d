package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/cash-clearing/internal/application/port"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/infrastructure/persistence/sqlite"
)

const auditColumns = `
	id, workflow_id, transaction_id, suggestion_id, step_number, action_type, actor_id,
	confidence_score, processing_time_ms, input_data, output_data, error_details, timestamp`

// AuditRepository implements port.AuditRepository. Entries are never updated or deleted.
type AuditRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit log repository
func NewAuditRepository(db *sqlite.DB, logger *zap.Logger) port.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Append writes one audit entry
func (r *AuditRepository) Append(ctx context.Context, e *entity.AuditEntry) error {
	input, err := toJSON(e.InputData)
	if err != nil {
		return err
	}
	output, err := toJSON(e.OutputData)
	if err != nil {
		return err
	}
	errorDetails, err := toJSON(e.ErrorDetails)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_log (` + auditColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = r.db.Run(ctx, "audit.append", func(ctx context.Context, ex sqlite.Executor) error {
		_, err := ex.ExecContext(ctx, query,
			e.ID,
			e.WorkflowID,
			e.TransactionID,
			e.SuggestionID,
			e.StepNumber,
			e.ActionType,
			e.ActorID,
			nullFloat(e.ConfidenceScore),
			e.ProcessingTimeMS,
			input,
			output,
			errorDetails,
			e.Timestamp,
		)
		return err
	})
	if err != nil {
		r.logger.Error("Failed to append audit entry",
			zap.String("workflow_id", e.WorkflowID),
			zap.String("action", string(e.ActionType)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// List returns entries matching filter, newest first
func (r *AuditRepository) List(ctx context.Context, filter entity.AuditFilter) ([]*entity.AuditEntry, error) {
	var conds conditions
	if filter.WorkflowID != "" {
		conds.add("workflow_id = ?", filter.WorkflowID)
	}
	if filter.TransactionID != "" {
		conds.add("transaction_id = ?", filter.TransactionID)
	}
	if filter.SuggestionID != "" {
		conds.add("suggestion_id = ?", filter.SuggestionID)
	}
	if filter.ActionType != "" {
		conds.add("action_type = ?", filter.ActionType)
	}
	if filter.ActorID != "" {
		conds.add("actor_id = ?", filter.ActorID)
	}
	if filter.From != nil {
		conds.add("timestamp >= ?", *filter.From)
	}
	if filter.To != nil {
		conds.add("timestamp <= ?", *filter.To)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + auditColumns + ` FROM audit_log` + conds.where() + ` ORDER BY timestamp DESC, id LIMIT ? OFFSET ?`
	args := append(conds.args, limit, filter.Offset)

	var out []*entity.AuditEntry
	err := r.db.Run(ctx, "audit.list", func(ctx context.Context, ex sqlite.Executor) error {
		rows, err := ex.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]*entity.AuditEntry, 0)
		for rows.Next() {
			e, err := scanAudit(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("Failed to list audit entries", zap.Error(err))
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return out, nil
}

func scanAudit(row rowScanner) (*entity.AuditEntry, error) {
	var e entity.AuditEntry
	var confidence sql.NullFloat64
	var input, output, errorDetails sql.NullString

	err := row.Scan(
		&e.ID,
		&e.WorkflowID,
		&e.TransactionID,
		&e.SuggestionID,
		&e.StepNumber,
		&e.ActionType,
		&e.ActorID,
		&confidence,
		&e.ProcessingTimeMS,
		&input,
		&output,
		&errorDetails,
		&e.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	e.ConfidenceScore = floatPtr(confidence)
	if err := fromJSON(input, &e.InputData); err != nil {
		return nil, err
	}
	if err := fromJSON(output, &e.OutputData); err != nil {
		return nil, err
	}
	if err := fromJSON(errorDetails, &e.ErrorDetails); err != nil {
		return nil, err
	}
	return &e, nil
}

// Verify interface compliance
var _ port.AuditRepository = (*AuditRepository)(nil)
