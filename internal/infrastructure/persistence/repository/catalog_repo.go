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

// CatalogRepository implements port.CatalogRepository
type CatalogRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *sqlite.DB, logger *zap.Logger) port.CatalogRepository {
	return &CatalogRepository{
		db:     db,
		logger: logger,
	}
}

// ListPatterns returns every pattern, highest priority first
func (r *CatalogRepository) ListPatterns(ctx context.Context) ([]*entity.Pattern, error) {
	query := `
		SELECT id, name, type, expression, min_amount, max_amount, priority, gl_account_codes, active
		FROM patterns
		ORDER BY priority DESC, id
	`

	var patterns []*entity.Pattern
	err := r.db.Run(ctx, "catalog.list_patterns", func(ctx context.Context, ex sqlite.Executor) error {
		rows, err := ex.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		patterns = make([]*entity.Pattern, 0)
		for rows.Next() {
			var p entity.Pattern
			var minAmount, maxAmount sql.NullFloat64
			var codes sql.NullString
			if err := rows.Scan(
				&p.ID,
				&p.Name,
				&p.Type,
				&p.Expression,
				&minAmount,
				&maxAmount,
				&p.Priority,
				&codes,
				&p.Active,
			); err != nil {
				return err
			}
			p.MinAmount = floatPtr(minAmount)
			p.MaxAmount = floatPtr(maxAmount)
			if err := fromJSON(codes, &p.GLAccountCodes); err != nil {
				return fmt.Errorf("pattern %s: %w", p.ID, err)
			}
			patterns = append(patterns, &p)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("Failed to list patterns", zap.Error(err))
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	return patterns, nil
}

// ListGLAccounts returns the chart of accounts ordered by code
func (r *CatalogRepository) ListGLAccounts(ctx context.Context) ([]*entity.GLAccount, error) {
	query := `
		SELECT code, name, debit_credit, category, auto_approve_threshold
		FROM gl_accounts
		ORDER BY code
	`

	var accounts []*entity.GLAccount
	err := r.db.Run(ctx, "catalog.list_accounts", func(ctx context.Context, ex sqlite.Executor) error {
		rows, err := ex.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		accounts = make([]*entity.GLAccount, 0)
		for rows.Next() {
			var a entity.GLAccount
			if err := rows.Scan(&a.Code, &a.Name, &a.DebitCredit, &a.Category, &a.AutoApproveThreshold); err != nil {
				return err
			}
			accounts = append(accounts, &a)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("Failed to list GL accounts", zap.Error(err))
		return nil, fmt.Errorf("failed to list gl accounts: %w", err)
	}
	return accounts, nil
}

// SavePattern inserts or replaces a pattern
func (r *CatalogRepository) SavePattern(ctx context.Context, p *entity.Pattern) error {
	codes, err := toJSON(p.GLAccountCodes)
	if err != nil {
		return err
	}
	if !codes.Valid {
		codes = sql.NullString{String: "[]", Valid: true}
	}

	query := `
		INSERT INTO patterns (id, name, type, expression, min_amount, max_amount, priority, gl_account_codes, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			expression = excluded.expression,
			min_amount = excluded.min_amount,
			max_amount = excluded.max_amount,
			priority = excluded.priority,
			gl_account_codes = excluded.gl_account_codes,
			active = excluded.active
	`

	err = r.db.Run(ctx, "catalog.save_pattern", func(ctx context.Context, ex sqlite.Executor) error {
		_, err := ex.ExecContext(ctx, query,
			p.ID,
			p.Name,
			p.Type,
			p.Expression,
			nullFloat(p.MinAmount),
			nullFloat(p.MaxAmount),
			p.Priority,
			codes,
			p.Active,
		)
		return err
	})
	if err != nil {
		r.logger.Error("Failed to save pattern", zap.String("id", p.ID), zap.Error(err))
		return fmt.Errorf("failed to save pattern: %w", err)
	}
	return nil
}

// SaveGLAccount inserts or replaces an account
func (r *CatalogRepository) SaveGLAccount(ctx context.Context, a *entity.GLAccount) error {
	query := `
		INSERT INTO gl_accounts (code, name, debit_credit, category, auto_approve_threshold)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			debit_credit = excluded.debit_credit,
			category = excluded.category,
			auto_approve_threshold = excluded.auto_approve_threshold
	`

	err := r.db.Run(ctx, "catalog.save_account", func(ctx context.Context, ex sqlite.Executor) error {
		_, err := ex.ExecContext(ctx, query, a.Code, a.Name, a.DebitCredit, a.Category, a.AutoApproveThreshold)
		return err
	})
	if err != nil {
		r.logger.Error("Failed to save GL account", zap.String("code", a.Code), zap.Error(err))
		return fmt.Errorf("failed to save gl account: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ port.CatalogRepository = (*CatalogRepository)(nil)
