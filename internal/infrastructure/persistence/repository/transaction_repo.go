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

const transactionColumns = `id, amount, currency, description, reference, account, status, timestamp`

// TransactionRepository implements port.TransactionRepository
type TransactionRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *sqlite.DB, logger *zap.Logger) port.TransactionRepository {
	return &TransactionRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a transaction. Used by ingestion and seeding.
func (r *TransactionRepository) Create(ctx context.Context, txn *entity.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.db.Run(ctx, "transactions.create", func(ctx context.Context, ex sqlite.Executor) error {
		_, err := ex.ExecContext(ctx, query,
			txn.ID,
			txn.Amount,
			txn.Currency,
			txn.Description,
			txn.Reference,
			txn.Account,
			txn.Status,
			txn.Timestamp,
		)
		return err
	})
	if err != nil {
		r.logger.Error("Failed to create transaction", zap.String("id", txn.ID), zap.Error(err))
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction by ID
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*entity.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	var txn *entity.Transaction
	err := r.db.Run(ctx, "transactions.get", func(ctx context.Context, ex sqlite.Executor) error {
		t, err := scanTransaction(ex.QueryRowContext(ctx, query, id))
		if err == sql.ErrNoRows {
			txn = nil
			return nil
		}
		txn = t
		return err
	})
	if err != nil {
		r.logger.Error("Failed to get transaction", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// GetByIDs retrieves the transactions that exist among ids
func (r *TransactionRepository) GetByIDs(ctx context.Context, ids []string) ([]*entity.Transaction, error) {
	if len(ids) == 0 {
		return []*entity.Transaction{}, nil
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY timestamp, id`
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	txns, err := r.query(ctx, "transactions.get_many", query, args...)
	if err != nil {
		r.logger.Error("Failed to get transactions", zap.Int("count", len(ids)), zap.Error(err))
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	return txns, nil
}

// SelectUnprocessed returns transactions in status that have no suggestion yet, oldest first
func (r *TransactionRepository) SelectUnprocessed(ctx context.Context, status string, limit int) ([]*entity.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions t
		WHERE t.status = ?
			AND NOT EXISTS (SELECT 1 FROM suggestions s WHERE s.transaction_id = t.id)
		ORDER BY t.timestamp, t.id
		LIMIT ?
	`

	txns, err := r.query(ctx, "transactions.select_unprocessed", query, status, limit)
	if err != nil {
		r.logger.Error("Failed to select unprocessed transactions", zap.String("status", status), zap.Error(err))
		return nil, fmt.Errorf("failed to select unprocessed transactions: %w", err)
	}
	return txns, nil
}

func (r *TransactionRepository) query(ctx context.Context, op, query string, args ...interface{}) ([]*entity.Transaction, error) {
	var txns []*entity.Transaction
	err := r.db.Run(ctx, op, func(ctx context.Context, ex sqlite.Executor) error {
		rows, err := ex.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		txns = make([]*entity.Transaction, 0)
		for rows.Next() {
			t, err := scanTransaction(rows)
			if err != nil {
				return err
			}
			txns = append(txns, t)
		}
		return rows.Err()
	})
	return txns, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*entity.Transaction, error) {
	var t entity.Transaction
	err := row.Scan(
		&t.ID,
		&t.Amount,
		&t.Currency,
		&t.Description,
		&t.Reference,
		&t.Account,
		&t.Status,
		&t.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Verify interface compliance
var _ port.TransactionRepository = (*TransactionRepository)(nil)
