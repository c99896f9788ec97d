package port

import (
	"context"

	"github.com/garyjia/cash-clearing/internal/domain/entity"
)

// PatternMatchResult is the oracle's verdict for one transaction
type PatternMatchResult struct {
	TransactionID string
	Match         *entity.PatternMatch
	Reasoning     string
}

// GLSelectionRequest asks the oracle to choose among candidate mappings
type GLSelectionRequest struct {
	Transaction *entity.Transaction
	Match       entity.PatternMatch
	Candidates  []entity.GLMapping
}

// ClassificationOracle is the opaque AI classifier. Calls are slow and fallible.
type ClassificationOracle interface {
	// MatchPatterns returns one result per transaction; Match is nil when nothing fits
	MatchPatterns(ctx context.Context, txns []*entity.Transaction, patterns []*entity.Pattern) ([]PatternMatchResult, error)
	// SelectGLMapping picks one candidate with confidence, approval flag and alternatives
	SelectGLMapping(ctx context.Context, req GLSelectionRequest) (*entity.GLSelection, error)
}

// Notification is a fire-and-forget message to operators
type Notification struct {
	Title    string
	Body     string
	Severity string
	Fields   map[string]string
}

// Notifier delivers notifications. Failures are logged by callers, never propagated.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// AuditExporter renders audit entries into a downloadable document
type AuditExporter interface {
	ExportAudit(entries []*entity.AuditEntry) ([]byte, error)
	ContentType() string
	FileExtension() string
}
