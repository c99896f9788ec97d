package service

import (
	"context"
	"fmt"

	"github.com/garyjia/cash-clearing/internal/application/approval"
	"github.com/garyjia/cash-clearing/internal/application/port"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
	// maxExportRows bounds one spreadsheet export
	maxExportRows = 10000
)

// AuditPage is one page of audit entries
type AuditPage struct {
	Entries []*entity.AuditEntry `json:"entries"`
	Count   int                  `json:"count"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

// AuditExport is a rendered audit document ready to download
type AuditExport struct {
	Filename    string
	ContentType string
	Content     []byte
	Rows        int
}

// AuditService reads the audit log
type AuditService interface {
	GetAuditLog(ctx context.Context, filter entity.AuditFilter) *Result
	ExportAuditLog(ctx context.Context, filter entity.AuditFilter) (*AuditExport, error)
}

type auditServiceImpl struct {
	auditRepo port.AuditRepository
	exporter  port.AuditExporter
	logger    Logger
}

// NewAuditService creates a new AuditService. exporter may be nil when export is disabled.
func NewAuditService(auditRepo port.AuditRepository, exporter port.AuditExporter, logger Logger) AuditService {
	return &auditServiceImpl{
		auditRepo: auditRepo,
		exporter:  exporter,
		logger:    logger,
	}
}

// GetAuditLog returns audit entries matching filter, newest first
func (s *auditServiceImpl) GetAuditLog(ctx context.Context, filter entity.AuditFilter) *Result {
	if err := normalizeAuditFilter(&filter, defaultAuditLimit, maxAuditLimit); err != nil {
		return ErrorResult(err)
	}

	entries, err := s.auditRepo.List(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to list audit entries", "error", err, "workflow_id", filter.WorkflowID)
		return ErrorResult(fmt.Errorf("list audit entries: %w", err))
	}
	if entries == nil {
		entries = []*entity.AuditEntry{}
	}

	return succeeded(&AuditPage{
		Entries: entries,
		Count:   len(entries),
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, fmt.Sprintf("%d audit entries", len(entries)))
}

// ExportAuditLog renders every entry matching filter into the exporter's format
func (s *auditServiceImpl) ExportAuditLog(ctx context.Context, filter entity.AuditFilter) (*AuditExport, error) {
	if s.exporter == nil {
		return nil, fmt.Errorf("audit export is not configured")
	}
	if filter.Limit == 0 {
		filter.Limit = maxExportRows
	}
	if err := normalizeAuditFilter(&filter, maxExportRows, maxExportRows); err != nil {
		return nil, err
	}

	entries, err := s.auditRepo.List(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to list audit entries for export", "error", err)
		return nil, fmt.Errorf("list audit entries: %w", err)
	}

	content, err := s.exporter.ExportAudit(entries)
	if err != nil {
		s.logger.Error("Failed to render audit export", "error", err, "rows", len(entries))
		return nil, fmt.Errorf("render audit export: %w", err)
	}

	name := "audit"
	if filter.WorkflowID != "" {
		name += "_" + filter.WorkflowID
	}

	s.logger.Info("Audit log exported", "rows", len(entries), "bytes", len(content))

	return &AuditExport{
		Filename:    name + s.exporter.FileExtension(),
		ContentType: s.exporter.ContentType(),
		Content:     content,
		Rows:        len(entries),
	}, nil
}

func normalizeAuditFilter(filter *entity.AuditFilter, defaultLimit, maxLimit int) error {
	ve := &approval.ValidationError{Message: "invalid audit filter"}
	if filter.Limit < 0 || filter.Limit > maxLimit {
		ve.Fields = append(ve.Fields, approval.FieldError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", maxLimit)})
	}
	if filter.Offset < 0 {
		ve.Fields = append(ve.Fields, approval.FieldError{Field: "offset", Message: "must not be negative"})
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		ve.Fields = append(ve.Fields, approval.FieldError{Field: "from", Message: "must not be after to"})
	}
	if len(ve.Fields) > 0 {
		return ve
	}
	if filter.Limit == 0 {
		filter.Limit = defaultLimit
	}
	return nil
}
