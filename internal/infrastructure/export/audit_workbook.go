package export

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/cash-clearing/internal/application/port"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
)

const (
	auditSheet   = "Audit Log"
	summarySheet = "Summary"

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var auditHeader = []interface{}{
	"Timestamp", "Action", "Actor", "Workflow ID", "Transaction ID", "Suggestion ID",
	"Step", "Confidence", "Processing (ms)", "Input", "Output", "Error",
}

// AuditWorkbook implements port.AuditExporter with an xlsx workbook
type AuditWorkbook struct {
	logger *zap.Logger
}

// NewAuditWorkbook creates a new xlsx audit exporter
func NewAuditWorkbook(logger *zap.Logger) *AuditWorkbook {
	return &AuditWorkbook{logger: logger}
}

// ContentType returns the xlsx MIME type
func (w *AuditWorkbook) ContentType() string {
	return xlsxContentType
}

// FileExtension returns the file extension including the dot
func (w *AuditWorkbook) FileExtension() string {
	return ".xlsx"
}

// ExportAudit writes one row per entry plus a per-action summary sheet
func (w *AuditWorkbook) ExportAudit(entries []*entity.AuditEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", auditSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := w.writeAuditRows(f, entries, headerStyle); err != nil {
		return nil, err
	}
	if err := w.writeSummary(f, entries, headerStyle); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	w.logger.Info("Audit workbook exported",
		zap.Int("rows", len(entries)),
		zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

func (w *AuditWorkbook) writeAuditRows(f *excelize.File, entries []*entity.AuditEntry, headerStyle int) error {
	if err := f.SetSheetRow(auditSheet, "A1", &auditHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(auditHeader))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(auditSheet, "A1", lastCol+"1", headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, e := range entries {
		var confidence interface{}
		if e.ConfidenceScore != nil {
			confidence = *e.ConfidenceScore
		}
		row := []interface{}{
			e.Timestamp.UTC().Format(time.RFC3339),
			string(e.ActionType),
			e.ActorID,
			e.WorkflowID,
			e.TransactionID,
			e.SuggestionID,
			e.StepNumber,
			confidence,
			e.ProcessingTimeMS,
			compactJSON(e.InputData),
			compactJSON(e.OutputData),
			compactJSON(e.ErrorDetails),
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(auditSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(auditSheet, "A", "I", 20); err != nil {
		w.logger.Warn("Failed to set column width", zap.Error(err))
	}
	if err := f.SetColWidth(auditSheet, "J", lastCol, 45); err != nil {
		w.logger.Warn("Failed to set column width", zap.Error(err))
	}
	if err := f.SetPanes(auditSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		w.logger.Warn("Failed to freeze header row", zap.Error(err))
	}
	return nil
}

func (w *AuditWorkbook) writeSummary(f *excelize.File, entries []*entity.AuditEntry, headerStyle int) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	counts := make(map[entity.AuditAction]int)
	for _, e := range entries {
		counts[e.ActionType]++
	}
	actions := make([]string, 0, len(counts))
	for a := range counts {
		actions = append(actions, string(a))
	}
	sort.Strings(actions)

	header := []interface{}{"Action", "Count"}
	if err := f.SetSheetRow(summarySheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write summary header: %w", err)
	}
	if err := f.SetCellStyle(summarySheet, "A1", "B1", headerStyle); err != nil {
		return fmt.Errorf("failed to style summary header: %w", err)
	}

	row := 2
	for _, a := range actions {
		values := []interface{}{a, counts[entity.AuditAction(a)]}
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", row), &values); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}
		row++
	}
	total := []interface{}{"TOTAL", len(entries)}
	if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", row), &total); err != nil {
		return fmt.Errorf("failed to write summary total: %w", err)
	}
	return nil
}

func compactJSON(v map[string]interface{}) string {
	if len(v) == 0 {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// Verify interface compliance
var _ port.AuditExporter = (*AuditWorkbook)(nil)
