package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/cash-clearing/internal/domain/entity"
)

func TestExportAudit_WritesRowsAndSummary(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	score := 0.93
	entries := []*entity.AuditEntry{
		{
			ID: "a-1", WorkflowID: "wf-1", SuggestionID: "s-1", StepNumber: 4,
			ActionType: entity.AuditApproved, ActorID: "alice", ConfidenceScore: &score,
			ProcessingTimeMS: 120, OutputData: map[string]interface{}{"status": "APPROVED"}, Timestamp: ts,
		},
		{ID: "a-2", WorkflowID: "wf-1", ActionType: entity.AuditApproved, ActorID: "bob", Timestamp: ts.Add(time.Minute)},
		{ID: "a-3", WorkflowID: "wf-1", ActionType: entity.AuditError, ActorID: entity.SystemActor, Timestamp: ts.Add(2 * time.Minute)},
	}

	workbook := NewAuditWorkbook(zap.NewNop())
	data, err := workbook.ExportAudit(entries)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{auditSheet, summarySheet}, f.GetSheetList())

	rows, err := f.GetRows(auditSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Timestamp", rows[0][0])
	assert.Equal(t, "2024-03-01T09:30:00Z", rows[1][0])
	assert.Equal(t, "APPROVED", rows[1][1])
	assert.Equal(t, "alice", rows[1][2])
	assert.Equal(t, "0.93", rows[1][7])
	assert.Equal(t, "120", rows[1][8])
	assert.Equal(t, `{"status":"APPROVED"}`, rows[1][10])

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	require.Len(t, summary, 4)
	assert.Equal(t, []string{"APPROVED", "2"}, summary[1])
	assert.Equal(t, []string{"ERROR", "1"}, summary[2])
	assert.Equal(t, []string{"TOTAL", "3"}, summary[3])
}

func TestExportAudit_EmptyLog(t *testing.T) {
	workbook := NewAuditWorkbook(zap.NewNop())
	data, err := workbook.ExportAudit(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(auditSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, ".xlsx", workbook.FileExtension())
	assert.Contains(t, workbook.ContentType(), "spreadsheetml")
}
