package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/cash-clearing/internal/application/approval"
	"github.com/garyjia/cash-clearing/internal/application/service"
	"github.com/garyjia/cash-clearing/internal/application/workflow"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

type fakeApprovalService struct {
	approveReq approval.ApproveRequest
	rejectReq  approval.RejectRequest
	batchReq   service.BatchDecisionRequest
	result     *service.Result
}

func (f *fakeApprovalService) ApproveSuggestion(ctx context.Context, req approval.ApproveRequest) *service.Result {
	f.approveReq = req
	return f.result
}

func (f *fakeApprovalService) RejectSuggestion(ctx context.Context, req approval.RejectRequest) *service.Result {
	f.rejectReq = req
	return f.result
}

func (f *fakeApprovalService) BatchApproveOrReject(ctx context.Context, req service.BatchDecisionRequest) *service.Result {
	f.batchReq = req
	return f.result
}

type fakeWorkflowService struct {
	startReq  workflow.StartRequest
	pauseReq  workflow.PauseRequest
	resumeReq workflow.ResumeRequest
	statusID  string
	result    *service.Result
}

func (f *fakeWorkflowService) StartWorkflow(ctx context.Context, req workflow.StartRequest) *service.Result {
	f.startReq = req
	return f.result
}

func (f *fakeWorkflowService) PauseWorkflow(ctx context.Context, req workflow.PauseRequest) *service.Result {
	f.pauseReq = req
	return f.result
}

func (f *fakeWorkflowService) ResumeWorkflow(ctx context.Context, req workflow.ResumeRequest) *service.Result {
	f.resumeReq = req
	return f.result
}

func (f *fakeWorkflowService) GetWorkflowStatus(ctx context.Context, batchID string) *service.Result {
	f.statusID = batchID
	return f.result
}

type fakeAuditService struct {
	filter entity.AuditFilter
	result *service.Result
	export *service.AuditExport
	err    error
}

func (f *fakeAuditService) GetAuditLog(ctx context.Context, filter entity.AuditFilter) *service.Result {
	f.filter = filter
	return f.result
}

func (f *fakeAuditService) ExportAuditLog(ctx context.Context, filter entity.AuditFilter) (*service.AuditExport, error) {
	f.filter = filter
	return f.export, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(ctx context.Context) error { return p.err }

type fakeMetrics struct{ requests int }

func (m *fakeMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.requests++
		c.Next()
	}
}

func (m *fakeMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("cash_clearing_up 1\n"))
	})
}

type testServer struct {
	server    *Server
	approvals *fakeApprovalService
	workflows *fakeWorkflowService
	audit     *fakeAuditService
	metrics   *fakeMetrics
}

func newTestServer(store Pinger) *testServer {
	ok := &service.Result{Success: true, Message: "ok"}
	ts := &testServer{
		approvals: &fakeApprovalService{result: ok},
		workflows: &fakeWorkflowService{result: ok},
		audit:     &fakeAuditService{result: ok},
		metrics:   &fakeMetrics{},
	}
	cfg := DefaultServerConfig()
	cfg.Mode = gin.TestMode
	ts.server = NewServer(cfg, Services{
		Approval: ts.approvals,
		Workflow: ts.workflows,
		Audit:    ts.audit,
	}, ts.metrics, store, nopLogger{})
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) service.Result {
	t.Helper()
	var res service.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(fakePinger{})
	rec := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	ts = newTestServer(fakePinger{err: errors.New("database is locked")})
	rec = ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"unreachable"`)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(nil)
	rec := ts.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cash_clearing_up 1")
	assert.Equal(t, 1, ts.metrics.requests)
}

func TestApproveSuggestion_MapsBody(t *testing.T) {
	ts := newTestServer(nil)
	rec := ts.do(http.MethodPost, "/api/v1/suggestions/s-1/approve",
		`{"approver_id":"alice","reason":"looks right","overrides":{"account_code":"1020"}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s-1", ts.approvals.approveReq.SuggestionID)
	assert.Equal(t, "alice", ts.approvals.approveReq.ActorID)
	assert.Equal(t, "looks right", ts.approvals.approveReq.Reason)
	require.NotNil(t, ts.approvals.approveReq.Overrides)
	require.NotNil(t, ts.approvals.approveReq.Overrides.AccountCode)
	assert.Equal(t, "1020", *ts.approvals.approveReq.Overrides.AccountCode)
}

func TestRejectSuggestion_MapsBody(t *testing.T) {
	ts := newTestServer(nil)
	rec := ts.do(http.MethodPost, "/api/v1/suggestions/s-2/reject",
		`{"approver_id":"bob","reason":"wrong account","category":"INCORRECT_GL_MAPPING","schedule_reprocess":true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s-2", ts.approvals.rejectReq.SuggestionID)
	assert.Equal(t, approval.RejectIncorrectGLMapping, ts.approvals.rejectReq.Category)
	assert.True(t, ts.approvals.rejectReq.ScheduleReprocess)
}

func TestBatchDecision_MapsBody(t *testing.T) {
	ts := newTestServer(nil)
	rec := ts.do(http.MethodPost, "/api/v1/suggestions/batch",
		`{"suggestion_ids":["s-1","s-2"],"action":"APPROVE","approver_id":"alice","allow_partial_failure":true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"s-1", "s-2"}, ts.approvals.batchReq.SuggestionIDs)
	assert.Equal(t, service.BatchApprove, ts.approvals.batchReq.Action)
	assert.True(t, ts.approvals.batchReq.AllowPartialFailure)
}

func TestErrorKindsMapToStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &approval.ValidationError{Message: "approver_id is required"}, http.StatusBadRequest},
		{"not found", approval.ErrNotFound, http.StatusNotFound},
		{"invalid state", approval.ErrInvalidState, http.StatusConflict},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(nil)
			ts.approvals.result = service.ErrorResult(tt.err)

			rec := ts.do(http.MethodPost, "/api/v1/suggestions/s-1/approve", `{"approver_id":"alice"}`)
			assert.Equal(t, tt.want, rec.Code)

			res := decode(t, rec)
			assert.False(t, res.Success)
			require.NotNil(t, res.Error)
			assert.NotContains(t, res.Message, "disk on fire")
		})
	}
}

func TestMalformedBodyIsValidationError(t *testing.T) {
	ts := newTestServer(nil)
	rec := ts.do(http.MethodPost, "/api/v1/suggestions/s-1/approve", `{"approver_id":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	res := decode(t, rec)
	require.NotNil(t, res.Error)
	assert.Equal(t, service.KindValidation, res.Error.Kind)
	assert.Empty(t, ts.approvals.approveReq.SuggestionID)
}

func TestStartWorkflow_Accepted(t *testing.T) {
	ts := newTestServer(nil)
	rec := ts.do(http.MethodPost, "/api/v1/workflows",
		`{"batch_id":"b-1","config":{"batch_size":25,"require_human_approval":true}}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "b-1", ts.workflows.startReq.BatchID)
	require.NotNil(t, ts.workflows.startReq.Overrides)
	assert.Equal(t, 25, *ts.workflows.startReq.Overrides.BatchSize)
	assert.True(t, *ts.workflows.startReq.Overrides.RequireHumanApproval)
}

func TestStartWorkflow_EmptyBody(t *testing.T) {
	ts := newTestServer(nil)
	rec := ts.do(http.MethodPost, "/api/v1/workflows", "")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, ts.workflows.startReq.BatchID)
	assert.Nil(t, ts.workflows.startReq.Overrides)
}

func TestWorkflowControlRoutes(t *testing.T) {
	ts := newTestServer(nil)

	rec := ts.do(http.MethodPost, "/api/v1/workflows/b-1/pause", `{"reason":"month end","actor_id":"ops","save_state":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, workflow.PauseRequest{BatchID: "b-1", Reason: "month end", ActorID: "ops", SaveState: true}, ts.workflows.pauseReq)

	rec = ts.do(http.MethodPost, "/api/v1/workflows/b-1/resume", `{"actor_id":"ops","from_step":3}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "b-1", ts.workflows.resumeReq.BatchID)
	require.NotNil(t, ts.workflows.resumeReq.FromStep)
	assert.Equal(t, 3, *ts.workflows.resumeReq.FromStep)

	ts.workflows.result = service.ErrorResult(workflow.ErrWorkflowNotFound)
	rec = ts.do(http.MethodGet, "/api/v1/workflows/b-9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "b-9", ts.workflows.statusID)
}

func TestGetAuditLog_BindsQuery(t *testing.T) {
	ts := newTestServer(nil)
	rec := ts.do(http.MethodGet, "/api/v1/audit?workflow_id=wf-1&action_type=APPROVED&limit=10&from=2026-10-01T00:00:00Z", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "wf-1", ts.audit.filter.WorkflowID)
	assert.Equal(t, entity.AuditApproved, ts.audit.filter.ActionType)
	assert.Equal(t, 10, ts.audit.filter.Limit)
	require.NotNil(t, ts.audit.filter.From)
	assert.Equal(t, 2026, ts.audit.filter.From.Year())
}

func TestGetAuditLog_BadQuery(t *testing.T) {
	ts := newTestServer(nil)
	rec := ts.do(http.MethodGet, "/api/v1/audit?limit=ten", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportAuditLog(t *testing.T) {
	ts := newTestServer(nil)
	ts.audit.export = &service.AuditExport{
		Filename:    "audit_wf-1.xlsx",
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Content:     []byte("PK\x03\x04"),
		Rows:        1,
	}

	rec := ts.do(http.MethodGet, "/api/v1/audit/export?workflow_id=wf-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="audit_wf-1.xlsx"`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
	assert.Equal(t, "PK\x03\x04", rec.Body.String())

	ts.audit.err = errors.New("list audit entries: store unavailable")
	rec = ts.do(http.MethodGet, "/api/v1/audit/export", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
