package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/cash-clearing/internal/application/approval"
	"github.com/garyjia/cash-clearing/internal/application/service"
	"github.com/garyjia/cash-clearing/internal/application/workflow"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/pkg/utils"
)

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	approvalService service.ApprovalService
	workflowService service.WorkflowService
	auditService    service.AuditService
	store           Pinger
	logger          Logger
}

// NewHandlers creates a new Handlers instance. store may be nil.
func NewHandlers(
	approvalService service.ApprovalService,
	workflowService service.WorkflowService,
	auditService service.AuditService,
	store Pinger,
	logger Logger,
) *Handlers {
	return &Handlers{
		approvalService: approvalService,
		workflowService: workflowService,
		auditService:    auditService,
		store:           store,
		logger:          logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Store     string `json:"store"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// ApproveBody is the body of POST /suggestions/:id/approve
type ApproveBody struct {
	ApproverID string            `json:"approver_id"`
	Reason     string            `json:"reason"`
	Overrides  *entity.Overrides `json:"overrides"`
}

// RejectBody is the body of POST /suggestions/:id/reject
type RejectBody struct {
	ApproverID        string                     `json:"approver_id"`
	Reason            string                     `json:"reason"`
	Category          approval.RejectionCategory `json:"category"`
	AlternativeAction approval.AlternativeAction `json:"alternative_action"`
	ScheduleReprocess bool                       `json:"schedule_reprocess"`
}

// BatchDecisionBody is the body of POST /suggestions/batch
type BatchDecisionBody struct {
	SuggestionIDs       []string                   `json:"suggestion_ids"`
	Action              service.BatchAction        `json:"action"`
	ApproverID          string                     `json:"approver_id"`
	Reason              string                     `json:"reason"`
	Reasons             map[string]string          `json:"reasons"`
	Category            approval.RejectionCategory `json:"category"`
	AlternativeAction   approval.AlternativeAction `json:"alternative_action"`
	ScheduleReprocess   bool                       `json:"schedule_reprocess"`
	AllowPartialFailure bool                       `json:"allow_partial_failure"`
	StopOnFirstError    bool                       `json:"stop_on_first_error"`
}

// StartWorkflowBody is the body of POST /workflows
type StartWorkflowBody struct {
	BatchID  string                     `json:"batch_id"`
	Config   *entity.RunConfigOverrides `json:"config"`
	Metadata map[string]interface{}     `json:"metadata"`
}

// PauseWorkflowBody is the body of POST /workflows/:batchId/pause
type PauseWorkflowBody struct {
	Reason    string `json:"reason"`
	ActorID   string `json:"actor_id"`
	SaveState bool   `json:"save_state"`
}

// ResumeWorkflowBody is the body of POST /workflows/:batchId/resume
type ResumeWorkflowBody struct {
	ActorID  string                     `json:"actor_id"`
	FromStep *int                       `json:"from_step"`
	Config   *entity.RunConfigOverrides `json:"config"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Store:     "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   utils.Version,
	}
	status := http.StatusOK

	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.PingContext(ctx); err != nil {
			h.logger.Error("Health check store ping failed", "error", err)
			response.Status = "degraded"
			response.Store = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, response)
}

// ApproveSuggestion handles POST /api/v1/suggestions/:id/approve
func (h *Handlers) ApproveSuggestion(c *gin.Context) {
	var body ApproveBody
	if !h.bind(c, &body) {
		return
	}

	h.respond(c, h.approvalService.ApproveSuggestion(c.Request.Context(), approval.ApproveRequest{
		SuggestionID: c.Param("id"),
		ActorID:      body.ApproverID,
		Reason:       utils.SanitizeString(body.Reason),
		Overrides:    body.Overrides,
	}))
}

// RejectSuggestion handles POST /api/v1/suggestions/:id/reject
func (h *Handlers) RejectSuggestion(c *gin.Context) {
	var body RejectBody
	if !h.bind(c, &body) {
		return
	}

	h.respond(c, h.approvalService.RejectSuggestion(c.Request.Context(), approval.RejectRequest{
		SuggestionID:      c.Param("id"),
		ActorID:           body.ApproverID,
		Reason:            utils.SanitizeString(body.Reason),
		Category:          body.Category,
		AlternativeAction: body.AlternativeAction,
		ScheduleReprocess: body.ScheduleReprocess,
	}))
}

// BatchDecision handles POST /api/v1/suggestions/batch
func (h *Handlers) BatchDecision(c *gin.Context) {
	var body BatchDecisionBody
	if !h.bind(c, &body) {
		return
	}

	h.respond(c, h.approvalService.BatchApproveOrReject(c.Request.Context(), service.BatchDecisionRequest{
		SuggestionIDs:       body.SuggestionIDs,
		Action:              body.Action,
		ActorID:             body.ApproverID,
		Reason:              utils.SanitizeString(body.Reason),
		Reasons:             body.Reasons,
		Category:            body.Category,
		AlternativeAction:   body.AlternativeAction,
		ScheduleReprocess:   body.ScheduleReprocess,
		AllowPartialFailure: body.AllowPartialFailure,
		StopOnFirstError:    body.StopOnFirstError,
	}))
}

// StartWorkflow handles POST /api/v1/workflows
func (h *Handlers) StartWorkflow(c *gin.Context) {
	var body StartWorkflowBody
	if !h.bind(c, &body) {
		return
	}

	result := h.workflowService.StartWorkflow(c.Request.Context(), workflow.StartRequest{
		BatchID:   body.BatchID,
		Overrides: body.Config,
		Metadata:  body.Metadata,
	})
	if result.Success {
		c.JSON(http.StatusAccepted, result)
		return
	}
	h.respond(c, result)
}

// PauseWorkflow handles POST /api/v1/workflows/:batchId/pause
func (h *Handlers) PauseWorkflow(c *gin.Context) {
	var body PauseWorkflowBody
	if !h.bind(c, &body) {
		return
	}

	h.respond(c, h.workflowService.PauseWorkflow(c.Request.Context(), workflow.PauseRequest{
		BatchID:   c.Param("batchId"),
		Reason:    utils.SanitizeString(body.Reason),
		ActorID:   body.ActorID,
		SaveState: body.SaveState,
	}))
}

// ResumeWorkflow handles POST /api/v1/workflows/:batchId/resume
func (h *Handlers) ResumeWorkflow(c *gin.Context) {
	var body ResumeWorkflowBody
	if !h.bind(c, &body) {
		return
	}

	h.respond(c, h.workflowService.ResumeWorkflow(c.Request.Context(), workflow.ResumeRequest{
		BatchID:   c.Param("batchId"),
		ActorID:   body.ActorID,
		FromStep:  body.FromStep,
		Overrides: body.Config,
	}))
}

// GetWorkflowStatus handles GET /api/v1/workflows/:batchId
func (h *Handlers) GetWorkflowStatus(c *gin.Context) {
	h.respond(c, h.workflowService.GetWorkflowStatus(c.Request.Context(), c.Param("batchId")))
}

// GetAuditLog handles GET /api/v1/audit
func (h *Handlers) GetAuditLog(c *gin.Context) {
	var filter entity.AuditFilter
	if !h.bindQuery(c, &filter) {
		return
	}
	h.respond(c, h.auditService.GetAuditLog(c.Request.Context(), filter))
}

// ExportAuditLog handles GET /api/v1/audit/export
func (h *Handlers) ExportAuditLog(c *gin.Context) {
	var filter entity.AuditFilter
	if !h.bindQuery(c, &filter) {
		return
	}

	export, err := h.auditService.ExportAuditLog(c.Request.Context(), filter)
	if err != nil {
		h.respond(c, service.ErrorResult(err))
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+export.Filename+`"`)
	c.Data(http.StatusOK, export.ContentType, export.Content)
}

// bind decodes an optional JSON body. An empty body leaves v zero-valued.
func (h *Handlers) bind(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		h.logger.Error("Invalid request body", "path", c.FullPath(), "error", err)
		h.respond(c, invalidRequest("invalid request body"))
		return false
	}
	return true
}

func (h *Handlers) bindQuery(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindQuery(v); err != nil {
		h.logger.Error("Invalid query parameters", "path", c.FullPath(), "error", err)
		h.respond(c, invalidRequest("invalid query parameters"))
		return false
	}
	return true
}

// respond writes result with the status code for its error kind
func (h *Handlers) respond(c *gin.Context, result *service.Result) {
	c.JSON(statusFor(result), result)
}

func statusFor(result *service.Result) int {
	if result.Error == nil {
		return http.StatusOK
	}
	switch result.Error.Kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func invalidRequest(msg string) *service.Result {
	return service.ErrorResult(&approval.ValidationError{Message: msg})
}
