package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/domain/event"
	"github.com/garyjia/cash-clearing/internal/domain/failure"
	domainwf "github.com/garyjia/cash-clearing/internal/domain/workflow"
)

func TestRecorder_WorkflowAndSteps(t *testing.T) {
	r := NewRecorder()

	r.ObserveWorkflow(domainwf.RunRunning)
	r.ObserveWorkflow(domainwf.RunCompleted)
	r.ObserveWorkflow(domainwf.RunCompleted)
	r.ObserveStep(entity.StepSelectTransactions, domainwf.StepCompleted, 150*time.Millisecond)
	r.ObserveStep(entity.StepSelectTransactions, domainwf.StepFailed, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.workflowsTotal.WithLabelValues("COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.workflowsTotal.WithLabelValues("RUNNING")))

	name := entity.StepName(entity.StepSelectTransactions)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stepsTotal.WithLabelValues(name, "COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stepsTotal.WithLabelValues(name, "FAILED")))
}

func TestRecorder_BatchAndErrors(t *testing.T) {
	r := NewRecorder()

	r.ObserveBatch(&entity.BatchResult{Total: 5, Successful: 3, Failed: 1, Skipped: 1, DurationMS: 40})
	r.ObserveBatch(nil)
	r.ObserveClassification(failure.Classification{
		Category: failure.CategorySystemInfrastructure,
		Severity: failure.SeverityHigh,
		Source:   failure.SourceBuiltin,
	})

	assert.Equal(t, 3.0, testutil.ToFloat64(r.batchItemsTotal.WithLabelValues("successful")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.batchItemsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.batchItemsTotal.WithLabelValues("skipped")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.errorsTotal))
}

func TestRecorder_HandleEvent(t *testing.T) {
	r := NewRecorder()

	require.NoError(t, r.HandleEvent(context.Background(), &event.Event{Type: event.TypeSuggestionApproved}))
	require.NoError(t, r.HandleEvent(context.Background(), &event.Event{Type: event.TypeSuggestionApproved}))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.eventsTotal.WithLabelValues("suggestion.approved")))
}

func TestRecorder_PoolGaugesAndHandler(t *testing.T) {
	r := NewRecorder()
	r.RegisterPool(func() int { return 3 }, func() int { return 8 })
	r.ObserveWorkflow(domainwf.RunFailed)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "cash_clearing_pool_running_workers 3")
	assert.Contains(t, body, "cash_clearing_pool_capacity 8")
	assert.Contains(t, body, `cash_clearing_workflow_transitions_total{status="FAILED"} 1`)
}

func TestRecorder_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRecorder()

	router := gin.New()
	router.Use(r.Middleware())
	router.GET("/api/v1/workflows/:batch_id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/workflows/b-1", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.requestTotal.WithLabelValues("GET", "/api/v1/workflows/:batch_id", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.requestTotal.WithLabelValues("GET", "unmatched", "404")))
}
