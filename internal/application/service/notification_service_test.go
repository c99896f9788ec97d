package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/cash-clearing/internal/application/dispatcher"
	"github.com/garyjia/cash-clearing/internal/application/port"
	"github.com/garyjia/cash-clearing/internal/domain/event"
	"github.com/garyjia/cash-clearing/internal/domain/failure"
)

type mockNotifier struct {
	mu   sync.Mutex
	sent []port.Notification
	err  error
}

func (m *mockNotifier) Notify(ctx context.Context, n port.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return m.err
}

func escalationEvent() *event.Event {
	cls := failure.Classification{
		Error:       failure.NormalizedError{Code: "STORE_CONNECTION", Message: "connection refused", Step: 1},
		Category:    failure.CategorySystemInfrastructure,
		Subcategory: failure.SubStoreConnection,
		Severity:    failure.SeverityHigh,
	}
	payload := cls.Details()
	payload["workflow_id"] = "wf-1"
	payload["sla"] = "15m0s"
	return event.NewEvent(event.TypeErrorEscalated, "wf-1", "b-1", payload)
}

func TestNotifyEscalation(t *testing.T) {
	notifier := &mockNotifier{}
	svc := NewNotificationService(notifier, nopLogger{})

	require.NoError(t, svc.NotifyEscalation(context.Background(), escalationEvent()))

	require.Len(t, notifier.sent, 1)
	n := notifier.sent[0]
	assert.Equal(t, "HIGH", n.Severity)
	assert.Equal(t, "[HIGH] STORE_CONNECTION escalated", n.Title)
	assert.Equal(t, "connection refused", n.Body)
	assert.Equal(t, "b-1", n.Fields["batch_id"])
	assert.Equal(t, "wf-1", n.Fields["workflow_id"])
	assert.Equal(t, "15m0s", n.Fields["sla"])
	assert.Equal(t, "1", n.Fields["step"])
	assert.NotContains(t, n.Fields, "transaction_id")
}

func TestNotify_DeliveryFailureIsSwallowed(t *testing.T) {
	notifier := &mockNotifier{err: errors.New("lark: 99991663 token expired")}
	svc := NewNotificationService(notifier, nopLogger{})

	assert.NoError(t, svc.NotifyEscalation(context.Background(), escalationEvent()))
	assert.Len(t, notifier.sent, 1)
}

func TestNotifyApprovalRequired_OnlyWhenFlagged(t *testing.T) {
	notifier := &mockNotifier{}
	svc := NewNotificationService(notifier, nopLogger{})

	quiet := event.NewEvent(event.TypeWorkflowCompleted, "wf-1", "b-1", map[string]interface{}{
		"human_approval_required": false,
	})
	require.NoError(t, svc.NotifyApprovalRequired(context.Background(), quiet))
	assert.Empty(t, notifier.sent)

	flagged := event.NewEvent(event.TypeWorkflowCompleted, "wf-1", "b-1", map[string]interface{}{
		"human_approval_required": true,
		"total_transactions":      3,
		"processed_transactions":  2,
		"failed_transactions":     1,
	})
	require.NoError(t, svc.NotifyApprovalRequired(context.Background(), flagged))
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "Batch b-1 is waiting for review", notifier.sent[0].Title)
	assert.Equal(t, "2 of 3 transactions produced suggestions; 1 failed", notifier.sent[0].Body)
}

func TestRegister_RoutesDispatchedEvents(t *testing.T) {
	notifier := &mockNotifier{}
	d := dispatcher.NewDispatcher()
	defer d.Close()

	NewNotificationService(notifier, nopLogger{}).Register(d)

	failed := event.NewEvent(event.TypeWorkflowFailed, "wf-1", "b-1", map[string]interface{}{
		"step":        2,
		"code":        "CONTENT_POLICY",
		"category":    "AI_PROCESSING",
		"subcategory": "CONTENT_POLICY",
		"message":     "content policy violation",
	})
	require.NoError(t, d.Dispatch(context.Background(), failed))
	require.NoError(t, d.Dispatch(context.Background(), escalationEvent()))

	require.Len(t, notifier.sent, 2)
	assert.Equal(t, "Workflow failed for batch b-1", notifier.sent[0].Title)
	assert.Equal(t, "2", notifier.sent[0].Fields["step"])
	assert.Equal(t, "HIGH", notifier.sent[1].Severity)
	assert.Len(t, d.ListHandlers(event.TypeWorkflowCompleted), 1)
}
