package service

import (
	"context"
	"fmt"

	"github.com/garyjia/cash-clearing/internal/application/dispatcher"
	"github.com/garyjia/cash-clearing/internal/application/port"
	"github.com/garyjia/cash-clearing/internal/domain/event"
	"github.com/garyjia/cash-clearing/internal/domain/failure"
)

// NotificationService relays operator-facing events to the notification sink
type NotificationService interface {
	// Register subscribes the service to the events it relays
	Register(d dispatcher.Dispatcher)
	NotifyEscalation(ctx context.Context, evt *event.Event) error
	NotifyWorkflowFailed(ctx context.Context, evt *event.Event) error
	NotifyApprovalRequired(ctx context.Context, evt *event.Event) error
}

type notificationServiceImpl struct {
	notifier port.Notifier
	logger   Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(notifier port.Notifier, logger Logger) NotificationService {
	return &notificationServiceImpl{
		notifier: notifier,
		logger:   logger,
	}
}

// Register subscribes the service to the events it relays
func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeErrorEscalated, "notify_escalation", s.NotifyEscalation)
	d.SubscribeNamed(event.TypeWorkflowFailed, "notify_workflow_failed", s.NotifyWorkflowFailed)
	d.SubscribeNamed(event.TypeWorkflowCompleted, "notify_approval_required", s.NotifyApprovalRequired)
}

// NotifyEscalation sends an escalated error to operations
func (s *notificationServiceImpl) NotifyEscalation(ctx context.Context, evt *event.Event) error {
	severity := failure.Severity(evt.GetPayloadInt("severity"))

	fields := map[string]string{
		"batch_id":    evt.BatchID,
		"workflow_id": evt.GetPayloadString("workflow_id"),
		"category":    evt.GetPayloadString("category"),
		"subcategory": evt.GetPayloadString("subcategory"),
		"impact":      evt.GetPayloadString("impact"),
		"step":        fmt.Sprintf("%d", evt.GetPayloadInt("step")),
	}
	if sla := evt.GetPayloadString("sla"); sla != "" {
		fields["sla"] = sla
	}
	if txnID := evt.GetPayloadString("transaction_id"); txnID != "" {
		fields["transaction_id"] = txnID
	}

	s.send(ctx, evt, port.Notification{
		Title:    fmt.Sprintf("[%s] %s escalated", severity, evt.GetPayloadString("subcategory")),
		Body:     evt.GetPayloadString("message"),
		Severity: severity.String(),
		Fields:   fields,
	})
	return nil
}

// NotifyWorkflowFailed reports a failed run
func (s *notificationServiceImpl) NotifyWorkflowFailed(ctx context.Context, evt *event.Event) error {
	s.send(ctx, evt, port.Notification{
		Title:    fmt.Sprintf("Workflow failed for batch %s", evt.BatchID),
		Body:     evt.GetPayloadString("message"),
		Severity: failure.SeverityHigh.String(),
		Fields: map[string]string{
			"batch_id":    evt.BatchID,
			"code":        evt.GetPayloadString("code"),
			"category":    evt.GetPayloadString("category"),
			"subcategory": evt.GetPayloadString("subcategory"),
			"step":        fmt.Sprintf("%d", evt.GetPayloadInt("step")),
		},
	})
	return nil
}

// NotifyApprovalRequired tells reviewers a completed run left suggestions pending
func (s *notificationServiceImpl) NotifyApprovalRequired(ctx context.Context, evt *event.Event) error {
	required, _ := evt.Payload["human_approval_required"].(bool)
	if !required {
		return nil
	}

	s.send(ctx, evt, port.Notification{
		Title: fmt.Sprintf("Batch %s is waiting for review", evt.BatchID),
		Body: fmt.Sprintf("%d of %d transactions produced suggestions; %d failed",
			evt.GetPayloadInt("processed_transactions"),
			evt.GetPayloadInt("total_transactions"),
			evt.GetPayloadInt("failed_transactions"),
		),
		Severity: failure.SeverityInfo.String(),
		Fields: map[string]string{
			"batch_id": evt.BatchID,
		},
	})
	return nil
}

// send is fire-and-forget: delivery failures are logged and never returned
func (s *notificationServiceImpl) send(ctx context.Context, evt *event.Event, n port.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Error("Failed to send notification",
			"error", err,
			"event_type", evt.Type,
			"batch_id", evt.BatchID,
		)
		return
	}

	s.logger.Info("Notification sent",
		"event_type", evt.Type,
		"batch_id", evt.BatchID,
		"severity", n.Severity,
	)
}
