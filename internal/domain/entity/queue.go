package entity

import "time"

// ReviewItem is a transaction quarantined for manual review after a data validation failure
type ReviewItem struct {
	ID            string    `json:"id"`
	WorkflowID    string    `json:"workflow_id"`
	TransactionID string    `json:"transaction_id"`
	Step          int       `json:"step"`
	Reason        string    `json:"reason"`
	Category      string    `json:"category"`
	Subcategory   string    `json:"subcategory"`
	CreatedAt     time.Time `json:"created_at"`
}

// Reprocess priorities, 1 is processed first
const (
	PriorityHigh   = 1
	PriorityMedium = 2
	PriorityLow    = 3
)

// ReprocessItem is a rejected suggestion scheduled for another pipeline pass
type ReprocessItem struct {
	ID                string    `json:"id"`
	SuggestionID      string    `json:"suggestion_id"`
	TransactionID     string    `json:"transaction_id"`
	Priority          int       `json:"priority"`
	AlternativeAction string    `json:"alternative_action"`
	Reason            string    `json:"reason"`
	ScheduledAt       time.Time `json:"scheduled_at"`
}
