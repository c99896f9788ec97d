package entity

import "time"

// ItemStatus is the outcome of one item in a batch
type ItemStatus string

const (
	ItemSuccess ItemStatus = "SUCCESS"
	ItemFailed  ItemStatus = "FAILED"
	ItemSkipped ItemStatus = "SKIPPED"
)

// SkipReasonStopped is recorded on items skipped after a stop-on-first-error failure
const SkipReasonStopped = "stopped due to error in batch"

// ItemResult records what happened to one batch item
type ItemResult struct {
	ItemID         string     `json:"item_id"`
	Status         ItemStatus `json:"status"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	NewStatus      string     `json:"new_status,omitempty"`
	Error          string     `json:"error,omitempty"`
	Category       string     `json:"category,omitempty"`
	Subcategory    string     `json:"subcategory,omitempty"`
	DurationMS     int64      `json:"duration_ms"`
}

// BatchFailure summarizes one failed item
type BatchFailure struct {
	ItemID      string `json:"item_id"`
	Error       string `json:"error"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	// RecommendedActions lists the recovery actions advised for the failure, most urgent first
	RecommendedActions []string `json:"recommended_actions,omitempty"`
}

// BatchResult aggregates the outcome of a batch run.
// Total always equals Successful + Failed + Skipped.
type BatchResult struct {
	BatchID     string         `json:"batch_id"`
	Total       int            `json:"total"`
	Successful  int            `json:"successful"`
	Failed      int            `json:"failed"`
	Skipped     int            `json:"skipped"`
	Items       []ItemResult   `json:"items"`
	Failures    []BatchFailure `json:"failures"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	DurationMS  int64          `json:"duration_ms"`
}
