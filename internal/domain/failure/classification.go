package failure

import "time"

// Source records which classifier branch produced a classification
type Source string

const (
	SourceCustom    Source = "CUSTOM"
	SourceBuiltin   Source = "BUILTIN"
	SourceHeuristic Source = "HEURISTIC"
)

// NormalizedError is the error reduced to the fields the taxonomy matches on
type NormalizedError struct {
	Name          string `json:"name"`
	Message       string `json:"message"`
	Code          string `json:"code"`
	Step          int    `json:"step"`
	TransactionID string `json:"transaction_id,omitempty"`
	BatchID       string `json:"batch_id,omitempty"`
}

// OperationalContext describes where an error happened and what is at stake
type OperationalContext struct {
	Step           int
	BatchID        string
	TransactionID  string
	BatchSize      int
	TotalAmount    float64
	CustomerFacing bool
	Regulatory     bool
	Now            time.Time
}

// FrequencyLevel flags how often an error key recurs
type FrequencyLevel string

const (
	FrequencyNormal   FrequencyLevel = "NORMAL"
	FrequencyModerate FrequencyLevel = "MODERATE"
	FrequencyHigh     FrequencyLevel = "HIGH"
	FrequencyTrending FrequencyLevel = "TRENDING"
)

// Frequency is the pattern-frequency analysis for one (code, step) key
type Frequency struct {
	Key         string         `json:"key"`
	Count       int            `json:"count"`
	Total       int            `json:"total"`
	Share       float64        `json:"share"`
	RecentCount int            `json:"recent_count"`
	Trending    bool           `json:"trending"`
	Level       FrequencyLevel `json:"level"`
}

// Classification is the result of classifying one error
type Classification struct {
	Error        NormalizedError `json:"error"`
	Category     Category        `json:"category"`
	Subcategory  Subcategory     `json:"subcategory"`
	Severity     Severity        `json:"severity"`
	Retryable    bool            `json:"retryable"`
	MaxRetries   int             `json:"max_retries"`
	Backoff      BackoffStrategy `json:"backoff_strategy"`
	Confidence   float64         `json:"confidence"`
	Source       Source          `json:"source"`
	Impact       BusinessImpact  `json:"business_impact"`
	Frequency    Frequency       `json:"frequency"`
	ClassifiedAt time.Time       `json:"classified_at"`
}

// RequiresEscalation reports whether the severity policy escalates this error
func (c Classification) RequiresEscalation() bool {
	return c.Severity.Policy().Escalate
}

// ShouldRetry reports whether the error may be retried automatically
func (c Classification) ShouldRetry() bool {
	return c.Retryable && c.MaxRetries > 0 && c.Severity.Policy().AutoRetry
}

// Details flattens the classification for audit payloads and error envelopes
func (c Classification) Details() map[string]interface{} {
	return map[string]interface{}{
		"code":        c.Error.Code,
		"message":     c.Error.Message,
		"step":        c.Error.Step,
		"category":    string(c.Category),
		"subcategory": string(c.Subcategory),
		"severity":    int(c.Severity),
		"retryable":   c.Retryable,
		"max_retries": c.MaxRetries,
		"backoff":     string(c.Backoff),
		"confidence":  c.Confidence,
		"impact":      c.Impact.Level.String(),
		"frequency":   string(c.Frequency.Level),
	}
}
