package failure

import "time"

// ActionType names a recovery action
type ActionType string

const (
	ActionAutomaticRetry       ActionType = "AUTOMATIC_RETRY"
	ActionEscalateToOperations ActionType = "ESCALATE_TO_OPERATIONS"
	ActionFallbackRuleBased    ActionType = "FALLBACK_RULE_BASED"
	ActionReduceBatchSize      ActionType = "REDUCE_BATCH_SIZE"
	ActionQuarantineItem       ActionType = "QUARANTINE_ITEM"
	ActionAnalyzeErrorPattern  ActionType = "ANALYZE_ERROR_PATTERN"
)

// Action is one recommended remediation
type Action struct {
	Type        ActionType      `json:"type"`
	Description string          `json:"description"`
	MaxRetries  int             `json:"max_retries,omitempty"`
	Backoff     BackoffStrategy `json:"backoff_strategy,omitempty"`
	Delays      []time.Duration `json:"delays,omitempty"`
	Severity    Severity        `json:"severity,omitempty"`
	SLA         time.Duration   `json:"sla,omitempty"`
	BatchSize   int             `json:"batch_size,omitempty"`
	Queue       string          `json:"queue,omitempty"`
}

// Strategy groups recommended actions by horizon
type Strategy struct {
	Immediate []Action `json:"immediate"`
	ShortTerm []Action `json:"short_term"`
	LongTerm  []Action `json:"long_term"`
}

// Find returns the first action of the given type across all horizons
func (s Strategy) Find(t ActionType) (Action, bool) {
	for _, group := range [][]Action{s.Immediate, s.ShortTerm, s.LongTerm} {
		for _, a := range group {
			if a.Type == t {
				return a, true
			}
		}
	}
	return Action{}, false
}

// Has reports whether an action of the given type was recommended
func (s Strategy) Has(t ActionType) bool {
	_, ok := s.Find(t)
	return ok
}

// ActionTypes lists every recommended action type, immediate horizon first
func (s Strategy) ActionTypes() []string {
	var out []string
	for _, group := range [][]Action{s.Immediate, s.ShortTerm, s.LongTerm} {
		for _, a := range group {
			out = append(out, string(a.Type))
		}
	}
	return out
}
