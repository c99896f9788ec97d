package recovery

import (
	"fmt"

	"github.com/garyjia/cash-clearing/internal/domain/failure"
)

// ReviewQueue is the queue quarantined items are routed to
const ReviewQueue = "review_queue"

// Advisor turns a classification into a recovery strategy
type Advisor struct {
	defaultBatchSize int
}

// NewAdvisor creates an advisor. defaultBatchSize is halved when the context
// carries no batch size and a smaller batch is recommended.
func NewAdvisor(defaultBatchSize int) *Advisor {
	if defaultBatchSize <= 0 {
		defaultBatchSize = 100
	}
	return &Advisor{defaultBatchSize: defaultBatchSize}
}

// Recommend builds immediate, short-term and long-term actions for c
func (a *Advisor) Recommend(c failure.Classification, opCtx failure.OperationalContext) failure.Strategy {
	var s failure.Strategy

	if c.ShouldRetry() {
		s.Immediate = append(s.Immediate, failure.Action{
			Type:        failure.ActionAutomaticRetry,
			Description: fmt.Sprintf("Retry up to %d times with %s backoff", c.MaxRetries, c.Backoff),
			MaxRetries:  c.MaxRetries,
			Backoff:     c.Backoff,
			Delays:      Delays(c.Backoff, c.MaxRetries),
		})
	}

	if c.RequiresEscalation() {
		policy := c.Severity.Policy()
		s.Immediate = append(s.Immediate, failure.Action{
			Type:        failure.ActionEscalateToOperations,
			Description: fmt.Sprintf("Escalate %s severity %s/%s to operations within %s", c.Severity, c.Category, c.Subcategory, policy.SLA),
			Severity:    c.Severity,
			SLA:         policy.SLA,
		})
	}

	switch c.Category {
	case failure.CategoryAIProcessing:
		s.ShortTerm = append(s.ShortTerm, failure.Action{
			Type:        failure.ActionFallbackRuleBased,
			Description: "Fall back to rule-based pattern matching and GL selection",
		})
	case failure.CategorySystemInfrastructure:
		size := opCtx.BatchSize
		if size <= 0 {
			size = a.defaultBatchSize
		}
		reduced := max(size/2, 1)
		s.ShortTerm = append(s.ShortTerm, failure.Action{
			Type:        failure.ActionReduceBatchSize,
			Description: fmt.Sprintf("Reduce batch size from %d to %d", size, reduced),
			BatchSize:   reduced,
		})
	case failure.CategoryDataValidation:
		s.ShortTerm = append(s.ShortTerm, failure.Action{
			Type:        failure.ActionQuarantineItem,
			Description: "Quarantine the offending item for manual review instead of failing the batch",
			Queue:       ReviewQueue,
		})
	}

	s.LongTerm = append(s.LongTerm, failure.Action{
		Type: failure.ActionAnalyzeErrorPattern,
		Description: fmt.Sprintf("Analyze %s/%s for a systemic fix (frequency %s, %d occurrences)",
			c.Category, c.Subcategory, c.Frequency.Level, c.Frequency.Count),
	})

	return s
}
