package recovery

import (
	"context"
	"time"

	"github.com/garyjia/cash-clearing/internal/domain/failure"
)

// Outcome describes how a retried operation ended
type Outcome struct {
	Attempts       int
	Classification *failure.Classification
	Strategy       failure.Strategy
}

// Retrier re-runs a failing operation as long as its classification
// recommends an automatic retry
type Retrier struct {
	classifier *Classifier
	advisor    *Advisor
	scale      float64
	sleep      func(ctx context.Context, d time.Duration) error
	logger     Logger
}

// RetrierOption configures a Retrier
type RetrierOption func(*Retrier)

// WithSleep overrides how the retrier waits between attempts
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RetrierOption {
	return func(r *Retrier) {
		r.sleep = sleep
	}
}

// WithRetrierLogger sets a logger for the retrier
func WithRetrierLogger(logger Logger) RetrierOption {
	return func(r *Retrier) {
		r.logger = logger
	}
}

// NewRetrier creates a retrier. scale multiplies every backoff delay; 0 retries immediately.
func NewRetrier(classifier *Classifier, advisor *Advisor, scale float64, opts ...RetrierOption) *Retrier {
	if scale < 0 {
		scale = 0
	}
	r := &Retrier{
		classifier: classifier,
		advisor:    advisor,
		scale:      scale,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Classifier returns the classifier used by the retrier
func (r *Retrier) Classifier() *Classifier {
	return r.classifier
}

// Advisor returns the advisor used by the retrier
func (r *Retrier) Advisor() *Advisor {
	return r.advisor
}

// Do runs fn, retrying per the classification of each failure. retryLimit caps
// the classification's max-retries; a negative limit leaves it uncapped.
func (r *Retrier) Do(ctx context.Context, opCtx failure.OperationalContext, retryLimit int, fn func(ctx context.Context) error) (Outcome, error) {
	var out Outcome

	for {
		err := fn(ctx)
		out.Attempts++
		if err == nil {
			out.Classification = nil
			return out, nil
		}

		c := r.classifier.Classify(err, opCtx)
		s := r.advisor.Recommend(c, opCtx)
		out.Classification = &c
		out.Strategy = s

		action, ok := s.Find(failure.ActionAutomaticRetry)
		if !ok {
			return out, err
		}
		limit := action.MaxRetries
		if retryLimit >= 0 && retryLimit < limit {
			limit = retryLimit
		}

		retry := out.Attempts - 1
		if retry >= limit {
			return out, err
		}

		delay := time.Duration(float64(action.Delays[retry]) * r.scale)
		if r.logger != nil {
			r.logger.Info("Retrying after classified failure",
				"attempt", out.Attempts,
				"limit", limit,
				"delay", delay.String(),
				"category", c.Category,
				"subcategory", c.Subcategory,
				"error", err.Error(),
			)
		}

		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return out, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
