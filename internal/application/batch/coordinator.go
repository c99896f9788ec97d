// Package batch runs a bounded list of items through one operation and aggregates the outcome.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/domain/failure"
)

// MaxItems is the largest batch a single run accepts
const MaxItems = 100

// ErrBatchTooLarge is returned when a run is asked to process more than MaxItems
var ErrBatchTooLarge = errors.New("batch exceeds maximum size")

// Policy decides what happens after an item fails
type Policy int

const (
	// AllowPartialFailure keeps processing after failures
	AllowPartialFailure Policy = iota
	// StopOnFirstError skips every item after a failure
	StopOnFirstError
)

// String returns the string representation of the policy
func (p Policy) String() string {
	if p == StopOnFirstError {
		return "stop_on_first_error"
	}
	return "allow_partial_failure"
}

// PolicyFor maps the caller flags onto a policy. stopOnFirstError wins when both are set.
func PolicyFor(allowPartialFailure, stopOnFirstError bool) Policy {
	if stopOnFirstError || !allowPartialFailure {
		return StopOnFirstError
	}
	return AllowPartialFailure
}

// ItemOutcome is what an operation reports for a successful item
type ItemOutcome struct {
	PreviousStatus string
	NewStatus      string
}

// Operation processes one item by id
type Operation func(ctx context.Context, itemID string) (ItemOutcome, error)

// FailureHook is called with the classification and advised strategy of each failed item
type FailureHook func(ctx context.Context, itemID string, err error, c failure.Classification, s failure.Strategy)

// Classifier classifies item failures
type Classifier interface {
	Classify(err error, opCtx failure.OperationalContext) failure.Classification
}

// Advisor recommends recovery for a classified failure
type Advisor interface {
	Recommend(c failure.Classification, opCtx failure.OperationalContext) failure.Strategy
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Observer receives every finished batch, used for metrics
type Observer interface {
	ObserveBatch(result *entity.BatchResult)
}

// RunOptions describes one batch run
type RunOptions struct {
	BatchID   string
	Step      int
	Policy    Policy
	OnFailure FailureHook
}

// Coordinator drives items through an operation sequentially
type Coordinator struct {
	classifier Classifier
	advisor    Advisor
	logger     Logger
	observer   Observer
	now        func() time.Time
}

// Option configures the coordinator
type Option func(*Coordinator)

// WithLogger sets a logger for the coordinator
func WithLogger(logger Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithObserver reports every finished batch to o
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator creates a coordinator that classifies failures with classifier
// and asks advisor how to recover from each. A nil advisor leaves strategies empty.
func NewCoordinator(classifier Classifier, advisor Advisor, opts ...Option) *Coordinator {
	c := &Coordinator{
		classifier: classifier,
		advisor:    advisor,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run invokes op for each item in input order. Result order matches input order
// and Total always equals Successful + Failed + Skipped.
func (c *Coordinator) Run(ctx context.Context, itemIDs []string, op Operation, opts RunOptions) (*entity.BatchResult, error) {
	if len(itemIDs) > MaxItems {
		return nil, fmt.Errorf("%w: %d items, max %d", ErrBatchTooLarge, len(itemIDs), MaxItems)
	}

	started := c.now()
	result := &entity.BatchResult{
		BatchID:   opts.BatchID,
		Total:     len(itemIDs),
		Items:     make([]entity.ItemResult, 0, len(itemIDs)),
		Failures:  []entity.BatchFailure{},
		StartedAt: started,
	}

	for i, id := range itemIDs {
		// Checked before each item, so processing halts starting from the item after a failure
		if opts.Policy == StopOnFirstError && result.Failed > 0 {
			c.skipRemaining(result, itemIDs[i:])
			break
		}

		itemStart := c.now()
		outcome, err := op(ctx, id)
		elapsed := c.now().Sub(itemStart).Milliseconds()

		if err == nil {
			result.Successful++
			result.Items = append(result.Items, entity.ItemResult{
				ItemID:         id,
				Status:         entity.ItemSuccess,
				PreviousStatus: outcome.PreviousStatus,
				NewStatus:      outcome.NewStatus,
				DurationMS:     elapsed,
			})
			continue
		}

		opCtx := failure.OperationalContext{
			Step:          opts.Step,
			BatchID:       opts.BatchID,
			TransactionID: id,
			BatchSize:     len(itemIDs),
		}
		cls := c.classifier.Classify(err, opCtx)
		var strategy failure.Strategy
		if c.advisor != nil {
			strategy = c.advisor.Recommend(cls, opCtx)
		}

		result.Failed++
		result.Items = append(result.Items, entity.ItemResult{
			ItemID:         id,
			Status:         entity.ItemFailed,
			PreviousStatus: outcome.PreviousStatus,
			Error:          err.Error(),
			Category:       string(cls.Category),
			Subcategory:    string(cls.Subcategory),
			DurationMS:     elapsed,
		})
		result.Failures = append(result.Failures, entity.BatchFailure{
			ItemID:             id,
			Error:              err.Error(),
			Category:           string(cls.Category),
			Subcategory:        string(cls.Subcategory),
			RecommendedActions: strategy.ActionTypes(),
		})

		if opts.OnFailure != nil {
			opts.OnFailure(ctx, id, err, cls, strategy)
		}
	}

	result.CompletedAt = c.now()
	result.DurationMS = result.CompletedAt.Sub(started).Milliseconds()

	c.logInfo("Batch completed",
		"batch_id", opts.BatchID,
		"step", opts.Step,
		"policy", opts.Policy.String(),
		"total", result.Total,
		"successful", result.Successful,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
	if c.observer != nil {
		c.observer.ObserveBatch(result)
	}

	return result, nil
}

func (c *Coordinator) skipRemaining(result *entity.BatchResult, remaining []string) {
	for _, id := range remaining {
		result.Skipped++
		result.Items = append(result.Items, entity.ItemResult{
			ItemID: id,
			Status: entity.ItemSkipped,
			Error:  entity.SkipReasonStopped,
		})
	}
}

func (c *Coordinator) logInfo(msg string, keysAndValues ...interface{}) {
	if c.logger != nil {
		c.logger.Info(msg, keysAndValues...)
	}
}
