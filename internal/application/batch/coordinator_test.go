package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/cash-clearing/internal/application/recovery"
	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/domain/failure"
)

type recordingObserver struct {
	results []*entity.BatchResult
}

func (o *recordingObserver) ObserveBatch(result *entity.BatchResult) {
	o.results = append(o.results, result)
}

func newCoordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	classifier, err := recovery.NewClassifier(recovery.DefaultClassifierConfig())
	require.NoError(t, err)
	return NewCoordinator(classifier, recovery.NewAdvisor(50), opts...)
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("s-%d", i+1)
	}
	return out
}

// failOn returns an operation that fails for the listed ids
func failOn(calls *[]string, failing map[string]error) Operation {
	return func(ctx context.Context, id string) (ItemOutcome, error) {
		*calls = append(*calls, id)
		if err, ok := failing[id]; ok {
			return ItemOutcome{PreviousStatus: "PENDING"}, err
		}
		return ItemOutcome{PreviousStatus: "PENDING", NewStatus: "APPROVED"}, nil
	}
}

func assertTotals(t *testing.T, r *entity.BatchResult) {
	t.Helper()
	assert.Equal(t, r.Total, r.Successful+r.Failed+r.Skipped)
	assert.Len(t, r.Items, r.Total)
	assert.Len(t, r.Failures, r.Failed)
}

func TestRun_StopOnFirstError(t *testing.T) {
	c := newCoordinator(t)
	var calls []string

	result, err := c.Run(context.Background(), ids(5),
		failOn(&calls, map[string]error{"s-3": errors.New("invalid override amount")}),
		RunOptions{BatchID: "batch-1", Policy: StopOnFirstError})
	require.NoError(t, err)

	assert.Equal(t, []string{"s-1", "s-2", "s-3"}, calls)
	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 2, result.Skipped)

	want := []entity.ItemStatus{entity.ItemSuccess, entity.ItemSuccess, entity.ItemFailed, entity.ItemSkipped, entity.ItemSkipped}
	for i, item := range result.Items {
		assert.Equal(t, fmt.Sprintf("s-%d", i+1), item.ItemID)
		assert.Equal(t, want[i], item.Status, item.ItemID)
	}
	assert.Equal(t, entity.SkipReasonStopped, result.Items[3].Error)
	assert.Equal(t, "APPROVED", result.Items[0].NewStatus)
	assertTotals(t, result)
}

func TestRun_AllowPartialFailure(t *testing.T) {
	obs := &recordingObserver{}
	c := newCoordinator(t, WithObserver(obs))
	var calls []string

	result, err := c.Run(context.Background(), ids(5),
		failOn(&calls, map[string]error{
			"s-2": errors.New("connection refused"),
			"s-4": errors.New("schema mismatch on amount"),
		}),
		RunOptions{BatchID: "batch-1", Policy: AllowPartialFailure})
	require.NoError(t, err)

	assert.Len(t, calls, 5)
	assert.Equal(t, 3, result.Successful)
	assert.Equal(t, 2, result.Failed)
	assert.Zero(t, result.Skipped)
	assertTotals(t, result)

	require.Len(t, result.Failures, 2)
	assert.Equal(t, "s-2", result.Failures[0].ItemID)
	assert.Equal(t, string(failure.CategorySystemInfrastructure), result.Failures[0].Category)
	assert.Equal(t, "s-4", result.Failures[1].ItemID)
	assert.Equal(t, string(failure.CategoryDataValidation), result.Failures[1].Category)
	assert.Contains(t, result.Failures[0].RecommendedActions, string(failure.ActionAutomaticRetry))
	assert.Contains(t, result.Failures[1].RecommendedActions, string(failure.ActionQuarantineItem))

	require.Len(t, obs.results, 1)
	assert.Same(t, result, obs.results[0])
}

func TestRun_FailureOnLastItem(t *testing.T) {
	c := newCoordinator(t)
	var calls []string

	result, err := c.Run(context.Background(), ids(3),
		failOn(&calls, map[string]error{"s-3": errors.New("boom")}),
		RunOptions{Policy: StopOnFirstError})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.Skipped)
	assertTotals(t, result)
}

func TestRun_FailureHook(t *testing.T) {
	c := newCoordinator(t)
	var calls []string
	var hooked []failure.Category
	var advised []failure.Strategy

	_, err := c.Run(context.Background(), ids(2),
		failOn(&calls, map[string]error{"s-1": errors.New("rate limit exceeded")}),
		RunOptions{
			BatchID: "batch-1",
			Step:    entity.StepPatternMatch,
			Policy:  AllowPartialFailure,
			OnFailure: func(ctx context.Context, id string, err error, cls failure.Classification, s failure.Strategy) {
				assert.Equal(t, "s-1", id)
				assert.Equal(t, entity.StepPatternMatch, cls.Error.Step)
				hooked = append(hooked, cls.Category)
				advised = append(advised, s)
			},
		})
	require.NoError(t, err)
	assert.Equal(t, []failure.Category{failure.CategoryAIProcessing}, hooked)
	require.Len(t, advised, 1)
	assert.True(t, advised[0].Has(failure.ActionAutomaticRetry))
	assert.True(t, advised[0].Has(failure.ActionFallbackRuleBased))
}

func TestRun_WithoutAdvisor(t *testing.T) {
	classifier, err := recovery.NewClassifier(recovery.DefaultClassifierConfig())
	require.NoError(t, err)
	c := NewCoordinator(classifier, nil)
	var calls []string

	result, err := c.Run(context.Background(), ids(1),
		failOn(&calls, map[string]error{"s-1": errors.New("rate limit exceeded")}),
		RunOptions{Policy: AllowPartialFailure})
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.Empty(t, result.Failures[0].RecommendedActions)
}

func TestRun_Bounds(t *testing.T) {
	c := newCoordinator(t)
	var calls []string

	_, err := c.Run(context.Background(), ids(MaxItems+1), failOn(&calls, nil), RunOptions{})
	assert.ErrorIs(t, err, ErrBatchTooLarge)
	assert.Empty(t, calls)

	result, err := c.Run(context.Background(), ids(MaxItems), failOn(&calls, nil), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, MaxItems, result.Successful)

	empty, err := c.Run(context.Background(), nil, failOn(&calls, nil), RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assertTotals(t, empty)
}

func TestPolicyFor(t *testing.T) {
	assert.Equal(t, StopOnFirstError, PolicyFor(true, true))
	// neither flag set stops on the first error
	assert.Equal(t, StopOnFirstError, PolicyFor(false, false))
	assert.Equal(t, StopOnFirstError, PolicyFor(false, true))
	assert.Equal(t, AllowPartialFailure, PolicyFor(true, false))
}

func TestRun_TotalInvariant(t *testing.T) {
	c := newCoordinator(t)

	for n := 0; n <= 12; n++ {
		for failAt := 0; failAt <= n; failAt++ {
			for _, policy := range []Policy{AllowPartialFailure, StopOnFirstError} {
				var calls []string
				failing := map[string]error{}
				if failAt > 0 {
					failing[fmt.Sprintf("s-%d", failAt)] = errors.New("invalid")
				}

				result, err := c.Run(context.Background(), ids(n), failOn(&calls, failing), RunOptions{Policy: policy})
				require.NoError(t, err)
				assertTotals(t, result)

				if policy == StopOnFirstError && failAt > 0 {
					assert.Equal(t, n-failAt, result.Skipped, "n=%d failAt=%d", n, failAt)
				}
			}
		}
	}
}
