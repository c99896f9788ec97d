package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errBusy       = errors.New("database is locked")
	errConstraint = errors.New("UNIQUE constraint failed: suggestions.id")
	errRateLimit  = errors.New("status code: 429")
)

func testPolicy(breaker bool) Policy {
	return Policy{
		Attempts:      3,
		FirstBackoff:  time.Millisecond,
		BackoffCap:    2 * time.Millisecond,
		BackoffFactor: 2,
		Breaker:       breaker,
		TripAfter:     2,
		TripRatio:     0.5,
		Cooldown:      time.Minute,
		HalfOpenCalls: 1,
	}
}

// storeJudge mirrors how the SQLite store judges its errors
func storeJudge(err error) Verdict {
	switch {
	case errors.Is(err, errBusy):
		return Verdict{Retry: true, Trip: true}
	case errors.Is(err, errConstraint):
		return Verdict{}
	default:
		return Verdict{Trip: true}
	}
}

func TestDo_RetriesBusyStore(t *testing.T) {
	g := NewGuard(testPolicy(false), nil)

	calls := 0
	err := g.Do(context.Background(), "suggestions.create", func(context.Context) error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	}, storeJudge)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ConstraintViolationIsFinal(t *testing.T) {
	g := NewGuard(testPolicy(true), nil)

	calls := 0
	for i := 0; i < 5; i++ {
		err := g.Do(context.Background(), "suggestions.create", func(context.Context) error {
			calls++
			return errConstraint
		}, storeJudge)
		assert.ErrorIs(t, err, errConstraint)
	}

	assert.Equal(t, 5, calls, "one call per Do, never retried")
	assert.False(t, g.Open("suggestions.create"), "caller errors do not trip the breaker")
}

func TestDo_GivesUpAfterAttempts(t *testing.T) {
	g := NewGuard(testPolicy(false), nil)

	calls := 0
	err := g.Do(context.Background(), "oracle.match_patterns", func(context.Context) error {
		calls++
		return errRateLimit
	}, func(error) Verdict { return Verdict{Retry: true, Trip: true} })

	assert.ErrorIs(t, err, errRateLimit)
	assert.Equal(t, 3, calls)
}

func TestDo_NilJudgeIsFinal(t *testing.T) {
	g := NewGuard(testPolicy(false), nil)

	calls := 0
	err := g.Do(context.Background(), "audit.append", func(context.Context) error {
		calls++
		return errBusy
	}, nil)

	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledContextSkipsCall(t *testing.T) {
	g := NewGuard(testPolicy(false), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := g.Do(ctx, "workflows.get", func(context.Context) error {
		called = true
		return nil
	}, storeJudge)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestDo_BreakerOpensPerSite(t *testing.T) {
	p := testPolicy(true)
	p.Attempts = 1
	g := NewGuard(p, nil)
	errDown := errors.New("connection refused")

	for i := 0; i < 2; i++ {
		err := g.Do(context.Background(), "oracle.match_patterns", func(context.Context) error {
			return errDown
		}, nil)
		require.ErrorIs(t, err, errDown)
	}
	assert.True(t, g.Open("oracle.match_patterns"))

	err := g.Do(context.Background(), "oracle.match_patterns", func(context.Context) error {
		t.Fatal("open breaker must skip the call")
		return nil
	}, nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.True(t, Refused(err))

	assert.False(t, g.Open("oracle.select_gl_mapping"))
	assert.False(t, Refused(errDown))
}

func TestPolicy_Wait(t *testing.T) {
	p := StorePolicy()
	assert.Equal(t, 50*time.Millisecond, p.wait(1))
	assert.Equal(t, 100*time.Millisecond, p.wait(2))
	assert.Equal(t, 200*time.Millisecond, p.wait(3))
	assert.Equal(t, 400*time.Millisecond, p.wait(4))
	assert.Equal(t, 400*time.Millisecond, p.wait(9), "capped")
}

func TestPolicy_OrDefaults(t *testing.T) {
	got := Policy{Attempts: 5, FirstBackoff: time.Second, BackoffCap: time.Millisecond, TripRatio: 2}.orDefaults(StorePolicy())

	assert.Equal(t, 5, got.Attempts)
	assert.Equal(t, time.Second, got.BackoffCap, "cap never below the first wait")
	assert.Equal(t, 0.5, got.TripRatio)
	assert.Equal(t, 2.0, got.BackoffFactor)
	assert.False(t, got.Breaker, "the switch is never defaulted on")

	oracle := OraclePolicy()
	assert.Equal(t, 500*time.Millisecond, oracle.FirstBackoff)
	assert.Equal(t, uint32(5), oracle.TripAfter)
}
