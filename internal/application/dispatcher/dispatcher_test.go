package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/cash-clearing/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) hasError(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.errors {
		if e == msg {
			return true
		}
	}
	return false
}

// countingSubmitter runs tasks on goroutines and counts submissions
type countingSubmitter struct {
	submitted atomic.Int32
	reject    bool
}

func (s *countingSubmitter) Submit(task func()) error {
	if s.reject {
		return errors.New("pool overloaded")
	}
	s.submitted.Add(1)
	go task()
	return nil
}

func newEvent(t event.Type) *event.Event {
	return event.NewEvent(t, "wf-1", "batch-1", nil)
}

func TestDispatch(t *testing.T) {
	t.Run("calls handlers in order", func(t *testing.T) {
		d := NewDispatcher()
		var order []string

		d.SubscribeNamed(event.TypeWorkflowStarted, "first", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "first")
			return nil
		})
		d.SubscribeNamed(event.TypeWorkflowStarted, "second", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "second")
			return nil
		})

		require.NoError(t, d.Dispatch(context.Background(), newEvent(event.TypeWorkflowStarted)))
		assert.Equal(t, []string{"first", "second"}, order)
	})

	t.Run("stops at first handler error", func(t *testing.T) {
		d := NewDispatcher()
		var secondCalled bool

		d.SubscribeNamed(event.TypeWorkflowFailed, "failing", func(ctx context.Context, evt *event.Event) error {
			return errors.New("boom")
		})
		d.SubscribeNamed(event.TypeWorkflowFailed, "after", func(ctx context.Context, evt *event.Event) error {
			secondCalled = true
			return nil
		})

		err := d.Dispatch(context.Background(), newEvent(event.TypeWorkflowFailed))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failing")
		assert.False(t, secondCalled)
	})

	t.Run("recovers handler panics", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))

		d.Subscribe(event.TypeErrorEscalated, func(ctx context.Context, evt *event.Event) error {
			panic("handler exploded")
		})

		err := d.Dispatch(context.Background(), newEvent(event.TypeErrorEscalated))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "handler panic")
		assert.True(t, logger.hasError("Handler panic recovered"))
	})

	t.Run("ignores other event types", func(t *testing.T) {
		d := NewDispatcher()
		var called bool
		d.Subscribe(event.TypeSuggestionApproved, func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		require.NoError(t, d.Dispatch(context.Background(), newEvent(event.TypeSuggestionRejected)))
		assert.False(t, called)
	})

	t.Run("rejects dispatch after close", func(t *testing.T) {
		d := NewDispatcher()
		require.NoError(t, d.Close())
		assert.Error(t, d.Dispatch(context.Background(), newEvent(event.TypeWorkflowStarted)))
	})
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	var calls atomic.Int32

	d.SubscribeNamed(event.TypeWorkflowPaused, "keep", func(ctx context.Context, evt *event.Event) error {
		calls.Add(1)
		return nil
	})
	d.SubscribeNamed(event.TypeWorkflowPaused, "drop", func(ctx context.Context, evt *event.Event) error {
		calls.Add(10)
		return nil
	})
	d.Unsubscribe(event.TypeWorkflowPaused, "drop")

	require.NoError(t, d.Dispatch(context.Background(), newEvent(event.TypeWorkflowPaused)))
	assert.Equal(t, int32(1), calls.Load())

	handlers := d.ListHandlers(event.TypeWorkflowPaused)
	require.Len(t, handlers, 1)
	assert.Equal(t, "keep", handlers[0].Name)
	assert.Nil(t, handlers[0].Handler)
}

func TestDispatchAsync(t *testing.T) {
	t.Run("handlers outlive caller cancellation", func(t *testing.T) {
		d := NewDispatcher()
		var sawCancel atomic.Bool
		var done atomic.Bool

		d.Subscribe(event.TypeSuggestionApproved, func(ctx context.Context, evt *event.Event) error {
			time.Sleep(20 * time.Millisecond)
			sawCancel.Store(ctx.Err() != nil)
			done.Store(true)
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		d.DispatchAsync(ctx, newEvent(event.TypeSuggestionApproved))
		cancel()

		require.NoError(t, d.Close())
		assert.True(t, done.Load())
		assert.False(t, sawCancel.Load())
	})

	t.Run("uses submitter when configured", func(t *testing.T) {
		sub := &countingSubmitter{}
		d := NewDispatcher(WithSubmitter(sub))
		var calls atomic.Int32

		for i := 0; i < 3; i++ {
			d.SubscribeNamed(event.TypeBatchCompleted, fmt.Sprintf("h-%d", i), func(ctx context.Context, evt *event.Event) error {
				calls.Add(1)
				return nil
			})
		}

		d.DispatchAsync(context.Background(), newEvent(event.TypeBatchCompleted))
		require.NoError(t, d.Close())

		assert.Equal(t, int32(3), sub.submitted.Load())
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("falls back to goroutine when pool rejects", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithSubmitter(&countingSubmitter{reject: true}), WithLogger(logger))
		var called atomic.Bool

		d.Subscribe(event.TypeWorkflowCompleted, func(ctx context.Context, evt *event.Event) error {
			called.Store(true)
			return nil
		})

		d.DispatchAsync(context.Background(), newEvent(event.TypeWorkflowCompleted))
		require.NoError(t, d.Close())

		assert.True(t, called.Load())
		assert.True(t, logger.hasError("Worker pool rejected handler, running inline goroutine"))
	})

	t.Run("drops events after close", func(t *testing.T) {
		d := NewDispatcher()
		var called atomic.Int32
		d.Subscribe(event.TypeWorkflowStarted, func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return nil
		})

		require.NoError(t, d.Close())
		d.DispatchAsync(context.Background(), newEvent(event.TypeWorkflowStarted))
		time.Sleep(20 * time.Millisecond)

		assert.Zero(t, called.Load())
	})
}

func TestClose_Twice(t *testing.T) {
	d := NewDispatcher()
	require.NoError(t, d.Close())
	assert.Error(t, d.Close())
}

func TestConcurrentSubscribeAndDispatch(t *testing.T) {
	d := NewDispatcher()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.SubscribeNamed(event.TypeWorkflowResumed, fmt.Sprintf("handler-%d", id), func(ctx context.Context, evt *event.Event) error {
				return nil
			})
		}(i)
	}
	wg.Wait()
	assert.Len(t, d.ListHandlers(event.TypeWorkflowResumed), 10)

	var calls atomic.Int32
	d.Subscribe(event.TypeSuggestionRejected, func(ctx context.Context, evt *event.Event) error {
		calls.Add(1)
		return nil
	})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), newEvent(event.TypeSuggestionRejected))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), calls.Load())
}
